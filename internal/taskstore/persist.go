package taskstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ShayCichocki/relay/internal/fileutil"
	"github.com/ShayCichocki/relay/pkg/models"
)

const (
	storeFileName = "tasks.json"
	lockFileName  = "tasks.lock"
	storeVersion  = 1
)

// document is the on-disk form of the whole store.
type document struct {
	Version int                `json:"version"`
	Tasks   []*models.MainTask `json:"tasks"`
}

// state is one loaded copy of the store plus its lookup index.
type state struct {
	doc document
	raw []byte
	// subIndex maps sub-task ID to the owning task's position in doc.Tasks.
	subIndex map[string]int
}

func newState(doc document, raw []byte) *state {
	if doc.Tasks == nil {
		doc.Tasks = []*models.MainTask{}
	}
	st := &state{doc: doc, raw: raw}
	st.reindex()
	return st
}

func (st *state) reindex() {
	st.subIndex = make(map[string]int)
	for i, t := range st.doc.Tasks {
		if t.SubTasks == nil {
			t.SubTasks = []*models.SubTask{}
		}
		for _, sub := range t.SubTasks {
			st.subIndex[sub.ID] = i
		}
	}
}

func (st *state) task(id string) *models.MainTask {
	for _, t := range st.doc.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (st *state) subtask(id string) (*models.MainTask, *models.SubTask) {
	i, ok := st.subIndex[id]
	if !ok || i >= len(st.doc.Tasks) {
		return nil, nil
	}
	t := st.doc.Tasks[i]
	return t, t.SubTask(id)
}

// load reads the store document. A missing file is an empty store. An
// unparsable file is moved aside and also treated as empty.
func (s *Store) load() (*state, error) {
	path := s.Path()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newState(document{Version: storeVersion}, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", path, s.now().UnixMilli())
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			s.log.Error("task store unparsable and could not be moved aside",
				"path", path, "error", err, "rename_error", renameErr)
		} else {
			s.log.Warn("task store unparsable, starting empty",
				"path", path, "quarantined_to", quarantine, "error", err)
		}
		return newState(document{Version: storeVersion}, nil), nil
	}

	return newState(doc, data), nil
}

// save writes the store atomically: the document goes to a temporary file in
// the same directory, is synced, then renamed over the previous document.
func (s *Store) save(st *state) error {
	st.doc.Version = storeVersion
	data, err := json.MarshalIndent(st.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task store: %w", err)
	}

	if err := fileutil.WriteAtomic(s.Path(), data, 0644); err != nil {
		return err
	}
	st.raw = data
	return nil
}
