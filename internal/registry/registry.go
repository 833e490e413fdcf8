// Package registry holds the set of known execution resources and picks one
// for a task.
//
// The registry is a YAML document holding an ordered model list plus a free
// text preference note. Order is significant: Select returns the first
// qualifying entry, so operators express preference by reordering.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/fileutil"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/pkg/models"
)

// document is the on-disk form of the registry.
type document struct {
	PreferenceNote string               `yaml:"preference_note,omitempty"`
	Models         []models.ModelConfig `yaml:"models"`
}

// Registry is the persisted model registry. It is safe for concurrent use.
type Registry struct {
	path string
	mu   sync.Mutex
	log  *logging.Logger
}

// Open opens the registry at path. If no document exists yet it is seeded
// with DefaultModels and persisted immediately.
func Open(path string, log *logging.Logger) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	r := &Registry{path: path, log: log}

	err := r.withLock(func() error {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat registry: %w", err)
		}
		r.log.Info("seeding model registry", "path", path, "models", len(DefaultModels()))
		return r.save(&document{Models: DefaultModels()})
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the registry document path.
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fl := fileutil.NewLock(r.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

func (r *Registry) load() (*document, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return &document{Models: DefaultModels()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		r.log.Error("model registry unparsable", "path", r.path, "error", err)
		return nil, errors.Corruption("load registry", r.path, err)
	}
	return &doc, nil
}

func (r *Registry) save(doc *document) error {
	if doc.Models == nil {
		doc.Models = []models.ModelConfig{}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := fileutil.WriteAtomic(r.path, data, 0644); err != nil {
		return errors.Persistence("save registry", err)
	}
	return nil
}

// mutate loads the document, applies fn and persists the result.
func (r *Registry) mutate(fn func(doc *document) error) error {
	return r.withLock(func() error {
		doc, err := r.load()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return r.save(doc)
	})
}

func (r *Registry) read() (*document, error) {
	var doc *document
	err := r.withLock(func() error {
		var err error
		doc, err = r.load()
		return err
	})
	return doc, err
}

// List returns every model in registry order.
func (r *Registry) List() ([]models.ModelConfig, error) {
	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	return doc.Models, nil
}

// PreferenceNote returns the operator's free-text selection preference.
func (r *Registry) PreferenceNote() (string, error) {
	doc, err := r.read()
	if err != nil {
		return "", err
	}
	return doc.PreferenceNote, nil
}

// Add validates caps and appends the model, or overwrites it in place if
// the ID is already registered. Nothing is written if validation fails.
func (r *Registry) Add(id string, caps models.Capabilities) error {
	const op = "add model"

	id = strings.TrimSpace(id)
	if id == "" {
		return errors.Validation(op, "model id must not be empty")
	}
	if err := caps.Validate(); err != nil {
		return errors.Validation(op, "model %q: %v", id, err)
	}

	return r.mutate(func(doc *document) error {
		entry := models.ModelConfig{ID: id, Capabilities: caps}
		for i := range doc.Models {
			if doc.Models[i].ID == id {
				doc.Models[i] = entry
				return nil
			}
		}
		doc.Models = append(doc.Models, entry)
		return nil
	})
}

// Remove deletes the model with the given ID.
func (r *Registry) Remove(id string) error {
	const op = "remove model"

	return r.mutate(func(doc *document) error {
		for i := range doc.Models {
			if doc.Models[i].ID == id {
				doc.Models = append(doc.Models[:i], doc.Models[i+1:]...)
				return nil
			}
		}
		return errors.NotFound(op, "model", id)
	})
}

// ReplaceAll rebuilds the registry from ids, giving each the flat profile.
// Capability detail of existing entries is discarded. Duplicate IDs keep
// their first position.
func (r *Registry) ReplaceAll(ids []string) error {
	const op = "replace models"

	var entries []models.ModelConfig
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, models.ModelConfig{ID: id, Capabilities: FlatProfile()})
	}
	if len(entries) == 0 {
		return errors.Validation(op, "model list must not be empty")
	}

	return r.mutate(func(doc *document) error {
		doc.Models = entries
		return nil
	})
}

// Reset restores the built-in defaults, discarding the preference note.
// It works even when the current document is unparsable.
func (r *Registry) Reset() error {
	return r.withLock(func() error {
		return r.save(&document{Models: DefaultModels()})
	})
}

// SetPreferenceNote records the operator's free-text selection preference.
func (r *Registry) SetPreferenceNote(note string) error {
	return r.mutate(func(doc *document) error {
		doc.PreferenceNote = strings.TrimSpace(note)
		return nil
	})
}

// Select returns the first model in registry order that satisfies c.
func (r *Registry) Select(c Criteria) (models.ModelConfig, error) {
	list, err := r.List()
	if err != nil {
		return models.ModelConfig{}, err
	}
	return Select(list, c)
}
