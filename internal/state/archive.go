package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MaxSnapshots is how many store snapshots are retained.
const MaxSnapshots = 20

// Snapshot is an archived copy of the task store document.
type Snapshot struct {
	ID        int64
	Reason    string
	Document  []byte
	SizeBytes int64
	CreatedAt time.Time
}

// Snapshot archives a copy of document and prunes all but the newest
// MaxSnapshots rows.
func (db *DB) Snapshot(reason string, document []byte) error {
	createdAt := formatTime(db.clock())

	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO snapshots (reason, document, size_bytes, created_at)
			VALUES (?, ?, ?, ?)
		`, reason, document, len(document), createdAt); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}

		if _, err := tx.Exec(`
			DELETE FROM snapshots WHERE id NOT IN (
				SELECT id FROM snapshots ORDER BY id DESC LIMIT ?
			)
		`, MaxSnapshots); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		return nil
	})
}

// ListSnapshots returns snapshot metadata, newest first. Documents are not loaded.
func (db *DB) ListSnapshots() ([]Snapshot, error) {
	rows, err := db.Query(`
		SELECT id, reason, size_bytes, created_at FROM snapshots ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var createdAt string
		if err := rows.Scan(&s.ID, &s.Reason, &s.SizeBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse snapshot time: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSnapshot returns one snapshot including its document.
// Returns nil, nil if no such snapshot exists.
func (db *DB) GetSnapshot(id int64) (*Snapshot, error) {
	row := db.QueryRow(`
		SELECT id, reason, document, size_bytes, created_at FROM snapshots WHERE id = ?
	`, id)

	var s Snapshot
	var createdAt string
	if err := row.Scan(&s.ID, &s.Reason, &s.Document, &s.SizeBytes, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse snapshot time: %w", err)
	}
	return &s, nil
}

// CleanupRun records one reclamation pass.
type CleanupRun struct {
	ID            int64
	Trigger       string
	ReportOnly    bool
	StartedAt     time.Time
	FinishedAt    time.Time
	TasksDeleted  int
	LedgerRemoved int
	LedgerCorrupt int
	Zombies       int
	Errors        []string
}

// RecordCleanupRun appends a reclamation run and returns its row ID.
func (db *DB) RecordCleanupRun(run CleanupRun) (int64, error) {
	var errText sql.NullString
	if len(run.Errors) > 0 {
		errText = sql.NullString{String: strings.Join(run.Errors, "\n"), Valid: true}
	}

	res, err := db.Exec(`
		INSERT INTO cleanup_runs (trigger, report_only, started_at, finished_at,
			tasks_deleted, ledger_removed, ledger_corrupt, zombies, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Trigger, run.ReportOnly, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.TasksDeleted, run.LedgerRemoved, run.LedgerCorrupt, run.Zombies, errText)
	if err != nil {
		return 0, fmt.Errorf("record cleanup run: %w", err)
	}
	return res.LastInsertId()
}

// ListCleanupRuns returns up to limit runs, newest first. A limit of zero
// or less returns every run.
func (db *DB) ListCleanupRuns(limit int) ([]CleanupRun, error) {
	query := `
		SELECT id, trigger, report_only, started_at, finished_at,
			tasks_deleted, ledger_removed, ledger_corrupt, zombies, errors
		FROM cleanup_runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cleanup runs: %w", err)
	}
	defer rows.Close()

	var out []CleanupRun
	for rows.Next() {
		var r CleanupRun
		var started, finished string
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &r.ReportOnly, &started, &finished,
			&r.TasksDeleted, &r.LedgerRemoved, &r.LedgerCorrupt, &r.Zombies, &errText); err != nil {
			return nil, fmt.Errorf("scan cleanup run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		if errText.Valid && errText.String != "" {
			r.Errors = strings.Split(errText.String, "\n")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
