// Package sessionindex is a small disk-backed index of sessions per working
// directory, grounded on the teacher's internal/orchestrator/acp sqlite-based
// message stores (spec §3 [EXPANSION] "Disk-backed session index").
package sessionindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kandev/agentbridge/internal/common/sqlite"
)

// Entry is one row of the session index.
type Entry struct {
	ID        string
	WorkDir   string
	Title     string
	UpdatedAt time.Time
	Metadata  map[string]any
}

// Store is the orchestrator's list-sessions collaborator: upsert, rename,
// delete, list. Callers treat it as an interface-shaped dependency; Store is
// the concrete, same-process implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite-backed index at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sessionindex: open: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workdir TEXT NOT NULL,
			title TEXT,
			updated_at DATETIME NOT NULL,
			metadata TEXT
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionindex: create schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_workdir ON sessions(workdir)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionindex: create index: %w", err)
	}
	// Additive migration for databases created before the metadata column
	// existed, rather than requiring a fresh file.
	if err := sqlite.EnsureColumn(db, "sessions", "metadata", "TEXT"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionindex: migrate metadata column: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces one entry, keyed by its ID.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workdir, title, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workdir = excluded.workdir,
			title = excluded.title,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata
	`, e.ID, e.WorkDir, e.Title, e.UpdatedAt, string(metadata))
	return err
}

// Rename updates only an entry's title and timestamp.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now(), id)
	return err
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// List returns every entry for workdir, most recently updated first.
func (s *Store) List(ctx context.Context, workdir string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workdir, title, updated_at, metadata
		FROM sessions WHERE workdir = ?
		ORDER BY updated_at DESC
	`, workdir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var title sql.NullString
		var metadataStr sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkDir, &title, &e.UpdatedAt, &metadataStr); err != nil {
			return nil, err
		}
		e.Title = title.String
		if metadataStr.Valid && metadataStr.String != "" {
			_ = json.Unmarshal([]byte(metadataStr.String), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
