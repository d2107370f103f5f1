// CLAUDE:SUMMARY SQLite history of pagesaver runs: screenshots, image extractions and archives, plus the last-capture lookup.
// Package store records every pagesaver run in SQLite so the CLI and the
// server can show history and the last capture.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pagesaver/dbopen"
)

// Schema is the history table.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, created_at DESC);
`

// Run statuses.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run kinds besides the capture kinds (visible, fullpage, area).
const (
	KindImages  = "images"
	KindArchive = "archive"
)

// captureKinds are the kinds that count as a "last capture".
var captureKinds = []any{"visible", "fullpage", "area"}

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("store: not found")

// Run is one history row. Detail holds the kind-specific report as JSON.
type Run struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	URL       string          `json:"url"`
	Path      string          `json:"path,omitempty"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the history database handle.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, now: time.Now}, nil
}

// New wraps an already open database; the schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Record inserts a run. detail is marshalled to JSON; CreatedAt is set when
// zero.
func (s *Store) Record(ctx context.Context, r *Run, detail any) error {
	if r.ID == "" || r.Kind == "" || r.Status == "" {
		return fmt.Errorf("store: record: id, kind and status are required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("store: marshal detail: %w", err)
		}
		r.Detail = raw
	}
	if len(r.Detail) == 0 {
		r.Detail = json.RawMessage("{}")
	}

	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO runs (id, kind, url, path, status, message, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.URL, r.Path, r.Status, r.Message, string(r.Detail), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	return nil
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, kind, url, path, status, message, detail, created_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// Last returns the most recent successful capture (visible, full page or
// area). It returns ErrNotFound when there is none.
func (s *Store) Last(ctx context.Context) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, kind, url, path, status, message, detail, created_at
		FROM runs
		WHERE status = 'ok' AND kind IN (?, ?, ?)
		ORDER BY created_at DESC, id DESC LIMIT 1`, captureKinds...)
	return scanRun(row)
}

// List returns the most recent runs, newest first. An empty kind matches
// every kind; limit <= 0 means 50.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, kind, url, path, status, message, detail, created_at
		FROM runs
		WHERE ? = '' OR kind = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes runs older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM runs WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var detail string
	var created int64
	err := sc.Scan(&r.ID, &r.Kind, &r.URL, &r.Path, &r.Status, &r.Message, &detail, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	r.Detail = json.RawMessage(detail)
	r.CreatedAt = time.UnixMilli(created)
	return &r, nil
}
