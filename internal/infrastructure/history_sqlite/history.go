// Package history_sqlite persists finished runs in a SQLite database.
package history_sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workflow TEXT NOT NULL,
	ref TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_workflow_ref ON runs(workflow, ref, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store keeps one row per run; the full run, jobs included, is stored as
// JSON next to the indexed columns.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, r domain.Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, workflow, ref, status, started_at, finished_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Workflow, r.Event.Ref, string(r.Status),
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), string(data))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (domain.Run, error) {
	return s.one(ctx, `SELECT data FROM runs WHERE id = ?`, id)
}

// List returns the most recent runs first; limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]domain.Run, error) {
	q := `SELECT data FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Run
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the most recently started run of workflow on ref.
func (s *Store) Latest(ctx context.Context, workflow, ref string) (domain.Run, error) {
	return s.one(ctx,
		`SELECT data FROM runs WHERE workflow = ? AND ref = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		workflow, ref)
}

func (s *Store) one(ctx context.Context, q string, args ...any) (domain.Run, error) {
	var data string
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	return decode(data)
}

func decode(data string) (domain.Run, error) {
	var r domain.Run
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return domain.Run{}, fmt.Errorf("decode run: %w", err)
	}
	return r, nil
}
