// Package storage persists task records in SQLite. Each row holds one task
// as a JSON document; status and creation time are duplicated into columns
// for filtering and ordering.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"videdit/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	processor  TEXT NOT NULL,
	operation  TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC);
`

// SQLiteStore implements task.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, t *task.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, processor, operation, created_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		t.ID, string(t.Status), t.Processor, t.Operation, t.CreatedAt.UnixNano(), string(doc))
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*task.Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &task.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return decode(doc)
}

func (s *SQLiteStore) List(ctx context.Context, f task.Filter) ([]*task.Task, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Processor != "" {
		where = append(where, "processor = ?")
		args = append(args, f.Processor)
	}
	if f.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, f.Operation)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query := "SELECT doc FROM tasks" + clause + " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		t, err := decode(doc)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

func decode(doc string) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
