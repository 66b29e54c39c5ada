package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists history records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS history (
	request_id  TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	status      TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	answer      TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_id, created_at);
`

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	var finished *int64
	if rec.FinishedAt != nil {
		ms := rec.FinishedAt.UnixMilli()
		finished = &ms
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (request_id, session_id, status, prompt, answer, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			answer = excluded.answer,
			finished_at = excluded.finished_at`,
		rec.RequestID, rec.SessionID, rec.Status, rec.Prompt, rec.Answer,
		rec.CreatedAt.UnixMilli(), finished,
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, session_id, status, prompt, answer, created_at, finished_at
		FROM history WHERE request_id = ?`, requestID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{RequestID: requestID}
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, session_id, status, prompt, answer, created_at, finished_at
		FROM history ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collectRecords(rows)
}

func (s *SQLiteStore) BySession(ctx context.Context, sessionID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, session_id, status, prompt, answer, created_at, finished_at
		FROM history WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	return collectRecords(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec      Record
		created  int64
		finished *int64
	)
	err := row.Scan(&rec.RequestID, &rec.SessionID, &rec.Status, &rec.Prompt,
		&rec.Answer, &created, &finished)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created)
	if finished != nil {
		t := time.UnixMilli(*finished)
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
