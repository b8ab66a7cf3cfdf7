package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist or belongs to
// another user.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS user_metadata (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (user_id, key)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		type TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		total_questions INTEGER NOT NULL,
		current_index INTEGER NOT NULL DEFAULT 0,
		questions TEXT NOT NULL DEFAULT '[]',
		answers TEXT NOT NULL DEFAULT '{}',
		score INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exam_sessions_user ON exam_sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		ended_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_study_sessions_user ON study_sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		study_session_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_active DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, study_session_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);

	CREATE TABLE IF NOT EXISTS user_progress (
		user_id TEXT PRIMARY KEY,
		completed_levels TEXT NOT NULL DEFAULT '[]',
		correct_answers INTEGER NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL DEFAULT 0,
		accuracy TEXT NOT NULL DEFAULT '0%',
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	return uuid.New().String()
}

// listWithFallback runs the narrow (server-filtered) query and, when it
// fails on a schema mismatch, re-runs the wide query and filters rows in
// Go instead.
func listWithFallback[T any](narrow, wide func() ([]T, error), keep func(T) bool) ([]T, error) {
	items, err := narrow()
	if err == nil {
		return items, nil
	}
	if !IsSchemaMismatchError(err) {
		return nil, err
	}
	slog.Warn("filtered query failed, falling back to client-side filter", "error", err)
	all, err := wide()
	if err != nil {
		return nil, err
	}
	var out []T
	for _, it := range all {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out, nil
}
