package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// DefaultSQLitePath is used by the sqlite driver when no path is configured.
const DefaultSQLitePath = "./data/lydia.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_turns (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id    INTEGER NOT NULL,
    speaker    TEXT    NOT NULL,
    text       TEXT    NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_chat ON chat_turns (chat_id, id);

CREATE TABLE IF NOT EXISTS chat_memory (
    chat_id INTEGER PRIMARY KEY,
    buffer  TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT ''
);`

// SQLiteStore persists chats in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and creates the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer; serialising through one connection
	// avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements [Store].
func (s *SQLiteStore) Load(ctx context.Context, chatID int64) (ChatData, error) {
	var cd ChatData

	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker, text FROM chat_turns WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return cd, fmt.Errorf("store: load turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Speaker, &t.Text); err != nil {
			return cd, fmt.Errorf("store: scan turn: %w", err)
		}
		cd.History = append(cd.History, t)
	}
	if err := rows.Err(); err != nil {
		return cd, fmt.Errorf("store: load turns: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT buffer, summary FROM chat_memory WHERE chat_id = ?`, chatID).
		Scan(&cd.Buffer, &cd.Summary)
	if err != nil && err != sql.ErrNoRows {
		return cd, fmt.Errorf("store: load memory: %w", err)
	}
	return cd, nil
}

// AppendTurns implements [Store].
func (s *SQLiteStore) AppendTurns(ctx context.Context, chatID int64, turns ...Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_turns (chat_id, speaker, text) VALUES (?, ?, ?)`,
			chatID, t.Speaker, t.Text); err != nil {
			return fmt.Errorf("store: append turn: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SaveMemory implements [Store].
func (s *SQLiteStore) SaveMemory(ctx context.Context, chatID int64, buffer, summary string) error {
	const q = `
		INSERT INTO chat_memory (chat_id, buffer, summary) VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET buffer = excluded.buffer, summary = excluded.summary`
	if _, err := s.db.ExecContext(ctx, q, chatID, buffer, summary); err != nil {
		return fmt.Errorf("store: save memory: %w", err)
	}
	return nil
}

// Clear implements [Store].
func (s *SQLiteStore) Clear(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_turns WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("store: clear turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_memory WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("store: clear memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
