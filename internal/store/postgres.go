package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_turns (
    id         BIGSERIAL PRIMARY KEY,
    chat_id    BIGINT      NOT NULL,
    speaker    TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_chat ON chat_turns (chat_id, id);

CREATE TABLE IF NOT EXISTS chat_memory (
    chat_id BIGINT PRIMARY KEY,
    buffer  TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT ''
);`

// PostgresStore persists chats in PostgreSQL through a pgx connection pool.
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection, and creates the
// schema if it does not exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres driver requires a dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context, chatID int64) (ChatData, error) {
	var cd ChatData

	rows, err := s.pool.Query(ctx,
		`SELECT speaker, text FROM chat_turns WHERE chat_id = $1 ORDER BY id`, chatID)
	if err != nil {
		return cd, fmt.Errorf("store: load turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var t Turn
		err := row.Scan(&t.Speaker, &t.Text)
		return t, err
	})
	if err != nil {
		return cd, fmt.Errorf("store: load turns: %w", err)
	}
	if len(turns) > 0 {
		cd.History = turns
	}

	err = s.pool.QueryRow(ctx,
		`SELECT buffer, summary FROM chat_memory WHERE chat_id = $1`, chatID).
		Scan(&cd.Buffer, &cd.Summary)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return cd, fmt.Errorf("store: load memory: %w", err)
	}
	return cd, nil
}

// AppendTurns implements [Store].
func (s *PostgresStore) AppendTurns(ctx context.Context, chatID int64, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(`INSERT INTO chat_turns (chat_id, speaker, text) VALUES ($1, $2, $3)`,
			chatID, t.Speaker, t.Text)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("store: append turns: %w", err)
	}
	return nil
}

// SaveMemory implements [Store].
func (s *PostgresStore) SaveMemory(ctx context.Context, chatID int64, buffer, summary string) error {
	const q = `
		INSERT INTO chat_memory (chat_id, buffer, summary) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET buffer = EXCLUDED.buffer, summary = EXCLUDED.summary`
	if _, err := s.pool.Exec(ctx, q, chatID, buffer, summary); err != nil {
		return fmt.Errorf("store: save memory: %w", err)
	}
	return nil
}

// Clear implements [Store].
func (s *PostgresStore) Clear(ctx context.Context, chatID int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chat_turns WHERE chat_id = $1`, chatID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM chat_memory WHERE chat_id = $1`, chatID)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
