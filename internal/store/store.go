// Package store persists per-chat conversation state.
//
// Each chat has a visible transcript (History) plus the auto-summary memory
// state of the completion backend (Buffer and Summary). Three drivers are
// provided: a flat JSON key-value file (the default), SQLite, and PostgreSQL.
// There is no schema versioning.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownDriver is returned by [Open] for an unrecognised driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Driver names accepted by [Open].
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AISpeaker is the speaker name recorded for assistant turns.
const AISpeaker = "AI"

// Turn is a single (speaker, text) entry in a chat transcript.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ChatData is everything persisted for one chat.
type ChatData struct {
	// History is the append-only transcript, cleared on reset.
	History []Turn `json:"history"`

	// Buffer holds recent exchanges not yet folded into Summary.
	Buffer string `json:"buffer"`

	// Summary is the running conversation summary.
	Summary string `json:"summary"`
}

// Store is the persistence interface shared by all drivers.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the data for chatID. A chat with no data yields a zero
	// ChatData and a nil error.
	Load(ctx context.Context, chatID int64) (ChatData, error)

	// AppendTurns appends turns to the chat history in order.
	AppendTurns(ctx context.Context, chatID int64, turns ...Turn) error

	// SaveMemory replaces the buffer and summary for chatID.
	SaveMemory(ctx context.Context, chatID int64, buffer, summary string) error

	// Clear removes all data for chatID.
	Clear(ctx context.Context, chatID int64) error

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	// Driver is one of "file", "sqlite", or "postgres". Empty means "file".
	Driver string

	// Path is the file location for the file and sqlite drivers.
	Path string

	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open constructs the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFile:
		return NewFileStore(cfg.Path)
	case DriverSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
