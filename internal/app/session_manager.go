package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
	"github.com/Klingefjord/chatgpt-telegram/internal/store"
)

// BackendFactory builds the backend for a new session. mem is the session's
// memory seeded from the store; backends that keep their own conversational
// state ignore it.
type BackendFactory func(ctx context.Context, mem *session.Memory) (backend.Chat, error)

// SessionManager manages the lifecycle of per-user assistant sessions: it
// restores memory from the store when a session starts, and clears both the
// store and the backend on restart.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	registry     *session.Registry
	store        store.Store
	factory      BackendFactory
	summariser   session.Summariser
	bufferMaxLen int
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Store   store.Store
	Factory BackendFactory

	// Summariser folds the memory buffer into the summary. It may be nil for
	// backends that never write to memory.
	Summariser   session.Summariser
	BufferMaxLen int

	// Metrics receives the active session count. Nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		registry: session.NewRegistry(session.WithSizeObserver(func(delta int64) {
			m.ActiveSessions.Add(context.Background(), delta)
		})),
		store:        cfg.Store,
		factory:      cfg.Factory,
		summariser:   cfg.Summariser,
		bufferMaxLen: cfg.BufferMaxLen,
	}
}

// Get returns the live session for userID, if any.
func (sm *SessionManager) Get(userID int64) (*session.Session, bool) {
	return sm.registry.Get(userID)
}

// GetOrStart returns the session for userID, starting one bound to chatID if
// none exists. started reports whether a new session was created.
func (sm *SessionManager) GetOrStart(ctx context.Context, userID, chatID int64) (s *session.Session, started bool, err error) {
	return sm.registry.GetOrCreate(userID, func() (*session.Session, error) {
		return sm.start(ctx, userID, chatID)
	})
}

func (sm *SessionManager) start(ctx context.Context, userID, chatID int64) (*session.Session, error) {
	data, err := sm.store.Load(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %d: %w", chatID, err)
	}
	mem := session.NewMemory(session.MemoryConfig{
		BufferMaxLen: sm.bufferMaxLen,
		Summariser:   sm.summariser,
		Persist: func(ctx context.Context, buffer, summary string) error {
			return sm.store.SaveMemory(ctx, chatID, buffer, summary)
		},
		Buffer:  data.Buffer,
		Summary: data.Summary,
	})
	chat, err := sm.factory(ctx, mem)
	if err != nil {
		return nil, fmt.Errorf("build backend: %w", err)
	}
	slog.Info("session started", "user_id", userID, "chat_id", chatID, "history", len(data.History))
	return session.New(userID, chatID, chat, mem), nil
}

// Restart tears down the session for userID (if any), clears the chat's
// persisted history and memory, and starts a fresh session. The caller must
// hold the old session's in-flight guard.
func (sm *SessionManager) Restart(ctx context.Context, userID, chatID int64) (*session.Session, error) {
	if old, ok := sm.registry.Delete(userID); ok {
		if old.Memory != nil {
			if err := old.Memory.Reset(ctx); err != nil {
				slog.Warn("memory reset failed", "user_id", userID, "err", err)
			}
		}
		if err := old.Backend.Reset(ctx); err != nil {
			slog.Warn("session reset failed", "user_id", userID, "err", err)
		}
		if err := old.Backend.Close(); err != nil {
			slog.Warn("session close failed", "user_id", userID, "err", err)
		}
	}
	if err := sm.store.Clear(ctx, chatID); err != nil {
		return nil, fmt.Errorf("app: clear chat %d: %w", chatID, err)
	}
	s, _, err := sm.GetOrStart(ctx, userID, chatID)
	return s, err
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int { return sm.registry.Len() }

// CloseAll closes every session's backend.
func (sm *SessionManager) CloseAll() error { return sm.registry.CloseAll() }
