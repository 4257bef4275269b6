// Package session tracks one assistant session per Telegram user.
//
// A [Session] owns the user's conversational backend and, for completion
// backends, its auto-summarising [Memory]. The [Registry] creates sessions on
// demand and guarantees at most one per user.
//
// All exported types are safe for concurrent use.
package session

import (
	"sync/atomic"
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
)

// BusyMessage is sent when a user writes while a previous message is still
// being processed.
const BusyMessage = "Still processing your previous message. Please wait."

// Session is the per-user assistant state.
type Session struct {
	UserID int64
	ChatID int64

	// Backend produces replies for this user.
	Backend backend.Chat

	// Memory is the conversation memory. It is nil for backends that keep
	// their own conversational state.
	Memory *Memory

	CreatedAt time.Time

	inflight atomic.Bool
}

// New returns a Session for userID in chatID backed by chat.
func New(userID, chatID int64, chat backend.Chat, mem *Memory) *Session {
	return &Session{
		UserID:    userID,
		ChatID:    chatID,
		Backend:   chat,
		Memory:    mem,
		CreatedAt: time.Now(),
	}
}

// TryAcquire marks the session busy. It returns false if a request is already
// in flight; the caller must then reply with [BusyMessage] and not touch the
// backend. A successful TryAcquire must be paired with [Session.Release].
func (s *Session) TryAcquire() bool {
	return s.inflight.CompareAndSwap(false, true)
}

// Release marks the session idle.
func (s *Session) Release() {
	s.inflight.Store(false)
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	return s.inflight.Load()
}
