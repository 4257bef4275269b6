// Package backend defines the Chat interface implemented by every
// conversational backend the assistant can relay messages to.
//
// Implementations live in sub-packages: completion (a hosted completion API
// behind an llm.Provider), webchat (a chat web page driven through headless
// Chrome), and mendable (a hosted Q&A API).
package backend

import (
	"context"
	"errors"
)

// Kind names accepted in the assistant.backend configuration key.
const (
	KindCompletion = "completion"
	KindWebChat    = "webchat"
	KindMendable   = "mendable"
)

// ErrClosed is returned by Send after Close has been called.
var ErrClosed = errors.New("backend: closed")

// Liveness is invoked while a backend is working on a reply so the caller can
// keep a "typing..." indicator alive. It may be nil.
type Liveness func(ctx context.Context)

// Chat is a conversational backend owned by a single session.
//
// Implementations need not support concurrent Send calls; the session's
// in-flight guard serialises them.
type Chat interface {
	// Send delivers message and returns the backend's reply. Slow backends
	// call liveness periodically while waiting.
	Send(ctx context.Context, message string, liveness Liveness) (string, error)

	// Reset discards the backend's conversational state.
	Reset(ctx context.Context) error

	// Close releases resources (browser processes, HTTP connections).
	Close() error
}

// Ping calls l if it is non-nil.
func (l Liveness) Ping(ctx context.Context) {
	if l != nil {
		l(ctx)
	}
}
