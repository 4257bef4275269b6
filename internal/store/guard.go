package store

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes writes non-fatal. A failed AppendTurns or
// SaveMemory is logged and swallowed so the user still gets a reply; the
// store is then reported as degraded until the next successful operation.
// Load and Clear errors are passed through.
type Guard struct {
	Store
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard wraps s.
func NewGuard(s Store) *Guard {
	return &Guard{Store: s}
}

// AppendTurns implements [Store].
func (g *Guard) AppendTurns(ctx context.Context, chatID int64, turns ...Turn) error {
	if err := g.Store.AppendTurns(ctx, chatID, turns...); err != nil {
		g.degraded.Store(true)
		slog.Warn("store guard: AppendTurns failed, swallowing error", "chat_id", chatID, "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// SaveMemory implements [Store].
func (g *Guard) SaveMemory(ctx context.Context, chatID int64, buffer, summary string) error {
	if err := g.Store.SaveMemory(ctx, chatID, buffer, summary); err != nil {
		g.degraded.Store(true)
		slog.Warn("store guard: SaveMemory failed, swallowing error", "chat_id", chatID, "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Load implements [Store].
func (g *Guard) Load(ctx context.Context, chatID int64) (ChatData, error) {
	cd, err := g.Store.Load(ctx, chatID)
	g.degraded.Store(err != nil)
	return cd, err
}

// IsDegraded reports whether the most recent operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
