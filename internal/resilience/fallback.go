package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig is the breaker template applied to every entry of a
// [FallbackGroup]. The entry name overrides CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of the same type.
// Entries must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []entry[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends an entry tried after all existing ones.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := g.cfg.CircuitBreaker
	cb.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Names lists the entries in the order they are tried.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Primary returns the first entry.
func (g *FallbackGroup[T]) Primary() T { return g.entries[0].value }

// Execute calls fn with each entry until one succeeds.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, g, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult calls fn with each entry of g until one succeeds and
// returns its result. A cancelled ctx stops the walk immediately.
func ExecuteWithResult[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var res R
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", e.name)
			continue
		}
		slog.Warn("resilience: provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
