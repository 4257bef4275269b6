// Package app wires the assistant's subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the store and builds the
// session manager, command handlers and Telegram pipeline, Run long-polls
// for updates, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithBackendFactory, WithMessenger, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Klingefjord/chatgpt-telegram/internal/auth"
	"github.com/Klingefjord/chatgpt-telegram/internal/config"
	"github.com/Klingefjord/chatgpt-telegram/internal/health"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
	"github.com/Klingefjord/chatgpt-telegram/internal/schedule"
	"github.com/Klingefjord/chatgpt-telegram/internal/search"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
	"github.com/Klingefjord/chatgpt-telegram/internal/store"
	"github.com/Klingefjord/chatgpt-telegram/internal/telegram"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	api telegram.API
	llm llm.Provider

	// Subsystems, initialised in New and torn down in Shutdown.
	store      store.Store
	factory    BackendFactory
	searcher   search.Searcher
	messenger  Messenger
	metrics    *observe.Metrics
	sessions   *SessionManager
	assistant  *Assistant
	dispatcher *telegram.Dispatcher
	bot        *telegram.Bot

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening the one named in the config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBackendFactory injects the factory used to build session backends.
func WithBackendFactory(f BackendFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithSearcher injects the web search client used by /browse.
func WithSearcher(s search.Searcher) Option {
	return func(a *App) { a.searcher = s }
}

// WithMessenger injects the reply channel instead of a Telegram responder.
func WithMessenger(m Messenger) Option {
	return func(a *App) { a.messenger = m }
}

// WithMetrics injects the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. api is the connected Bot API client; provider is the
// (possibly fallback-wrapped) LLM used by the completion backend and the
// memory summariser, and may be nil for other backends.
func New(ctx context.Context, cfg *config.Config, api telegram.API, provider llm.Provider, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, api: api, llm: provider}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.messenger == nil {
		a.messenger = telegram.NewResponder(api)
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Search ────────────────────────────────────────────────────────
	if err := a.initSearch(); err != nil {
		return nil, fmt.Errorf("app: init search: %w", err)
	}

	// ── 3. Sessions ──────────────────────────────────────────────────────
	if a.factory == nil {
		f, err := NewBackendFactory(cfg.Backend, provider)
		if err != nil {
			return nil, err
		}
		a.factory = f
	}
	var summariser session.Summariser
	if provider != nil {
		summariser = session.NewLLMSummariser(provider, cfg.Backend.Completion.SummaryMaxTokens)
	}
	a.sessions = NewSessionManager(SessionManagerConfig{
		Store:        a.store,
		Factory:      a.factory,
		Summariser:   summariser,
		BufferMaxLen: cfg.Backend.Completion.BufferMaxLen,
		Metrics:      a.metrics,
	})

	// ── 4. Assistant + scheduler ─────────────────────────────────────────
	loc, err := schedule.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.assistant = NewAssistant(AssistantConfig{
		Sessions:        a.sessions,
		Store:           a.store,
		Messenger:       a.messenger,
		Searcher:        a.searcher,
		Backend:         string(cfg.Backend.Kind),
		Metrics:         a.metrics,
		ScheduleOptions: []schedule.Option{schedule.WithLocation(loc)},
	})

	// ── 5. Telegram pipeline ─────────────────────────────────────────────
	router := telegram.NewRouter()
	a.assistant.Register(router)
	var limiter *telegram.Limiter
	if cfg.Telegram.RateLimit > 0 {
		limiter = telegram.NewLimiter(rate.Limit(cfg.Telegram.RateLimit), cfg.Telegram.RateBurst)
	}
	a.dispatcher = telegram.NewDispatcher(
		auth.NewAllowList(cfg.Telegram.AllowedUserIDs...),
		limiter, router, a.messenger, a.metrics,
	)
	a.bot = telegram.NewBot(api, a.dispatcher)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured store unless one was injected. Writes are
// guarded so a storage hiccup never costs the user a reply.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := store.Open(ctx, store.Config{
		Driver: a.cfg.Store.Driver,
		Path:   a.cfg.Store.Path,
		DSN:    a.cfg.Store.DSN,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, s.Close)
	a.store = store.NewGuard(s)
	slog.Info("store opened", "driver", a.cfg.Store.Driver)
	return nil
}

// initSearch builds the SerpAPI client if a key is configured.
func (a *App) initSearch() error {
	if a.searcher != nil || a.cfg.Search.APIKey == "" {
		return nil
	}
	sc := a.cfg.Search
	opts := []search.Option{
		search.WithLocale(sc.Language, sc.Country),
		search.WithCircuitBreaker(a.cfg.Resilience.Search),
	}
	if sc.Endpoint != "" {
		opts = append(opts, search.WithEndpoint(sc.Endpoint))
	}
	c, err := search.New(sc.APIKey, opts...)
	if err != nil {
		return err
	}
	a.searcher = c
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Dispatcher returns the per-update pipeline.
func (a *App) Dispatcher() *telegram.Dispatcher { return a.dispatcher }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Assistant returns the command handlers.
func (a *App) Assistant() *Assistant { return a.assistant }

// HealthCheckers returns the readiness checks for the store and the Bot API.
func (a *App) HealthCheckers() []health.Checker {
	return []health.Checker{
		{Name: "store", Check: a.store.Ping},
		{Name: "telegram", Check: a.bot.Ping},
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run long-polls Telegram and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("assistant running", "backend", a.cfg.Backend.Kind, "allowed_users", len(a.cfg.Telegram.AllowedUserIDs))
	return a.bot.Run(ctx)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the scheduler, closes every session backend, then runs the
// remaining closers. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		a.assistant.Close()
		if err := a.sessions.CloseAll(); err != nil {
			slog.Warn("closing sessions", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
