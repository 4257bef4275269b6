package telegram

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/Klingefjord/chatgpt-telegram/internal/auth"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
)

// User-facing messages sent by the dispatcher.
const (
	RateLimitedMessage    = "Too many requests. Please wait a moment."
	UnknownCommandMessage = "Unknown command."
	ErrorMessage          = "Sorry, I'm having some issues right now"
)

// Default per-user rate limit.
const (
	DefaultRate  rate.Limit = 1
	DefaultBurst            = 5
)

// Limiter is a per-user token bucket.
type Limiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	users map[int64]*rate.Limiter
}

// NewLimiter returns a Limiter allowing limit events per second per user
// with the given burst.
func NewLimiter(limit rate.Limit, burst int) *Limiter {
	return &Limiter{limit: limit, burst: burst, users: make(map[int64]*rate.Limiter)}
}

// Allow reports whether userID may make a request now.
func (l *Limiter) Allow(userID int64) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Dispatcher runs the per-update pipeline: allow-list, rate limit, router.
type Dispatcher struct {
	allow   *auth.AllowList
	limiter *Limiter
	router  *Router
	reply   Replier
	metrics *observe.Metrics
}

// NewDispatcher wires the pipeline. A nil limiter disables rate limiting;
// nil metrics uses [observe.DefaultMetrics].
func NewDispatcher(allow *auth.AllowList, limiter *Limiter, router *Router, reply Replier, metrics *observe.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Dispatcher{allow: allow, limiter: limiter, router: router, reply: reply, metrics: metrics}
}

// Dispatch handles one update. Unauthorized users get a refusal and never
// reach the router.
func (d *Dispatcher) Dispatch(ctx context.Context, upd tgbotapi.Update) {
	req, ok := RequestFromMessage(upd.Message)
	if !ok {
		return
	}

	ctx, span := observe.StartUpdateSpan(ctx, req.Label(), req.UserID, req.ChatID)
	defer span.End()
	log := observe.Logger(ctx).With("user_id", req.UserID, "chat_id", req.ChatID, "command", req.Label())

	if !d.allow.Allowed(req.UserID) {
		d.metrics.Unauthorized.Add(ctx, 1)
		log.Warn("telegram: unauthorized user", "username", req.Username)
		d.send(ctx, req.ChatID, auth.RefusalMessage)
		return
	}
	if d.limiter != nil && !d.limiter.Allow(req.UserID) {
		d.metrics.RateLimited.Add(ctx, 1)
		log.Info("telegram: rate limited")
		d.send(ctx, req.ChatID, RateLimitedMessage)
		return
	}

	err := d.router.Route(ctx, req)
	d.metrics.RecordMessage(ctx, req.Label(), err)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownCommand):
		d.send(ctx, req.ChatID, UnknownCommandMessage)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("telegram: handler failed", "err", err)
		d.send(ctx, req.ChatID, ErrorMessage)
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) {
	if err := d.reply.Reply(ctx, chatID, text); err != nil {
		observe.Logger(ctx).Warn("telegram: reply failed", "chat_id", chatID, "err", err)
	}
}
