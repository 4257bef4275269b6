package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
	"github.com/Klingefjord/chatgpt-telegram/internal/schedule"
	"github.com/Klingefjord/chatgpt-telegram/internal/search"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
	"github.com/Klingefjord/chatgpt-telegram/internal/store"
	"github.com/Klingefjord/chatgpt-telegram/internal/telegram"
)

// User-facing replies of the command handlers.
const (
	StartMessage             = "You are ready to start using Lydia. Say hello!"
	ResetMessage             = "Resetting your assistant..."
	NoSessionMessage         = "You don't have an assistant yet. Use /start to get started."
	ScheduleFailedMessage    = "Sorry, I could not schedule that reminder."
	SearchUnavailableMessage = "Web search is not configured."
	BrowseUsageMessage       = "Usage: /browse <question>"
	ScheduleUsageMessage     = "Usage: /schedule <what and when>"
)

// reminderTimeLayout formats reminder times in confirmations.
const reminderTimeLayout = "Mon 2006-01-02 15:04 MST"

// Messenger sends replies and typing indicators to a chat.
// [*telegram.Responder] implements it.
type Messenger interface {
	telegram.Replier
	Typing(chatID int64) backend.Liveness
}

// Assistant implements the bot commands.
type Assistant struct {
	sessions  *SessionManager
	store     store.Store
	searcher  search.Searcher
	messenger Messenger
	metrics   *observe.Metrics
	backend   string
	scheduler *schedule.Scheduler
}

// AssistantConfig holds the dependencies of an [Assistant].
type AssistantConfig struct {
	Sessions  *SessionManager
	Store     store.Store
	Messenger Messenger

	// Searcher serves /browse. Nil disables the command.
	Searcher search.Searcher

	// Backend labels backend latency metrics (e.g., "completion").
	Backend string

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ScheduleOptions configure the reminder scheduler.
	ScheduleOptions []schedule.Option
}

// NewAssistant returns an Assistant and starts its reminder scheduler.
// Call [Assistant.Close] to stop pending reminders.
func NewAssistant(cfg AssistantConfig) *Assistant {
	a := &Assistant{
		sessions:  cfg.Sessions,
		store:     cfg.Store,
		searcher:  cfg.Searcher,
		messenger: cfg.Messenger,
		metrics:   cfg.Metrics,
		backend:   cfg.Backend,
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.scheduler = schedule.New(a.fireReminder, cfg.ScheduleOptions...)
	return a
}

// Register installs the command handlers on r.
func (a *Assistant) Register(r *telegram.Router) {
	r.Handle("start", a.Start)
	r.Handle("reset", a.Reset)
	r.Handle("browse", a.Browse)
	r.Handle("schedule", a.Schedule)
	r.HandleText(a.Text)
}

// Scheduler returns the reminder scheduler.
func (a *Assistant) Scheduler() *schedule.Scheduler { return a.scheduler }

// Close stops the scheduler. Pending reminders are dropped.
func (a *Assistant) Close() { a.scheduler.Stop() }

// Start creates the user's session if needed.
func (a *Assistant) Start(ctx context.Context, req telegram.Request) error {
	if _, _, err := a.sessions.GetOrStart(ctx, req.UserID, req.ChatID); err != nil {
		return err
	}
	return a.messenger.Reply(ctx, req.ChatID, StartMessage)
}

// Reset wipes the user's conversation and starts over. Without a session it
// behaves like /start. A session with a request in flight is left alone and
// the user is asked to wait, so the pending exchange cannot land in the
// cleared transcript.
func (a *Assistant) Reset(ctx context.Context, req telegram.Request) error {
	s, ok := a.sessions.Get(req.UserID)
	if !ok {
		return a.Start(ctx, req)
	}
	if !s.TryAcquire() {
		return a.messenger.Reply(ctx, req.ChatID, session.BusyMessage)
	}
	defer s.Release()

	if err := a.messenger.Reply(ctx, req.ChatID, ResetMessage); err != nil {
		return err
	}
	if _, err := a.sessions.Restart(ctx, req.UserID, req.ChatID); err != nil {
		return err
	}
	return a.messenger.Reply(ctx, req.ChatID, StartMessage)
}

// Browse answers a question with the help of a web search.
func (a *Assistant) Browse(ctx context.Context, req telegram.Request) error {
	s, ok := a.sessions.Get(req.UserID)
	if !ok {
		return a.messenger.Reply(ctx, req.ChatID, NoSessionMessage)
	}
	if a.searcher == nil {
		return a.messenger.Reply(ctx, req.ChatID, SearchUnavailableMessage)
	}
	if req.Text == "" {
		return a.messenger.Reply(ctx, req.ChatID, BrowseUsageMessage)
	}
	return a.converse(ctx, req, s, func(ctx context.Context, live backend.Liveness) (string, error) {
		return search.Browse(ctx, s.Backend, a.searcher, req.Text, live)
	})
}

// Schedule turns a free-text request into a one-shot reminder.
func (a *Assistant) Schedule(ctx context.Context, req telegram.Request) error {
	s, ok := a.sessions.Get(req.UserID)
	if !ok {
		return a.messenger.Reply(ctx, req.ChatID, NoSessionMessage)
	}
	if req.Text == "" {
		return a.messenger.Reply(ctx, req.ChatID, ScheduleUsageMessage)
	}
	return a.converse(ctx, req, s, func(ctx context.Context, live backend.Liveness) (string, error) {
		r, err := a.scheduler.FromRequest(ctx, s.Backend, req.ChatID, req.Text, live)
		if errors.Is(err, schedule.ErrMalformed) {
			a.metrics.RecordReminder(ctx, "rejected")
			return ScheduleFailedMessage, nil
		}
		if err != nil {
			return "", err
		}
		a.metrics.RecordReminder(ctx, "scheduled")
		slog.Info("reminder scheduled", "id", r.ID, "chat_id", r.ChatID, "fire_at", r.FireAt)
		return fmt.Sprintf("Scheduled a reminder for %s: %s", r.FireAt.Format(reminderTimeLayout), r.Message), nil
	})
}

// Text relays a plain message to the user's backend.
func (a *Assistant) Text(ctx context.Context, req telegram.Request) error {
	if req.Text == "" {
		return nil
	}
	s, _, err := a.sessions.GetOrStart(ctx, req.UserID, req.ChatID)
	if err != nil {
		return err
	}
	return a.converse(ctx, req, s, func(ctx context.Context, live backend.Liveness) (string, error) {
		return s.Backend.Send(ctx, req.Text, live)
	})
}

// converse runs fn under the session's in-flight guard, then persists the
// exchange and sends the reply. A backend error is returned unsent so the
// dispatcher answers with its generic apology.
func (a *Assistant) converse(ctx context.Context, req telegram.Request, s *session.Session, fn func(context.Context, backend.Liveness) (string, error)) error {
	if !s.TryAcquire() {
		return a.messenger.Reply(ctx, req.ChatID, session.BusyMessage)
	}
	defer s.Release()

	start := time.Now()
	reply, err := fn(ctx, a.messenger.Typing(req.ChatID))
	a.metrics.RecordBackend(ctx, a.backend, time.Since(start), err)
	if err != nil {
		return err
	}

	if err := a.store.AppendTurns(ctx, req.ChatID,
		store.Turn{Speaker: req.Username, Text: req.Text},
		store.Turn{Speaker: store.AISpeaker, Text: reply},
	); err != nil {
		observe.Logger(ctx).Warn("failed to persist turns", "chat_id", req.ChatID, "err", err)
	}
	return a.messenger.Reply(ctx, req.ChatID, reply)
}

func (a *Assistant) fireReminder(ctx context.Context, r schedule.Reminder) {
	a.metrics.RecordReminder(ctx, "fired")
	if err := a.messenger.Reply(ctx, r.ChatID, r.Message); err != nil {
		slog.Warn("reminder delivery failed", "id", r.ID, "chat_id", r.ChatID, "err", err)
	}
}
