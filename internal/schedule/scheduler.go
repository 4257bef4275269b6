package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without a zoneinfo database

	"github.com/google/uuid"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
)

// DefaultTimezone is used for reminder times that carry no zone.
const DefaultTimezone = "Europe/Berlin"

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = errors.New("schedule: scheduler stopped")

// Reminder is a pending one-shot message.
type Reminder struct {
	ID      uuid.UUID
	ChatID  int64
	FireAt  time.Time
	Message string
}

// FireFunc delivers a due reminder. It runs on its own goroutine.
type FireFunc func(ctx context.Context, r Reminder)

// Scheduler holds pending reminders and fires each exactly once.
type Scheduler struct {
	fire FireFunc
	loc  *time.Location
	now  func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	pending map[uuid.UUID]*pending
	stopped bool
}

type pending struct {
	r     Reminder
	timer *time.Timer
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithLocation sets the zone for times without an offset.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a Scheduler delivering reminders through fire.
func New(fire FireFunc, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		fire:    fire,
		loc:     time.UTC,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uuid.UUID]*pending),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadLocation resolves name, falling back to [DefaultTimezone] when name is
// empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("schedule: load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Location returns the scheduler's default zone.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Schedule arranges for msg to be delivered to chatID at at.
func (s *Scheduler) Schedule(chatID int64, at time.Time, msg string) (Reminder, error) {
	if !at.After(s.now()) {
		return Reminder{}, ErrInPast
	}
	r := Reminder{ID: uuid.New(), ChatID: chatID, FireAt: at, Message: msg}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Reminder{}, ErrStopped
	}
	p := &pending{r: r}
	p.timer = time.AfterFunc(at.Sub(s.now()), func() { s.deliver(r.ID) })
	s.pending[r.ID] = p
	return r, nil
}

func (s *Scheduler) deliver(id uuid.UUID) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return
	}
	slog.Info("schedule: firing reminder", "id", id, "chat_id", p.r.ChatID)
	s.fire(ctx, p.r)
}

// Cancel removes a pending reminder. It reports false if the reminder
// already fired or never existed.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, id)
	return true
}

// Pending returns the reminders not yet fired, earliest first.
func (s *Scheduler) Pending() []Reminder {
	s.mu.Lock()
	out := make([]Reminder, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.r)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Reminder) int { return a.FireAt.Compare(b.FireAt) })
	return out
}

// Stop cancels every pending reminder and rejects new ones. Deliveries that
// are already running see their context cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.cancel()
}

// FromRequest asks chat to restate text as a TIME/MESSAGE pair and schedules
// the result for chatID.
func (s *Scheduler) FromRequest(ctx context.Context, chat backend.Chat, chatID int64, text string, liveness backend.Liveness) (Reminder, error) {
	now := s.now().In(s.loc)
	reply, err := chat.Send(ctx, Prompt(text, now), liveness)
	if err != nil {
		return Reminder{}, fmt.Errorf("schedule: ask backend: %w", err)
	}
	at, msg, err := Parse(reply, s.loc, now)
	if err != nil {
		slog.Debug("schedule: could not parse reply", "reply", reply, "err", err)
		return Reminder{}, err
	}
	return s.Schedule(chatID, at, msg)
}
