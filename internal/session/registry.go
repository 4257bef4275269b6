package session

import (
	"errors"
	"fmt"
	"sync"
)

// Registry maps user IDs to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	pending  map[int64]*build
	onSize   func(delta int64)
}

// build is a session under construction. done is closed once s or err is set.
type build struct {
	done chan struct{}
	s    *Session
	err  error
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithSizeObserver registers fn to be called with +1 or -1 whenever a session
// is added or removed, typically to feed an up/down counter.
func WithSizeObserver(fn func(delta int64)) RegistryOption {
	return func(r *Registry) { r.onSize = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{sessions: make(map[int64]*Session), pending: make(map[int64]*build)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the session for userID, calling create to build one if
// none exists. Concurrent callers for the same user share a single create
// call and its result, so two first messages never build two backends.
// create runs without the registry lock held: a slow build (a browser login)
// only holds up callers for that user.
// created reports whether this call ran create and it succeeded.
func (r *Registry) GetOrCreate(userID int64, create func() (*Session, error)) (s *Session, created bool, err error) {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return s, false, nil
	}
	if b, ok := r.pending[userID]; ok {
		r.mu.Unlock()
		<-b.done
		return b.s, false, b.err
	}
	b := &build{done: make(chan struct{})}
	r.pending[userID] = b
	r.mu.Unlock()

	b.s, b.err = r.run(userID, create)

	r.mu.Lock()
	delete(r.pending, userID)
	if b.err == nil {
		r.sessions[userID] = b.s
		r.observe(1)
	}
	r.mu.Unlock()
	close(b.done)

	return b.s, b.err == nil, b.err
}

func (r *Registry) run(userID int64, create func() (*Session, error)) (*Session, error) {
	s, err := create()
	if err != nil {
		return nil, fmt.Errorf("session: create for user %d: %w", userID, err)
	}
	if s == nil {
		return nil, errors.New("session: create returned nil session")
	}
	return s, nil
}

// Get returns the session for userID, if any.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Delete removes and returns the session for userID. The caller owns closing
// its backend.
func (r *Registry) Delete(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
		r.observe(-1)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session's backend and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[int64]*Session)
	r.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		r.observe(-1)
		if s.Backend == nil {
			continue
		}
		if err := s.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close user %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) observe(delta int64) {
	if r.onSize != nil {
		r.onSize(delta)
	}
}
