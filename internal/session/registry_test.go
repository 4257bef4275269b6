package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
)

type stubChat struct {
	closed atomic.Int32
}

func (s *stubChat) Send(context.Context, string, backend.Liveness) (string, error) { return "", nil }
func (s *stubChat) Reset(context.Context) error                                     { return nil }
func (s *stubChat) Close() error                                                    { s.closed.Add(1); return nil }

func TestRegistry_GetOrCreateIsAtomic(t *testing.T) {
	t.Parallel()

	var size atomic.Int64
	r := session.NewRegistry(session.WithSizeObserver(func(d int64) { size.Add(d) }))

	var creates atomic.Int32
	create := func() (*session.Session, error) {
		creates.Add(1)
		return session.New(42, 42, &stubChat{}, nil), nil
	}

	var wg sync.WaitGroup
	results := make([]*session.Session, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := r.GetOrCreate(42, create)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
			results[i] = s
		}()
	}
	wg.Wait()

	if creates.Load() != 1 {
		t.Errorf("create called %d times, want 1", creates.Load())
	}
	for _, s := range results {
		if s != results[0] {
			t.Fatal("GetOrCreate returned different sessions for the same user")
		}
	}
	if r.Len() != 1 || size.Load() != 1 {
		t.Errorf("Len = %d, observed size = %d, want 1", r.Len(), size.Load())
	}
}

func TestRegistry_CreateError(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry()
	boom := errors.New("browser failed to start")
	_, created, err := r.GetOrCreate(1, func() (*session.Session, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if created || r.Len() != 0 {
		t.Error("failed create must not register a session")
	}
}

func TestRegistry_SlowCreateDoesNotBlockOtherUsers(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry()
	release := make(chan struct{})
	started := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = r.GetOrCreate(1, func() (*session.Session, error) {
			close(started)
			<-release
			return session.New(1, 10, &stubChat{}, nil), nil
		})
	}()
	<-started

	other := make(chan error, 1)
	go func() {
		_, created, err := r.GetOrCreate(2, func() (*session.Session, error) {
			return session.New(2, 20, &stubChat{}, nil), nil
		})
		if err == nil && !created {
			err = errors.New("session for user 2 not created")
		}
		other <- err
	}()

	select {
	case err := <-other:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("user 2 blocked behind user 1's session build")
	}
	if _, ok := r.Get(1); ok {
		t.Error("user 1 visible before its build finished")
	}

	close(release)
	<-done
	if _, ok := r.Get(1); !ok {
		t.Error("user 1 missing after its build finished")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestRegistry_WaitersShareFailedCreate(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry()
	boom := errors.New("login failed")
	release := make(chan struct{})
	started := make(chan struct{})
	var creates atomic.Int32

	create := func() (*session.Session, error) {
		if creates.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil, boom
	}

	errs := make(chan error, 2)
	go func() { _, _, err := r.GetOrCreate(7, create); errs <- err }()
	<-started
	go func() { _, _, err := r.GetOrCreate(7, create); errs <- err }()

	// Let the second caller find the build in progress before it fails.
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range 2 {
		if err := <-errs; !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	}
	if n := creates.Load(); n != 1 {
		t.Errorf("create called %d times, want 1", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}

	if _, created, err := r.GetOrCreate(7, func() (*session.Session, error) {
		return session.New(7, 70, &stubChat{}, nil), nil
	}); err != nil || !created {
		t.Errorf("retry after failure: created=%v err=%v", created, err)
	}
}

func TestRegistry_DeleteAndCloseAll(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry()
	a, b := &stubChat{}, &stubChat{}
	_, _, _ = r.GetOrCreate(1, func() (*session.Session, error) { return session.New(1, 10, a, nil), nil })
	_, _, _ = r.GetOrCreate(2, func() (*session.Session, error) { return session.New(2, 20, b, nil), nil })

	s, ok := r.Delete(1)
	if !ok || s.ChatID != 10 {
		t.Fatalf("Delete(1) = %v, %v", s, ok)
	}
	if _, ok := r.Get(1); ok {
		t.Error("session 1 still present after Delete")
	}
	if _, ok := r.Delete(1); ok {
		t.Error("second Delete reported success")
	}

	if err := r.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if b.closed.Load() != 1 {
		t.Errorf("backend 2 closed %d times, want 1", b.closed.Load())
	}
	if a.closed.Load() != 0 {
		t.Error("deleted session's backend closed by CloseAll")
	}
	if r.Len() != 0 {
		t.Errorf("Len after CloseAll = %d", r.Len())
	}
}

func TestSession_InFlightGuard(t *testing.T) {
	t.Parallel()

	s := session.New(1, 1, &stubChat{}, nil)
	if !s.TryAcquire() {
		t.Fatal("first TryAcquire failed")
	}
	if s.TryAcquire() {
		t.Fatal("second TryAcquire succeeded while busy")
	}
	if !s.Busy() {
		t.Error("Busy() = false while acquired")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("TryAcquire after Release failed")
	}
}
