package app_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Klingefjord/chatgpt-telegram/internal/app"
	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
	"github.com/Klingefjord/chatgpt-telegram/internal/store"
)

// fakeBackend is a scripted backend.Chat.
type fakeBackend struct {
	mu      sync.Mutex
	sent    []string
	replies []string
	err     error
	resets  int
	closed  bool

	// block, if set, makes Send wait until it is closed. entered is
	// signalled when Send starts.
	block   chan struct{}
	entered chan struct{}
}

func (b *fakeBackend) Send(ctx context.Context, msg string, live backend.Liveness) (string, error) {
	live.Ping(ctx)
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	block, entered := b.block, b.entered
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	if len(b.replies) == 0 {
		return "ok", nil
	}
	r := b.replies[0]
	b.replies = b.replies[1:]
	return r, nil
}

func (b *fakeBackend) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) sends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// backends hands out fakeBackends and remembers each one.
type backends struct {
	mu    sync.Mutex
	built []*fakeBackend
	next  func() *fakeBackend
}

func (f *backends) factory(context.Context, *session.Memory) (backend.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &fakeBackend{}
	if f.next != nil {
		b = f.next()
	}
	f.built = append(f.built, b)
	return b, nil
}

func (f *backends) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *backends) last() *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[len(f.built)-1]
}

func (f *backends) totalSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.built {
		n += b.sends()
	}
	return n
}

// messenger records replies and typing pings.
type messenger struct {
	mu      sync.Mutex
	replies []reply
	typing  int
	got     chan reply
}

type reply struct {
	chatID int64
	text   string
}

func newMessenger() *messenger { return &messenger{got: make(chan reply, 32)} }

func (m *messenger) Reply(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	m.replies = append(m.replies, reply{chatID, text})
	m.mu.Unlock()
	m.got <- reply{chatID, text}
	return nil
}

func (m *messenger) Typing(int64) backend.Liveness {
	return func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.typing++
	}
}

func (m *messenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.replies))
	for i, r := range m.replies {
		out[i] = r.text
	}
	return out
}

var _ app.Messenger = (*messenger)(nil)

// searcherFunc adapts a function to search.Searcher.
type searcherFunc func(ctx context.Context, q string) (string, error)

func (f searcherFunc) Search(ctx context.Context, q string) (string, error) { return f(ctx, q) }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testStore(t *testing.T) *store.FileStore {
	t.Helper()
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}
