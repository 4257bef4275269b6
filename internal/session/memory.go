package session

import (
	"context"
	"fmt"
	"sync"
)

// DefaultBufferMaxLen is the buffer length, in bytes, above which the buffer
// is folded into the summary.
const DefaultBufferMaxLen = 512

// MemoryConfig configures a [Memory].
type MemoryConfig struct {
	// BufferMaxLen triggers summarisation once the buffer grows past it.
	// Defaults to [DefaultBufferMaxLen].
	BufferMaxLen int

	// Summariser compresses the buffer into the summary. Must not be nil.
	Summariser Summariser

	// Persist, if set, is called with the new state after every change.
	Persist func(ctx context.Context, buffer, summary string) error

	// Buffer and Summary seed the memory, typically from the store.
	Buffer  string
	Summary string
}

// Memory is an auto-summarising conversation memory. Recent exchanges are
// kept verbatim in a buffer of "Human: ..." / "Assistant: ..." lines; once the
// buffer exceeds BufferMaxLen it is summarised into the running summary and
// cleared.
//
// All methods are safe for concurrent use.
type Memory struct {
	maxLen     int
	summariser Summariser
	persist    func(ctx context.Context, buffer, summary string) error

	mu      sync.Mutex
	buffer  string
	summary string
}

// NewMemory creates a [Memory] from cfg.
func NewMemory(cfg MemoryConfig) *Memory {
	maxLen := cfg.BufferMaxLen
	if maxLen <= 0 {
		maxLen = DefaultBufferMaxLen
	}
	return &Memory{
		maxLen:     maxLen,
		summariser: cfg.Summariser,
		persist:    cfg.Persist,
		buffer:     cfg.Buffer,
		summary:    cfg.Summary,
	}
}

// Snapshot returns the current buffer and summary.
func (m *Memory) Snapshot() (buffer, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffer, m.summary
}

// SaveExchange appends a human/assistant exchange to the buffer and
// summarises when the buffer is too long. If summarisation fails the buffer
// is kept intact and the error is returned; the exchange is never lost.
func (m *Memory) SaveExchange(ctx context.Context, human, assistant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer += "\nHuman: " + human + "\nAssistant: " + assistant

	var sumErr error
	if len(m.buffer) > m.maxLen {
		summary, err := m.summariser.Summarise(ctx, m.summary, m.buffer)
		if err != nil {
			sumErr = fmt.Errorf("memory: %w", err)
		} else {
			m.summary = summary
			m.buffer = ""
		}
	}

	if err := m.save(ctx); err != nil {
		return err
	}
	return sumErr
}

// Reset clears the buffer and the summary.
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer, m.summary = "", ""
	return m.save(ctx)
}

// save must be called with m.mu held.
func (m *Memory) save(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	if err := m.persist(ctx, m.buffer, m.summary); err != nil {
		return fmt.Errorf("memory: persist: %w", err)
	}
	return nil
}
