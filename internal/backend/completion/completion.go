// Package completion implements backend.Chat on top of an llm.Provider, using
// an auto-summarising session memory for conversational context.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm"
)

const preamble = `Assistant is a large language model trained by OpenAI on data up until 2021.
Assistant is designed to be able to assist with a wide range of tasks, from answering simple questions to providing in-depth explanations and discussions on a wide range of topics. As a language model, Assistant is able to generate human-like text based on the input it receives, allowing it to engage in natural-sounding conversations and provide responses that are coherent and relevant to the topic at hand.
Assistant is constantly learning and improving, and its capabilities are constantly evolving. It is able to process and understand large amounts of text, and can use this knowledge to provide accurate and informative responses to a wide range of questions. It tells the user when it does not know a question, or ask the user clarifying questions. It does not know the current date and cannot answer questions about current events.`

// Defaults applied by [New].
const (
	DefaultMaxTokens   = 256
	DefaultTemperature = 0.7
)

// Chat is a completion-API backend.
type Chat struct {
	llm         llm.Provider
	memory      *session.Memory
	maxTokens   int
	temperature float64
}

var _ backend.Chat = (*Chat)(nil)

// Option configures a [Chat].
type Option func(*Chat)

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(c *Chat) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Chat) { c.temperature = t }
}

// New returns a Chat that sends prompts to provider and remembers the
// conversation in mem.
func New(provider llm.Provider, mem *session.Memory, opts ...Option) (*Chat, error) {
	if provider == nil {
		return nil, errors.New("completion: provider must not be nil")
	}
	if mem == nil {
		return nil, errors.New("completion: memory must not be nil")
	}
	c := &Chat{
		llm:         provider,
		memory:      mem,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BuildPrompt renders the assistant prompt for the given memory state and
// user input.
func BuildPrompt(summary, history, input string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n")
	b.WriteString(summary)
	b.WriteString("\n\nConversation:\n")
	b.WriteString(history)
	b.WriteString("\nHuman: ")
	b.WriteString(input)
	b.WriteString("\nAssistant:")
	return b.String()
}

// Send implements backend.Chat. Liveness is signalled once before the call.
func (c *Chat) Send(ctx context.Context, message string, liveness backend.Liveness) (string, error) {
	liveness.Ping(ctx)

	history, summary := c.memory.Snapshot()
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: BuildPrompt(summary, history, message)}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("completion: send: %w", err)
	}
	if resp == nil {
		return "", errors.New("completion: send: empty response")
	}
	reply := strings.TrimSpace(resp.Content)

	if err := c.memory.SaveExchange(ctx, message, reply); err != nil {
		slog.Warn("completion: failed to update memory", "err", err)
	}
	return reply, nil
}

// Reset implements backend.Chat by clearing the memory.
func (c *Chat) Reset(ctx context.Context) error {
	return c.memory.Reset(ctx)
}

// Close implements backend.Chat.
func (c *Chat) Close() error { return nil }
