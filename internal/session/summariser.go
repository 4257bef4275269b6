package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm"
)

// progressivePrompt asks the model to fold new conversation lines into an
// existing summary.
const progressivePrompt = `Progressively summarize the lines of conversation provided, adding onto the previous summary returning a new summary.

EXAMPLE
Current summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good.

New lines of conversation:
Human: Why do you think artificial intelligence is a force for good?
AI: Because artificial intelligence will help humans reach their full potential.

New summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good because it will help humans reach their full potential.
END OF EXAMPLE

Current summary:
%s

New lines of conversation:
%s

New summary:`

// DefaultSummaryTokenLimit caps the length of generated summaries.
const DefaultSummaryTokenLimit = 256

// Summariser folds new conversation lines into a running summary.
type Summariser interface {
	Summarise(ctx context.Context, summary, newLines string) (string, error)
}

// LLMSummariser uses an LLM provider to produce progressive summaries.
type LLMSummariser struct {
	llm       llm.Provider
	maxTokens int
}

// NewLLMSummariser creates an [LLMSummariser] backed by provider. A
// non-positive maxTokens selects [DefaultSummaryTokenLimit].
func NewLLMSummariser(provider llm.Provider, maxTokens int) *LLMSummariser {
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryTokenLimit
	}
	return &LLMSummariser{llm: provider, maxTokens: maxTokens}
}

// Summarise implements [Summariser]. Empty newLines returns summary unchanged
// without calling the model.
func (s *LLMSummariser) Summarise(ctx context.Context, summary, newLines string) (string, error) {
	newLines = strings.TrimSpace(newLines)
	if newLines == "" {
		return summary, nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(progressivePrompt, summary, newLines),
		}},
		MaxTokens:   s.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return summary, nil
	}
	return strings.TrimSpace(resp.Content), nil
}
