package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/backend/completion"
	"github.com/Klingefjord/chatgpt-telegram/internal/backend/mendable"
	"github.com/Klingefjord/chatgpt-telegram/internal/backend/webchat"
	"github.com/Klingefjord/chatgpt-telegram/internal/config"
	"github.com/Klingefjord/chatgpt-telegram/internal/session"
	"github.com/Klingefjord/chatgpt-telegram/pkg/provider/llm"
)

// NewBackendFactory returns the factory for the backend kind selected in cfg.
// provider is required for the completion backend only.
func NewBackendFactory(cfg config.BackendConfig, provider llm.Provider) (BackendFactory, error) {
	switch cfg.Kind {
	case config.BackendCompletion:
		if provider == nil {
			return nil, errors.New("app: completion backend requires an LLM provider")
		}
		var opts []completion.Option
		if cfg.Completion.MaxTokens > 0 {
			opts = append(opts, completion.WithMaxTokens(cfg.Completion.MaxTokens))
		}
		if cfg.Completion.Temperature > 0 {
			opts = append(opts, completion.WithTemperature(cfg.Completion.Temperature))
		}
		return func(_ context.Context, mem *session.Memory) (backend.Chat, error) {
			return completion.New(provider, mem, opts...)
		}, nil

	case config.BackendWebChat:
		w := cfg.WebChat
		wc := webchat.Config{
			URL:              w.URL,
			Username:         w.Username,
			Password:         w.Password,
			Headless:         !w.ShowBrowser,
			UserDataDir:      w.UserDataDir,
			UserAgent:        w.UserAgent,
			PollInterval:     w.PollInterval,
			TypingInterval:   w.TypingInterval,
			Timeout:          w.Timeout,
			MaxLoginAttempts: w.MaxLoginAttempts,
			StepDelay:        w.StepDelay,
			ScreenshotDir:    w.ScreenshotDir,
			Selectors:        w.Selectors,
		}
		return func(ctx context.Context, _ *session.Memory) (backend.Chat, error) {
			return webchat.Open(ctx, wc)
		}, nil

	case config.BackendMendable:
		var opts []mendable.Option
		if cfg.Mendable.BaseURL != "" {
			opts = append(opts, mendable.WithBaseURL(cfg.Mendable.BaseURL))
		}
		key := cfg.Mendable.APIKey
		return func(context.Context, *session.Memory) (backend.Chat, error) {
			return mendable.New(key, opts...)
		}, nil
	}
	return nil, fmt.Errorf("app: unknown backend kind %q", cfg.Kind)
}
