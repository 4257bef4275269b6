// Package telegram provides the Telegram bot layer. It long-polls the Bot
// API, checks every update against the allow-list and a per-user rate limit,
// routes commands to registered handlers, and sends MarkdownV2 replies.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// PollTimeout is the long-poll timeout in seconds for getUpdates.
const PollTimeout = 60

// RequestTimeout bounds every Bot API HTTP request. It must exceed
// PollTimeout so an idle getUpdates is not cut short.
const RequestTimeout = (PollTimeout + 15) * time.Second

// API is the subset of *tgbotapi.BotAPI the bot layer uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetMe() (tgbotapi.User, error)
}

var _ API = (*tgbotapi.BotAPI)(nil)

// Config holds Telegram connection settings.
type Config struct {
	// Token is the bot token issued by BotFather.
	Token string

	// Endpoint overrides the Bot API URL template. Empty means
	// tgbotapi.APIEndpoint.
	Endpoint string

	// Debug logs every Bot API request at debug level.
	Debug bool
}

// Connect authenticates against the Bot API and returns the client.
func Connect(cfg Config) (*tgbotapi.BotAPI, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: RequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	api.Debug = cfg.Debug
	slog.Info("telegram: authorized", "bot", api.Self.UserName)
	return api, nil
}

// slogAdapter routes the library's logger into slog. The library prints
// errors with Println and debug traces with Printf.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Println(v ...any) {
	a.l.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RedirectLogs sends the Bot API library's log output to l.
func RedirectLogs(l *slog.Logger) error {
	return tgbotapi.SetLogger(slogAdapter{l: l.With("component", "telegram-bot-api")})
}

// Bot receives updates and hands each one to a [Dispatcher] on its own
// goroutine.
type Bot struct {
	api        API
	dispatcher *Dispatcher
}

// NewBot returns a Bot reading updates from api.
func NewBot(api API, d *Dispatcher) *Bot {
	return &Bot{api: api, dispatcher: d}
}

// Run long-polls for updates until ctx is cancelled, then waits for
// in-flight updates to finish.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = PollTimeout
	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Go(func() { b.dispatcher.Dispatch(ctx, upd) })
		}
	}
}

// Ping checks that the Bot API is reachable with the configured token.
func (b *Bot) Ping(context.Context) error {
	if _, err := b.api.GetMe(); err != nil {
		return fmt.Errorf("telegram: getMe: %w", err)
	}
	return nil
}
