package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrUnknownCommand is returned by [Router.Route] for unregistered commands.
var ErrUnknownCommand = errors.New("telegram: unknown command")

// Request is an incoming text message reduced to what handlers need.
type Request struct {
	UserID   int64
	ChatID   int64
	Username string

	// Command is the command name without the slash and bot suffix, or ""
	// for plain text.
	Command string

	// Text is the command arguments, or the whole message for plain text.
	Text string
}

// Label names the request in logs and metrics.
func (r Request) Label() string {
	if r.Command == "" {
		return "text"
	}
	return r.Command
}

// RequestFromMessage converts msg. It reports false for messages without a
// sender or chat (channel posts, service messages).
func RequestFromMessage(msg *tgbotapi.Message) (Request, bool) {
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Request{}, false
	}
	req := Request{
		UserID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		Username: msg.From.UserName,
		Text:     msg.Text,
	}
	if req.Username == "" {
		req.Username = msg.From.FirstName
	}
	if msg.IsCommand() {
		req.Command = strings.ToLower(msg.Command())
		req.Text = strings.TrimSpace(msg.CommandArguments())
	}
	return req, true
}

// HandlerFunc handles one request. Handlers send their own replies; a
// returned error is logged and answered with a generic apology.
type HandlerFunc func(ctx context.Context, req Request) error

// Router maps command names to handlers, with a fallback for plain text.
type Router struct {
	mu       sync.RWMutex
	commands map[string]HandlerFunc
	text     HandlerFunc
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{commands: make(map[string]HandlerFunc)}
}

// Handle registers h for /name.
func (r *Router) Handle(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(strings.TrimPrefix(name, "/"))] = h
}

// HandleText registers the handler for messages that are not commands.
func (r *Router) HandleText(h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = h
}

// Route calls the handler registered for req.
func (r *Router) Route(ctx context.Context, req Request) error {
	r.mu.RLock()
	h := r.text
	if req.Command != "" {
		h = r.commands[req.Command]
	}
	r.mu.RUnlock()

	if h == nil {
		return ErrUnknownCommand
	}
	return h(ctx, req)
}
