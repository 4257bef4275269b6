package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
)

// Replier sends text to a chat.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Responder sends replies with MarkdownV2 escaping. Long replies are split
// into several messages; a chunk Telegram refuses to parse is resent as
// plain text.
type Responder struct {
	api API
}

var _ Replier = (*Responder)(nil)

// NewResponder returns a Responder sending through api.
func NewResponder(api API) *Responder {
	return &Responder{api: api}
}

// Reply implements [Replier].
func (r *Responder) Reply(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		text = "(empty)"
	}
	for _, chunk := range SplitMessage(text, MaxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.send(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *Responder) send(chatID int64, chunk string) error {
	msg := tgbotapi.NewMessage(chatID, EscapeMarkdownV2(chunk))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := r.api.Send(msg)
	if err == nil {
		return nil
	}
	if !strings.Contains(err.Error(), "can't parse entities") {
		return fmt.Errorf("telegram: send message: %w", err)
	}

	slog.Debug("telegram: markdown rejected, resending as plain text", "chat_id", chatID, "err", err)
	if _, err := r.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
		return fmt.Errorf("telegram: send plain message: %w", err)
	}
	return nil
}

// Typing returns a liveness callback that shows "typing..." in chatID.
func (r *Responder) Typing(chatID int64) backend.Liveness {
	return func(context.Context) {
		if _, err := r.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			slog.Debug("telegram: send typing action", "chat_id", chatID, "err", err)
		}
	}
}
