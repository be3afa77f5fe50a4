// Package telegram is the thin Telegram shell over the chat service. It
// translates bot commands and plain messages into service operations and
// sends the results back; no conversation logic lives here.
package telegram

import (
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
)

// NewBot creates the Telegram bot client.
func NewBot(token string, log *slog.Logger, opts ...tgbot.Option) (*tgbot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	b, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info("Telegram bot created")
	return b, nil
}

// RegisteredHandler binds one command pattern to its handler and middleware.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterHandlers attaches all command handlers to the bot.
func RegisterHandlers(b *tgbot.Bot, log *slog.Logger, handlers map[string]RegisteredHandler) {
	for name, h := range handlers {
		b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, h.Handler, h.Middleware...)
		log.Debug("Registered handler", "command", name)
	}
}
