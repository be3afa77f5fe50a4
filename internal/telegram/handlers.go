package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/chat"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
)

const (
	msgNoCharacters  = "Персонажи ещё не настроены. Попробуй позже."
	msgGeneralError  = "Что-то пошло не так, попробуй ещё раз."
	msgBusy          = "Я немного задумалась... Напиши ещё раз чуть позже."
	msgHistoryWiped  = "История диалога очищена."
	msgUnknownGift   = "Такого подарка нет. Доступны: flower, chocolate, teddy, perfume, jewelry, vip_gift."
	msgNoMemories    = "Я пока ничего о тебе не запомнила."
	msgNotAuthorized = "Эта команда доступна только администратору."
)

// HandlerDeps carries the dependencies shared by all handlers.
type HandlerDeps struct {
	Logger *slog.Logger
	Chat   *chat.Services
	Store  database.Store
	Config *config.Config
}

// RegisterAllCommands builds the full command map for the bot.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["/start"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     newStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/gift"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "gift",
		Handler:     newGiftHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/clear"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "clear",
		Handler:     newClearHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}
	handlers["/memory"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "memory",
		Handler:     newMemoryHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}
	handlers["/compress"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "compress",
		Handler:     newCompressHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  adminMiddleware,
	}

	return handlers
}

// AdminOnly rejects commands from anyone but the configured admin.
func AdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.Message == nil || update.Message.From == nil {
				return
			}
			if update.Message.From.ID != deps.Config.Telegram.AdminID {
				deps.Logger.WarnContext(ctx, "Unauthorized admin command",
					"user_id", update.Message.From.ID)
				reply(ctx, b, update, msgNotAuthorized, deps.Logger)
				return
			}
			next(ctx, b, update)
		}
	}
}

// NewMessageHandler handles plain (non-command) messages as chat turns.
func NewMessageHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
			return
		}

		character, ok := activeCharacter(ctx, b, update, deps)
		if !ok {
			return
		}
		userRef := strconv.FormatInt(update.Message.From.ID, 10)

		result, err := deps.Chat.SendMessage(ctx, character.ID, userRef, update.Message.Text)
		if err != nil {
			deps.Logger.ErrorContext(ctx, "Message turn failed", "error", err)
			reply(ctx, b, update, turnErrorText(err), deps.Logger)
			return
		}

		messages := result.MultiMessages
		if len(messages) == 0 {
			messages = []string{result.Text}
		}
		for _, msg := range messages {
			reply(ctx, b, update, msg, deps.Logger)
		}
	}
}

func newStartHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		character, ok := activeCharacter(ctx, b, update, deps)
		if !ok {
			return
		}

		userRef := strconv.FormatInt(update.Message.From.ID, 10)
		greeting, err := deps.Chat.StartChat(ctx, character.ID, userRef, update.Message.From.FirstName)
		if err != nil {
			deps.Logger.ErrorContext(ctx, "Start chat failed", "error", err)
			reply(ctx, b, update, msgGeneralError, deps.Logger)
			return
		}
		reply(ctx, b, update, greeting, deps.Logger)
	}
}

func newGiftHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		character, ok := activeCharacter(ctx, b, update, deps)
		if !ok {
			return
		}

		giftID := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/gift"))
		userRef := strconv.FormatInt(update.Message.From.ID, 10)

		result, err := deps.Chat.SendGift(ctx, character.ID, userRef, giftID)
		switch {
		case errors.Is(err, apperrors.ErrInvalidInput):
			reply(ctx, b, update, msgUnknownGift, deps.Logger)
		case err != nil:
			deps.Logger.ErrorContext(ctx, "Gift turn failed", "error", err)
			reply(ctx, b, update, turnErrorText(err), deps.Logger)
		default:
			reply(ctx, b, update, result.Text, deps.Logger)
		}
	}
}

func newClearHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		character, ok := activeCharacter(ctx, b, update, deps)
		if !ok {
			return
		}

		userRef := strconv.FormatInt(update.Message.From.ID, 10)
		if _, err := deps.Chat.ClearHistory(ctx, character.ID, userRef); err != nil {
			deps.Logger.ErrorContext(ctx, "Clear history failed", "error", err)
			reply(ctx, b, update, msgGeneralError, deps.Logger)
			return
		}
		reply(ctx, b, update, msgHistoryWiped, deps.Logger)
	}
}

func newMemoryHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		character, ok := activeCharacter(ctx, b, update, deps)
		if !ok {
			return
		}

		userRef := strconv.FormatInt(update.Message.From.ID, 10)
		memories, err := deps.Chat.ListMemories(ctx, character.ID, userRef)
		if err != nil {
			deps.Logger.ErrorContext(ctx, "Memory listing failed", "error", err)
			reply(ctx, b, update, msgGeneralError, deps.Logger)
			return
		}
		if len(memories) == 0 {
			reply(ctx, b, update, msgNoMemories, deps.Logger)
			return
		}

		var sb strings.Builder
		sb.WriteString("Вот что я о тебе помню:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "• [%s/%s] %s\n", m.MemoryType, m.Category, m.Content)
		}
		reply(ctx, b, update, sb.String(), deps.Logger)
	}
}

func newCompressHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		character, ok := activeCharacter(ctx, b, update, deps)
		if !ok {
			return
		}

		userRef := strconv.FormatInt(update.Message.From.ID, 10)
		report, err := deps.Chat.CompressHistory(ctx, character.ID, userRef)
		switch {
		case errors.Is(err, apperrors.ErrInsufficientMessages):
			reply(ctx, b, update, "Слишком мало сообщений для сжатия.", deps.Logger)
		case err != nil:
			deps.Logger.ErrorContext(ctx, "Compression failed", "error", err)
			reply(ctx, b, update, msgGeneralError, deps.Logger)
		default:
			reply(ctx, b, update,
				fmt.Sprintf("Сжато сообщений: %d → %d.", report.OriginalMessages, report.CompressedMessages),
				deps.Logger)
		}
	}
}

// activeCharacter picks the companion character for the chat. Deployments run
// a single companion; the first character by name is it.
func activeCharacter(ctx context.Context, b *tgbot.Bot, update *models.Update, deps HandlerDeps) (*database.Character, bool) {
	characters, err := deps.Store.ListCharacters(ctx)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "Character listing failed", "error", err)
		reply(ctx, b, update, msgGeneralError, deps.Logger)
		return nil, false
	}
	if len(characters) == 0 {
		reply(ctx, b, update, msgNoCharacters, deps.Logger)
		return nil, false
	}
	return &characters[0], true
}

func turnErrorText(err error) string {
	if errors.Is(err, apperrors.ErrUpstreamTimeout) || errors.Is(err, apperrors.ErrUpstreamError) {
		return msgBusy
	}
	return msgGeneralError
}

func reply(ctx context.Context, b *tgbot.Bot, update *models.Update, text string, log *slog.Logger) {
	if update.Message == nil {
		return
	}
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send telegram message",
			"chat_id", update.Message.Chat.ID, "error", err)
	}
}
