// Package chat implements the conversational operations exposed upstream:
// starting a chat, exchanging messages and gifts, listing memories, and
// clearing or compressing history. Dependencies are passed explicitly; the
// package holds no process-wide state.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
	"github.com/baltabekpro/aisimulator-sub001/internal/memory"
	"github.com/baltabekpro/aisimulator-sub001/internal/prompt"
	"github.com/baltabekpro/aisimulator-sub001/internal/relationship"
)

const (
	greetingKnown   = "Привет, %s! Рада видеть тебя снова. Как у тебя дела?"
	greetingUnknown = "Привет! Рада познакомиться с тобой. Как твои дела?"
)

// nameMemoryPattern recovers the user's name from a stored name memory.
var nameMemoryPattern = regexp.MustCompile(`Имя пользователя: (.+)`)

// Services bundles the dependencies of the chat operations.
type Services struct {
	store      database.Store
	oracle     ai.Oracle
	extractor  *memory.Extractor
	tracker    *relationship.Tracker
	characters *characterCache
	chatCfg    config.ChatConfig
	aiCfg      config.AIConfig
	log        *slog.Logger
}

// New wires the chat service.
func New(store database.Store, oracle ai.Oracle, chatCfg config.ChatConfig, aiCfg config.AIConfig, log *slog.Logger) *Services {
	return &Services{
		store:      store,
		oracle:     oracle,
		extractor:  memory.NewExtractor(store, log),
		tracker:    relationship.NewTracker(store, log),
		characters: newCharacterCache(store, chatCfg.CharacterCacheTTL),
		chatCfg:    chatCfg,
		aiCfg:      aiCfg,
		log:        log.With("component", "chat"),
	}
}

// TurnResult is the outcome of one message or gift exchange.
type TurnResult struct {
	Text          string
	MultiMessages []string
	Emotion       string
	Relationship  ai.RelationshipDelta
	Stage         string
}

// StartChat opens (or resumes) a conversation and returns the greeting. A
// stored name memory personalises it.
func (s *Services) StartChat(ctx context.Context, characterID uuid.UUID, userRef, displayName string) (string, error) {
	character, err := s.characters.Get(ctx, characterID)
	if err != nil {
		return "", err
	}

	userID := identity.InternalID(userRef)
	if err := s.store.EnsureUser(ctx, userID, userRef, displayName); err != nil {
		return "", err
	}

	greeting := greetingUnknown
	memories, err := s.store.QueryMemories(ctx, characterID, userRef, s.chatCfg.MemoryLimit)
	if err != nil {
		s.log.WarnContext(ctx, "Memory lookup failed for greeting", "error", err)
	} else if name := findUserName(memories); name != "" {
		greeting = fmt.Sprintf(greetingKnown, name)
	}

	if err := s.recordExchange(ctx, character, userID, "", greeting, "happy", false); err != nil {
		return "", err
	}
	return greeting, nil
}

// SendMessage records a user turn, generates the character's reply, and
// applies the side effects of the exchange: history and boundary rows,
// extracted memories, relationship deltas, and the character's emotion.
// All writes happen after the oracle call succeeds; a timed-out or cancelled
// call leaves no partial state.
func (s *Services) SendMessage(ctx context.Context, characterID uuid.UUID, userRef, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.InvalidInputf("message text is empty")
	}

	character, err := s.characters.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	userID := identity.InternalID(userRef)
	if err := s.store.EnsureUser(ctx, userID, userRef, ""); err != nil {
		return nil, err
	}

	reply, err := s.generate(ctx, character, userID, userRef, ai.Turn{Role: "user", Content: text}, "")
	if err != nil {
		return nil, err
	}

	if err := s.recordExchange(ctx, character, userID, text, reply.Text, reply.Emotion, false); err != nil {
		return nil, err
	}
	s.extractor.Process(ctx, characterID, userID, text, reply)

	return s.finishTurn(ctx, character, userID, reply, false), nil
}

// ListMemories returns the character's active memories, optionally scoped to
// one user.
func (s *Services) ListMemories(ctx context.Context, characterID uuid.UUID, userRef string) ([]database.MemoryEntry, error) {
	if _, err := s.characters.Get(ctx, characterID); err != nil {
		return nil, err
	}
	return s.store.QueryMemories(ctx, characterID, userRef, s.chatCfg.MemoryLimit)
}

// ClearHistory wipes the conversation for a pair and reports how many turns
// were removed.
func (s *Services) ClearHistory(ctx context.Context, characterID uuid.UUID, userRef string) (int64, error) {
	if _, err := s.characters.Get(ctx, characterID); err != nil {
		return 0, err
	}
	return s.store.ClearHistory(ctx, characterID, identity.InternalID(userRef))
}

// generate assembles the envelope for the current turn and runs the oracle.
func (s *Services) generate(ctx context.Context, character *database.Character, userID uuid.UUID, userRef string, current ai.Turn, extra string) (*ai.Reply, error) {
	state, err := s.store.GetRelationship(ctx, userID, character.ID)
	if err != nil {
		return nil, err
	}
	memories, err := s.store.QueryMemories(ctx, character.ID, userRef, s.chatCfg.MemoryLimit)
	if err != nil {
		return nil, err
	}
	history, err := s.store.FetchRecentHistory(ctx, character.ID, userID, s.chatCfg.HistoryWindow)
	if err != nil {
		return nil, err
	}
	gifts, err := s.store.RecentGiftEvents(ctx, character.ID, userID, 5)
	if err != nil {
		return nil, err
	}

	system, turns, err := prompt.Build(prompt.Input{
		Character:    character,
		Relationship: state,
		Memories:     memories,
		GiftEvents:   renderGiftEvents(gifts),
		History:      history,
		Current:      current,
		Extra:        extra,
	}, s.aiCfg.MaxContextTokens)
	if err != nil {
		return nil, err
	}

	raw, err := s.oracle.Complete(ctx, system, turns)
	if err != nil {
		return nil, err
	}
	return ai.ParseReply(raw), nil
}

// recordExchange persists the user turn (when present) and the assistant
// reply into history and the boundary message table.
func (s *Services) recordExchange(ctx context.Context, character *database.Character, userID uuid.UUID, userText, replyText, emotion string, isGift bool) error {
	if userText != "" {
		userRow := &database.ChatHistoryRow{
			CharacterID: character.ID,
			UserID:      userID,
			Role:        "user",
			Content:     userText,
		}
		if err := s.store.AppendHistory(ctx, userRow); err != nil {
			return err
		}
		if err := s.store.InsertMessage(ctx, &database.Message{
			SenderID:      userID,
			SenderType:    "user",
			RecipientID:   character.ID,
			RecipientType: "character",
			Content:       userText,
			IsGift:        isGift,
		}); err != nil {
			return err
		}
	}

	assistantRow := &database.ChatHistoryRow{
		CharacterID: character.ID,
		UserID:      userID,
		Role:        "assistant",
		Content:     replyText,
	}
	if err := s.store.AppendHistory(ctx, assistantRow); err != nil {
		return err
	}
	return s.store.InsertMessage(ctx, &database.Message{
		SenderID:      character.ID,
		SenderType:    "character",
		RecipientID:   userID,
		RecipientType: "user",
		Content:       replyText,
		Emotion:       nullString(emotion),
	})
}

// finishTurn applies the best-effort tail of an exchange: relationship
// deltas and the character's emotion. Failures are logged, never surfaced.
func (s *Services) finishTurn(ctx context.Context, character *database.Character, userID uuid.UUID, reply *ai.Reply, gift bool) *TurnResult {
	result := &TurnResult{
		Text:         reply.Text,
		Emotion:      reply.Emotion,
		Relationship: reply.Relationship,
	}
	if parts := splitMessages(reply.Text); len(parts) > 1 {
		result.MultiMessages = parts
	}

	if !gift {
		state, err := s.tracker.ApplyTurn(ctx, userID, character.ID, reply.Relationship)
		if err != nil {
			s.log.WarnContext(ctx, "Relationship update failed", "error", err)
		} else {
			result.Stage = state.Stage
		}
	}

	if reply.Emotion != "" && reply.Emotion != character.CurrentEmotion {
		if err := s.store.UpdateCharacterEmotion(ctx, character.ID, reply.Emotion); err != nil {
			s.log.WarnContext(ctx, "Emotion update failed", "error", err)
		} else {
			s.characters.Invalidate(character.ID)
		}
	}
	return result
}

func findUserName(memories []database.MemoryEntry) string {
	for _, m := range memories {
		if m.Category != "name" {
			continue
		}
		if match := nameMemoryPattern.FindStringSubmatch(m.Content); match != nil {
			return strings.TrimSpace(match[1])
		}
	}
	return ""
}

// splitMessages breaks a reply into separate deliverable messages on blank
// lines, mirroring how characters send several short messages in a row.
func splitMessages(text string) []string {
	raw := strings.Split(text, "\n\n")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func renderGiftEvents(events []database.Event) []string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		label := "подарок"
		if gift, ok := giftFromEvent(ev); ok {
			label = gift.Label
		}
		lines = append(lines, fmt.Sprintf("Пользователь дарил: %s (%s)", label, ev.CreatedAt.Format("2006-01-02")))
	}
	return lines
}
