package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

// giftRetryInstruction is appended on the single retry when the first
// reaction came back empty or templated.
const giftRetryInstruction = "Пользователь только что подарил тебе подарок. Отреагируй развёрнуто и эмоционально, минимум одним полным предложением."

// giftEventData is the payload stored with a gift_received event.
type giftEventData struct {
	Gift   string `json:"gift"`
	Label  string `json:"label"`
	Effect int    `json:"effect"`
}

// SendGift delivers a catalog gift to the character and returns the
// reaction. A reaction shorter than the configured cutoff triggers exactly
// one retry with a more explicit instruction; the second answer is accepted
// as is. The gift is recorded as an event, a memory, history rows, and a
// relationship nudge.
func (s *Services) SendGift(ctx context.Context, characterID uuid.UUID, userRef, giftID string) (*TurnResult, error) {
	gift, ok := GiftByID(giftID)
	if !ok {
		return nil, apperrors.InvalidInputf("unknown gift %q", giftID)
	}

	character, err := s.characters.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	userID := identity.InternalID(userRef)
	if err := s.store.EnsureUser(ctx, userID, userRef, ""); err != nil {
		return nil, err
	}

	current := ai.Turn{
		Role:    "user",
		Content: fmt.Sprintf("current_interaction: пользователь отправил подарок — %s.", gift.Label),
	}

	reply, err := s.generate(ctx, character, userID, userRef, current, "")
	if err != nil {
		return nil, err
	}
	if tooShort(reply.Text, s.chatCfg.ShortReplyCutoff) {
		s.log.InfoContext(ctx, "Gift reaction too short, retrying once",
			"character_id", characterID, "gift", gift.ID, "length", utf8.RuneCountInString(reply.Text))
		retry, err := s.generate(ctx, character, userID, userRef, current, giftRetryInstruction)
		if err != nil {
			return nil, err
		}
		reply = retry
	}

	if err := s.recordExchange(ctx, character, userID, current.Content, reply.Text, reply.Emotion, true); err != nil {
		return nil, err
	}

	data, _ := json.Marshal(giftEventData{Gift: gift.ID, Label: gift.Label, Effect: gift.Effect})
	if err := s.store.InsertEvent(ctx, &database.Event{
		CharacterID: characterID,
		UserID:      uuid.NullUUID{UUID: userID, Valid: true},
		EventType:   "gift_received",
		Data:        data,
	}); err != nil {
		return nil, err
	}

	if _, err := s.store.InsertMemory(ctx, &database.MemoryEntry{
		CharacterID: characterID,
		UserID:      userID,
		MemoryType:  "gift",
		Category:    "general",
		Content:     fmt.Sprintf("Пользователь подарил: %s", gift.Label),
		Importance:  6,
	}); err != nil {
		s.log.WarnContext(ctx, "Failed to store gift memory", "error", err)
	}

	result := s.finishTurn(ctx, character, userID, reply, true)
	state, delta, err := s.tracker.ApplyGift(ctx, userID, characterID, gift.Effect)
	if err != nil {
		s.log.WarnContext(ctx, "Gift relationship update failed", "error", err)
	} else {
		result.Relationship = delta
		result.Stage = state.Stage
	}
	return result, nil
}

func tooShort(text string, cutoff int) bool {
	return utf8.RuneCountInString(text) < cutoff
}

func giftFromEvent(ev database.Event) (Gift, bool) {
	var data giftEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return Gift{}, false
	}
	return GiftByID(data.Gift)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
