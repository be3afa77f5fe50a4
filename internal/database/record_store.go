package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

// InsertMessage stores a boundary message. The sender and recipient reference
// either a user or a character as declared by the *_type columns.
func (s *sqlxStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return apperrors.InvalidInputf("message content is empty")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO messages
            (id, sender_id, sender_type, recipient_id, recipient_type,
             content, emotion, is_gift, is_read, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		msg.ID, msg.SenderID, msg.SenderType, msg.RecipientID, msg.RecipientType,
		msg.Content, msg.Emotion, msg.IsGift, msg.IsRead, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// InsertEvent stores an event record. Data defaults to an empty JSON object.
func (s *sqlxStore) InsertEvent(ctx context.Context, ev *Event) error {
	if ev == nil || ev.EventType == "" {
		return apperrors.InvalidInputf("event type is empty")
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if len(ev.Data) == 0 {
		ev.Data = []byte("{}")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO events (id, character_id, user_id, event_type, data, created_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		ev.ID, ev.CharacterID, ev.UserID, ev.EventType, string(ev.Data), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// RecentGiftEvents returns the latest gift events for a pair, newest first.
func (s *sqlxStore) RecentGiftEvents(ctx context.Context, characterID, userID uuid.UUID, n int) ([]Event, error) {
	if n <= 0 {
		n = 10
	}
	var events []Event
	err := s.db.SelectContext(ctx, &events, `
        SELECT id, character_id, user_id, event_type, data, created_at
        FROM events
        WHERE CAST(character_id AS TEXT) = ?
          AND CAST(user_id AS TEXT) = ?
          AND event_type = 'gift_received'
        ORDER BY created_at DESC
        LIMIT ?;`,
		identity.Canonical(characterID), identity.Canonical(userID), n)
	if err != nil {
		return nil, fmt.Errorf("failed to query gift events: %w", err)
	}
	return events, nil
}
