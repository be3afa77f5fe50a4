package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

const characterColumns = `id, name, age, gender, personality_traits, interests,
       background, current_emotion, created_at, updated_at`

// GetCharacter fetches a character sheet by id.
func (s *sqlxStore) GetCharacter(ctx context.Context, id uuid.UUID) (*Character, error) {
	var row characterRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+characterColumns+` FROM characters WHERE CAST(id AS TEXT) = ?;`,
		identity.Canonical(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("character %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character %s: %w", id, err)
	}
	c := row.toCharacter()
	return &c, nil
}

// ListCharacters returns every character ordered by name.
func (s *sqlxStore) ListCharacters(ctx context.Context) ([]Character, error) {
	var rows []characterRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+characterColumns+` FROM characters ORDER BY name ASC;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	out := make([]Character, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCharacter())
	}
	return out, nil
}

// SaveCharacter inserts or fully replaces a character sheet. An empty id gets
// a fresh one.
func (s *sqlxStore) SaveCharacter(ctx context.Context, c *Character) error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return apperrors.InvalidInputf("character name is empty")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CurrentEmotion == "" {
		c.CurrentEmotion = "neutral"
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	traits, err := json.Marshal(nonNil(c.Traits))
	if err != nil {
		return fmt.Errorf("failed to encode traits: %w", err)
	}
	interests, err := json.Marshal(nonNil(c.Interests))
	if err != nil {
		return fmt.Errorf("failed to encode interests: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO characters
            (id, name, age, gender, personality_traits, interests,
             background, current_emotion, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            age = excluded.age,
            gender = excluded.gender,
            personality_traits = excluded.personality_traits,
            interests = excluded.interests,
            background = excluded.background,
            current_emotion = excluded.current_emotion,
            updated_at = excluded.updated_at;`,
		c.ID, c.Name, c.Age, c.Gender, string(traits), string(interests),
		c.Background, c.CurrentEmotion, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save character %s: %w", c.ID, err)
	}
	return nil
}

// UpdateCharacterEmotion changes only the mutable emotion field.
func (s *sqlxStore) UpdateCharacterEmotion(ctx context.Context, id uuid.UUID, emotion string) error {
	if strings.TrimSpace(emotion) == "" {
		return apperrors.InvalidInputf("emotion is empty")
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE characters
        SET current_emotion = ?, updated_at = ?
        WHERE CAST(id AS TEXT) = ?;`,
		emotion, time.Now().UTC(), identity.Canonical(id))
	if err != nil {
		return fmt.Errorf("failed to update character emotion: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return apperrors.NotFoundf("character %s", id)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
