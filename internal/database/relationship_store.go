package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

// GetRelationship loads the relationship state for a pair. A pair with no
// stored state yet gets a zero-valued state in the initial stage.
func (s *sqlxStore) GetRelationship(ctx context.Context, userID, characterID uuid.UUID) (*RelationshipState, error) {
	var state RelationshipState
	err := s.db.GetContext(ctx, &state, `
        SELECT user_id, character_id, general, friendship, romance, trust, stage, updated_at
        FROM relationship_state
        WHERE CAST(user_id AS TEXT) = ? AND CAST(character_id AS TEXT) = ?;`,
		identity.Canonical(userID), identity.Canonical(characterID))
	if errors.Is(err, sql.ErrNoRows) {
		return &RelationshipState{
			UserID:      userID,
			CharacterID: characterID,
			Stage:       "strangers",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship state: %w", err)
	}
	return &state, nil
}

// SaveRelationship upserts the relationship state for a pair.
func (s *sqlxStore) SaveRelationship(ctx context.Context, state *RelationshipState) error {
	if state == nil || state.UserID == uuid.Nil || state.CharacterID == uuid.Nil {
		return apperrors.InvalidInputf("relationship state is missing an id")
	}
	if state.Stage == "" {
		state.Stage = "strangers"
	}
	state.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO relationship_state
            (user_id, character_id, general, friendship, romance, trust, stage, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, character_id) DO UPDATE SET
            general = excluded.general,
            friendship = excluded.friendship,
            romance = excluded.romance,
            trust = excluded.trust,
            stage = excluded.stage,
            updated_at = excluded.updated_at;`,
		state.UserID, state.CharacterID, state.General, state.Friendship,
		state.Romance, state.Trust, state.Stage, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save relationship state: %w", err)
	}
	return nil
}
