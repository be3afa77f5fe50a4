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

// GetUser fetches a user row by internal id.
func (s *sqlxStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, `
        SELECT id, external_id, display_name, created_at
        FROM users WHERE CAST(id AS TEXT) = ?;`, identity.Canonical(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &user, nil
}

// UserExists reports whether a user row exists for id.
func (s *sqlxStore) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
        SELECT EXISTS (SELECT 1 FROM users WHERE CAST(id AS TEXT) = ?);`,
		identity.Canonical(id))
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", id, err)
	}
	return exists, nil
}

// EnsureUser creates the user row if missing; an existing row keeps its
// stored fields except for a newly supplied display name.
func (s *sqlxStore) EnsureUser(ctx context.Context, id uuid.UUID, externalID, displayName string) error {
	if id == uuid.Nil {
		return apperrors.InvalidInputf("user id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users (id, external_id, display_name, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            display_name = COALESCE(NULLIF(excluded.display_name, ''), users.display_name);`,
		id, nullString(externalID), nullString(displayName), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", id, err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
