package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

// AppendHistory assigns the next position for the pair and inserts the row.
// Position assignment is serialized per pair, so concurrent appends never
// collide on the unique (character_id, user_id, position) index.
func (s *sqlxStore) AppendHistory(ctx context.Context, row *ChatHistoryRow) error {
	if row == nil || strings.TrimSpace(row.Content) == "" {
		return apperrors.InvalidInputf("history content is empty")
	}
	if row.Role != "user" && row.Role != "assistant" && row.Role != "system" {
		return apperrors.InvalidInputf("unknown history role %q", row.Role)
	}

	unlock := s.LockPair(row.CharacterID, row.UserID)
	defer unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		next, err := nextPosition(ctx, tx, row.CharacterID, row.UserID)
		if err != nil {
			return err
		}

		row.ID = uuid.New()
		row.Position = next
		row.IsActive = true
		row.Compressed = false
		row.CreatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, `
            INSERT INTO chat_history
                (id, character_id, user_id, role, content, message_metadata,
                 position, is_active, compressed, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, FALSE, ?);`,
			row.ID, row.CharacterID, row.UserID, row.Role, row.Content,
			row.Metadata, row.Position, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	})
}

// FetchRecentHistory returns the newest `window` active rows for the pair in
// ascending position order. Summary rows produced by compression are active
// and therefore included.
func (s *sqlxStore) FetchRecentHistory(ctx context.Context, characterID, userID uuid.UUID, n int) ([]ChatHistoryRow, error) {
	if n <= 0 {
		n = 10
	}

	var rows []ChatHistoryRow
	err := s.db.SelectContext(ctx, &rows, `
        SELECT id, character_id, user_id, role, content, message_metadata,
               position, COALESCE(is_active, TRUE) AS is_active,
               COALESCE(compressed, FALSE) AS compressed, created_at
        FROM chat_history
        WHERE CAST(character_id AS TEXT) = ?
          AND CAST(user_id AS TEXT) = ?
          AND `+activeFilter+`
        ORDER BY position DESC
        LIMIT ?;`,
		identity.Canonical(characterID), identity.Canonical(userID), n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// OldestActiveBlock returns up to blockSize of the oldest active rows for the
// pair in ascending position order. The compression engine replaces exactly
// this block with a summary row.
func (s *sqlxStore) OldestActiveBlock(ctx context.Context, characterID, userID uuid.UUID, size int) ([]ChatHistoryRow, error) {
	var rows []ChatHistoryRow
	err := s.db.SelectContext(ctx, &rows, `
        SELECT id, character_id, user_id, role, content, message_metadata,
               position, COALESCE(is_active, TRUE) AS is_active,
               COALESCE(compressed, FALSE) AS compressed, created_at
        FROM chat_history
        WHERE CAST(character_id AS TEXT) = ?
          AND CAST(user_id AS TEXT) = ?
          AND `+activeFilter+`
        ORDER BY position ASC
        LIMIT ?;`,
		identity.Canonical(characterID), identity.Canonical(userID), size)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch oldest history block: %w", err)
	}
	return rows, nil
}

// ActiveHistoryCount reports how many active rows the pair has.
func (s *sqlxStore) ActiveHistoryCount(ctx context.Context, characterID, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
        SELECT COUNT(*) FROM chat_history
        WHERE CAST(character_id AS TEXT) = ?
          AND CAST(user_id AS TEXT) = ?
          AND `+activeFilter+`;`,
		identity.Canonical(characterID), identity.Canonical(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// ReplaceBlockWithSummary atomically replaces a block of history rows with a
// single summary row. The summary takes the next free position and carries the
// covered position range in its metadata; the originals are deactivated and
// marked compressed in the same transaction, so a crash never loses the block
// without its summary.
//
// The caller is expected to hold the pair lock around the select-then-replace
// sequence.
func (s *sqlxStore) ReplaceBlockWithSummary(ctx context.Context, characterID, userID uuid.UUID, block []ChatHistoryRow, summaryContent string) (*ChatHistoryRow, error) {
	if len(block) == 0 {
		return nil, apperrors.InvalidInputf("empty history block")
	}
	if strings.TrimSpace(summaryContent) == "" {
		return nil, apperrors.InvalidInputf("empty summary content")
	}

	lo, hi := block[0].Position, block[0].Position
	ids := make([]uuid.UUID, 0, len(block))
	for _, row := range block {
		if row.Position < lo {
			lo = row.Position
		}
		if row.Position > hi {
			hi = row.Position
		}
		ids = append(ids, row.ID)
	}

	meta, err := json.Marshal(SummaryMetadata{Summary: true, Covers: [2]int64{lo, hi}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary metadata: %w", err)
	}

	summary := &ChatHistoryRow{
		ID:          uuid.New(),
		CharacterID: characterID,
		UserID:      userID,
		Role:        "system",
		Content:     summaryContent,
		Metadata:    sql.NullString{String: string(meta), Valid: true},
		IsActive:    true,
		Compressed:  false,
		CreatedAt:   time.Now().UTC(),
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		next, err := nextPosition(ctx, tx, characterID, userID)
		if err != nil {
			return err
		}
		summary.Position = next

		_, err = tx.ExecContext(ctx, `
            INSERT INTO chat_history
                (id, character_id, user_id, role, content, message_metadata,
                 position, is_active, compressed, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, FALSE, ?);`,
			summary.ID, summary.CharacterID, summary.UserID, summary.Role,
			summary.Content, summary.Metadata, summary.Position, summary.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert summary row: %w", err)
		}

		query, args, err := sqlx.In(`
            UPDATE chat_history
            SET is_active = FALSE, compressed = TRUE
            WHERE id IN (?);`, ids)
		if err != nil {
			return fmt.Errorf("failed to build block update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to deactivate compressed block: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "History block compressed",
		"character_id", characterID,
		"user_id", userID,
		"covers_from", lo,
		"covers_to", hi,
		"summary_position", summary.Position)
	return summary, nil
}

// ClearHistory removes every history row and boundary message for the pair.
// Position numbering restarts at 1 afterwards.
func (s *sqlxStore) ClearHistory(ctx context.Context, characterID, userID uuid.UUID) (int64, error) {
	unlock := s.LockPair(characterID, userID)
	defer unlock()

	charText, userText := identity.Canonical(characterID), identity.Canonical(userID)

	var removed int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            DELETE FROM chat_history
            WHERE CAST(character_id AS TEXT) = ?
              AND CAST(user_id AS TEXT) = ?;`, charText, userText)
		if err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count cleared history: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
            DELETE FROM messages
            WHERE (CAST(sender_id AS TEXT) = ? AND CAST(recipient_id AS TEXT) = ?)
               OR (CAST(sender_id AS TEXT) = ? AND CAST(recipient_id AS TEXT) = ?);`,
			charText, userText, userText, charText)
		if err != nil {
			return fmt.Errorf("failed to clear messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "Chat history cleared",
		"character_id", characterID, "user_id", userID, "removed", removed)
	return removed, nil
}

// PairsOverThreshold lists pairs whose active row count reached the given
// threshold, for the background compression sweep.
func (s *sqlxStore) PairsOverThreshold(ctx context.Context, threshold int) ([]Pair, error) {
	var pairs []Pair
	err := s.db.SelectContext(ctx, &pairs, `
        SELECT character_id, user_id
        FROM chat_history
        WHERE `+activeFilter+`
        GROUP BY character_id, user_id
        HAVING COUNT(*) >= ?;`, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to list pairs over threshold: %w", err)
	}
	return pairs, nil
}

func nextPosition(ctx context.Context, tx *sqlx.Tx, characterID, userID uuid.UUID) (int64, error) {
	var max sql.NullInt64
	err := tx.GetContext(ctx, &max, `
        SELECT MAX(position) FROM chat_history
        WHERE CAST(character_id AS TEXT) = ?
          AND CAST(user_id AS TEXT) = ?;`,
		identity.Canonical(characterID), identity.Canonical(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to read max position: %w", err)
	}
	return max.Int64 + 1, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *sqlxStore) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
