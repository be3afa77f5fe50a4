package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

const (
	defaultMemoryType     = "unknown"
	defaultMemoryCategory = "general"
	defaultImportance     = 5
)

// activeFilter tolerates legacy rows where is_active was never backfilled.
const activeFilter = "(is_active IS NULL OR is_active = TRUE)"

// InsertMemory stores a fact for a (character, user) pair.
//
// A missing or unknown user is replaced by the system user so the row stays
// attributable. Duplicate active rows with the same (character, user, content)
// are not created; the existing row id is returned instead. Every present
// type-bearing column (legacy "type", current "memory_type") is populated.
func (s *sqlxStore) InsertMemory(ctx context.Context, entry *MemoryEntry) (uuid.UUID, error) {
	if entry == nil || strings.TrimSpace(entry.Content) == "" {
		return uuid.Nil, apperrors.InvalidInputf("memory content is empty")
	}

	if entry.MemoryType == "" {
		entry.MemoryType = defaultMemoryType
	}
	if entry.Category == "" {
		entry.Category = defaultMemoryCategory
	}
	if entry.Importance < 1 || entry.Importance > 10 {
		entry.Importance = defaultImportance
	}

	if entry.UserID == uuid.Nil {
		entry.UserID = identity.SystemUserID
	} else if entry.UserID != identity.SystemUserID {
		exists, err := s.UserExists(ctx, entry.UserID)
		if err != nil {
			return uuid.Nil, err
		}
		if !exists {
			s.logger.DebugContext(ctx, "Memory owner unknown, assigning to system user",
				"user_id", entry.UserID, "character_id", entry.CharacterID)
			entry.UserID = identity.SystemUserID
		}
	}

	// Dedup against active rows first; the partial unique index on
	// (character_id, user_id, content) backs this up for concurrent writers.
	existingID, found, err := s.activeMemoryID(ctx, entry.CharacterID, entry.UserID, entry.Content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to check duplicate memory: %w", err)
	}
	if found {
		s.logger.DebugContext(ctx, "Duplicate memory skipped",
			"memory_id", existingID, "character_id", entry.CharacterID)
		return existingID, nil
	}

	now := time.Now().UTC()
	entry.ID = uuid.New()
	entry.IsActive = true
	entry.CreatedAt = now
	entry.UpdatedAt = now

	profile := s.Schema()
	columns := []string{"id", "character_id", "user_id", "content", "importance", "is_active", "created_at", "updated_at"}
	values := []any{entry.ID, entry.CharacterID, entry.UserID, entry.Content, entry.Importance, true, now, now}
	for _, col := range profile.typeColumns() {
		columns = append(columns, col)
		values = append(values, entry.MemoryType)
	}
	if profile.HasCategory {
		columns = append(columns, "category")
		values = append(values, entry.Category)
	}

	query := fmt.Sprintf("INSERT INTO memory_entries (%s) VALUES (%s);",
		strings.Join(columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race to a concurrent writer of the same fact.
			existingID, found, lookupErr := s.activeMemoryID(ctx, entry.CharacterID, entry.UserID, entry.Content)
			if lookupErr == nil && found {
				s.logger.DebugContext(ctx, "Duplicate memory skipped",
					"memory_id", existingID, "character_id", entry.CharacterID)
				return existingID, nil
			}
		}
		return uuid.Nil, fmt.Errorf("failed to insert memory: %w", err)
	}

	s.logger.InfoContext(ctx, "Memory stored",
		"memory_id", entry.ID,
		"character_id", entry.CharacterID,
		"user_id", entry.UserID,
		"memory_type", entry.MemoryType,
		"category", entry.Category,
		"importance", entry.Importance)
	return entry.ID, nil
}

// activeMemoryID finds the active row with the given content for a pair.
func (s *sqlxStore) activeMemoryID(ctx context.Context, characterID, userID uuid.UUID, content string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.GetContext(ctx, &id, `
        SELECT id FROM memory_entries
        WHERE CAST(character_id AS TEXT) = ?
          AND CAST(user_id AS TEXT) = ?
          AND content = ?
          AND `+activeFilter+`
        LIMIT 1;`,
		identity.Canonical(characterID), identity.Canonical(userID), content)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// isUniqueViolation reports whether err is a UNIQUE index violation. The
// driver exposes no typed error for it, so the message is matched.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// QueryMemories returns active memories ordered by importance then recency.
//
// When userRef is set, rows are gathered best-effort across four tiers until
// limit is reached: exact user match, suffix match, system-user rows, and
// finally character-wide rows. A failing query triggers one schema re-probe
// and a reduced retry instead of an error.
func (s *sqlxStore) QueryMemories(ctx context.Context, characterID uuid.UUID, userRef string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.queryMemoryTiers(ctx, s.Schema(), characterID, userRef, limit)
	if err == nil {
		return rows, nil
	}

	// Columns may have been dropped at runtime. Re-probe and retry once with
	// the fresh profile; the reduced result is preferred over failing.
	fresh, changed := s.reprobeSchema(ctx)
	if !changed {
		return nil, err
	}
	s.warnDrift(ctx, err.Error())
	rows, retryErr := s.queryMemoryTiers(ctx, fresh, characterID, userRef, limit)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: fallback memory query failed: %v", apperrors.ErrSchemaDrift, retryErr)
	}
	return rows, nil
}

func (s *sqlxStore) queryMemoryTiers(ctx context.Context, profile SchemaProfile, characterID uuid.UUID, userRef string, limit int) ([]MemoryEntry, error) {
	base := fmt.Sprintf(`
        SELECT id, character_id, user_id,
               %s AS memory_type,
               %s AS category,
               content,
               COALESCE(importance, %d) AS importance,
               COALESCE(is_active, TRUE) AS is_active,
               created_at, updated_at
        FROM memory_entries
        WHERE CAST(character_id AS TEXT) = ?
          AND `+activeFilter,
		profile.memoryTypeExpr(), profile.categoryExpr(), defaultImportance)
	order := " ORDER BY importance DESC, created_at DESC LIMIT ?;"

	charText := identity.Canonical(characterID)

	if userRef == "" {
		var rows []MemoryEntry
		if err := s.db.SelectContext(ctx, &rows, base+order, charText, limit); err != nil {
			return nil, fmt.Errorf("failed to query memories: %w", err)
		}
		return rows, nil
	}

	text, internal, suffix := identity.Candidates(userRef)
	tiers := []struct {
		clause string
		args   []any
	}{
		{" AND (CAST(user_id AS TEXT) = ? OR CAST(user_id AS TEXT) = ?)", []any{text, internal}},
		{" AND CAST(user_id AS TEXT) LIKE ?", []any{"%" + suffix}},
		{" AND CAST(user_id AS TEXT) = ?", []any{identity.Canonical(identity.SystemUserID)}},
		{"", nil},
	}

	seen := make(map[uuid.UUID]struct{})
	var merged []MemoryEntry
	for _, tier := range tiers {
		if len(merged) >= limit {
			break
		}
		args := append([]any{charText}, tier.args...)
		args = append(args, limit)

		var rows []MemoryEntry
		if err := s.db.SelectContext(ctx, &rows, base+tier.clause+order, args...); err != nil {
			return nil, fmt.Errorf("failed to query memories: %w", err)
		}
		for _, row := range rows {
			if _, ok := seen[row.ID]; ok {
				continue
			}
			seen[row.ID] = struct{}{}
			merged = append(merged, row)
			if len(merged) >= limit {
				break
			}
		}
	}
	return merged, nil
}

// DeactivateMemory soft-deletes a memory; physical deletion is a separate
// admin operation.
func (s *sqlxStore) DeactivateMemory(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE memory_entries
        SET is_active = FALSE, updated_at = ?
        WHERE CAST(id AS TEXT) = ?;`,
		time.Now().UTC(), identity.Canonical(id))
	if err != nil {
		return fmt.Errorf("failed to deactivate memory %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return apperrors.NotFoundf("memory %s", id)
	}
	return nil
}

// DeleteMemory removes a memory row permanently.
func (s *sqlxStore) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE CAST(id AS TEXT) = ?;`, identity.Canonical(id))
	if err != nil {
		return fmt.Errorf("failed to delete memory %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return apperrors.NotFoundf("memory %s", id)
	}
	return nil
}

// MemoryCounts reports active memory counts grouped by coalesced type.
func (s *sqlxStore) MemoryCounts(ctx context.Context, characterID uuid.UUID) (map[string]int, error) {
	profile := s.Schema()
	query := fmt.Sprintf(`
        SELECT %s AS memory_type, COUNT(*) AS count
        FROM memory_entries
        WHERE CAST(character_id AS TEXT) = ?
          AND `+activeFilter+`
        GROUP BY memory_type;`, profile.memoryTypeExpr())

	var rows []struct {
		MemoryType string `db:"memory_type"`
		Count      int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, identity.Canonical(characterID)); err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.MemoryType] = row.Count
	}
	return counts, nil
}
