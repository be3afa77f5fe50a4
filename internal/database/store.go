package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Pair identifies one (character, user) conversation.
type Pair struct {
	CharacterID uuid.UUID `db:"character_id"`
	UserID      uuid.UUID `db:"user_id"`
}

// Store is the data access layer for the memory core. All methods accept a
// context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// Schema reports which optional legacy columns the observed database has.
	Schema() SchemaProfile

	// LockPair serialises writers for one (character, user) pair. The returned
	// function releases the lock. No database statement may be in flight while
	// waiting on it.
	LockPair(characterID, userID uuid.UUID) func()

	// InsertMemory stores a fact, substituting the system user when the owner
	// is unknown and deduplicating against active rows with the same
	// (character, user, content). Returns the id of the stored or existing row.
	InsertMemory(ctx context.Context, entry *MemoryEntry) (uuid.UUID, error)

	// QueryMemories returns active memories for a character ordered by
	// importance then recency. userRef may be an internal id, an external id,
	// or empty for character-wide retrieval; matching is best-effort across
	// exact, suffix, and system-user tiers.
	QueryMemories(ctx context.Context, characterID uuid.UUID, userRef string, limit int) ([]MemoryEntry, error)

	// DeactivateMemory flips is_active off; the row stays queryable by admin.
	DeactivateMemory(ctx context.Context, id uuid.UUID) error

	// DeleteMemory physically removes a memory row (admin operation).
	DeleteMemory(ctx context.Context, id uuid.UUID) error

	// MemoryCounts reports active memory counts per type for a character.
	MemoryCounts(ctx context.Context, characterID uuid.UUID) (map[string]int, error)

	// AppendHistory inserts a turn at the next position for its pair. The
	// position read and insert run under the pair lock.
	AppendHistory(ctx context.Context, row *ChatHistoryRow) error

	// FetchRecentHistory returns the last n active rows in position order.
	FetchRecentHistory(ctx context.Context, characterID, userID uuid.UUID, n int) ([]ChatHistoryRow, error)

	// OldestActiveBlock returns up to size oldest contiguous active rows.
	OldestActiveBlock(ctx context.Context, characterID, userID uuid.UUID, size int) ([]ChatHistoryRow, error)

	// ActiveHistoryCount counts active rows for a pair.
	ActiveHistoryCount(ctx context.Context, characterID, userID uuid.UUID) (int, error)

	// ReplaceBlockWithSummary atomically inserts a summary row covering block
	// and marks the originals inactive and compressed.
	ReplaceBlockWithSummary(ctx context.Context, characterID, userID uuid.UUID, block []ChatHistoryRow, summary string) (*ChatHistoryRow, error)

	// ClearHistory deletes all history rows and boundary messages for a pair,
	// returning the number of rows removed.
	ClearHistory(ctx context.Context, characterID, userID uuid.UUID) (int64, error)

	// PairsOverThreshold lists pairs whose active history exceeds threshold.
	PairsOverThreshold(ctx context.Context, threshold int) ([]Pair, error)

	// InsertMessage stores a boundary message row.
	InsertMessage(ctx context.Context, msg *Message) error

	// InsertEvent stores an event.
	InsertEvent(ctx context.Context, ev *Event) error

	// RecentGiftEvents returns the latest gift events for a pair, newest first.
	RecentGiftEvents(ctx context.Context, characterID, userID uuid.UUID, n int) ([]Event, error)

	// GetCharacter fetches a character by id.
	GetCharacter(ctx context.Context, id uuid.UUID) (*Character, error)

	// ListCharacters returns all characters ordered by name.
	ListCharacters(ctx context.Context) ([]Character, error)

	// SaveCharacter inserts or updates a character sheet.
	SaveCharacter(ctx context.Context, c *Character) error

	// UpdateCharacterEmotion updates only the mutable current_emotion field.
	UpdateCharacterEmotion(ctx context.Context, id uuid.UUID, emotion string) error

	// GetUser fetches a user by internal id.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// UserExists reports whether a user row exists for id.
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)

	// EnsureUser creates the user row if missing.
	EnsureUser(ctx context.Context, id uuid.UUID, externalID, displayName string) error

	// GetRelationship loads the relationship state for a pair, returning a
	// zero-valued state when none was stored yet.
	GetRelationship(ctx context.Context, userID, characterID uuid.UUID) (*RelationshipState, error)

	// SaveRelationship upserts the relationship state.
	SaveRelationship(ctx context.Context, state *RelationshipState) error
}

// sqlxStore implements Store on top of sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu     sync.Mutex
	schema SchemaProfile
	pairs  map[Pair]*sync.Mutex

	driftWarn sync.Once
}

// NewStore creates the Store implementation. The schema of memory_entries is
// probed once so queries can adapt to legacy column layouts.
func NewStore(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	schema, err := ProbeSchema(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to probe schema: %w", err)
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		schema: schema,
		pairs:  make(map[Pair]*sync.Mutex),
	}, nil
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) Schema() SchemaProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// reprobeSchema refreshes the cached profile after a failed query, reporting
// whether the observed columns changed since startup.
func (s *sqlxStore) reprobeSchema(ctx context.Context) (SchemaProfile, bool) {
	fresh, err := ProbeSchema(ctx, s.db)
	if err != nil {
		return s.Schema(), false
	}
	s.mu.Lock()
	changed := fresh != s.schema
	s.schema = fresh
	s.mu.Unlock()
	return fresh, changed
}

func (s *sqlxStore) LockPair(characterID, userID uuid.UUID) func() {
	key := Pair{CharacterID: characterID, UserID: userID}
	s.mu.Lock()
	m, ok := s.pairs[key]
	if !ok {
		m = &sync.Mutex{}
		s.pairs[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RunSQLMaintenance executes VACUUM. SQLite requires it to run outside a
// transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)")
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}
	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}

// warnDrift logs the schema-drift warning once per process.
func (s *sqlxStore) warnDrift(ctx context.Context, detail string) {
	s.driftWarn.Do(func() {
		s.logger.WarnContext(ctx, "Schema drift detected, using reduced query",
			"detail", detail,
			"has_type", s.schema.HasType,
			"has_memory_type", s.schema.HasMemoryType)
	})
}
