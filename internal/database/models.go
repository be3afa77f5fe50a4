package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is a single typed fact a character knows about a user.
// memory_type and category are never empty on read; legacy rows that carry
// only the historical "type" column are coalesced at the query layer.
type MemoryEntry struct {
	ID          uuid.UUID `db:"id"`
	CharacterID uuid.UUID `db:"character_id"`
	UserID      uuid.UUID `db:"user_id"`
	MemoryType  string    `db:"memory_type"`
	Category    string    `db:"category"`
	Content     string    `db:"content"`
	Importance  int       `db:"importance"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// ChatHistoryRow is one turn in a per-(character,user) conversation log.
// Position is strictly increasing per pair. Summary rows produced by
// compression share the schema and mark themselves in Metadata.
type ChatHistoryRow struct {
	ID          uuid.UUID      `db:"id"`
	CharacterID uuid.UUID      `db:"character_id"`
	UserID      uuid.UUID      `db:"user_id"`
	Role        string         `db:"role"`
	Content     string         `db:"content"`
	Metadata    sql.NullString `db:"message_metadata"`
	Position    int64          `db:"position"`
	IsActive    bool           `db:"is_active"`
	Compressed  bool           `db:"compressed"`
	CreatedAt   time.Time      `db:"created_at"`
}

// SummaryMetadata is the metadata payload of a compression summary row.
type SummaryMetadata struct {
	Summary bool     `json:"summary"`
	Covers  [2]int64 `json:"covers"`
}

// SummaryMeta decodes the row metadata as compression summary metadata.
// Returns false for plain turns.
func (r *ChatHistoryRow) SummaryMeta() (SummaryMetadata, bool) {
	if !r.Metadata.Valid {
		return SummaryMetadata{}, false
	}
	var meta SummaryMetadata
	if err := json.Unmarshal([]byte(r.Metadata.String), &meta); err != nil || !meta.Summary {
		return SummaryMetadata{}, false
	}
	return meta, true
}

// Message is the boundary projection of a conversation turn exposed to
// external collaborators.
type Message struct {
	ID            uuid.UUID      `db:"id"`
	SenderID      uuid.UUID      `db:"sender_id"`
	SenderType    string         `db:"sender_type"`
	RecipientID   uuid.UUID      `db:"recipient_id"`
	RecipientType string         `db:"recipient_type"`
	Content       string         `db:"content"`
	Emotion       sql.NullString `db:"emotion"`
	IsGift        bool           `db:"is_gift"`
	IsRead        bool           `db:"is_read"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Event is a self-describing record attached to a character and optionally a
// user, such as a received gift or a relationship milestone. Data holds a
// JSON payload; it is a plain byte slice because database/sql only scans
// text columns into exactly *[]byte, not named byte-slice types.
type Event struct {
	ID          uuid.UUID     `db:"id"`
	CharacterID uuid.UUID     `db:"character_id"`
	UserID      uuid.NullUUID `db:"user_id"`
	EventType   string        `db:"event_type"`
	Data        []byte        `db:"data"`
	CreatedAt   time.Time     `db:"created_at"`
}

// Character is a persistent AI persona. Traits and interests are ordered
// sequences of short strings; CurrentEmotion is the only field mutated
// outside admin operations.
type Character struct {
	ID             uuid.UUID
	Name           string
	Age            int
	Gender         string
	Traits         []string
	Interests      []string
	Background     string
	CurrentEmotion string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// characterRow is the table shape of Character; traits and interests are
// stored as JSON arrays.
type characterRow struct {
	ID             uuid.UUID `db:"id"`
	Name           string    `db:"name"`
	Age            int       `db:"age"`
	Gender         string    `db:"gender"`
	Traits         string    `db:"personality_traits"`
	Interests      string    `db:"interests"`
	Background     string    `db:"background"`
	CurrentEmotion string    `db:"current_emotion"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row characterRow) toCharacter() Character {
	c := Character{
		ID:             row.ID,
		Name:           row.Name,
		Age:            row.Age,
		Gender:         row.Gender,
		Background:     row.Background,
		CurrentEmotion: row.CurrentEmotion,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Traits), &c.Traits); err != nil {
		c.Traits = nil
	}
	if err := json.Unmarshal([]byte(row.Interests), &c.Interests); err != nil {
		c.Interests = nil
	}
	return c
}

// User is a platform account. ExternalID is the stable identifier from the
// originating platform; the reserved system user owns orphaned records.
type User struct {
	ID          uuid.UUID      `db:"id"`
	ExternalID  sql.NullString `db:"external_id"`
	DisplayName sql.NullString `db:"display_name"`
	CreatedAt   time.Time      `db:"created_at"`
}

// RelationshipState carries the four bounded affinities and the derived
// coarse stage for a (user, character) pair.
type RelationshipState struct {
	UserID      uuid.UUID `db:"user_id"`
	CharacterID uuid.UUID `db:"character_id"`
	General     float64   `db:"general"`
	Friendship  float64   `db:"friendship"`
	Romance     float64   `db:"romance"`
	Trust       float64   `db:"trust"`
	Stage       string    `db:"stage"`
	UpdatedAt   time.Time `db:"updated_at"`
}
