// Package prompt assembles the ordered envelope sent to the LLM oracle:
// character sheet, relationship summary, recalled memories, recent gift
// events, recent history, the current turn, and the response-format
// instruction. Block order is fixed; only designated blocks may be truncated
// to fit the context budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
)

// bytesPerToken approximates the context budget in bytes. Cyrillic dialog
// runs at roughly four bytes per token, which keeps the estimate
// conservative for mixed content.
const bytesPerToken = 4

// formatInstruction pins the response shape the reply parser expects.
const formatInstruction = `Отвечай строго в формате JSON:
{"text": "твоя реплика", "emotion": "эмоция", "relationship_changes": {"general": 0.0, "friendship": 0.0, "romance": 0.0, "trust": 0.0}, "memory": [{"type": "...", "category": "...", "content": "...", "importance": 1}]}
Поле "memory" заполняй только новыми фактами о пользователе.`

// Input carries everything one envelope is assembled from. Memories arrive
// sorted by importance then recency; history arrives in chronological order;
// gift events arrive newest first.
type Input struct {
	Character    *database.Character
	Relationship *database.RelationshipState
	Memories     []database.MemoryEntry
	GiftEvents   []string
	History      []database.ChatHistoryRow
	Current      ai.Turn
	// Extra is an optional additional instruction, used by the gift retry
	// path to demand a substantive reaction.
	Extra string
}

// Build assembles the envelope within a budget of maxContextTokens. The
// character sheet, relationship summary, current turn, and format instruction
// are never truncated; when they alone exceed the budget the envelope cannot
// be built.
func Build(in Input, maxContextTokens int) (system string, turns []ai.Turn, err error) {
	budget := maxContextTokens * bytesPerToken

	preamble := renderCharacter(in.Character)
	relationship := renderRelationship(in.Relationship)

	fixed := len(preamble) + len(relationship) + len(in.Current.Content) + len(formatInstruction) + len(in.Extra)
	if fixed > budget {
		return "", nil, fmt.Errorf("%w: fixed blocks need %d bytes, budget is %d",
			apperrors.ErrContextOverflow, fixed, budget)
	}

	memories := renderMemories(in.Memories)
	gifts := append([]string(nil), in.GiftEvents...)
	history := append([]database.ChatHistoryRow(nil), in.History...)

	// Shed truncatable content in priority order until the envelope fits:
	// oldest history first, then oldest gift lines, then the least important
	// memories (the tail of the importance-sorted list).
	for fixed+envelopeSize(memories, gifts, history) > budget {
		switch {
		case len(history) > 0:
			history = history[1:]
		case len(gifts) > 0:
			gifts = gifts[:len(gifts)-1]
		case len(memories) > 0:
			memories = memories[:len(memories)-1]
		default:
			// Unreachable: with every truncatable block empty the size
			// equals fixed, which is within budget.
			return "", nil, apperrors.ErrContextOverflow
		}
	}

	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n\n")
	sb.WriteString(relationship)
	if len(memories) > 0 {
		sb.WriteString("\n\nПамять о пользователе:\n")
		sb.WriteString(strings.Join(memories, "\n"))
	}
	if len(gifts) > 0 {
		sb.WriteString("\n\nНедавние подарки:\n")
		sb.WriteString(strings.Join(gifts, "\n"))
	}
	sb.WriteString("\n\n")
	sb.WriteString(formatInstruction)
	if in.Extra != "" {
		sb.WriteString("\n")
		sb.WriteString(in.Extra)
	}

	turns = make([]ai.Turn, 0, len(history)+1)
	for _, row := range history {
		turns = append(turns, ai.Turn{Role: row.Role, Content: row.Content})
	}
	turns = append(turns, in.Current)

	return sb.String(), turns, nil
}

func envelopeSize(memories, gifts []string, history []database.ChatHistoryRow) int {
	size := 0
	for _, m := range memories {
		size += len(m) + 1
	}
	for _, g := range gifts {
		size += len(g) + 1
	}
	for _, row := range history {
		size += len(row.Content) + len(row.Role) + 2
	}
	return size
}

func renderCharacter(c *database.Character) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ты — %s", c.Name)
	if c.Age > 0 {
		fmt.Fprintf(&sb, ", %d лет", c.Age)
	}
	if c.Gender != "" {
		fmt.Fprintf(&sb, " (%s)", c.Gender)
	}
	sb.WriteString(".")
	if len(c.Traits) > 0 {
		fmt.Fprintf(&sb, "\nЧерты характера: %s.", strings.Join(c.Traits, ", "))
	}
	if len(c.Interests) > 0 {
		fmt.Fprintf(&sb, "\nИнтересы: %s.", strings.Join(c.Interests, ", "))
	}
	if c.Background != "" {
		fmt.Fprintf(&sb, "\nИстория: %s", c.Background)
	}
	if c.CurrentEmotion != "" {
		fmt.Fprintf(&sb, "\nТекущая эмоция: %s.", c.CurrentEmotion)
	}
	return sb.String()
}

func renderRelationship(r *database.RelationshipState) string {
	return fmt.Sprintf(
		"Отношения с пользователем: стадия %q. Привязанности: general %.2f, friendship %.2f, romance %.2f, trust %.2f.",
		r.Stage, r.General, r.Friendship, r.Romance, r.Trust)
}

func renderMemories(entries []database.MemoryEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, m := range entries {
		lines = append(lines, fmt.Sprintf("[%s/%s, %d] %s", m.MemoryType, m.Category, m.Importance, m.Content))
	}
	return lines
}
