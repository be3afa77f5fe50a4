// Package memory extracts structured facts from dialog turns and persists
// them through the store. Extraction is strictly best-effort; a reply always
// reaches the user even when no fact can be recovered.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
)

// fallbackPattern recovers one fact category from free text when the model
// did not return a structured memory block.
type fallbackPattern struct {
	re         *regexp.Regexp
	memoryType string
	category   string
	template   string
	importance int
}

// Anchored phrase patterns for the known fact categories. Dialog is
// Russian-first, matching the deployed audience; an unmatched language simply
// yields no fallback facts.
var fallbackPatterns = []fallbackPattern{
	{
		re:         regexp.MustCompile(`(?i)(?:меня\s+зовут|моё\s+имя|мое\s+имя)\s+([А-ЯЁ][а-яё]{2,}|[A-Z][a-z]{2,})`),
		memoryType: "personal_info", category: "name",
		template: "Имя пользователя: %s", importance: 9,
	},
	{
		re:         regexp.MustCompile(`(?i)(?:мне|мой возраст|исполнилось|исполнится)\s+(\d{1,2})\s*(?:лет|год|года)?`),
		memoryType: "personal_info", category: "age",
		template: "Возраст пользователя: %s", importance: 5,
	},
	{
		re:         regexp.MustCompile(`(?i)(?:я работаю|моя работа|моя профессия|я по профессии)\s+([^.,!?\n]+)`),
		memoryType: "personal_info", category: "job",
		template: "Профессия пользователя: %s", importance: 5,
	},
	{
		re:         regexp.MustCompile(`(?i)(?:я живу в|я из|проживаю в)\s+([А-ЯЁ][а-яё]+)`),
		memoryType: "personal_info", category: "location",
		template: "Место проживания пользователя: %s", importance: 5,
	},
	{
		re:         regexp.MustCompile(`(?i)(?:я увлекаюсь|моё хобби|мое хобби|в свободное время я)\s+([^.,!?\n]+)`),
		memoryType: "personal_info", category: "hobby",
		template: "Хобби пользователя: %s", importance: 5,
	},
	{
		re:         regexp.MustCompile(`(?i)(?:свидание|встреча|встретимся|увидимся)(?:\s+\S+){0,3}\s+(завтра|сегодня|послезавтра|в\s+\S+)`),
		memoryType: "date", category: "meeting",
		template: "Запланированная встреча: %s", importance: 5,
	},
}

// Extractor writes recovered facts into the memory store.
type Extractor struct {
	store database.Store
	log   *slog.Logger
}

func NewExtractor(store database.Store, log *slog.Logger) *Extractor {
	return &Extractor{
		store: store,
		log:   log.With("component", "memory_extractor"),
	}
}

// Process stores the facts of one exchange. A structured memory block from
// the model is the source of truth; without one, anchored phrase patterns run
// over the user's turn. Failures are logged and swallowed. Returns the number
// of facts handed to the store.
func (e *Extractor) Process(ctx context.Context, characterID, userID uuid.UUID, userText string, reply *ai.Reply) int {
	items := reply.Memory
	if len(items) == 0 {
		items = FromText(userText)
	}

	stored := 0
	for _, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			continue
		}
		entry := &database.MemoryEntry{
			CharacterID: characterID,
			UserID:      userID,
			MemoryType:  item.Type,
			Category:    item.Category,
			Content:     item.Content,
			Importance:  item.Importance,
		}
		if _, err := e.store.InsertMemory(ctx, entry); err != nil {
			e.log.WarnContext(ctx, "Failed to store extracted memory",
				"character_id", characterID,
				"user_id", userID,
				"category", item.Category,
				"error", err)
			continue
		}
		stored++
	}
	return stored
}

// FromText recovers facts from free text using the anchored phrase patterns.
// At most one fact per category is returned.
func FromText(text string) []ai.MemoryItem {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var items []ai.MemoryItem
	for _, p := range fallbackPatterns {
		match := p.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value := strings.TrimSpace(match[1])
		if value == "" {
			continue
		}
		items = append(items, ai.MemoryItem{
			Type:       p.memoryType,
			Category:   p.category,
			Content:    fmt.Sprintf(p.template, value),
			Importance: p.importance,
		})
	}
	return items
}
