package prompt_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
	"github.com/baltabekpro/aisimulator-sub001/internal/prompt"
)

func testCharacter() *database.Character {
	return &database.Character{
		ID:             uuid.New(),
		Name:           "Алиса",
		Age:            25,
		Gender:         "женский",
		Traits:         []string{"заботливая", "ироничная"},
		Interests:      []string{"кино", "музыка"},
		Background:     "Выросла в большом городе.",
		CurrentEmotion: "happy",
	}
}

func testInput() prompt.Input {
	return prompt.Input{
		Character:    testCharacter(),
		Relationship: &database.RelationshipState{Stage: "friends", General: 0.65},
		Memories: []database.MemoryEntry{
			{MemoryType: "personal_info", Category: "name", Content: "Имя пользователя: Аня", Importance: 9},
			{MemoryType: "personal_info", Category: "hobby", Content: "Хобби пользователя: бег", Importance: 5},
		},
		GiftEvents: []string{"Пользователь дарил: цветок (2026-08-01)"},
		History: []database.ChatHistoryRow{
			{Role: "user", Content: "привет"},
			{Role: "assistant", Content: "привет!"},
		},
		Current: ai.Turn{Role: "user", Content: "как дела?"},
	}
}

func TestBuildEnvelopeShape(t *testing.T) {
	t.Parallel()

	system, turns, err := prompt.Build(testInput(), 16000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	for _, want := range []string{
		"Алиса",
		"Черты характера: заботливая, ироничная.",
		"стадия \"friends\"",
		"[personal_info/name, 9] Имя пользователя: Аня",
		"Пользователь дарил: цветок",
		"в формате JSON",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q:\n%s", want, system)
		}
	}

	// Character sheet precedes relationship, memories, gifts, instruction.
	order := []string{"Ты — Алиса", "Отношения с пользователем", "Память о пользователе", "Недавние подарки", "в формате JSON"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(system, marker)
		if idx <= last {
			t.Fatalf("block %q out of order in system prompt", marker)
		}
		last = idx
	}

	if len(turns) != 3 {
		t.Fatalf("expected 2 history turns plus current, got %d", len(turns))
	}
	if turns[2].Content != "как дела?" {
		t.Errorf("current turn must come last, got %q", turns[2].Content)
	}
}

func TestBuildTruncationPriority(t *testing.T) {
	t.Parallel()

	in := testInput()
	// History carries one oversized turn; it must be the first thing dropped.
	in.History = []database.ChatHistoryRow{
		{Role: "user", Content: strings.Repeat("х", 4000)},
		{Role: "assistant", Content: "короткий ответ"},
	}

	system, turns, err := prompt.Build(in, 1000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	for _, turn := range turns[:len(turns)-1] {
		if len(turn.Content) >= 4000 {
			t.Fatal("oversized history turn should have been dropped first")
		}
	}
	// Memories are dropped last; the top memory should survive.
	if !strings.Contains(system, "Имя пользователя: Аня") {
		t.Error("most important memory should survive truncation")
	}
	if turns[len(turns)-1].Content != "как дела?" {
		t.Error("current turn must never be truncated")
	}
}

func TestBuildDropsLeastImportantMemoryFirst(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.History = nil
	in.GiftEvents = nil
	in.Memories = []database.MemoryEntry{
		{MemoryType: "personal_info", Category: "name", Content: "Имя пользователя: Аня", Importance: 9},
		{MemoryType: "personal_info", Category: "hobby", Content: strings.Repeat("б", 3000), Importance: 2},
	}

	system, _, err := prompt.Build(in, 1000)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !strings.Contains(system, "Имя пользователя: Аня") {
		t.Error("important memory dropped before the unimportant one")
	}
	if strings.Contains(system, strings.Repeat("б", 3000)) {
		t.Error("oversized low-importance memory should have been dropped")
	}
}

func TestBuildContextOverflow(t *testing.T) {
	t.Parallel()

	in := testInput()
	in.Current = ai.Turn{Role: "user", Content: strings.Repeat("я", 5000)}

	_, _, err := prompt.Build(in, 1000)
	if !errors.Is(err, apperrors.ErrContextOverflow) {
		t.Fatalf("expected ErrContextOverflow, got %v", err)
	}
}
