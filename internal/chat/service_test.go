package chat_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/chat"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

// scriptedOracle returns canned responses in order and records every call.
// An exhausted script fails the call the way a broken upstream would.
type scriptedOracle struct {
	replies []string
	systems []string
	calls   [][]ai.Turn
}

func (o *scriptedOracle) Complete(_ context.Context, system string, turns []ai.Turn) (string, error) {
	o.systems = append(o.systems, system)
	o.calls = append(o.calls, turns)
	if len(o.replies) == 0 {
		return "", apperrors.ErrUpstreamError
	}
	reply := o.replies[0]
	o.replies = o.replies[1:]
	return reply, nil
}

// hookedOracle runs hook before delegating to the scripted replies, letting a
// test mutate state while an oracle call is in flight.
type hookedOracle struct {
	scriptedOracle
	hook func()
}

func (o *hookedOracle) Complete(ctx context.Context, system string, turns []ai.Turn) (string, error) {
	if o.hook != nil {
		o.hook()
	}
	return o.scriptedOracle.Complete(ctx, system, turns)
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		HistoryWindow:       30,
		MemoryLimit:         50,
		CompressThreshold:   40,
		CompressBlockSize:   5,
		CompressMinMessages: 3,
		ShortReplyCutoff:    10,
		CharacterCacheTTL:   time.Minute,
	}
}

func newTestService(t *testing.T, oracle ai.Oracle) (*chat.Services, database.Store, uuid.UUID) {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := database.NewStore(context.Background(), db, log)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	characterID := uuid.New()
	err = store.SaveCharacter(context.Background(), &database.Character{
		ID:     characterID,
		Name:   "Алиса",
		Age:    25,
		Traits: []string{"заботливая"},
	})
	if err != nil {
		t.Fatalf("SaveCharacter() error: %v", err)
	}

	svc := chat.New(store, oracle, testChatConfig(), config.AIConfig{MaxContextTokens: 16000}, log)
	return svc, store, characterID
}

func TestStartChatGreetsStranger(t *testing.T) {
	t.Parallel()
	svc, store, characterID := newTestService(t, &scriptedOracle{})
	ctx := context.Background()

	greeting, err := svc.StartChat(ctx, characterID, "12345", "Аня")
	if err != nil {
		t.Fatalf("StartChat() error: %v", err)
	}
	if greeting != "Привет! Рада познакомиться с тобой. Как твои дела?" {
		t.Errorf("greeting = %q", greeting)
	}

	// The greeting lands in history as the character's turn.
	rows, err := store.FetchRecentHistory(ctx, characterID, identity.InternalID("12345"), 10)
	if err != nil {
		t.Fatalf("FetchRecentHistory() error: %v", err)
	}
	if len(rows) != 1 || rows[0].Role != "assistant" || rows[0].Content != greeting {
		t.Errorf("greeting not recorded: %+v", rows)
	}
}

func TestStartChatGreetsByRememberedName(t *testing.T) {
	t.Parallel()
	svc, store, characterID := newTestService(t, &scriptedOracle{})
	ctx := context.Background()

	userID := identity.InternalID("12345")
	if err := store.EnsureUser(ctx, userID, "12345", "Аня"); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	if _, err := store.InsertMemory(ctx, &database.MemoryEntry{
		CharacterID: characterID,
		UserID:      userID,
		MemoryType:  "personal_info",
		Category:    "name",
		Content:     "Имя пользователя: Аня",
		Importance:  9,
	}); err != nil {
		t.Fatalf("InsertMemory() error: %v", err)
	}

	greeting, err := svc.StartChat(ctx, characterID, "12345", "Аня")
	if err != nil {
		t.Fatalf("StartChat() error: %v", err)
	}
	if greeting != "Привет, Аня! Рада видеть тебя снова. Как у тебя дела?" {
		t.Errorf("greeting = %q", greeting)
	}
}

func TestSendMessageRecordsExchange(t *testing.T) {
	t.Parallel()
	oracle := &scriptedOracle{replies: []string{
		`{"text": "Приятно познакомиться, Алексей!", "emotion": "happy",
		  "relationship_changes": {"general": 0.05, "trust": 0.02},
		  "memory": [{"type": "personal_info", "category": "name", "content": "Имя пользователя: Алексей", "importance": 9}]}`,
	}}
	svc, store, characterID := newTestService(t, oracle)
	ctx := context.Background()

	result, err := svc.SendMessage(ctx, characterID, "12345", "Привет, меня зовут Алексей")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if result.Text != "Приятно познакомиться, Алексей!" || result.Emotion != "happy" {
		t.Errorf("result = %+v", result)
	}
	if result.Stage != "strangers" {
		t.Errorf("stage = %q, want strangers", result.Stage)
	}

	userID := identity.InternalID("12345")
	rows, err := store.FetchRecentHistory(ctx, characterID, userID, 10)
	if err != nil {
		t.Fatalf("FetchRecentHistory() error: %v", err)
	}
	if len(rows) != 2 || rows[0].Role != "user" || rows[1].Role != "assistant" {
		t.Fatalf("expected user+assistant rows, got %+v", rows)
	}

	memories, err := svc.ListMemories(ctx, characterID, "12345")
	if err != nil {
		t.Fatalf("ListMemories() error: %v", err)
	}
	if len(memories) != 1 || memories[0].Content != "Имя пользователя: Алексей" {
		t.Fatalf("extracted memory missing: %+v", memories)
	}

	state, err := store.GetRelationship(ctx, userID, characterID)
	if err != nil {
		t.Fatalf("GetRelationship() error: %v", err)
	}
	if math.Abs(state.General-0.05) > 1e-9 || math.Abs(state.Trust-0.02) > 1e-9 {
		t.Errorf("relationship state = %+v", state)
	}

	character, err := store.GetCharacter(ctx, characterID)
	if err != nil {
		t.Fatalf("GetCharacter() error: %v", err)
	}
	if character.CurrentEmotion != "happy" {
		t.Errorf("emotion = %q, want happy", character.CurrentEmotion)
	}
}

func TestSendMessageDuplicateFactStoredOnce(t *testing.T) {
	t.Parallel()
	reply := `{"text": "Запомнила!", "emotion": "neutral",
		"memory": [{"type": "personal_info", "category": "age", "content": "Возраст пользователя: 28", "importance": 5}]}`
	oracle := &scriptedOracle{replies: []string{reply, reply}}
	svc, _, characterID := newTestService(t, oracle)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.SendMessage(ctx, characterID, "12345", "мне 28 лет"); err != nil {
			t.Fatalf("SendMessage() %d error: %v", i, err)
		}
	}

	memories, err := svc.ListMemories(ctx, characterID, "12345")
	if err != nil {
		t.Fatalf("ListMemories() error: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("repeated fact stored %d times, want 1", len(memories))
	}
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()
	svc, _, characterID := newTestService(t, &scriptedOracle{})

	if _, err := svc.SendMessage(context.Background(), characterID, "12345", "   "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("empty text: expected ErrInvalidInput, got %v", err)
	}
}

func TestSendMessageUpstreamFailureLeavesNoState(t *testing.T) {
	t.Parallel()
	// Empty script: every oracle call fails.
	svc, store, characterID := newTestService(t, &scriptedOracle{})
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, characterID, "12345", "привет")
	if !errors.Is(err, apperrors.ErrUpstreamError) {
		t.Fatalf("expected ErrUpstreamError, got %v", err)
	}

	count, err := store.ActiveHistoryCount(ctx, characterID, identity.InternalID("12345"))
	if err != nil {
		t.Fatalf("ActiveHistoryCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("failed turn left %d history rows", count)
	}
}

func TestSendGiftRetriesShortReaction(t *testing.T) {
	t.Parallel()
	oracle := &scriptedOracle{replies: []string{
		`{"text": "Ок", "emotion": "neutral"}`,
		`{"text": "*удивлённо* Цветок? Мне? Спасибо огромное, это так мило!", "emotion": "happy"}`,
	}}
	svc, store, characterID := newTestService(t, oracle)
	ctx := context.Background()

	result, err := svc.SendGift(ctx, characterID, "12345", "flower")
	if err != nil {
		t.Fatalf("SendGift() error: %v", err)
	}
	if !strings.Contains(result.Text, "Спасибо огромное") {
		t.Errorf("retry reaction not used: %q", result.Text)
	}
	if len(oracle.calls) != 2 {
		t.Fatalf("expected exactly one retry, oracle called %d times", len(oracle.calls))
	}
	if !strings.Contains(oracle.systems[1], "Отреагируй развёрнуто") {
		t.Error("retry call missing the explicit reaction instruction")
	}
	if strings.Contains(oracle.systems[0], "Отреагируй развёрнуто") {
		t.Error("first call must not carry the retry instruction")
	}

	userID := identity.InternalID("12345")

	// flower carries effect 5: general +0.05, friendship +0.035.
	state, err := store.GetRelationship(ctx, userID, characterID)
	if err != nil {
		t.Fatalf("GetRelationship() error: %v", err)
	}
	if math.Abs(state.General-0.05) > 1e-9 || math.Abs(state.Friendship-0.035) > 1e-9 {
		t.Errorf("gift deltas not applied: %+v", state)
	}
	if math.Abs(result.Relationship.General-0.05) > 1e-9 {
		t.Errorf("result delta = %+v", result.Relationship)
	}

	events, err := store.RecentGiftEvents(ctx, characterID, userID, 5)
	if err != nil {
		t.Fatalf("RecentGiftEvents() error: %v", err)
	}
	if len(events) != 1 || !strings.Contains(string(events[0].Data), `"gift":"flower"`) {
		t.Errorf("gift event missing: %+v", events)
	}

	memories, err := svc.ListMemories(ctx, characterID, "12345")
	if err != nil {
		t.Fatalf("ListMemories() error: %v", err)
	}
	found := false
	for _, m := range memories {
		if m.Content == "Пользователь подарил: цветок" {
			found = true
		}
	}
	if !found {
		t.Errorf("gift memory missing: %+v", memories)
	}
}

func TestSendGiftAcceptsLongReactionFirstTry(t *testing.T) {
	t.Parallel()
	oracle := &scriptedOracle{replies: []string{
		`{"text": "Какая прелесть, обожаю плюшевых мишек!", "emotion": "happy"}`,
	}}
	svc, _, characterID := newTestService(t, oracle)

	if _, err := svc.SendGift(context.Background(), characterID, "12345", "teddy"); err != nil {
		t.Fatalf("SendGift() error: %v", err)
	}
	if len(oracle.calls) != 1 {
		t.Errorf("substantive reaction should not be retried, oracle called %d times", len(oracle.calls))
	}
}

func TestSendGiftUnknownID(t *testing.T) {
	t.Parallel()
	svc, _, characterID := newTestService(t, &scriptedOracle{})

	if _, err := svc.SendGift(context.Background(), characterID, "12345", "yacht"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCompressHistory(t *testing.T) {
	t.Parallel()
	oracle := &scriptedOracle{replies: []string{
		"Пользователь представился Алексеем, обсуждали его работу и планы на выходные.",
	}}
	svc, store, characterID := newTestService(t, oracle)
	ctx := context.Background()

	userID := identity.InternalID("12345")
	if err := store.EnsureUser(ctx, userID, "12345", "Алексей"); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := store.AppendHistory(ctx, &database.ChatHistoryRow{
			CharacterID: characterID, UserID: userID, Role: role, Content: "реплика",
		})
		if err != nil {
			t.Fatalf("AppendHistory() error: %v", err)
		}
	}

	report, err := svc.CompressHistory(ctx, characterID, "12345")
	if err != nil {
		t.Fatalf("CompressHistory() error: %v", err)
	}
	if report.OriginalMessages != 5 || report.CompressedMessages != 1 {
		t.Errorf("report = %+v", report)
	}

	count, err := store.ActiveHistoryCount(ctx, characterID, userID)
	if err != nil {
		t.Fatalf("ActiveHistoryCount() error: %v", err)
	}
	if count != 3 {
		t.Errorf("active count = %d, want 3 (2 tail turns + summary)", count)
	}

	rows, err := store.FetchRecentHistory(ctx, characterID, userID, 10)
	if err != nil {
		t.Fatalf("FetchRecentHistory() error: %v", err)
	}
	summaryRow := rows[len(rows)-1]
	if !strings.HasPrefix(summaryRow.Content, "## Сжатая история предыдущего диалога:") {
		t.Errorf("summary content = %q", summaryRow.Content)
	}
	meta, ok := summaryRow.SummaryMeta()
	if !ok {
		t.Fatal("summary row must carry summary metadata")
	}
	if meta.Covers != [2]int64{1, 5} {
		t.Errorf("covers = %v, want [1 5]", meta.Covers)
	}
}

func TestCompressHistoryAbortsWhenBlockMoves(t *testing.T) {
	t.Parallel()
	oracle := &hookedOracle{scriptedOracle: scriptedOracle{replies: []string{
		"Резюме, которое не должно попасть в историю.",
	}}}
	svc, store, characterID := newTestService(t, oracle)
	ctx := context.Background()

	userID := identity.InternalID("12345")
	if err := store.EnsureUser(ctx, userID, "12345", "Алексей"); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	for i := 0; i < 7; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := store.AppendHistory(ctx, &database.ChatHistoryRow{
			CharacterID: characterID, UserID: userID, Role: role, Content: "реплика",
		})
		if err != nil {
			t.Fatalf("AppendHistory() error: %v", err)
		}
	}

	// A second pass lands while the oracle call is in flight and replaces
	// the same block first.
	oracle.hook = func() {
		block, err := store.OldestActiveBlock(ctx, characterID, userID, 5)
		if err != nil {
			t.Fatalf("OldestActiveBlock() error: %v", err)
		}
		_, err = store.ReplaceBlockWithSummary(ctx, characterID, userID, block,
			"## Сжатая история предыдущего диалога:\nпервый проход успел раньше")
		if err != nil {
			t.Fatalf("ReplaceBlockWithSummary() error: %v", err)
		}
	}

	_, err := svc.CompressHistory(ctx, characterID, "12345")
	if !errors.Is(err, apperrors.ErrHistoryChanged) {
		t.Fatalf("expected ErrHistoryChanged, got %v", err)
	}

	// The losing pass wrote nothing: only the winner's summary and the two
	// tail turns remain active.
	count, err := store.ActiveHistoryCount(ctx, characterID, userID)
	if err != nil {
		t.Fatalf("ActiveHistoryCount() error: %v", err)
	}
	if count != 3 {
		t.Errorf("active count = %d, want 3", count)
	}
}

func TestCompressHistoryInsufficientMessages(t *testing.T) {
	t.Parallel()
	oracle := &scriptedOracle{replies: []string{"не должно понадобиться"}}
	svc, store, characterID := newTestService(t, oracle)
	ctx := context.Background()

	userID := identity.InternalID("12345")
	if err := store.EnsureUser(ctx, userID, "12345", ""); err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	for i := 0; i < 2; i++ {
		err := store.AppendHistory(ctx, &database.ChatHistoryRow{
			CharacterID: characterID, UserID: userID, Role: "user", Content: "привет",
		})
		if err != nil {
			t.Fatalf("AppendHistory() error: %v", err)
		}
	}

	_, err := svc.CompressHistory(ctx, characterID, "12345")
	if !errors.Is(err, apperrors.ErrInsufficientMessages) {
		t.Fatalf("expected ErrInsufficientMessages, got %v", err)
	}
	if len(oracle.calls) != 0 {
		t.Error("oracle must not be called when there is nothing to compress")
	}

	count, err := store.ActiveHistoryCount(ctx, characterID, userID)
	if err != nil {
		t.Fatalf("ActiveHistoryCount() error: %v", err)
	}
	if count != 2 {
		t.Errorf("history modified by refused compression: %d rows", count)
	}
}

func TestClearHistory(t *testing.T) {
	t.Parallel()
	oracle := &scriptedOracle{replies: []string{`{"text": "Привет-привет!", "emotion": "happy"}`}}
	svc, store, characterID := newTestService(t, oracle)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, characterID, "12345", "привет"); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	removed, err := svc.ClearHistory(ctx, characterID, "12345")
	if err != nil {
		t.Fatalf("ClearHistory() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	count, err := store.ActiveHistoryCount(ctx, characterID, identity.InternalID("12345"))
	if err != nil {
		t.Fatalf("ActiveHistoryCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("history not empty after clear: %d rows", count)
	}
}
