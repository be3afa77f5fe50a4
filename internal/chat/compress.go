package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/identity"
)

// summaryPrefix marks compression summaries in stored history content.
const summaryPrefix = "## Сжатая история предыдущего диалога:"

const summaryInstruction = `Сожми следующий фрагмент диалога в короткое повествование.
Сохрани имена, договорённости, обещания и эмоциональный тон. Отвечай только текстом резюме, без JSON.`

// CompressReport describes the outcome of one compression pass.
type CompressReport struct {
	OriginalMessages   int    `json:"original_messages"`
	CompressedMessages int    `json:"compressed_messages"`
	Summary            string `json:"summary"`
}

// CompressHistory replaces the oldest block of active history with a single
// summary row. Refuses when the pair has fewer active rows than the
// configured minimum. The oracle call runs outside the pair lock; the block
// is re-read before being replaced so a concurrent pass cannot compress the
// same rows twice.
func (s *Services) CompressHistory(ctx context.Context, characterID uuid.UUID, userRef string) (*CompressReport, error) {
	character, err := s.characters.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	userID := identity.InternalID(userRef)

	count, err := s.store.ActiveHistoryCount(ctx, characterID, userID)
	if err != nil {
		return nil, err
	}
	if count < s.chatCfg.CompressMinMessages {
		return nil, fmt.Errorf("%w: %d active messages, need at least %d",
			apperrors.ErrInsufficientMessages, count, s.chatCfg.CompressMinMessages)
	}

	block, err := s.store.OldestActiveBlock(ctx, characterID, userID, s.chatCfg.CompressBlockSize)
	if err != nil {
		return nil, err
	}
	if len(block) < s.chatCfg.CompressMinMessages {
		return nil, fmt.Errorf("%w: %d active messages, need at least %d",
			apperrors.ErrInsufficientMessages, len(block), s.chatCfg.CompressMinMessages)
	}

	turns := make([]ai.Turn, 0, len(block)+1)
	for _, row := range block {
		turns = append(turns, ai.Turn{Role: row.Role, Content: row.Content})
	}
	turns = append(turns, ai.Turn{Role: "user", Content: summaryInstruction})

	system := fmt.Sprintf("Ты — %s. Ты ведёшь дневник своих разговоров с пользователем.", character.Name)
	raw, err := s.oracle.Complete(ctx, system, turns)
	if err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return nil, fmt.Errorf("%w: empty summary", apperrors.ErrUpstreamError)
	}

	// The oracle call ran without the pair lock. Re-read the oldest block
	// and bail out if another pass got there first.
	fresh, err := s.store.OldestActiveBlock(ctx, characterID, userID, s.chatCfg.CompressBlockSize)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 || len(fresh) < len(block) || fresh[0].ID != block[0].ID || fresh[len(block)-1].ID != block[len(block)-1].ID {
		return nil, fmt.Errorf("%w: oldest block moved during summarisation", apperrors.ErrHistoryChanged)
	}

	content := summaryPrefix + "\n" + summary
	if _, err := s.store.ReplaceBlockWithSummary(ctx, characterID, userID, block, content); err != nil {
		return nil, err
	}

	return &CompressReport{
		OriginalMessages:   len(block),
		CompressedMessages: 1,
		Summary:            summary,
	}, nil
}
