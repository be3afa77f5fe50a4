package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baltabekpro/aisimulator-sub001/internal/config"
)

// New creates the configured oracle backend.
func New(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Oracle, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAI(cfg, log)
	case "gemini":
		return NewGemini(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown ai backend %q", cfg.Backend)
	}
}
