package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
)

const (
	geminiMaxRetries = 2
	geminiRetryDelay = 2 * time.Second
)

type geminiOracle struct {
	client      *genai.Client
	log         *slog.Logger
	model       string
	temperature float32
	timeout     time.Duration
}

// NewGemini creates an Oracle backed by Google's Gemini API.
func NewGemini(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Oracle, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Token,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_oracle")
	logger.Info("Gemini oracle initialized", "model", cfg.Model)
	return &geminiOracle{
		client:      client,
		log:         logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (o *geminiOracle) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, genai.NewContentFromText(turn.Content, geminiRole(turn.Role)))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: &o.temperature,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := o.generateWithRetries(ctx, contents, cfg)
	if err != nil {
		return "", err
	}
	return o.extractText(resp)
}

// geminiRole maps a conversation role onto the genai role vocabulary. Both
// "user" and "system" turns are sent as user content; the system prompt
// itself travels as SystemInstruction.
func geminiRole(role string) genai.Role {
	if role == "assistant" {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func (o *geminiOracle) generateWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= geminiMaxRetries; attempt++ {
		resp, err := o.client.Models.GenerateContent(ctx, o.model, contents, cfg)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrUpstreamTimeout, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var apiErr *genai.APIError
		retriable := errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503)
		if !retriable || attempt == geminiMaxRetries {
			break
		}
		o.log.WarnContext(ctx, "Gemini completion failed, retrying",
			"attempt", attempt+1, "code", apiErr.Code, "error", err)
		time.Sleep(geminiRetryDelay)
	}
	return nil, fmt.Errorf("%w: %v", apperrors.ErrUpstreamError, lastErr)
}

func (o *geminiOracle) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("%w: request blocked by safety filter: %s", apperrors.ErrUpstreamError, reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: completion returned no content", apperrors.ErrUpstreamError)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: completion returned empty text", apperrors.ErrUpstreamError)
	}
	return text, nil
}
