package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/baltabekpro/aisimulator-sub001/internal/apperrors"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
)

const (
	openAIMaxRetries = 2
	openAIRetryDelay = 2 * time.Second
)

type openAIOracle struct {
	client      *openai.Client
	log         *slog.Logger
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAI creates an Oracle backed by an OpenAI-compatible chat completion
// endpoint (OpenAI itself, OpenRouter, or any proxy speaking the same API).
func NewOpenAI(cfg config.AIConfig, log *slog.Logger) (Oracle, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("openai API token is required")
	}

	clientCfg := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger := log.With("component", "openai_oracle")
	logger.Info("OpenAI oracle initialized", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &openAIOracle{
		client:      openai.NewClientWithConfig(clientCfg),
		log:         logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

func (o *openAIOracle) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, turn := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	var lastErr error
	for attempt := 0; attempt <= openAIMaxRetries; attempt++ {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    messages,
			Temperature: o.temperature,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("%w: completion returned no choices", apperrors.ErrUpstreamError)
			}
			text := strings.TrimSpace(resp.Choices[0].Message.Content)
			if text == "" {
				return "", fmt.Errorf("%w: completion returned empty text", apperrors.ErrUpstreamError)
			}
			return text, nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", apperrors.ErrUpstreamTimeout, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		var apiErr *openai.APIError
		retriable := errors.As(err, &apiErr) &&
			(apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError)
		if !retriable || attempt == openAIMaxRetries {
			break
		}
		o.log.WarnContext(ctx, "OpenAI completion failed, retrying",
			"attempt", attempt+1, "error", err)
		time.Sleep(openAIRetryDelay)
	}

	return "", fmt.Errorf("%w: %v", apperrors.ErrUpstreamError, lastErr)
}
