package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
)

// GeminiClient completes prompts with a Gemini model. It is safe for
// concurrent use.
type GeminiClient struct {
	client         *genai.Client
	model          string
	timeout        time.Duration
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewGeminiClient creates a completion client from configuration
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	return newGeminiClient(ctx, cfg, "")
}

func newGeminiClient(ctx context.Context, cfg *config.Config, baseURL string) (*GeminiClient, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	timeout := time.Duration(cfg.GeminiTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GeminiClient{
		client:  client,
		model:   cfg.GeminiModel,
		timeout: timeout,
		circuitBreaker: resilience.NewCircuitBreaker(
			"gemini",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		logger: observability.GetLogger().With().Str("component", "gemini").Str("model", cfg.GeminiModel).Logger(),
	}, nil
}

// Complete sends prompt as a single user turn and returns the reply text.
// Errors are *UpstreamError.
func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	var reply string
	err := g.circuitBreaker.Call(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(prompt), nil)
		if err != nil {
			return err
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return blockedError(string(resp.PromptFeedback.BlockReason))
		}

		reply = strings.TrimSpace(resp.Text())
		if reply == "" {
			return errEmptyReply
		}
		return nil
	})
	if err != nil {
		upErr := upstreamError(g.model, err)
		g.logger.Error().
			Err(err).
			Int("status", upErr.StatusCode).
			Bool("temporary", upErr.Temporary()).
			Msg("Completion failed")
		return "", upErr
	}

	g.logger.Debug().Int("prompt_chars", len(prompt)).Int("reply_chars", len(reply)).Msg("Completion received")
	return reply, nil
}

// HealthCheck reports unhealthy while the circuit is open
func (g *GeminiClient) HealthCheck(ctx context.Context) (bool, *observability.CircuitStats, error) {
	return g.circuitBreaker.HealthCheck(ctx)
}
