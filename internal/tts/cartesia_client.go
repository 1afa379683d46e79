package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/audio"
	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
)

const (
	defaultAPIURL   = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion = "2024-06-10"
	maxErrorBody    = 512
)

var errEmptyAudio = errors.New("cartesia returned empty audio")

// CartesiaClient renders sentences to WAV audio with Cartesia's bytes
// endpoint. It is safe for concurrent use.
type CartesiaClient struct {
	apiKey         string
	apiURL         string
	voiceID        string
	modelID        string
	sampleRate     int
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string        `json:"model_id"`
	Transcript   string        `json:"transcript"`
	Voice        CartesiaVoice `json:"voice"`
	OutputFormat OutputFormat  `json:"output_format"`
	Language     string        `json:"language,omitempty"`
}

type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type OutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	sampleRate := cfg.CartesiaSampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     defaultAPIURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		circuitBreaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		logger: observability.GetLogger().With().Str("component", "cartesia").Logger(),
	}
}

// Synthesize renders text and returns a mono PCM16 WAV clip. Errors are
// *SynthesisError.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var pcm []byte
	var status int
	err := c.circuitBreaker.Call(ctx, func() error {
		var err error
		pcm, status, err = c.fetch(ctx, text)
		return err
	})
	if err != nil {
		return nil, &SynthesisError{StatusCode: status, Err: err}
	}

	wav, err := audio.EncodeWAVPCM16LE(pcm, c.sampleRate)
	if err != nil {
		return nil, &SynthesisError{Err: fmt.Errorf("failed to encode wav: %w", err)}
	}

	c.logger.Debug().Int("chars", len(text)).Int("pcm_bytes", len(pcm)).Msg("Synthesized sentence")
	return wav, nil
}

func (c *CartesiaClient) fetch(ctx context.Context, text string) ([]byte, int, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: OutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
		Language: "en",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.StatusCode, errors.New(strings.TrimSpace(string(body)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, resp.StatusCode, errEmptyAudio
	}
	return pcm, resp.StatusCode, nil
}

// HealthCheck reports unhealthy while the circuit is open
func (c *CartesiaClient) HealthCheck(ctx context.Context) (bool, *observability.CircuitStats, error) {
	return c.circuitBreaker.HealthCheck(ctx)
}
