package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/resilience"
)

const (
	// Deepgram recommends 20-100ms of audio per websocket frame.
	deepgramChunkBytes = 3200
	settleTimeout      = 3 * time.Second
	sessionTimeout     = 20 * time.Second
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the events a
// transcription needs.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	collector *transcriptCollector
}

// Message collects final transcripts
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.collector.message(message)
	return nil
}

// UtteranceEnd marks the end of the spoken phrase
func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	m.collector.finish(nil)
	return nil
}

// Error aborts the transcription
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.collector.finish(fmt.Errorf("deepgram error: %+v", *errorResponse))
	return nil
}

// transcriptCollector joins the final segments of one utterance.
type transcriptCollector struct {
	mu     sync.Mutex
	finals []string
	err    error
	done   chan struct{}
	once   sync.Once
}

func newTranscriptCollector() *transcriptCollector {
	return &transcriptCollector{done: make(chan struct{})}
}

func (c *transcriptCollector) message(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)

	c.mu.Lock()
	if msg.IsFinal && text != "" {
		c.finals = append(c.finals, text)
	}
	complete := msg.SpeechFinal && len(c.finals) > 0
	c.mu.Unlock()

	if complete {
		c.finish(nil)
	}
}

func (c *transcriptCollector) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *transcriptCollector) result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.finals, " "), c.err
}

// DeepgramTranscriber transcribes captured PCM16 utterances over Deepgram's
// live websocket API.
type DeepgramTranscriber struct {
	apiKey         string
	model          string
	language       string
	sampleRate     int
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramTranscriber creates a transcriber for mono linear16 audio at
// the configured capture rate
func NewDeepgramTranscriber(cfg *config.Config) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		apiKey:     cfg.DeepgramAPIKey,
		model:      cfg.DeepgramModel,
		language:   cfg.DeepgramLanguage,
		sampleRate: cfg.CaptureSampleRate,
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
	}
}

// Transcribe streams pcm to Deepgram and returns the joined final
// transcript. An utterance with no recognized words yields ErrUnintelligible.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	var transcript string
	err := d.circuitBreaker.Call(ctx, func() error {
		var err error
		transcript, err = d.transcribe(ctx, pcm)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return "", &ServiceError{Op: "connect", Err: err}
		}
		return "", err
	}
	if transcript == "" {
		return "", ErrUnintelligible
	}
	return transcript, nil
}

func (d *DeepgramTranscriber) transcribe(ctx context.Context, pcm []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true, // required for UtteranceEnd
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.sampleRate,
	}

	collector := newTranscriptCollector()
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		collector:              collector,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, nil, tOptions, callback)
	if err != nil {
		return "", &ServiceError{Op: "create client", Err: err}
	}
	if !client.Connect() {
		return "", &ServiceError{Op: "connect", Err: errors.New("websocket handshake failed")}
	}
	defer client.Finish()

	logger := observability.GetLogger()
	logger.Debug().
		Str("model", d.model).
		Int("bytes", len(pcm)).
		Msg("Streaming utterance to Deepgram")

	for start := 0; start < len(pcm); start += deepgramChunkBytes {
		end := min(start+deepgramChunkBytes, len(pcm))
		if _, err := client.Write(pcm[start:end]); err != nil {
			return "", &ServiceError{Op: "send audio", Err: err}
		}
	}

	// The utterance ends in trailing silence, so Deepgram closes it on its
	// own; settleTimeout only bounds how long to wait for that.
	timer := time.NewTimer(settleTimeout)
	defer timer.Stop()
	select {
	case <-collector.done:
	case <-timer.C:
		logger.Debug().Msg("Deepgram did not mark utterance end; using collected finals")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	transcript, err := collector.result()
	if err != nil {
		return "", &ServiceError{Op: "transcribe", Err: err}
	}
	return transcript, nil
}

// HealthCheck reports unhealthy while the circuit is open
func (d *DeepgramTranscriber) HealthCheck(ctx context.Context) (bool, *observability.CircuitStats, error) {
	return d.circuitBreaker.HealthCheck(ctx)
}
