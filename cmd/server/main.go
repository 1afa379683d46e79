package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-assistant/internal/assistant"
	"github.com/lexiqai/voice-assistant/internal/audio/microphone"
	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/gateway"
	"github.com/lexiqai/voice-assistant/internal/llm"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/stt"
	"github.com/lexiqai/voice-assistant/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(cfg *config.Config) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := assistant.Lookup(cfg.Profile)
	if err != nil {
		return err
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("profile", profile.ID).
		Str("gemini_model", cfg.GeminiModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("tracing_enabled", cfg.TracingEnabled).
		Msg("Voice assistant starting")

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, profile.ID)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	completer, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}
	synthesizer := tts.NewCartesiaClient(cfg)
	transcriber := stt.NewDeepgramTranscriber(cfg)

	checks := map[string]observability.HealthCheckFunc{
		"gemini":   completer.HealthCheck,
		"cartesia": synthesizer.HealthCheck,
		"deepgram": transcriber.HealthCheck,
	}

	opts := gateway.Options{
		Profile:        profile,
		Completer:      completer,
		Synthesizer:    synthesizer,
		Checks:         checks,
		Pacing:         cfg.StreamPacing(),
		MinSpeechChars: cfg.MinSpeechChars,
		OutboundBuffer: cfg.OutboundBuffer,
		MetricsEnabled: cfg.MetricsEnabled,
	}

	// Voice input is optional: hosts without an audio backend still serve text.
	mic, err := microphone.Open(cfg.CaptureSampleRate)
	if err != nil {
		logger.Warn().Err(err).Msg("Microphone unavailable, voice input disabled")
	} else {
		defer mic.Close()
		opts.Devices = mic
		opts.Capturer = stt.NewMicrophoneRecognizer(mic, transcriber, stt.RecognizerConfigFromConfig(cfg))
	}

	gw, err := gateway.NewServer(ctx, opts)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server forced to shutdown")
		}
		return gw.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
