package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lexiqai/voice-assistant/internal/observability"
)

const testSentence = "This is a test of the text to speech system."

type micReport struct {
	Status      string   `json:"status"`
	Microphones []string `json:"microphones"`
	Count       int      `json:"count"`
	Message     string   `json:"message,omitempty"`
}

// handleTestTTS synthesizes a fixed sentence and reports the outcome as text
func (s *Server) handleTestTTS(w http.ResponseWriter, r *http.Request) {
	logger := observability.GetLogger()
	logger.Info().Msg("Testing TTS functionality")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	audio, err := s.opts.Synthesizer.Synthesize(ctx, testSentence)
	if err != nil {
		logger.Error().Err(err).Msg("TTS test failed")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "TTS test failed: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Testing TTS functionality. Synthesized %d bytes of audio.\n", len(audio))
}

// handleTestMic lists the capture devices the server can open
func (s *Server) handleTestMic(w http.ResponseWriter, _ *http.Request) {
	logger := observability.GetLogger()
	logger.Info().Msg("Testing microphone setup")

	report := micReport{Status: "success"}
	if s.opts.Devices == nil {
		report = micReport{Status: "error", Message: "no audio capture backend available"}
	} else if names, err := s.opts.Devices.Names(); err != nil {
		logger.Error().Err(err).Msg("Microphone test failed")
		report = micReport{Status: "error", Message: err.Error()}
	} else {
		if names == nil {
			names = []string{}
		}
		report.Microphones = names
		report.Count = len(names)
	}

	// The page reads status from the body, so errors are still 200.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
