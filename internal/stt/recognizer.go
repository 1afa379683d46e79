package stt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/audio"
	"github.com/lexiqai/voice-assistant/internal/config"
	"github.com/lexiqai/voice-assistant/internal/observability"
)

// frameMs is the VAD frame length.
const frameMs = 20

// Source streams raw PCM16 mono chunks until ctx is done.
type Source interface {
	Stream(ctx context.Context, onAudio func([]byte)) error
}

// Transcriber turns one captured utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// RecognizerConfig tunes utterance capture.
type RecognizerConfig struct {
	SampleRate    int
	Calibration   time.Duration
	ListenTimeout time.Duration
	PhraseLimit   time.Duration
	PreRollBytes  int
	VAD           audio.VADConfig
}

// RecognizerConfigFromConfig maps service configuration onto capture tuning.
func RecognizerConfigFromConfig(cfg *config.Config) RecognizerConfig {
	vad := audio.DefaultVADConfig()
	vad.EnergyThreshold = cfg.VADEnergyThreshold
	vad.SilenceFrames = cfg.VADSilenceFrames
	vad.FrameSize = cfg.CaptureSampleRate * frameMs / 1000
	return RecognizerConfig{
		SampleRate:    cfg.CaptureSampleRate,
		Calibration:   time.Duration(cfg.CaptureCalibrationMs) * time.Millisecond,
		ListenTimeout: time.Duration(cfg.CaptureListenTimeout) * time.Second,
		PhraseLimit:   time.Duration(cfg.CapturePhraseLimit) * time.Second,
		PreRollBytes:  cfg.AudioBufferSize,
		VAD:           *vad,
	}
}

// MicrophoneRecognizer records one utterance from a shared Source and
// transcribes it. Only one capture runs at a time across all sessions.
type MicrophoneRecognizer struct {
	source      Source
	transcriber Transcriber
	cfg         RecognizerConfig
	mu          sync.Mutex
}

// NewMicrophoneRecognizer wires a capture source to a transcriber.
func NewMicrophoneRecognizer(source Source, transcriber Transcriber, cfg RecognizerConfig) *MicrophoneRecognizer {
	if cfg.VAD.FrameSize <= 0 {
		cfg.VAD.FrameSize = cfg.SampleRate * frameMs / 1000
	}
	cfg.PreRollBytes = wholeFrames(cfg.PreRollBytes, cfg.VAD.FrameSize*2)
	return &MicrophoneRecognizer{source: source, transcriber: transcriber, cfg: cfg}
}

// Capture calibrates against ambient noise, waits for speech, records the
// phrase and returns its transcript.
func (r *MicrophoneRecognizer) Capture(ctx context.Context) (string, error) {
	if !r.mu.TryLock() {
		return "", &CaptureError{Reason: "microphone is busy"}
	}
	defer r.mu.Unlock()

	logger := observability.GetLogger().With().Str("component", "recognizer").Logger()

	utterance, err := r.record(ctx, &logger)
	if err != nil {
		return "", err
	}

	logger.Debug().Int("bytes", len(utterance)).Msg("Utterance captured")
	observability.RecordCapturedAudio(len(utterance))
	transcript, err := r.transcriber.Transcribe(ctx, utterance)
	if err != nil {
		return "", err
	}
	return transcript, nil
}

// record returns the PCM of one phrase, including pre-roll.
func (r *MicrophoneRecognizer) record(ctx context.Context, logger *zerolog.Logger) ([]byte, error) {
	streamCtx, stop := context.WithCancel(ctx)
	defer stop()

	chunks := make(chan []byte, 64)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- r.source.Stream(streamCtx, func(chunk []byte) {
			select {
			case chunks <- chunk:
			default:
				logger.Warn().Msg("Capture buffer full, dropping audio")
			}
		})
	}()

	frames := newFramer(r.cfg.VAD.FrameSize * 2)
	next := func(deadline <-chan time.Time) ([][]byte, error) {
		select {
		case chunk := <-chunks:
			return frames.push(chunk), nil
		case err := <-streamErr:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err == nil {
				err = errors.New("capture stream ended")
			}
			return nil, &CaptureError{Reason: "microphone unavailable", Err: err}
		case <-deadline:
			return nil, errDeadline
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	vad := audio.NewVADDetector(&r.cfg.VAD)

	// Ambient calibration.
	var ambient [][]int16
	calibrate := time.NewTimer(r.cfg.Calibration)
	defer calibrate.Stop()
	for calibrating := r.cfg.Calibration > 0; calibrating; {
		got, err := next(calibrate.C)
		switch {
		case errors.Is(err, errDeadline):
			calibrating = false
		case err != nil:
			return nil, err
		}
		for _, frame := range got {
			ambient = append(ambient, audio.Samples(frame))
		}
	}
	vad.Calibrate(ambient)
	logger.Debug().Float64("threshold", vad.Threshold()).Int("frames", len(ambient)).Msg("Calibrated for ambient noise")

	// Wait for speech, keeping recent audio as pre-roll.
	preRoll := audio.NewRingBuffer(r.cfg.PreRollBytes)
	listen := time.NewTimer(r.cfg.ListenTimeout)
	defer listen.Stop()
	var utterance []byte
	for utterance == nil {
		got, err := next(listen.C)
		if errors.Is(err, errDeadline) {
			return nil, &CaptureError{Reason: "listening timed out while waiting for phrase to start"}
		}
		if err != nil {
			return nil, err
		}
		for i, frame := range got {
			preRoll.Write(frame)
			if _, started, _ := vad.ProcessFrame(audio.Samples(frame)); started {
				utterance = preRoll.Drain()
				for _, rest := range got[i+1:] {
					utterance = append(utterance, rest...)
				}
				break
			}
		}
	}

	// Record until trailing silence or the phrase limit.
	phrase := time.NewTimer(r.cfg.PhraseLimit)
	defer phrase.Stop()
	for {
		got, err := next(phrase.C)
		if errors.Is(err, errDeadline) {
			logger.Debug().Dur("limit", r.cfg.PhraseLimit).Msg("Phrase limit reached")
			return utterance, nil
		}
		if err != nil {
			return nil, err
		}
		for _, frame := range got {
			utterance = append(utterance, frame...)
			if _, _, ended := vad.ProcessFrame(audio.Samples(frame)); ended {
				return utterance, nil
			}
		}
	}
}

var errDeadline = errors.New("deadline")

// wholeFrames rounds n down to a multiple of frameBytes, keeping at least
// one frame, so a full pre-roll buffer never splits a PCM16 sample.
func wholeFrames(n, frameBytes int) int {
	if n < frameBytes {
		return frameBytes
	}
	return n - n%frameBytes
}

// framer regroups arbitrary chunks into fixed-size byte frames.
type framer struct {
	size    int
	pending []byte
}

func newFramer(size int) *framer {
	return &framer{size: size}
}

func (f *framer) push(chunk []byte) [][]byte {
	f.pending = append(f.pending, chunk...)
	var frames [][]byte
	for len(f.pending) >= f.size {
		frame := make([]byte, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}
	return frames
}
