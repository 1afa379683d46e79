package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/protocol"
	"github.com/lexiqai/voice-assistant/internal/stt"
)

const (
	unintelligibleMessage = "Sorry, I couldn't understand. Please try again."
	defaultPacing         = 300 * time.Millisecond
	defaultMinChars       = 2
)

// Deps are the collaborators of one engine. Capturer may be nil, in which
// case voice input is reported as unavailable.
type Deps struct {
	Completer   Completer
	Synthesizer Synthesizer
	Capturer    Capturer
	Emitter     Emitter
}

// Options tune an engine. Zero values select the defaults.
type Options struct {
	Instruction    string
	Pacing         time.Duration // negative disables pacing
	MinSpeechChars int
	Logger         *zerolog.Logger
	Metrics        *observability.Metrics
}

// Engine runs one conversation: it owns the token and queue, the synthesis
// worker, and every generation run and capture it starts.
type Engine struct {
	state    *State
	pipeline *Pipeline
	worker   *Worker
	capturer Capturer
	emitter  Emitter
	logger   zerolog.Logger
	metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	listening  atomic.Bool
	activeRuns atomic.Int64
}

// NewEngine builds an engine bound to ctx. Cancelling ctx or calling Close
// stops the worker and interrupts pacing and capture.
func NewEngine(ctx context.Context, deps Deps, opts Options) (*Engine, error) {
	if deps.Completer == nil {
		return nil, errors.New("conversation: completer is required")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("conversation: synthesizer is required")
	}
	if deps.Emitter == nil {
		return nil, errors.New("conversation: emitter is required")
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	pacing := opts.Pacing
	switch {
	case pacing == 0:
		pacing = defaultPacing
	case pacing < 0:
		pacing = 0
	}
	minChars := opts.MinSpeechChars
	if minChars <= 0 {
		minChars = defaultMinChars
	}

	state := NewState()
	ctx, cancel := context.WithCancel(ctx)
	return &Engine{
		state: state,
		pipeline: &Pipeline{
			state:       state,
			completer:   deps.Completer,
			emitter:     deps.Emitter,
			instruction: opts.Instruction,
			pacing:      pacing,
			logger:      logger.With().Str("component", "pipeline").Logger(),
			metrics:     opts.Metrics,
		},
		worker: &Worker{
			state:    state,
			synth:    deps.Synthesizer,
			emitter:  deps.Emitter,
			minChars: minChars,
			logger:   logger.With().Str("component", "synthesis").Logger(),
			metrics:  opts.Metrics,
		},
		capturer: deps.Capturer,
		emitter:  deps.Emitter,
		logger:   logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the synthesis worker. Calling it again has no effect.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.spawn(func() { e.worker.Run(e.ctx) })
}

// Close stops the engine and waits for the worker, runs and captures.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Token returns the live generation token.
func (e *Engine) Token() uint64 {
	return e.state.Token()
}

// SubmitText starts a new turn for text. Blank text is ignored. The previous
// turn is superseded before SubmitText returns; generation runs in the
// background.
func (e *Engine) SubmitText(text string) {
	e.submit(text, "text")
}

// SubmitVoice captures one utterance in the background and submits its
// transcript. A request made while a capture is running is ignored.
func (e *Engine) SubmitVoice() {
	if e.isClosed() {
		return
	}
	if e.capturer == nil {
		e.emitter.Emit(protocol.ErrorMessage("An error occurred during speech recognition: voice input is not available"))
		return
	}
	if !e.listening.CompareAndSwap(false, true) {
		e.logger.Info().Msg("Voice input already in progress, ignoring request")
		return
	}
	if !e.spawn(e.listen) {
		e.listening.Store(false)
	}
}

func (e *Engine) submit(text, source string) bool {
	text = strings.TrimSpace(text)
	if text == "" || e.isClosed() {
		return false
	}

	superseded := e.activeRuns.Load() > 0
	token := e.state.Advance(func(token uint64, purged int) {
		e.emitter.Emit(protocol.StopAudio())
		e.metrics.RecordStaleDropped("purge", purged)
		e.logger.Debug().
			Uint64("token", token).
			Int("purged", purged).
			Bool("superseded", superseded).
			Msg("Started new turn")
	})
	e.metrics.RecordTurn(source, superseded)

	e.activeRuns.Add(1)
	ok := e.spawn(func() {
		defer e.activeRuns.Add(-1)
		e.pipeline.Run(e.ctx, text, token)
	})
	if !ok {
		e.activeRuns.Add(-1)
	}
	return ok
}

func (e *Engine) listen() {
	transcript, err := e.capture()

	if err == nil {
		e.emitter.Emit(protocol.SpeechRecognized(transcript))
		e.submit(transcript, "voice")
		return
	}
	if e.ctx.Err() != nil {
		return
	}
	e.logger.Warn().Err(err).Msg("Voice input failed")
	e.metrics.RecordError(voiceErrorType(err), "stt")
	e.emitter.Emit(protocol.ErrorMessage(voiceErrorMessage(err)))
}

// capture brackets the capturer call with listening events and releases the
// capture slot as soon as the device is done.
func (e *Engine) capture() (string, error) {
	defer e.listening.Store(false)

	e.emitter.Emit(protocol.ListeningStatus(true))
	start := time.Now()
	transcript, err := e.capturer.Capture(e.ctx)
	e.emitter.Emit(protocol.ListeningStatus(false))

	transcript = strings.TrimSpace(transcript)
	if err == nil && transcript == "" {
		err = stt.ErrUnintelligible
	}
	e.metrics.RecordSTT(time.Since(start), err == nil)
	return transcript, err
}

func voiceErrorMessage(err error) string {
	var svcErr *stt.ServiceError
	switch {
	case errors.Is(err, stt.ErrUnintelligible):
		return unintelligibleMessage
	case errors.As(err, &svcErr):
		return fmt.Sprintf("Error in speech recognition service: %v", svcErr.Err)
	default:
		return fmt.Sprintf("An error occurred during speech recognition: %v", err)
	}
}

func voiceErrorType(err error) string {
	var svcErr *stt.ServiceError
	switch {
	case errors.Is(err, stt.ErrUnintelligible):
		return "unintelligible"
	case errors.As(err, &svcErr):
		return "service"
	default:
		return "capture"
	}
}

func (e *Engine) spawn(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
