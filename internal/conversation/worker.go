package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/protocol"
)

// Worker is the single consumer of the synthesis queue.
type Worker struct {
	state    *State
	synth    Synthesizer
	emitter  Emitter
	minChars int
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// Run processes queued sentences until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.state.Dequeue(ctx)
		if err != nil {
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during synthesis: %v", r)
			w.logger.Error().Err(err).Uint64("token", item.Token).Msg("Recovered synthesis panic")
			w.fail(item.Token, err)
		}
	}()

	if !w.state.IsLive(item.Token) {
		w.metrics.RecordStaleDropped("worker", 1)
		return
	}

	sentence := strings.TrimSpace(item.Sentence)
	if utf8.RuneCountInString(sentence) < w.minChars {
		return
	}

	ctx, span := tracer.Start(ctx, "synthesize sentence",
		trace.WithAttributes(
			attribute.Int64("conversation.token", int64(item.Token)),
			attribute.Int("conversation.sentence_length", len(sentence)),
		))
	defer span.End()

	start := time.Now()
	audio, err := w.synth.Synthesize(ctx, sentence)
	w.metrics.RecordTTS(time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error().Err(err).Uint64("token", item.Token).Msg("Failed to synthesize sentence")
		w.fail(item.Token, err)
		return
	}

	// The turn may have been superseded while the audio was rendered.
	delivered := w.state.Live(item.Token, func() {
		w.emitter.Emit(protocol.PlayAudio(audio))
	})
	if !delivered {
		span.SetAttributes(attribute.Bool("conversation.superseded", true))
		w.metrics.RecordStaleDropped("worker", 1)
		return
	}
	w.metrics.RecordAudioBytes("out", int64(len(audio)))
}

func (w *Worker) fail(token uint64, err error) {
	w.metrics.RecordError("synthesis", "tts")
	w.state.Live(token, func() {
		w.emitter.Emit(protocol.ErrorMessage(fmt.Sprintf("Error generating speech: %v", err)))
	})
}
