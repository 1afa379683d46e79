package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/protocol"
)

// Pipeline generates one reply and streams it sentence by sentence, handing
// each sentence to the synthesis queue.
type Pipeline struct {
	state       *State
	completer   Completer
	emitter     Emitter
	instruction string
	pacing      time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

func (p *Pipeline) prompt(input string) string {
	return p.instruction + "\n\nUser input: " + input
}

// Run answers input on behalf of token. Every client-visible effect is
// dropped once token is no longer live. The completion call itself is not
// interrupted when a newer turn starts; its result is discarded afterwards.
func (p *Pipeline) Run(ctx context.Context, input string, token uint64) {
	if !p.state.IsLive(token) {
		p.metrics.RecordStaleDropped("pipeline", 1)
		return
	}

	ctx, span := tracer.Start(ctx, "generate response",
		trace.WithAttributes(attribute.Int64("conversation.token", int64(token))))
	defer span.End()

	logger := p.logger.With().Uint64("token", token).Logger()

	if !p.state.Live(token, func() { p.emitter.Emit(protocol.ThinkingStatus(true)) }) {
		span.SetAttributes(attribute.Bool("conversation.superseded", true))
		return
	}

	start := time.Now()
	reply, err := p.completer.Complete(ctx, p.prompt(input))
	p.metrics.RecordCompletion(time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Failed to generate response")
		p.metrics.RecordError("upstream", "llm")

		p.state.Live(token, func() {
			p.emitter.Emit(protocol.ErrorMessage(fmt.Sprintf("Error generating response: %v", err)))
		})
		reply = fmt.Sprintf("Error: Unable to fetch response. %v", err)
	}

	accumulated := ""
	streamed := 0
	superseded := false
	for sentence := range Sentences(reply) {
		ok := p.state.Live(token, func() {
			if accumulated != "" {
				accumulated += " "
			}
			accumulated += sentence
			p.emitter.Emit(protocol.ResponseStream(accumulated, false))
		})
		if !ok {
			superseded = true
			break
		}
		streamed++
		p.metrics.RecordSentenceStreamed()

		if !p.state.Enqueue(WorkItem{Token: token, Sentence: sentence}) {
			superseded = true
			break
		}
		if !p.pause(ctx) {
			break
		}
	}

	finished := p.state.Live(token, func() {
		p.emitter.Emit(protocol.ResponseStream(accumulated, true))
		p.emitter.Emit(protocol.ThinkingStatus(false))
	})
	if !finished {
		superseded = true
		p.metrics.RecordStaleDropped("pipeline", 1)
	}

	span.SetAttributes(
		attribute.Int("conversation.sentences", streamed),
		attribute.Bool("conversation.superseded", superseded),
	)
	logger.Debug().
		Int("sentences", streamed).
		Bool("superseded", superseded).
		Dur("elapsed", time.Since(start)).
		Msg("Response run finished")
}

// pause waits out the pacing delay. It returns false if ctx ends first.
func (p *Pipeline) pause(ctx context.Context) bool {
	if p.pacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(p.pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
