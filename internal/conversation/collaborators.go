package conversation

import (
	"context"

	"github.com/lexiqai/voice-assistant/internal/protocol"
)

// Completer turns a prompt into the full reply text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Synthesizer renders one sentence to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Capturer records one utterance and returns its transcript.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// Emitter delivers events to the client. Emit must not block; it is called
// while the token gate is held.
type Emitter interface {
	Emit(event protocol.Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(protocol.Event)

func (f EmitterFunc) Emit(event protocol.Event) { f(event) }
