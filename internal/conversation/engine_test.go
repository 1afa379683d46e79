package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/voice-assistant/internal/protocol"
	"github.com/lexiqai/voice-assistant/internal/stt"
)

type completeFunc func(ctx context.Context, prompt string) (string, error)

func (f completeFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type synthesizeFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthesizeFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

type captureFunc func(ctx context.Context) (string, error)

func (f captureFunc) Capture(ctx context.Context) (string, error) {
	return f(ctx)
}

// echoSynth renders a sentence as its own bytes so audio can be traced back
// to the text it came from.
var echoSynth = synthesizeFunc(func(ctx context.Context, text string) ([]byte, error) {
	return []byte(text), nil
})

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) Emit(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, what string, pred func([]protocol.Event) bool) []protocol.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if events := r.snapshot(); pred(events) {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; got %s", what, describe(r.snapshot()))
	return nil
}

func describe(events []protocol.Event) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = fmt.Sprintf("%s%+v", ev.Name, ev.Data)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func count(events []protocol.Event, name protocol.EventName) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func thinkingStopped(events []protocol.Event) bool {
	for _, ev := range events {
		if ev.Name == protocol.EventThinkingStatus && !ev.Data.(protocol.Status).Status {
			return true
		}
	}
	return false
}

func audioText(t *testing.T, ev protocol.Event) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(ev.Data.(protocol.Audio).AudioData)
	if err != nil {
		t.Fatalf("bad audio payload: %v", err)
	}
	return string(raw)
}

// eventText returns the text an event carries on behalf of a turn, if any.
func eventText(t *testing.T, ev protocol.Event) string {
	switch ev.Name {
	case protocol.EventResponseStream:
		return ev.Data.(protocol.ResponseStreamData).Text
	case protocol.EventPlayAudio:
		return audioText(t, ev)
	}
	return ""
}

func userInput(prompt string) string {
	_, input, _ := strings.Cut(prompt, "User input: ")
	return input
}

func newTestEngine(t *testing.T, deps Deps, opts Options) *Engine {
	t.Helper()
	if opts.Pacing == 0 {
		opts.Pacing = -1
	}
	e, err := NewEngine(context.Background(), deps, opts)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.Start()
	t.Cleanup(e.Close)
	return e
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	rec := &recorder{}
	if _, err := NewEngine(context.Background(), Deps{Synthesizer: echoSynth, Emitter: rec}, Options{}); err == nil {
		t.Error("expected error without completer")
	}
	completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
	if _, err := NewEngine(context.Background(), Deps{Completer: completer, Emitter: rec}, Options{}); err == nil {
		t.Error("expected error without synthesizer")
	}
	if _, err := NewEngine(context.Background(), Deps{Completer: completer, Synthesizer: echoSynth}, Options{}); err == nil {
		t.Error("expected error without emitter")
	}
}

func TestNewEngineDefaults(t *testing.T) {
	completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
	e, err := NewEngine(context.Background(), Deps{Completer: completer, Synthesizer: echoSynth, Emitter: &recorder{}}, Options{})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer e.Close()
	if e.pipeline.pacing != 300*time.Millisecond {
		t.Errorf("default pacing = %v, want 300ms", e.pipeline.pacing)
	}
	if e.worker.minChars != 2 {
		t.Errorf("default min chars = %d, want 2", e.worker.minChars)
	}
}

func TestNewEngineNegativePacingDisables(t *testing.T) {
	completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
	e, err := NewEngine(context.Background(), Deps{Completer: completer, Synthesizer: echoSynth, Emitter: &recorder{}}, Options{Pacing: -1})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer e.Close()
	if e.pipeline.pacing != 0 {
		t.Errorf("pacing = %v, want 0", e.pipeline.pacing)
	}
}

// Scenario A: one question streams cumulative text and one audio clip per
// sentence.
func TestEngineStreamsReply(t *testing.T) {
	rec := &recorder{}
	var prompt atomic.Value
	completer := completeFunc(func(ctx context.Context, p string) (string, error) {
		prompt.Store(p)
		return "Hello there. How can I help? Ask away!", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec},
		Options{Instruction: "You are a farming assistant."})

	e.SubmitText("  Hello  ")

	events := rec.waitFor(t, "reply and audio", func(events []protocol.Event) bool {
		return thinkingStopped(events) && count(events, protocol.EventPlayAudio) == 3
	})

	if got := prompt.Load().(string); got != "You are a farming assistant.\n\nUser input: Hello" {
		t.Errorf("prompt = %q", got)
	}
	if events[0].Name != protocol.EventStopAudio {
		t.Fatalf("first event = %s, want stop_audio", events[0].Name)
	}
	if events[1].Name != protocol.EventThinkingStatus || !events[1].Data.(protocol.Status).Status {
		t.Fatalf("second event = %s%+v, want thinking_status true", events[1].Name, events[1].Data)
	}

	var streams []protocol.ResponseStreamData
	var audio []string
	for _, ev := range events {
		switch ev.Name {
		case protocol.EventResponseStream:
			streams = append(streams, ev.Data.(protocol.ResponseStreamData))
		case protocol.EventPlayAudio:
			audio = append(audio, audioText(t, ev))
		}
	}

	wantStreams := []protocol.ResponseStreamData{
		{Text: "Hello there.", IsFinal: false},
		{Text: "Hello there. How can I help?", IsFinal: false},
		{Text: "Hello there. How can I help? Ask away!", IsFinal: false},
		{Text: "Hello there. How can I help? Ask away!", IsFinal: true},
	}
	if len(streams) != len(wantStreams) {
		t.Fatalf("got %d response_stream events, want %d: %s", len(streams), len(wantStreams), describe(events))
	}
	for i := range wantStreams {
		if streams[i] != wantStreams[i] {
			t.Errorf("response_stream[%d] = %+v, want %+v", i, streams[i], wantStreams[i])
		}
	}

	wantAudio := []string{"Hello there.", "How can I help?", "Ask away!"}
	for i := range wantAudio {
		if audio[i] != wantAudio[i] {
			t.Errorf("play_audio[%d] = %q, want %q", i, audio[i], wantAudio[i])
		}
	}

	// thinking_status false follows the final text
	var finalIdx, stopIdx int
	for i, ev := range events {
		if ev.Name == protocol.EventResponseStream && ev.Data.(protocol.ResponseStreamData).IsFinal {
			finalIdx = i
		}
		if ev.Name == protocol.EventThinkingStatus && !ev.Data.(protocol.Status).Status {
			stopIdx = i
		}
	}
	if stopIdx < finalIdx {
		t.Errorf("thinking_status false at %d precedes final text at %d", stopIdx, finalIdx)
	}
	if e.Token() != 1 {
		t.Errorf("token = %d, want 1", e.Token())
	}
}

func TestEngineIgnoresBlankInput(t *testing.T) {
	rec := &recorder{}
	called := atomic.Bool{}
	completer := completeFunc(func(context.Context, string) (string, error) {
		called.Store(true)
		return "unused.", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec}, Options{})

	e.SubmitText("")
	e.SubmitText("   \n\t")

	time.Sleep(30 * time.Millisecond)
	if e.Token() != 0 {
		t.Errorf("token = %d, want 0", e.Token())
	}
	if events := rec.snapshot(); len(events) != 0 {
		t.Errorf("expected no events, got %s", describe(events))
	}
	if called.Load() {
		t.Error("completer called for blank input")
	}
}

func TestEngineTokenIncrementsPerSubmission(t *testing.T) {
	rec := &recorder{}
	completer := completeFunc(func(context.Context, string) (string, error) { return "Ok.", nil })
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec}, Options{})

	for i := uint64(1); i <= 10; i++ {
		e.SubmitText(fmt.Sprintf("question %d", i))
		if got := e.Token(); got != i {
			t.Fatalf("token after %d submissions = %d", i, got)
		}
	}
	if got := count(rec.snapshot(), protocol.EventStopAudio); got != 10 {
		t.Errorf("stop_audio count = %d, want 10", got)
	}
}

// Scenario B: a second question supersedes the first mid-stream.
func TestEngineCancelsSupersededTurn(t *testing.T) {
	rec := &recorder{}
	completer := completeFunc(func(ctx context.Context, p string) (string, error) {
		if userInput(p) == "First question" {
			return "First one. First two. First three. First four. First five. First six.", nil
		}
		return "Second answer. Second close.", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec},
		Options{Pacing: 30 * time.Millisecond})

	e.SubmitText("First question")
	rec.waitFor(t, "first partial text", func(events []protocol.Event) bool {
		return count(events, protocol.EventResponseStream) >= 1
	})
	e.SubmitText("Second question")

	rec.waitFor(t, "second reply", func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Name == protocol.EventResponseStream {
				if d := ev.Data.(protocol.ResponseStreamData); d.IsFinal && strings.HasPrefix(d.Text, "Second") {
					return true
				}
			}
		}
		return false
	})
	e.Close()
	events := rec.snapshot()

	secondStop := -1
	for i, ev := range events {
		if ev.Name == protocol.EventStopAudio {
			secondStop = i
		}
	}
	if count(events, protocol.EventStopAudio) != 2 {
		t.Fatalf("stop_audio count = %d, want 2: %s", count(events, protocol.EventStopAudio), describe(events))
	}
	for _, ev := range events[secondStop+1:] {
		if strings.Contains(eventText(t, ev), "First") {
			t.Errorf("stale %s after stop_audio: %+v", ev.Name, ev.Data)
		}
	}

	last := events[len(events)-1]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == protocol.EventResponseStream {
			last = events[i]
			break
		}
	}
	if got := last.Data.(protocol.ResponseStreamData); got.Text != "Second answer. Second close." || !got.IsFinal {
		t.Errorf("last response_stream = %+v", got)
	}
}

// A superseded completion is not interrupted but its result is discarded.
func TestEngineDiscardsSupersededCompletion(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	entered := make(chan struct{})
	completer := completeFunc(func(ctx context.Context, p string) (string, error) {
		if userInput(p) == "slow" {
			close(entered)
			<-release
			return "Slow reply.", nil
		}
		return "Fast reply.", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec}, Options{})

	e.SubmitText("slow")
	<-entered
	e.SubmitText("fast")
	rec.waitFor(t, "fast reply audio", func(events []protocol.Event) bool {
		return thinkingStopped(events) && count(events, protocol.EventPlayAudio) == 1
	})
	close(release)
	e.Close()

	for _, ev := range rec.snapshot() {
		if strings.Contains(eventText(t, ev), "Slow") {
			t.Errorf("superseded reply leaked: %s%+v", ev.Name, ev.Data)
		}
	}
}

// Audio rendered for a turn that was superseded during synthesis is dropped.
func TestEngineDropsAudioSupersededDuringSynthesis(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	started := make(chan struct{})
	synth := synthesizeFunc(func(ctx context.Context, text string) ([]byte, error) {
		if text == "Alpha sentence." {
			close(started)
			<-release
		}
		return []byte(text), nil
	})
	completer := completeFunc(func(ctx context.Context, p string) (string, error) {
		if userInput(p) == "alpha" {
			return "Alpha sentence.", nil
		}
		return "Beta sentence.", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: synth, Emitter: rec}, Options{})

	e.SubmitText("alpha")
	<-started
	e.SubmitText("beta")
	close(release)

	events := rec.waitFor(t, "beta audio", func(events []protocol.Event) bool {
		return count(events, protocol.EventPlayAudio) >= 1
	})
	for _, ev := range events {
		if ev.Name == protocol.EventPlayAudio && audioText(t, ev) != "Beta sentence." {
			t.Errorf("unexpected audio %q", audioText(t, ev))
		}
	}
}

// Rapid submissions: after the k-th stop_audio only turn k or later may
// produce text or audio.
func TestEngineNoStaleEventsAfterStop(t *testing.T) {
	rec := &recorder{}
	completer := completeFunc(func(ctx context.Context, p string) (string, error) {
		var n int
		fmt.Sscanf(userInput(p), "question %d", &n)
		return fmt.Sprintf("Turn %d alpha. Turn %d beta. Turn %d gamma.", n, n, n), nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec},
		Options{Pacing: time.Millisecond})

	const turns = 20
	for i := 1; i <= turns; i++ {
		e.SubmitText(fmt.Sprintf("question %d", i))
		time.Sleep(time.Duration(i%3) * time.Millisecond)
	}
	rec.waitFor(t, "last turn", thinkingStopped)
	e.Close()

	stops := 0
	for _, ev := range rec.snapshot() {
		if ev.Name == protocol.EventStopAudio {
			stops++
			continue
		}
		text := eventText(t, ev)
		if text == "" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(text, "Turn %d", &n); err != nil {
			t.Fatalf("unparseable event text %q", text)
		}
		if n < stops {
			t.Errorf("turn %d emitted %s after stop_audio #%d", n, ev.Name, stops)
		}
	}
}

func TestEngineUpstreamFailure(t *testing.T) {
	rec := &recorder{}
	completer := completeFunc(func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec}, Options{})

	e.SubmitText("Hello")
	events := rec.waitFor(t, "thinking stopped", thinkingStopped)

	var errMsg string
	var final protocol.ResponseStreamData
	for _, ev := range events {
		switch ev.Name {
		case protocol.EventErrorMessage:
			errMsg = ev.Data.(protocol.Message).Message
		case protocol.EventResponseStream:
			if d := ev.Data.(protocol.ResponseStreamData); d.IsFinal {
				final = d
			}
		}
	}
	if errMsg != "Error generating response: quota exceeded" {
		t.Errorf("error_message = %q", errMsg)
	}
	if final.Text != "Error: Unable to fetch response. quota exceeded" {
		t.Errorf("final text = %q", final.Text)
	}
	if e.Token() != 1 {
		t.Errorf("token = %d, want 1", e.Token())
	}
}

func TestEngineSynthesisFailureContinues(t *testing.T) {
	rec := &recorder{}
	synth := synthesizeFunc(func(ctx context.Context, text string) ([]byte, error) {
		switch text {
		case "Bad two.":
			return nil, errors.New("voice unavailable")
		case "Panic three.":
			panic("decoder exploded")
		}
		return []byte(text), nil
	})
	completer := completeFunc(func(context.Context, string) (string, error) {
		return "Good one. Bad two. Panic three. Good four.", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: synth, Emitter: rec}, Options{})

	e.SubmitText("go")
	events := rec.waitFor(t, "remaining audio", func(events []protocol.Event) bool {
		return count(events, protocol.EventPlayAudio) == 2 && count(events, protocol.EventErrorMessage) == 2
	})

	var messages []string
	for _, ev := range events {
		if ev.Name == protocol.EventErrorMessage {
			messages = append(messages, ev.Data.(protocol.Message).Message)
		}
	}
	if messages[0] != "Error generating speech: voice unavailable" {
		t.Errorf("first error = %q", messages[0])
	}
	if !strings.HasPrefix(messages[1], "Error generating speech: panic during synthesis") {
		t.Errorf("second error = %q", messages[1])
	}
}

func TestEngineSkipsShortSentences(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	var synthesized []string
	synth := synthesizeFunc(func(ctx context.Context, text string) ([]byte, error) {
		mu.Lock()
		synthesized = append(synthesized, text)
		mu.Unlock()
		return []byte(text), nil
	})
	completer := completeFunc(func(context.Context, string) (string, error) { return "Ok. ? Fine.", nil })
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: synth, Emitter: rec}, Options{})

	e.SubmitText("go")
	rec.waitFor(t, "two clips", func(events []protocol.Event) bool {
		return count(events, protocol.EventPlayAudio) == 2
	})
	e.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(synthesized) != 2 || synthesized[0] != "Ok." || synthesized[1] != "Fine." {
		t.Errorf("synthesized = %q, want [Ok. Fine.]", synthesized)
	}
}

func TestEngineVoiceInput(t *testing.T) {
	rec := &recorder{}
	capturer := captureFunc(func(ctx context.Context) (string, error) { return "  when to harvest wheat ", nil })
	var input atomic.Value
	completer := completeFunc(func(ctx context.Context, p string) (string, error) {
		input.Store(userInput(p))
		return "Harvest when golden.", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Capturer: capturer, Emitter: rec}, Options{})

	e.SubmitVoice()
	events := rec.waitFor(t, "voice reply", thinkingStopped)

	want := []protocol.EventName{
		protocol.EventListeningStatus,
		protocol.EventListeningStatus,
		protocol.EventSpeechRecognized,
		protocol.EventStopAudio,
	}
	for i, name := range want {
		if events[i].Name != name {
			t.Fatalf("event[%d] = %s, want %s: %s", i, events[i].Name, name, describe(events))
		}
	}
	if events[0].Data.(protocol.Status).Status != true || events[1].Data.(protocol.Status).Status != false {
		t.Errorf("listening events out of order: %s", describe(events[:2]))
	}
	if got := events[2].Data.(protocol.Text).Text; got != "when to harvest wheat" {
		t.Errorf("speech_recognized = %q", got)
	}
	if got := input.Load().(string); got != "when to harvest wheat" {
		t.Errorf("completion input = %q", got)
	}
	if e.Token() != 1 {
		t.Errorf("token = %d, want 1", e.Token())
	}
}

// Scenario C: unintelligible audio only brackets listening and reports.
func TestEngineVoiceUnintelligible(t *testing.T) {
	rec := &recorder{}
	capturer := captureFunc(func(ctx context.Context) (string, error) { return "", stt.ErrUnintelligible })
	completer := completeFunc(func(context.Context, string) (string, error) {
		t.Error("completer must not be called")
		return "", nil
	})
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Capturer: capturer, Emitter: rec}, Options{})

	e.SubmitVoice()
	events := rec.waitFor(t, "error message", func(events []protocol.Event) bool {
		return count(events, protocol.EventErrorMessage) == 1
	})
	time.Sleep(20 * time.Millisecond)
	events = rec.snapshot()

	if len(events) != 3 {
		t.Fatalf("expected exactly 3 events, got %s", describe(events))
	}
	if events[0].Name != protocol.EventListeningStatus || !events[0].Data.(protocol.Status).Status {
		t.Errorf("event[0] = %s%+v", events[0].Name, events[0].Data)
	}
	if events[1].Name != protocol.EventListeningStatus || events[1].Data.(protocol.Status).Status {
		t.Errorf("event[1] = %s%+v", events[1].Name, events[1].Data)
	}
	if msg := events[2].Data.(protocol.Message).Message; msg != "Sorry, I couldn't understand. Please try again." {
		t.Errorf("error_message = %q", msg)
	}
	if e.Token() != 0 {
		t.Errorf("token = %d, want 0", e.Token())
	}
}

func TestEngineVoiceEmptyTranscriptIsUnintelligible(t *testing.T) {
	rec := &recorder{}
	capturer := captureFunc(func(ctx context.Context) (string, error) { return "   ", nil })
	completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Capturer: capturer, Emitter: rec}, Options{})

	e.SubmitVoice()
	events := rec.waitFor(t, "error message", func(events []protocol.Event) bool {
		return count(events, protocol.EventErrorMessage) == 1
	})
	if msg := events[len(events)-1].Data.(protocol.Message).Message; msg != "Sorry, I couldn't understand. Please try again." {
		t.Errorf("error_message = %q", msg)
	}
	if e.Token() != 0 {
		t.Errorf("token = %d, want 0", e.Token())
	}
}

func TestEngineVoiceErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "service",
			err:  &stt.ServiceError{Op: "connect", Err: errors.New("401 unauthorized")},
			want: "Error in speech recognition service: 401 unauthorized",
		},
		{
			name: "capture",
			err:  &stt.CaptureError{Reason: "no speech before timeout"},
			want: "An error occurred during speech recognition: audio capture: no speech before timeout",
		},
		{
			name: "wrapped unintelligible",
			err:  fmt.Errorf("transcribe: %w", stt.ErrUnintelligible),
			want: "Sorry, I couldn't understand. Please try again.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			capturer := captureFunc(func(ctx context.Context) (string, error) { return "", tc.err })
			completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
			e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Capturer: capturer, Emitter: rec}, Options{})

			e.SubmitVoice()
			events := rec.waitFor(t, "error message", func(events []protocol.Event) bool {
				return count(events, protocol.EventErrorMessage) == 1
			})
			if msg := events[len(events)-1].Data.(protocol.Message).Message; msg != tc.want {
				t.Errorf("error_message = %q, want %q", msg, tc.want)
			}
			if e.Token() != 0 {
				t.Errorf("token = %d, want 0", e.Token())
			}
		})
	}
}

func TestEngineSingleCaptureInFlight(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	var calls atomic.Int32
	capturer := captureFunc(func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "hello", nil
	})
	completer := completeFunc(func(context.Context, string) (string, error) { return "Hi.", nil })
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Capturer: capturer, Emitter: rec}, Options{})

	e.SubmitVoice()
	rec.waitFor(t, "listening", func(events []protocol.Event) bool {
		return count(events, protocol.EventListeningStatus) == 1
	})
	e.SubmitVoice()
	e.SubmitVoice()
	close(release)

	rec.waitFor(t, "reply", thinkingStopped)
	if calls.Load() != 1 {
		t.Errorf("capture calls = %d, want 1", calls.Load())
	}

	// The slot is free again once the capture finished.
	e.SubmitVoice()
	rec.waitFor(t, "second capture", func(events []protocol.Event) bool {
		return count(events, protocol.EventSpeechRecognized) == 2
	})
}

func TestEngineVoiceUnavailable(t *testing.T) {
	rec := &recorder{}
	completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
	e := newTestEngine(t, Deps{Completer: completer, Synthesizer: echoSynth, Emitter: rec}, Options{})

	e.SubmitVoice()
	events := rec.snapshot()
	if len(events) != 1 || events[0].Name != protocol.EventErrorMessage {
		t.Fatalf("expected a single error_message, got %s", describe(events))
	}
}

func TestEngineCloseInterruptsCapture(t *testing.T) {
	rec := &recorder{}
	capturer := captureFunc(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", &stt.CaptureError{Reason: "cancelled", Err: ctx.Err()}
	})
	completer := completeFunc(func(context.Context, string) (string, error) { return "", nil })
	e, err := NewEngine(context.Background(), Deps{Completer: completer, Synthesizer: echoSynth, Capturer: capturer, Emitter: rec}, Options{})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.Start()
	e.SubmitVoice()
	rec.waitFor(t, "listening", func(events []protocol.Event) bool {
		return count(events, protocol.EventListeningStatus) == 1
	})

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if count(rec.snapshot(), protocol.EventErrorMessage) != 0 {
		t.Error("shutdown must not be reported as a capture error")
	}

	// No effect after close
	e.SubmitText("late")
	e.SubmitVoice()
	if e.Token() != 0 {
		t.Errorf("token = %d after close, want 0", e.Token())
	}
	e.Close()
}
