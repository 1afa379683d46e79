package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventName identifies websocket payload variants.
type EventName string

const (
	// client -> server
	EventSendMessage     EventName = "send_message"
	EventStartVoiceInput EventName = "start_voice_input"

	// server -> client
	EventThinkingStatus   EventName = "thinking_status"
	EventListeningStatus  EventName = "listening_status"
	EventSpeechRecognized EventName = "speech_recognized"
	EventResponseStream   EventName = "response_stream"
	EventPlayAudio        EventName = "play_audio"
	EventStopAudio        EventName = "stop_audio"
	EventErrorMessage     EventName = "error_message"
)

var ErrUnsupportedEvent = errors.New("unsupported event")

// Envelope is the frame shape shared by both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound server message. Data is marshalled as-is.
type Event struct {
	Name EventName
	Data any
}

func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = struct{}{}
	}
	return json.Marshal(struct {
		Event EventName `json:"event"`
		Data  any       `json:"data"`
	}{Event: e.Name, Data: data})
}

type SendMessage struct {
	Message string `json:"message"`
}

type StartVoiceInput struct{}

type Status struct {
	Status bool `json:"status"`
}

type Text struct {
	Text string `json:"text"`
}

type ResponseStreamData struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type Audio struct {
	AudioData string `json:"audio_data"`
}

type Message struct {
	Message string `json:"message"`
}

func ThinkingStatus(on bool) Event {
	return Event{Name: EventThinkingStatus, Data: Status{Status: on}}
}

func ListeningStatus(on bool) Event {
	return Event{Name: EventListeningStatus, Data: Status{Status: on}}
}

func SpeechRecognized(text string) Event {
	return Event{Name: EventSpeechRecognized, Data: Text{Text: text}}
}

// ResponseStream carries the cumulative answer text so far.
func ResponseStream(text string, final bool) Event {
	return Event{Name: EventResponseStream, Data: ResponseStreamData{Text: text, IsFinal: final}}
}

// PlayAudio base64-encodes one sentence's rendered audio.
func PlayAudio(audio []byte) Event {
	return Event{Name: EventPlayAudio, Data: Audio{AudioData: base64.StdEncoding.EncodeToString(audio)}}
}

func StopAudio() Event {
	return Event{Name: EventStopAudio, Data: struct{}{}}
}

func ErrorMessage(message string) Event {
	return Event{Name: EventErrorMessage, Data: Message{Message: message}}
}

// ParseClientMessage decodes one inbound frame into SendMessage or
// StartVoiceInput.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventSendMessage:
		var msg SendMessage
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil, errors.New("invalid send_message: missing data")
		}
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("invalid send_message: %w", err)
		}
		return msg, nil
	case EventStartVoiceInput:
		return StartVoiceInput{}, nil
	default:
		if strings.TrimSpace(string(env.Event)) == "" {
			return nil, fmt.Errorf("%w: missing event name", ErrUnsupportedEvent)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.Event)
	}
}
