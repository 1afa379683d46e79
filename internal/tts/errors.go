package tts

import "fmt"

// SynthesisError is a failure to render one piece of text to audio.
type SynthesisError struct {
	StatusCode int // HTTP status when the service answered, else 0
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cartesia returned status %d: %v", e.StatusCode, e.Err)
	}
	return e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }
