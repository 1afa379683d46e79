package llm

import (
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// UpstreamError is any failure of the text completion service: network,
// quota, safety block, an empty reply or an open circuit.
type UpstreamError struct {
	Model      string
	StatusCode int // HTTP status when the service answered, else 0
	Err        error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is likely to clear on its own.
// Nothing retries; the value is only logged.
func (e *UpstreamError) Temporary() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func upstreamError(model string, err error) *UpstreamError {
	upErr := &UpstreamError{Model: model, Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		upErr.StatusCode = apiErr.Code
	}
	return upErr
}

var errEmptyReply = errors.New("model returned no text")

func blockedError(reason string) error {
	return fmt.Errorf("prompt blocked: %s", reason)
}
