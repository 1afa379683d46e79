package stt

import (
	"errors"
	"fmt"
)

// ErrUnintelligible means audio was captured but no words were recognized.
var ErrUnintelligible = errors.New("could not understand audio")

// ServiceError is a failure of the recognition service itself (connection,
// authentication, quota).
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("speech recognition service: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// CaptureError is a failure to record audio: no device, device busy, or no
// speech before the listen timeout.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "audio capture: " + e.Reason
	}
	return fmt.Sprintf("audio capture: %s: %v", e.Reason, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
