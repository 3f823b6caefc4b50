package capture

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// State is the single source of truth for a capture session.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Kind classifies capture failures.
type Kind string

const (
	KindDevice     Kind = "device"
	KindValidation Kind = "validation"
	KindDuration   Kind = "duration"
	KindTimeout    Kind = "timeout"
)

const (
	// MsgDeviceFailure is shown when the microphone cannot be opened.
	MsgDeviceFailure = "Failed to start recording. Please check your microphone permissions."
	// MsgFinalizeTimeout is shown when the recorder never delivers its final data.
	MsgFinalizeTimeout = "Recording could not be finished. Please try again."
)

var (
	ErrBusy         = errors.New("capture session already active")
	ErrNotRecording = errors.New("capture is not recording")
	ErrClosed       = errors.New("capture machine closed")
	ErrDeviceBusy   = errors.New("microphone is held by another capture session")
)

// Error is a user-facing capture failure. Message is safe to show verbatim.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func deviceError(err error) *Error {
	return &Error{Kind: KindDevice, Message: MsgDeviceFailure, Err: err}
}

func validationError(reason string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("Recording validation failed: %s", reason)}
}

func timeoutError() *Error {
	return &Error{Kind: KindTimeout, Message: MsgFinalizeTimeout}
}

func durationError(min time.Duration) *Error {
	seconds := strconv.FormatFloat(min.Seconds(), 'f', -1, 64)
	unit := "seconds"
	if seconds == "1" {
		unit = "second"
	}
	return &Error{Kind: KindDuration, Message: fmt.Sprintf("Recording must be at least %s %s long", seconds, unit)}
}
