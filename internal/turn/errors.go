package turn

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies failures observed by the controller.
type Kind string

const (
	KindAdapterUnavailable Kind = "adapter_unavailable"
	KindWatchdogTimeout    Kind = "watchdog_timeout"
	KindEmptyCapture       Kind = "empty_capture"
	KindEvaluatorFailure   Kind = "evaluator_failure"
	KindStaleCallback      Kind = "stale_callback"
)

var (
	ErrDisposed        = errors.New("turn: controller disposed")
	ErrUnknownCommand  = errors.New("turn: unknown voice command")
	ErrNothingToRepeat = errors.New("turn: nothing to repeat")
	ErrEmptyUtterance  = errors.New("turn: empty utterance")
)

// Error is surfaced to the UI when an adapter or the evaluator fails.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("turn %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("turn %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the text shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindAdapterUnavailable:
		return "Audio is unavailable. Check your microphone and speakers, then resume."
	case KindEvaluatorFailure:
		return "Could not get a reply. Resume to try again."
	case KindWatchdogTimeout:
		return "Speech took too long, moving on."
	case KindEmptyCapture:
		return "Didn't catch that."
	default:
		return "Something went wrong."
	}
}

func (e *Error) MarshalJSON() ([]byte, error) {
	detail := ""
	if e.Err != nil {
		detail = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    Kind   `json:"kind"`
		Op      string `json:"op"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	}{e.Kind, e.Op, e.Message(), detail})
}
