package turn

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by adapters whose device or engine cannot be
// used at all (permission denied, no output device, engine missing).
var ErrUnavailable = errors.New("adapter unavailable")

type SpeakOptions struct {
	// CanSkip allows the adapter to drop the utterance when the user
	// interrupts before any audio was produced.
	CanSkip bool
}

// SpeechOutput synthesizes assistant speech. Speak blocks until playback
// ends, fails, or ctx is cancelled. Stop must not block.
type SpeechOutput interface {
	Speak(ctx context.Context, text string, opts SpeakOptions) error
	Stop()
	IsSpeaking() bool
}

// Capture records one user utterance per StartRecording call. OnState
// callbacks may arrive from any goroutine; the returned func unsubscribes.
type Capture interface {
	StartRecording(ctx context.Context) (Transcript, error)
	StopRecording()
	Cleanup()
	OnState(func(CaptureState)) (unsubscribe func())
}

// CaptionSource is implemented by capture adapters that stream partial
// transcripts.
type CaptionSource interface {
	OnInterim(func(text string)) (unsubscribe func())
}

// EvalRequest carries the user's utterance and the conversation so far.
type EvalRequest struct {
	UserText string
	History  []Message
}

// Evaluator produces the next assistant utterance.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvalRequest) (string, error)
}

type EvaluatorFunc func(ctx context.Context, req EvalRequest) (string, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req EvalRequest) (string, error) {
	return f(ctx, req)
}
