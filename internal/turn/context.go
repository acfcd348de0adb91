package turn

import (
	"context"
	"time"
)

// TurnContext identifies one turn. Every asynchronous call started for the
// turn carries it; a callback whose TurnContext is no longer current is
// discarded.
type TurnContext struct {
	Token     string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newTurnContext(parent context.Context, tok string) *TurnContext {
	ctx, cancel := context.WithCancel(parent)
	return &TurnContext{Token: tok, StartedAt: time.Now(), ctx: ctx, cancel: cancel}
}

// Context is cancelled when the turn is superseded, stopped or disposed.
func (tc *TurnContext) Context() context.Context { return tc.ctx }
