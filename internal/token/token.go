// Package token issues opaque identifiers for turns, messages and commands.
package token

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a fresh identifier on every call. Two calls never return
// the same value within a process.
type Generator func() string

// New returns a time-ordered UUIDv7 string, falling back to a random v4 when
// the clock-based variant cannot be produced.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Sequence returns a deterministic generator yielding prefix-1, prefix-2, ...
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
