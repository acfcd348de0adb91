// Package watchdog provides a single-shot deadline that forces progress when
// an asynchronous call never settles.
package watchdog

import (
	"sync"
	"time"
)

// Timer fires its callback at most once per Arm. Disarm, or a later Arm,
// guarantees the earlier callback will not run even if its deadline already
// elapsed and the runtime timer is racing to deliver it.
type Timer struct {
	mu  sync.Mutex
	t   *time.Timer
	gen uint64
}

func New() *Timer { return &Timer{} }

// Arm schedules fn after d, replacing any pending deadline. A non-positive
// d leaves the timer disarmed.
func (w *Timer) Arm(d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	if d <= 0 {
		return
	}
	gen := w.gen
	w.t = time.AfterFunc(d, func() {
		w.mu.Lock()
		if gen != w.gen {
			w.mu.Unlock()
			return
		}
		w.t = nil
		w.gen++
		w.mu.Unlock()
		fn()
	})
}

// Disarm cancels the pending deadline and reports whether one was pending.
func (w *Timer) Disarm() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *Timer) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t != nil
}

func (w *Timer) stopLocked() bool {
	w.gen++
	if w.t == nil {
		return false
	}
	w.t.Stop()
	w.t = nil
	return true
}

// Deadline computes the speaking deadline for text: base plus perRune for
// every rune, capped at max when max is positive.
func Deadline(text string, base, perRune, max time.Duration) time.Duration {
	d := base + time.Duration(len([]rune(text)))*perRune
	if max > 0 && d > max {
		d = max
	}
	return d
}
