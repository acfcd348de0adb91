package turn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"speakloop/agent/internal/token"
)

// overlap counts moments where speech and recording were active together.
type overlap struct{ n atomic.Int32 }

type speakCall struct {
	text    string
	ch      chan error
	live    bool
	settled bool
}

// fakeSpeech plays a speech adapter. With stubborn set it ignores ctx and
// Stop: Stop only clears IsSpeaking and the call settles on SettleLate.
type fakeSpeech struct {
	mu       sync.Mutex
	calls    []*speakCall
	stops    int
	mon      *overlap
	cap      *fakeCapture
	stubborn bool
}

func (f *fakeSpeech) Speak(ctx context.Context, text string, _ SpeakOptions) error {
	call := &speakCall{text: text, ch: make(chan error, 1), live: true}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.cap != nil && f.cap.Recording() {
		f.mon.n.Add(1)
	}
	var err error
	if f.stubborn {
		err = <-call.ch
	} else {
		select {
		case err = <-call.ch:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	f.mu.Lock()
	call.live = false
	f.mu.Unlock()
	return err
}

func (f *fakeSpeech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	for _, c := range f.calls {
		if c.live {
			c.live = false
			if !f.stubborn {
				c.settled = true
				c.ch <- nil
			}
		}
	}
}

// SettleLate settles the oldest unsettled call with err, live or not.
func (f *fakeSpeech) SettleLate(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if !c.settled {
			c.settled = true
			c.live = false
			c.ch <- err
			return true
		}
	}
	return false
}

func (f *fakeSpeech) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.live {
			return true
		}
	}
	return false
}

// Finish settles the oldest live Speak call with err.
func (f *fakeSpeech) Finish(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.live {
			c.live = false
			c.settled = true
			c.ch <- err
			return true
		}
	}
	return false
}

func (f *fakeSpeech) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.text)
	}
	return out
}

func (f *fakeSpeech) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type recResult struct {
	tr  Transcript
	err error
}

type recCall struct {
	ch   chan recResult
	live bool
}

type fakeCapture struct {
	mu        sync.Mutex
	calls     []*recCall
	stops     int
	cleanups  int
	listeners map[int]func(CaptureState)
	interims  map[int]func(string)
	nextID    int
	speech    *fakeSpeech
	mon       *overlap
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{listeners: map[int]func(CaptureState){}, interims: map[int]func(string){}}
}

func (f *fakeCapture) StartRecording(ctx context.Context) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	call := &recCall{ch: make(chan recResult, 1), live: true}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.speech != nil && f.speech.IsSpeaking() {
		f.mon.n.Add(1)
	}
	var res recResult
	select {
	case res = <-call.ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	f.mu.Lock()
	call.live = false
	f.mu.Unlock()
	return res.tr, res.err
}

func (f *fakeCapture) release() {
	for _, c := range f.calls {
		if c.live {
			c.live = false
			c.ch <- recResult{}
		}
	}
}

func (f *fakeCapture) StopRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.release()
}

func (f *fakeCapture) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.release()
}

func (f *fakeCapture) OnState(cb func(CaptureState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = cb
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeCapture) OnInterim(cb func(string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.interims[id] = cb
	return func() {
		f.mu.Lock()
		delete(f.interims, id)
		f.mu.Unlock()
	}
}

func (f *fakeCapture) Emit(s CaptureState) {
	f.mu.Lock()
	cbs := make([]func(CaptureState), 0, len(f.listeners))
	for _, cb := range f.listeners {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (f *fakeCapture) EmitInterim(text string) {
	f.mu.Lock()
	cbs := make([]func(string), 0, len(f.interims))
	for _, cb := range f.interims {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(text)
	}
}

// Say resolves the live recording with text.
func (f *fakeCapture) Say(text string) bool { return f.resolve(recResult{tr: Transcript{Text: text}}) }

func (f *fakeCapture) Fail(err error) bool { return f.resolve(recResult{err: err}) }

func (f *fakeCapture) resolve(r recResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.live {
			c.live = false
			c.ch <- r
			return true
		}
	}
	return false
}

func (f *fakeCapture) Recording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.live {
			return true
		}
	}
	return false
}

func (f *fakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCapture) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners) + len(f.interims)
}

type rig struct {
	t       *testing.T
	c       *Controller
	speech  *fakeSpeech
	capture *fakeCapture
	mon     *overlap
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WatchdogBase = 5 * time.Second
	cfg.WatchdogPerRune = 0
	cfg.BargeInGuard = 0
	cfg.EmptyRestartDelay = 0
	cfg.EvaluatorTimeout = 5 * time.Second
	return cfg
}

func newRig(t *testing.T, cfg Config, eval Evaluator) *rig {
	t.Helper()
	mon := &overlap{}
	capture := newFakeCapture()
	speech := &fakeSpeech{mon: mon, cap: capture}
	capture.speech = speech
	capture.mon = mon
	c := New(speech, capture, eval, WithConfig(cfg), WithIDGenerator(token.Sequence("id")))
	r := &rig{t: t, c: c, speech: speech, capture: capture, mon: mon}
	t.Cleanup(func() {
		c.Dispose()
		require.Zero(t, mon.n.Load(), "speech and capture overlapped")
	})
	return r
}

func (r *rig) waitState(s State) Snapshot {
	r.t.Helper()
	var snap Snapshot
	require.Eventually(r.t, func() bool {
		snap = r.c.Snapshot()
		return snap.State == s
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", s)
	return snap
}

func (r *rig) waitSpeaks(n int) {
	r.t.Helper()
	require.Eventually(r.t, func() bool { return len(r.speech.Texts()) == n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d speak calls", n)
}

func (r *rig) waitStarts(n int) {
	r.t.Helper()
	require.Eventually(r.t, func() bool { return r.capture.Starts() == n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d recordings", n)
}

// waitLiveRecording waits until StartRecording is blocked on the fake.
func (r *rig) waitLiveRecording() {
	r.t.Helper()
	require.Eventually(r.t, r.capture.Recording, 2*time.Second, 5*time.Millisecond)
}

func (r *rig) waitLiveSpeech() {
	r.t.Helper()
	require.Eventually(r.t, r.speech.IsSpeaking, 2*time.Second, 5*time.Millisecond)
}

// ctxSpeech reports speaking only while the Speak context is live, so it
// stops speaking the moment its context is cancelled.
type ctxSpeech struct {
	mu    sync.Mutex
	ctx   context.Context
	stops int
}

func (f *ctxSpeech) Speak(ctx context.Context, _ string, _ SpeakOptions) error {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *ctxSpeech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *ctxSpeech) IsSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx != nil && f.ctx.Err() == nil
}

func (f *ctxSpeech) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}
