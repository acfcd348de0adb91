// Package turn implements the turn-taking controller that arbitrates between
// assistant speech and user capture in a spoken dialogue.
//
// All controller state is owned by a single event-loop goroutine. Public
// methods enqueue a closure and wait for it; adapter calls run on their own
// goroutines and post their results back to the loop, tagged with the
// TurnContext and operation they were started under.
package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"speakloop/agent/internal/commands"
	"speakloop/agent/internal/dedup"
	"speakloop/agent/internal/floor"
	"speakloop/agent/internal/token"
	"speakloop/agent/internal/watchdog"
)

type Option func(*Controller)

func WithConfig(cfg Config) Option { return func(c *Controller) { c.cfg = cfg } }

// WithIDGenerator sets the generator used for turn tokens and message ids.
func WithIDGenerator(g token.Generator) Option { return func(c *Controller) { c.newID = g } }

func WithLogger(l zerolog.Logger) Option { return func(c *Controller) { c.log = l } }

func WithCommands(m *commands.Matcher) Option { return func(c *Controller) { c.matcher = m } }

// Controller owns one session's dialogue. Create it with New and release it
// with Dispose.
type Controller struct {
	cfg     Config
	speech  SpeechOutput
	capture Capture
	eval    Evaluator
	newID   token.Generator
	matcher *commands.Matcher
	log     zerolog.Logger

	ops       chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// Loop-owned state below.
	disposed    bool
	state       State
	turn        *TurnContext
	spoken      *dedup.Index
	spokenText  map[string]string
	messages    []Message
	ghost       *Ghost
	caption     string
	lastErr     *Error
	pendingUser string

	opSeq     uint64
	pendingOp uint64
	opCancel  context.CancelFunc

	dog   *watchdog.Timer
	floor *floor.Manager

	subs   map[int]subscriber
	subSeq int

	unsubState   func()
	unsubCaption func()
}

// New starts a controller in IDLE. eval may be nil, in which case the
// controller waits in PROCESSING for the host to add the assistant reply
// with AddMessage.
func New(speech SpeechOutput, capture Capture, eval Evaluator, opts ...Option) *Controller {
	c := &Controller{
		cfg:        DefaultConfig(),
		speech:     speech,
		capture:    capture,
		eval:       eval,
		newID:      token.New,
		log:        zerolog.Nop(),
		ops:        make(chan func(), 64),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		state:      StateIdle,
		spoken:     dedup.New(),
		spokenText: make(map[string]string),
		dog:        watchdog.New(),
		subs:       make(map[int]subscriber),
	}
	for _, o := range opts {
		o(c)
	}
	if c.cfg.EventBuffer <= 0 {
		c.cfg.EventBuffer = 64
	}
	if c.matcher == nil {
		c.matcher = commands.Default()
	}
	c.log = c.log.With().Str("component", "turn").Logger()
	c.floor = floor.New(c.cfg.BargeInGuard)
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())

	c.unsubState = capture.OnState(func(s CaptureState) {
		c.post(func() { c.onCaptureState(s) })
	})
	if cs, ok := capture.(CaptionSource); ok {
		c.unsubCaption = cs.OnInterim(func(text string) {
			c.post(func() { c.onInterim(text) })
		})
	}

	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			return
		}
	}
}

// do runs fn on the loop and waits for it. It returns ErrDisposed if fn could
// not run.
func (c *Controller) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(ran) }:
	case <-c.stopped:
		return ErrDisposed
	}
	select {
	case <-ran:
		return nil
	case <-c.stopped:
		select {
		case <-ran:
			return nil
		default:
			return ErrDisposed
		}
	}
}

// post enqueues fn without waiting. Adapter callbacks may fire while the loop
// itself is calling into the adapter, so a full queue hands off to a
// goroutine instead of blocking.
func (c *Controller) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.stopped:
	default:
		go func() {
			select {
			case c.ops <- fn:
			case <-c.stopped:
			}
		}()
	}
}

// PlayAssistantMessage speaks text as a new turn. key is the message
// fingerprint; when empty the content hash of text is used. It reports false
// when the fingerprint was already spoken.
func (c *Controller) PlayAssistantMessage(text, key string) (bool, error) {
	var started bool
	var err error
	if doErr := c.do(func() {
		if c.disposed {
			err = ErrDisposed
			return
		}
		if strings.TrimSpace(text) == "" {
			err = ErrEmptyUtterance
			return
		}
		started = c.play(text, key)
	}); doErr != nil {
		return false, doErr
	}
	return started, err
}

// Start opens the conversation: the starter prompt when configured,
// otherwise listening under a fresh turn. It is a no-op unless IDLE.
func (c *Controller) Start() error {
	return c.command(func() error {
		if c.state != StateIdle {
			return nil
		}
		c.open()
		return nil
	})
}

func (c *Controller) Pause() error {
	return c.command(func() error { c.pause(); return nil })
}

func (c *Controller) Resume() error {
	return c.command(func() error { c.resume(); return nil })
}

// HandleBargeIn interrupts assistant speech. It is a no-op outside READING.
func (c *Controller) HandleBargeIn() error {
	return c.command(func() error {
		if c.state != StateReading {
			c.log.Debug().Str("state", string(c.state)).Msg("barge-in ignored")
			return nil
		}
		d := c.floor.OnUserInterrupt(time.Now())
		if !d.ShouldStop {
			d.Reason = "user_interrupt"
		}
		c.bargeIn(d.Reason)
		return nil
	})
}

// HandleVoiceCommand runs a command given by name ("repeat") or as a spoken
// phrase ("say it again").
func (c *Controller) HandleVoiceCommand(command string) error {
	m, ok := c.matcher.Lookup(command)
	if !ok {
		return errors.Wrapf(ErrUnknownCommand, "%q", command)
	}
	return c.command(func() error { return c.runCommand(m) })
}

// AddMessage appends an authoritative message. An assistant message that
// matches the ghost bubble replaces it without being spoken again; any other
// unspoken assistant message is played when AutoPlay is on.
func (c *Controller) AddMessage(m Message) error {
	return c.command(func() error {
		c.addMessage(m)
		return nil
	})
}

// HasSpoken reports whether fingerprint is in the spoken set.
func (c *Controller) HasSpoken(fingerprint string) bool { return c.spoken.Has(fingerprint) }

func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	if err := c.do(func() {
		s = Snapshot{
			State:           c.state,
			Caption:         c.caption,
			Messages:        append([]Message(nil), c.messages...),
			PendingUserText: c.pendingUser,
			LastError:       c.lastErr,
			Disposed:        c.disposed,
		}
		if c.turn != nil {
			s.Token = c.turn.Token
		}
		if c.ghost != nil {
			g := *c.ghost
			s.Ghost = &g
		}
	}); err != nil {
		return Snapshot{Disposed: true}
	}
	return s
}

// Dispose stops all adapters, releases adapter subscriptions and closes
// every event channel. It is safe to call more than once.
func (c *Controller) Dispose() {
	_ = c.do(func() {
		if c.disposed {
			return
		}
		c.disposed = true
		c.halt()
		c.capture.Cleanup()
		if c.turn != nil {
			c.turn.cancel()
		}
		if c.unsubState != nil {
			c.unsubState()
		}
		if c.unsubCaption != nil {
			c.unsubCaption()
		}
		for id, sub := range c.subs {
			delete(c.subs, id)
			sub.close()
		}
		c.rootCancel()
		c.log.Debug().Msg("disposed")
	})
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Controller) command(fn func() error) error {
	var err error
	if doErr := c.do(func() {
		if c.disposed {
			err = ErrDisposed
			return
		}
		err = fn()
	}); doErr != nil {
		return doErr
	}
	return err
}
