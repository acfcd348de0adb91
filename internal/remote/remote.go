// Package remote drives speech and capture in a connected browser. The
// browser receives commands over the session websocket and answers each one
// with a message carrying the same command id.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"speakloop/agent/internal/token"
	"speakloop/agent/internal/turn"
	"speakloop/agent/internal/uiws"
)

// Outbound command types.
const (
	CmdSpeak        = "speak"
	CmdStopSpeech   = "stop_speech"
	CmdStartCapture = "start_capture"
	CmdStopCapture  = "stop_capture"
	CmdCleanup      = "cleanup"
)

// Inbound reply types.
const (
	MsgSpeakDone    = "speak_done"
	MsgTranscript   = "transcript"
	MsgCaptureState = "capture_state"
	MsgCaption      = "caption"
)

// errorUnavailable is the payload error value the browser reports when it
// has no voice or microphone permission.
const errorUnavailable = "unavailable"

type Sender interface {
	Send(ctx context.Context, sessionID string, msg uiws.Message) error
}

type Option func(*Client)

func WithIDGenerator(g token.Generator) Option { return func(c *Client) { c.newID = g } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithSendTimeout bounds each websocket write.
func WithSendTimeout(d time.Duration) Option { return func(c *Client) { c.sendTimeout = d } }

// Client implements turn.SpeechOutput, turn.Capture and turn.CaptionSource
// for one session.
type Client struct {
	sessionID   string
	out         Sender
	newID       token.Generator
	log         zerolog.Logger
	sendTimeout time.Duration

	mu        sync.Mutex
	pending   map[string]chan uiws.Message
	speaking  string
	recording string
	subSeq    int
	stateSubs map[int]func(turn.CaptureState)
	capSubs   map[int]func(string)
}

var (
	_ turn.SpeechOutput  = (*Client)(nil)
	_ turn.Capture       = (*Client)(nil)
	_ turn.CaptionSource = (*Client)(nil)
)

func New(sessionID string, out Sender, opts ...Option) *Client {
	c := &Client{
		sessionID:   sessionID,
		out:         out,
		newID:       token.New,
		log:         zerolog.Nop(),
		sendTimeout: 5 * time.Second,
		pending:     make(map[string]chan uiws.Message),
		stateSubs:   make(map[int]func(turn.CaptureState)),
		capSubs:     make(map[int]func(string)),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("component", "remote").Str("session_id", sessionID).Logger()
	return c
}

func (c *Client) send(ctx context.Context, typ, cmdID string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	return c.out.Send(ctx, c.sessionID, uiws.Message{Type: typ, CommandID: cmdID, Payload: payload})
}

// sendAsync is used from Stop-style calls that must not block.
func (c *Client) sendAsync(typ, cmdID string) {
	go func() {
		if err := c.send(context.Background(), typ, cmdID, nil); err != nil {
			c.log.Debug().Err(err).Str("type", typ).Msg("command not delivered")
		}
	}()
}

func (c *Client) register() (string, chan uiws.Message) {
	id := c.newID()
	ch := make(chan uiws.Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return id, ch
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve hands msg to the command waiting on id, if any.
func (c *Client) resolve(id string, msg uiws.Message) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func unavailable(err error) error {
	return errors.Wrapf(turn.ErrUnavailable, "%v", err)
}

func replyErr(msg uiws.Message) error {
	switch e := msg.Str("error"); e {
	case "":
		return nil
	case errorUnavailable:
		return errors.Wrap(turn.ErrUnavailable, "browser")
	default:
		return errors.New(e)
	}
}

func (c *Client) Speak(ctx context.Context, text string, opts turn.SpeakOptions) error {
	id, ch := c.register()
	c.mu.Lock()
	c.speaking = id
	c.mu.Unlock()
	defer func() {
		c.forget(id)
		c.mu.Lock()
		if c.speaking == id {
			c.speaking = ""
		}
		c.mu.Unlock()
	}()

	if err := c.send(ctx, CmdSpeak, id, map[string]any{"text": text, "can_skip": opts.CanSkip}); err != nil {
		return unavailable(err)
	}
	select {
	case msg := <-ch:
		return replyErr(msg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the browser to cancel playback and releases the pending Speak.
func (c *Client) Stop() {
	c.mu.Lock()
	id := c.speaking
	c.speaking = ""
	c.mu.Unlock()
	if id == "" {
		return
	}
	c.resolve(id, uiws.Message{Type: MsgSpeakDone, CommandID: id})
	c.sendAsync(CmdStopSpeech, id)
}

func (c *Client) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking != ""
}

func (c *Client) StartRecording(ctx context.Context) (turn.Transcript, error) {
	id, ch := c.register()
	c.mu.Lock()
	c.recording = id
	c.mu.Unlock()
	defer func() {
		c.forget(id)
		c.mu.Lock()
		if c.recording == id {
			c.recording = ""
		}
		c.mu.Unlock()
	}()

	if err := c.send(ctx, CmdStartCapture, id, nil); err != nil {
		return turn.Transcript{}, unavailable(err)
	}
	select {
	case msg := <-ch:
		if err := replyErr(msg); err != nil {
			return turn.Transcript{}, err
		}
		return turn.Transcript{Text: msg.Str("text"), Confidence: msg.Float("confidence")}, nil
	case <-ctx.Done():
		return turn.Transcript{}, ctx.Err()
	}
}

// StopRecording asks the browser to finish; it answers with the transcript
// of what was heard so far.
func (c *Client) StopRecording() {
	c.mu.Lock()
	id := c.recording
	c.mu.Unlock()
	if id != "" {
		c.sendAsync(CmdStopCapture, id)
	}
}

// Cleanup releases every pending command with an empty reply.
func (c *Client) Cleanup() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan uiws.Message)
	c.speaking, c.recording = "", ""
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- uiws.Message{CommandID: id}
	}
	c.sendAsync(CmdCleanup, "")
}

func (c *Client) OnState(cb func(turn.CaptureState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subSeq++
	id := c.subSeq
	c.stateSubs[id] = cb
	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

func (c *Client) OnInterim(cb func(string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subSeq++
	id := c.subSeq
	c.capSubs[id] = cb
	return func() {
		c.mu.Lock()
		delete(c.capSubs, id)
		c.mu.Unlock()
	}
}

// Deliver consumes a browser reply. It reports false for messages that are
// not adapter replies.
func (c *Client) Deliver(msg uiws.Message) bool {
	switch msg.Type {
	case MsgSpeakDone, MsgTranscript:
		if !c.resolve(msg.CommandID, msg) {
			c.log.Debug().Str("type", msg.Type).Str("command_id", msg.CommandID).Msg("reply for unknown command")
		}
		return true
	case MsgCaptureState:
		state := turn.CaptureState(msg.Str("state"))
		c.mu.Lock()
		cbs := make([]func(turn.CaptureState), 0, len(c.stateSubs))
		for _, cb := range c.stateSubs {
			cbs = append(cbs, cb)
		}
		c.mu.Unlock()
		for _, cb := range cbs {
			cb(state)
		}
		return true
	case MsgCaption:
		text := msg.Str("text")
		c.mu.Lock()
		cbs := make([]func(string), 0, len(c.capSubs))
		for _, cb := range c.capSubs {
			cbs = append(cbs, cb)
		}
		c.mu.Unlock()
		for _, cb := range cbs {
			cb(text)
		}
		return true
	}
	return false
}
