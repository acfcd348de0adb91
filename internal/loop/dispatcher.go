// Package loop routes inbound UI messages to the session they belong to.
package loop

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"speakloop/agent/internal/remote"
	"speakloop/agent/internal/store"
	"speakloop/agent/internal/turn"
	"speakloop/agent/internal/uiws"
)

// Inbound control message types.
const (
	MsgHello        = "hello"
	MsgStart        = "start"
	MsgPlay         = "play"
	MsgPause        = "pause"
	MsgResume       = "resume"
	MsgBargeIn      = "barge_in"
	MsgVoiceCommand = "voice_command"
	MsgMessage      = "message"
)

// Target is what a session exposes to the dispatcher.
type Target struct {
	Remote     *remote.Client
	Controller *turn.Controller
}

type Lookup func(sessionID string) (Target, bool)

type Sender interface {
	Send(ctx context.Context, sessionID string, msg uiws.Message) error
}

type Dispatcher struct {
	lookup Lookup
	store  *store.Store
	out    Sender
	log    zerolog.Logger
}

func New(lookup Lookup, st *store.Store, out Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{lookup: lookup, store: st, out: out, log: log.With().Str("component", "dispatcher").Logger()}
}

// OnMessage handles one UI message. Adapter replies go to the session's
// remote client; control messages drive its controller.
func (d *Dispatcher) OnMessage(sessionID string, msg uiws.Message) {
	t, ok := d.lookup(sessionID)
	if !ok {
		d.log.Debug().Str("session_id", sessionID).Str("type", msg.Type).Msg("message for unknown session")
		return
	}
	if msg.Type != remote.MsgCaption && msg.Type != remote.MsgCaptureState {
		d.store.AppendEvent(sessionID, "ui_"+msg.Type, telemetry(msg))
	}
	if t.Remote != nil && t.Remote.Deliver(msg) {
		return
	}

	c := t.Controller
	var err error
	switch msg.Type {
	case MsgHello:
		d.sendSnapshot(sessionID, c)
	case MsgStart:
		err = c.Start()
	case MsgPlay:
		_, err = c.PlayAssistantMessage(msg.Str("text"), msg.Str("key"))
	case MsgPause:
		err = c.Pause()
	case MsgResume:
		err = c.Resume()
	case MsgBargeIn:
		err = c.HandleBargeIn()
	case MsgVoiceCommand:
		err = c.HandleVoiceCommand(msg.Str("command"))
	case MsgMessage:
		role := turn.Role(msg.Str("role"))
		if role == "" {
			role = turn.RoleAssistant
		}
		err = c.AddMessage(turn.Message{ID: msg.Str("id"), Role: role, Text: msg.Str("text")})
	default:
		d.log.Debug().Str("type", msg.Type).Msg("unhandled ui message")
		return
	}
	if err != nil {
		d.log.Warn().Err(err).Str("session_id", sessionID).Str("type", msg.Type).Msg("ui command failed")
		d.store.AppendEvent(sessionID, "ui_command_failed", map[string]any{"type": msg.Type, "error": err.Error()})
	}
}

func (d *Dispatcher) sendSnapshot(sessionID string, c *turn.Controller) {
	if d.out == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := uiws.Message{Type: "snapshot", Payload: map[string]any{"snapshot": c.Snapshot()}}
	if err := d.out.Send(ctx, sessionID, out); err != nil {
		d.log.Debug().Err(err).Msg("snapshot not sent")
	}
}

func telemetry(msg uiws.Message) map[string]any {
	p := map[string]any{"ts_ms": msg.TsMs, "seq": msg.Seq, "recv_ms": time.Now().UnixMilli()}
	if msg.CommandID != "" {
		p["command_id"] = msg.CommandID
	}
	if msg.UtteranceID != "" {
		p["utterance_id"] = msg.UtteranceID
	}
	if e := msg.Str("error"); e != "" {
		p["error"] = e
	}
	return p
}
