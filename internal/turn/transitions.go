package turn

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"speakloop/agent/internal/commands"
	"speakloop/agent/internal/dedup"
	"speakloop/agent/internal/watchdog"
)

// Everything in this file runs on the loop goroutine.

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.state = to
	c.log.Debug().Str("from", string(from)).Str("to", string(to)).Str("token", c.token()).Msg("state")
	c.emit(Event{Type: EventState, From: from, To: to})
}

func (c *Controller) token() string {
	if c.turn == nil {
		return ""
	}
	return c.turn.Token
}

// startNewTurn supersedes the current turn: its speech is stopped, its
// context cancelled and a fresh token issued.
func (c *Controller) startNewTurn() *TurnContext {
	c.stopSpeech()
	if c.turn != nil {
		c.turn.cancel()
	}
	c.halt()
	c.capture.Cleanup()
	c.pendingUser = ""
	c.setGhost(nil)
	c.turn = newTurnContext(c.rootCtx, c.newID())
	metricTurnsStarted.Inc()
	return c.turn
}

// halt stops every in-flight activity without touching the turn. Speech is
// stopped before the operation is cancelled, since adapters may clear
// IsSpeaking on cancellation.
func (c *Controller) halt() {
	c.stopSpeech()
	c.endOp()
	c.dog.Disarm()
	c.capture.StopRecording()
	c.floor.Reset()
}

func (c *Controller) stopSpeech() {
	if c.speech.IsSpeaking() {
		c.speech.Stop()
	}
}

// beginOp makes a new asynchronous operation the only one whose result is
// accepted. The previous operation's context is cancelled.
func (c *Controller) beginOp(tc *TurnContext) (uint64, context.Context) {
	c.endOp()
	c.opSeq++
	ctx, cancel := context.WithCancel(tc.ctx)
	c.pendingOp = c.opSeq
	c.opCancel = cancel
	return c.opSeq, ctx
}

func (c *Controller) endOp() {
	if c.opCancel != nil {
		c.opCancel()
		c.opCancel = nil
	}
	c.pendingOp = 0
}

func (c *Controller) current(tc *TurnContext, op uint64) bool {
	return !c.disposed && c.turn == tc && op != 0 && c.pendingOp == op
}

func (c *Controller) stale(op string, tc *TurnContext) {
	metricStaleCallbacks.WithLabelValues(op).Inc()
	c.log.Debug().Str("op", op).Str("token", tc.Token).Str("current", c.token()).
		Str("kind", string(KindStaleCallback)).Msg("stale callback discarded")
}

func (c *Controller) fail(kind Kind, op string, err error) {
	e := &Error{Kind: kind, Op: op, Err: err}
	c.lastErr = e
	metricErrors.WithLabelValues(string(kind)).Inc()
	c.log.Error().Err(err).Str("kind", string(kind)).Str("op", op).Str("token", c.token()).Msg("turn failed")
	c.halt()
	c.setState(StatePaused)
	c.emit(Event{Type: EventError, Err: e})
}

func (c *Controller) setGhost(g *Ghost) {
	if c.ghost == nil && g == nil {
		return
	}
	c.ghost = g
	ev := Event{Type: EventGhost}
	if g != nil {
		cp := *g
		ev.Ghost = &cp
	}
	c.emit(ev)
}

func (c *Controller) setCaption(text string) {
	if c.caption == text {
		return
	}
	c.caption = text
	c.emit(Event{Type: EventCaption, Caption: text})
}

func (c *Controller) appendMessage(m Message) Message {
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
	c.messages = append(c.messages, m)
	cp := m
	c.emit(Event{Type: EventMessage, Message: &cp})
	return m
}

// hasAuthoritative reports whether a Message backing the utterance exists.
func (c *Controller) hasAuthoritative(key, hash string) bool {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		if (m.ID != "" && dedup.Fingerprint(m.ID, m.Text) == key) || dedup.ContentHash(m.Text) == hash {
			return true
		}
	}
	return false
}

// play is the body of PlayAssistantMessage. The fingerprint enters the
// spoken set before Speak is issued.
func (c *Controller) play(text, key string) bool {
	hash := dedup.ContentHash(text)
	if key == "" {
		key = hash
	}
	if !c.spoken.Add(key) {
		metricDedupRejected.Inc()
		c.log.Debug().Str("key", key).Msg("already spoken")
		return false
	}
	c.spokenText[key] = text
	tc := c.startNewTurn()
	if !c.hasAuthoritative(key, hash) {
		c.setGhost(&Ghost{Key: key, Text: text, ContentHash: hash})
	}
	c.speak(tc, text)
	return true
}

func (c *Controller) speak(tc *TurnContext, text string) {
	c.lastErr = nil
	c.setState(StateReading)
	op, ctx := c.beginOp(tc)
	started := time.Now()
	c.floor.OnSpeechStarted(tc.Token, started)

	deadline := watchdog.Deadline(text, c.cfg.WatchdogBase, c.cfg.WatchdogPerRune, c.cfg.WatchdogMax)
	c.dog.Arm(deadline, func() {
		c.post(func() { c.onWatchdog(tc, op, deadline) })
	})

	go func() {
		err := ctx.Err()
		if err == nil {
			err = c.speech.Speak(ctx, text, SpeakOptions{CanSkip: true})
		}
		c.post(func() { c.onSpeechSettled(tc, op, started, err) })
	}()
}

func (c *Controller) onSpeechSettled(tc *TurnContext, op uint64, started time.Time, err error) {
	if !c.current(tc, op) {
		c.stale("speak", tc)
		return
	}
	c.dog.Disarm()
	metricSpeakSeconds.Observe(time.Since(started).Seconds())
	c.floor.OnSpeechStopped(tc.Token, time.Now())
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			c.fail(KindAdapterUnavailable, "speak", err)
			return
		}
		c.log.Warn().Err(err).Str("token", tc.Token).Msg("speech failed, continuing to listen")
	}
	c.stopSpeech()
	c.listen(tc)
}

func (c *Controller) onWatchdog(tc *TurnContext, op uint64, deadline time.Duration) {
	if !c.current(tc, op) {
		c.stale("watchdog", tc)
		return
	}
	metricWatchdogFires.Inc()
	c.log.Warn().Str("token", tc.Token).Dur("deadline", deadline).
		Str("kind", string(KindWatchdogTimeout)).Msg("speech did not settle, forcing listen")
	c.floor.OnSpeechStopped(tc.Token, time.Now())
	c.emit(Event{Type: EventWatchdog, Reason: deadline.String()})
	c.stopSpeech()
	c.listen(tc)
}

func (c *Controller) onCaptureState(s CaptureState) {
	if c.disposed || s != CaptureRecording || c.state != StateReading || !c.cfg.BargeInEnabled {
		return
	}
	d := c.floor.OnCaptureActivity(time.Now())
	if d.Reason == "guard_window" {
		metricBargeInGuardBlocks.Inc()
		return
	}
	if d.ShouldStop {
		c.bargeIn(d.Reason)
	}
}

// bargeIn cuts speech off and hands the floor to the user under the same
// turn.
func (c *Controller) bargeIn(reason string) {
	tc := c.turn
	c.speech.Stop()
	c.endOp()
	c.dog.Disarm()
	c.floor.OnSpeechStopped(tc.Token, time.Now())
	metricBargeIn.WithLabelValues(reason).Inc()
	c.log.Info().Str("token", tc.Token).Str("reason", reason).Msg("barge-in")
	c.emit(Event{Type: EventBargeIn, Reason: reason})
	c.listen(tc)
}

func (c *Controller) listen(tc *TurnContext) {
	c.setState(StateListening)
	c.setCaption("")
	op, ctx := c.beginOp(tc)
	go func() {
		var tr Transcript
		err := ctx.Err()
		if err == nil {
			tr, err = c.capture.StartRecording(ctx)
		}
		c.post(func() { c.onTranscript(tc, op, tr, err) })
	}()
}

func (c *Controller) onInterim(text string) {
	if c.disposed || c.state != StateListening {
		return
	}
	c.setCaption(text)
}

func (c *Controller) onTranscript(tc *TurnContext, op uint64, tr Transcript, err error) {
	if !c.current(tc, op) {
		c.stale("capture", tc)
		return
	}
	if err != nil {
		c.fail(KindAdapterUnavailable, "capture", err)
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		c.restartCapture(tc, op)
		return
	}
	c.endOp()
	c.setCaption("")

	if c.cfg.VoiceCommands {
		if m, ok := c.matcher.MatchUtterance(text); ok {
			c.log.Info().Str("command", m.Name).Float64("confidence", m.Confidence).Msg("voice command detected")
			if err := c.runCommand(m); err != nil {
				c.log.Warn().Err(err).Str("command", m.Name).Msg("voice command failed")
			}
			if c.state == StateListening && c.pendingOp == 0 && c.turn == tc {
				c.listen(tc)
			}
			return
		}
	}

	c.appendMessage(Message{ID: c.newID(), Role: RoleUser, Text: text})
	c.pendingUser = text
	c.evaluate(tc)
}

func (c *Controller) restartCapture(tc *TurnContext, op uint64) {
	metricEmptyCaptures.Inc()
	c.log.Debug().Str("token", tc.Token).Str("kind", string(KindEmptyCapture)).Msg("empty transcript, restarting capture")
	if c.cfg.EmptyRestartDelay <= 0 {
		c.listen(tc)
		return
	}
	time.AfterFunc(c.cfg.EmptyRestartDelay, func() {
		c.post(func() {
			if !c.current(tc, op) {
				c.stale("restart", tc)
				return
			}
			c.listen(tc)
		})
	})
}

func (c *Controller) evaluate(tc *TurnContext) {
	c.setState(StateProcessing)
	if c.eval == nil {
		c.endOp()
		return
	}
	op, ctx := c.beginOp(tc)
	cancel := context.CancelFunc(func() {})
	if c.cfg.EvaluatorTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.EvaluatorTimeout)
	}
	req := EvalRequest{UserText: c.pendingUser, History: append([]Message(nil), c.messages...)}
	started := time.Now()
	go func() {
		defer cancel()
		reply, err := c.eval.Evaluate(ctx, req)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		metricEvaluateSeconds.Observe(time.Since(started).Seconds())
		c.post(func() { c.onEvaluated(tc, op, reply, err) })
	}()
}

func (c *Controller) onEvaluated(tc *TurnContext, op uint64, reply string, err error) {
	if !c.current(tc, op) {
		c.stale("evaluate", tc)
		return
	}
	c.endOp()
	if err != nil {
		c.fail(KindEvaluatorFailure, "evaluate", err)
		return
	}
	reply = strings.TrimSpace(reply)
	c.pendingUser = ""
	if reply == "" {
		c.log.Warn().Str("token", tc.Token).Msg("evaluator returned nothing, listening again")
		c.listen(tc)
		return
	}
	m := c.appendMessage(Message{ID: c.newID(), Role: RoleAssistant, Text: reply})
	c.play(m.Text, dedup.Fingerprint(m.ID, m.Text))
}

func (c *Controller) addMessage(m Message) {
	fp := dedup.Fingerprint(m.ID, m.Text)
	if m.ID == "" {
		m.ID = c.newID()
	}
	if m.Role != RoleAssistant {
		c.appendMessage(m)
		return
	}
	if g := c.ghost; g != nil && (g.Key == fp || g.ContentHash == dedup.ContentHash(m.Text)) {
		c.spoken.Add(fp)
		c.spokenText[fp] = m.Text
		c.appendMessage(m)
		c.setGhost(nil)
		return
	}
	c.appendMessage(m)
	if c.cfg.AutoPlay && !c.spoken.Has(fp) && strings.TrimSpace(m.Text) != "" {
		c.play(m.Text, fp)
	}
}

// open begins a conversation from IDLE or from a PAUSED state with no turn.
func (c *Controller) open() {
	if c.cfg.StarterPrompt != "" && c.play(c.cfg.StarterPrompt, "") {
		return
	}
	c.listen(c.startNewTurn())
}

func (c *Controller) pause() {
	if c.state == StatePaused {
		return
	}
	c.halt()
	c.setState(StatePaused)
}

func (c *Controller) resume() {
	if c.state != StatePaused {
		return
	}
	c.lastErr = nil
	switch {
	case c.turn != nil && c.pendingUser != "" && c.eval != nil:
		c.evaluate(c.turn)
	case c.turn != nil:
		c.listen(c.turn)
	case c.cfg.StarterPrompt != "":
		c.open()
	default:
		c.setState(StateIdle)
	}
}

// stop ends the current turn and returns to IDLE.
func (c *Controller) stop() {
	c.halt()
	if c.turn != nil {
		c.turn.cancel()
		c.turn = nil
	}
	c.pendingUser = ""
	c.setGhost(nil)
	c.setCaption("")
	c.setState(StateIdle)
}

func (c *Controller) repeat() error {
	key, ok := c.spoken.Latest()
	if !ok {
		return ErrNothingToRepeat
	}
	text := c.spokenText[key]
	if text == "" {
		return ErrNothingToRepeat
	}
	c.spoken.Remove(key)
	c.play(text, key)
	return nil
}

func (c *Controller) runCommand(m commands.Match) error {
	metricCommands.WithLabelValues(m.Name).Inc()
	c.emit(Event{Type: EventCommand, Command: m.Name, Reason: m.Phrase})
	switch m.Name {
	case commands.Repeat:
		return c.repeat()
	case commands.Pause:
		c.pause()
	case commands.Resume:
		c.resume()
	case commands.Stop:
		c.stop()
	}
	return nil
}
