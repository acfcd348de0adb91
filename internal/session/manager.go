// Package session owns the live dialogue sessions: one turn controller per
// session, wired to the browser link, the telemetry log and the history store.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"speakloop/agent/internal/commands"
	"speakloop/agent/internal/history"
	"speakloop/agent/internal/loop"
	"speakloop/agent/internal/remote"
	"speakloop/agent/internal/store"
	"speakloop/agent/internal/token"
	"speakloop/agent/internal/turn"
	"speakloop/agent/internal/uiws"
)

var ErrNotFound = errors.New("session not found")

type Options struct {
	Turn      turn.Config
	Store     *store.Store
	History   history.Store
	Registry  *uiws.Registry
	Evaluator turn.Evaluator
	Commands  *commands.Matcher
	Logger    zerolog.Logger
	NewID     token.Generator
	// Retention is how long an ended session's telemetry stays readable.
	// Zero forgets it as soon as the session ends.
	Retention time.Duration
}

type Session struct {
	ID         string
	CreatedAt  time.Time
	Controller *turn.Controller
	Remote     *remote.Client

	pumpDone chan struct{}
}

type Manager struct {
	opts Options
	log  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.NewID == nil {
		opts.NewID = token.New
	}
	if opts.Store == nil {
		opts.Store = store.New(0)
	}
	if opts.History == nil {
		opts.History = history.NewMemoryStore()
	}
	if opts.Registry == nil {
		opts.Registry = uiws.NewRegistry()
	}
	return &Manager{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Store() *store.Store { return m.opts.Store }

func (m *Manager) Registry() *uiws.Registry { return m.opts.Registry }

// Create registers a new session and starts its controller in IDLE.
func (m *Manager) Create() (*Session, error) {
	id := m.opts.NewID()
	now := time.Now().UTC()
	if err := m.opts.Store.CreateSession(&store.Session{ID: id, CreatedAt: now}); err != nil {
		return nil, errors.Wrapf(err, "create session %s", id)
	}
	lg := m.log.With().Str("session_id", id).Logger()

	rc := remote.New(id, m.opts.Registry, remote.WithLogger(lg))
	copts := []turn.Option{turn.WithConfig(m.opts.Turn), turn.WithLogger(lg)}
	if m.opts.Commands != nil {
		copts = append(copts, turn.WithCommands(m.opts.Commands))
	}
	ctrl := turn.New(rc, rc, m.opts.Evaluator, copts...)

	s := &Session{ID: id, CreatedAt: now, Controller: ctrl, Remote: rc, pumpDone: make(chan struct{})}
	events, _ := ctrl.SubscribeAll()
	go m.pump(s, events)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	lg.Info().Msg("session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Lookup adapts Get for the UI dispatcher.
func (m *Manager) Lookup(id string) (loop.Target, bool) {
	s, ok := m.Get(id)
	if !ok {
		return loop.Target{}, false
	}
	return loop.Target{Remote: s.Remote, Controller: s.Controller}, true
}

// History returns the persisted messages of a session, oldest first.
func (m *Manager) History(ctx context.Context, id string, limit int) ([]turn.Message, error) {
	if m.opts.Store.GetSession(id) == nil {
		return nil, ErrNotFound
	}
	return m.opts.History.List(ctx, id, limit)
}

// End disposes the controller, drains its events and marks the session
// ended.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Controller.Dispose()
	<-s.pumpDone
	m.opts.Registry.Remove(id, nil)
	if err := m.opts.Store.EndSession(id, time.Now().UTC()); err != nil {
		return errors.Wrapf(err, "end session %s", id)
	}
	if m.opts.Retention <= 0 {
		m.opts.Store.DeleteSession(id)
	}
	m.log.Info().Str("session_id", id).Msg("session ended")
	return nil
}

// Sweep forgets ended sessions whose retention has elapsed and returns how
// many were removed.
func (m *Manager) Sweep(now time.Time) int {
	n := 0
	for _, id := range m.opts.Store.ListSessionIDs() {
		sess := m.opts.Store.GetSession(id)
		if sess == nil || sess.EndedAt == nil {
			continue
		}
		if now.Sub(*sess.EndedAt) >= m.opts.Retention {
			m.opts.Store.DeleteSession(id)
			n++
		}
	}
	if n > 0 {
		m.log.Debug().Int("removed", n).Msg("swept ended sessions")
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			m.Sweep(now.UTC())
		}
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every live session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.End(id)
	}
}

// pump forwards controller events to telemetry, history and the browser
// until the controller is disposed.
func (m *Manager) pump(s *Session, events <-chan turn.Event) {
	defer close(s.pumpDone)
	for ev := range events {
		m.opts.Store.AppendEvent(s.ID, "turn_"+string(ev.Type), eventPayload(ev))

		if ev.Type == turn.EventMessage && ev.Message != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.opts.History.Append(ctx, s.ID, *ev.Message); err != nil {
				m.log.Error().Err(err).Str("session_id", s.ID).Msg("history append failed")
			}
			cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.opts.Registry.Send(ctx, s.ID, uiws.Message{Type: "event", Payload: map[string]any{"event": ev}})
		cancel()
		if err != nil && !errors.Is(err, uiws.ErrNotConnected) {
			m.log.Debug().Err(err).Str("session_id", s.ID).Msg("event push failed")
		}
	}
}

func eventPayload(ev turn.Event) map[string]any {
	p := map[string]any{}
	if ev.Token != "" {
		p["token"] = ev.Token
	}
	switch ev.Type {
	case turn.EventState:
		p["from"], p["to"] = string(ev.From), string(ev.To)
	case turn.EventGhost:
		if ev.Ghost != nil {
			p["key"] = ev.Ghost.Key
		}
	case turn.EventMessage:
		if ev.Message != nil {
			p["id"], p["role"] = ev.Message.ID, string(ev.Message.Role)
		}
	case turn.EventError:
		if ev.Err != nil {
			p["kind"], p["error"] = string(ev.Err.Kind), ev.Err.Error()
		}
	case turn.EventCommand:
		p["command"] = ev.Command
	case turn.EventBargeIn, turn.EventWatchdog:
		if ev.Reason != "" {
			p["reason"] = ev.Reason
		}
	}
	return p
}
