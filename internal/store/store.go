package store

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultMaxEvents caps the telemetry log kept per session.
const DefaultMaxEvents = 200

// EventsTruncated heads a capped log and counts every event dropped so far.
const EventsTruncated = "events_truncated"

type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Session struct {
	ID        string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	Status    string     `json:"status"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Store keeps session metadata and a bounded telemetry log per session.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	events    map[string][]Event
	dropped   map[string]int
	maxEvents int
}

func New(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{
		sessions:  make(map[string]*Session),
		events:    make(map[string][]Event),
		dropped:   make(map[string]int),
		maxEvents: maxEvents,
	}
}

func (s *Store) CreateSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	if sess.Status == "" {
		sess.Status = "active"
	}
	s.sessions[sess.ID] = sess
	s.events[sess.ID] = []Event{}
	return nil
}

// GetSession returns a copy of the session, or nil.
func (s *Store) GetSession(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

func (s *Store) EndSession(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = "ended"
	sess.EndedAt = &at
	return nil
}

// AppendEvent records an event for a registered session. Events for unknown
// sessions are returned but not kept. Past the cap the oldest events are
// dropped and a single EventsTruncated marker leads the log.
func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) Event {
	evt := Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return evt
	}
	evs := append(s.events[sessionID], evt)
	if len(evs) <= s.maxEvents {
		s.events[sessionID] = evs
		return evt
	}
	real := evs
	if real[0].Type == EventsTruncated {
		real = real[1:]
	}
	keep := s.maxEvents - 1
	drop := len(real) - keep
	if drop < 0 {
		drop = 0
	}
	s.dropped[sessionID] += drop
	out := make([]Event, 0, s.maxEvents)
	out = append(out, Event{Type: EventsTruncated, Ts: evt.Ts, Payload: map[string]any{
		"session_id": sessionID, "dropped": s.dropped[sessionID], "kept": keep,
	}})
	s.events[sessionID] = append(out, real[drop:]...)
	return evt
}

func (s *Store) ListEvents(sessionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

func (s *Store) ListSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// DeleteSession forgets a session and its events.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.events, id)
	delete(s.dropped, id)
}
