package uiws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
)

var ErrNotConnected = errors.New("ui not connected")

type conn struct {
	c   *ws.Conn
	seq int64
}

// Registry keeps at most one UI connection per session.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*conn
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]*conn)} }

// Replace sets the connection for a session and closes the previous one if present.
func (r *Registry) Replace(sessionID string, c *ws.Conn) (prevClosed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[sessionID]; ok && old.c != nil {
		_ = old.c.Close(ws.StatusNormalClosure, "replaced")
		prevClosed = true
	}
	r.conns[sessionID] = &conn{c: c}
	return
}

func (r *Registry) Get(sessionID string) *ws.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cn := r.conns[sessionID]; cn != nil {
		return cn.c
	}
	return nil
}

func (r *Registry) Connected(sessionID string) bool { return r.Get(sessionID) != nil }

// Remove drops the session's connection if it is still c. A nil c removes
// whatever is registered.
func (r *Registry) Remove(sessionID string, c *ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cn := r.conns[sessionID]; cn != nil && (c == nil || cn.c == c) {
		delete(r.conns, sessionID)
	}
}

// Close closes every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cn := range r.conns {
		_ = cn.c.Close(ws.StatusGoingAway, "shutdown")
		delete(r.conns, id)
	}
}

// Send stamps msg with the session, time and next sequence number and
// writes it.
func (r *Registry) Send(ctx context.Context, sessionID string, msg Message) error {
	r.mu.Lock()
	cn := r.conns[sessionID]
	if cn == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	cn.seq++
	msg.Seq = cn.seq
	r.mu.Unlock()

	msg.SessionID = sessionID
	if msg.TsMs == 0 {
		msg.TsMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	metricMessages.WithLabelValues("out", msg.Type).Inc()
	return cn.c.Write(ctx, ws.MessageText, b)
}
