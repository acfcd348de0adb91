// Package history persists the authoritative messages of each session so a
// transcript survives the controller that produced it.
package history

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"speakloop/agent/internal/turn"
)

var ErrEmptySession = errors.New("history: empty session id")

type Store interface {
	Append(ctx context.Context, sessionID string, m turn.Message) error
	// List returns messages oldest first. limit <= 0 returns all of them.
	List(ctx context.Context, sessionID string, limit int) ([]turn.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a SQLite store for dsn, or an in-memory store when dsn is empty.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(dsn)
}

type MemoryStore struct {
	mu   sync.RWMutex
	msgs map[string][]turn.Message
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string][]turn.Message)}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, m turn.Message) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[sessionID] = append(s.msgs[sessionID], m)
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]turn.Message, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.msgs[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]turn.Message(nil), msgs...), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
