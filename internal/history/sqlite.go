package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"speakloop/agent/internal/turn"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: open")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile builds a WAL-mode DSN for a database file.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite history store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_session ON messages(session_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, m turn.Message) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	at := m.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(session_id, message_id, role, text, at_ms) VALUES(?, ?, ?, ?, ?)`,
		sessionID, m.ID, string(m.Role), m.Text, at.UnixMilli())
	return errors.Wrap(err, "sqlite history store: append")
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]turn.Message, error) {
	if sessionID == "" {
		return nil, ErrEmptySession
	}
	q := `SELECT message_id, role, text, at_ms FROM messages WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: list")
	}
	defer func() { _ = rows.Close() }()

	var out []turn.Message
	for rows.Next() {
		var (
			m    turn.Message
			role string
			atMs int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Text, &atMs); err != nil {
			return nil, errors.Wrap(err, "sqlite history store: scan")
		}
		m.Role = turn.Role(role)
		m.At = time.UnixMilli(atMs)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite history store: rows")
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "sqlite history store: ping")
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
