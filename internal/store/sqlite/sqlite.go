// Package sqlite implements chat-history storage on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sitechat/sitechat/internal/store"
)

// Store persists messages in a single SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			page_context TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, msg store.Message) error {
	pageCtx, err := json.Marshal(msg.PageContext)
	if err != nil {
		return fmt.Errorf("marshal page context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, page_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.SessionID, msg.Role, msg.Content,
		string(pageCtx), msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// UUIDv7 IDs sort by creation time, so ordering by id is chronological.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, page_context, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []store.Message
	for rows.Next() {
		var (
			msg           store.Message
			id, pc, stamp string
		)
		if err := rows.Scan(&id, &msg.SessionID, &msg.Role, &msg.Content, &pc, &stamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse message id: %w", err)
		}
		if pc != "" {
			if err := json.Unmarshal([]byte(pc), &msg.PageContext); err != nil {
				return nil, fmt.Errorf("parse page context: %w", err)
			}
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	out := make([]store.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(out)-1-i] = m
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
