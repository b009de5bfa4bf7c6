// Package pg implements chat-history storage on Postgres.
package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/sitechat/sitechat/internal/store"
)

// Store persists messages in a Postgres database via pgx.
type Store struct {
	db *sqlx.DB
}

// New connects to Postgres at dsn and runs the schema.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("postgres store connected")
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			page_context JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, id);
	`)
	if err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

type messageRow struct {
	ID          uuid.UUID `db:"id"`
	SessionID   string    `db:"session_id"`
	Role        string    `db:"role"`
	Content     string    `db:"content"`
	PageContext []byte    `db:"page_context"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) SaveMessage(ctx context.Context, msg store.Message) error {
	pageCtx, err := json.Marshal(msg.PageContext)
	if err != nil {
		return fmt.Errorf("marshal page context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, page_context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, pageCtx, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	// Window over the newest rows, returned oldest first.
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, session_id, role, content, page_context, created_at FROM (
			SELECT * FROM messages WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	out := make([]store.Message, 0, len(rows))
	for _, r := range rows {
		msg := store.Message{
			ID:        r.ID,
			SessionID: r.SessionID,
			Role:      r.Role,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
		if len(r.PageContext) > 0 {
			if err := json.Unmarshal(r.PageContext, &msg.PageContext); err != nil {
				return nil, fmt.Errorf("parse page context: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT session_id FROM messages`); err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }
