// Package store defines the chat-history model and the storage interface
// implemented by the json, sqlite, and postgres backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Roles a stored message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrSessionNotFound is returned when a session has no stored messages.
var ErrSessionNotFound = errors.New("session not found")

// Message is one chat turn, user or assistant, with the page context the
// widget captured at send time.
type Message struct {
	ID          uuid.UUID      `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	PageContext map[string]any `json:"page_context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewMessage builds a message with a time-ordered ID and UTC timestamp.
func NewMessage(sessionID, role, content string, pageContext map[string]any) Message {
	return Message{
		ID:          uuid.Must(uuid.NewV7()),
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		PageContext: pageContext,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store persists chat history per session.
type Store interface {
	// SaveMessage appends one message to its session.
	SaveMessage(ctx context.Context, msg Message) error

	// Messages returns up to limit most recent messages for a session,
	// oldest first. An unknown session yields an empty slice, not an error.
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// DeleteSession removes all messages for a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Sessions lists all session IDs with stored messages.
	Sessions(ctx context.Context) ([]string, error)

	Close() error
}
