// Package file implements chat-history storage as one JSON file per
// session under a data directory.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sitechat/sitechat/internal/store"
)

// Store keeps each session as <dataDir>/sessions/<key>.json. Session IDs
// are hashed into the file name so arbitrary client-supplied IDs cannot
// escape the directory.
type Store struct {
	dir string
	mu  sync.Mutex

	// names maps the hashed file key back to the original session ID.
	names map[string]string
}

// New creates the data directory if needed and indexes existing sessions.
func New(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	s := &Store{dir: dir, names: make(map[string]string)}
	if err := s.indexExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

type sessionFile struct {
	SessionID string          `json:"session_id"`
	Messages  []store.Message `json:"messages"`
}

func sessionKey(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:16])
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionKey(sessionID)+".json")
}

func (s *Store) indexExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read sessions dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var sf sessionFile
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil || json.Unmarshal(data, &sf) != nil {
			continue // unreadable files are skipped, not fatal
		}
		s.names[strings.TrimSuffix(e.Name(), ".json")] = sf.SessionID
	}
	return nil
}

func (s *Store) SaveMessage(_ context.Context, msg store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read(msg.SessionID)
	if err != nil {
		return err
	}
	sf.SessionID = msg.SessionID
	sf.Messages = append(sf.Messages, msg)

	if err := s.write(msg.SessionID, sf); err != nil {
		return err
	}
	s.names[sessionKey(msg.SessionID)] = msg.SessionID
	return nil
}

func (s *Store) Messages(_ context.Context, sessionID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	msgs := sf.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session: %w", err)
	}
	delete(s.names, sessionKey(sessionID))
	return nil
}

func (s *Store) Sessions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.names))
	for _, id := range s.names {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

// read loads the session file; a missing file is an empty session.
func (s *Store) read(sessionID string) (sessionFile, error) {
	var sf sessionFile
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return sf, nil
	}
	if err != nil {
		return sf, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("parse session file: %w", err)
	}
	return sf, nil
}

// write persists via a temp file and rename so readers never observe a
// partially written session.
func (s *Store) write(sessionID string, sf sessionFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, s.path(sessionID))
}
