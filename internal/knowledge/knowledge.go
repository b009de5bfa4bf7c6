// Package knowledge loads the site owner's reference documents and the
// assistant's system prompt template from a directory tree.
package knowledge

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// promptFile is reserved for the system prompt template and never
// appears in the knowledge content itself.
const promptFile = "system_prompt.md"

const documentSeparator = "\n\n---\n\n"

// Base holds the concatenated knowledge content and the prompt
// template, both refreshed together by Reload.
type Base struct {
	dir string

	mu       sync.RWMutex
	content  string
	docs     int
	template string
}

// New loads the knowledge directory. A missing directory is not an
// error; the base simply starts empty.
func New(dir string) (*Base, error) {
	b := &Base{dir: dir}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads every document and the prompt template from disk.
func (b *Base) Reload() error {
	content, docs, err := loadDocuments(b.dir)
	if err != nil {
		return err
	}
	template := loadPromptTemplate(filepath.Join(b.dir, promptFile))

	b.mu.Lock()
	b.content = content
	b.docs = docs
	b.template = template
	b.mu.Unlock()

	slog.Info("knowledge.loaded", "dir", b.dir, "documents", docs)
	return nil
}

// Content returns every loaded document joined with separators, each
// prefixed by a "=== relative/path ===" header.
func (b *Base) Content() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content
}

// DocumentCount reports how many files are currently loaded.
func (b *Base) DocumentCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.docs
}

// PromptTemplate returns the system prompt template, falling back to
// the built-in default when no system_prompt.md exists.
func (b *Base) PromptTemplate() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.template == "" {
		return defaultPromptTemplate
	}
	return b.template
}

func loadDocuments(dir string) (string, int, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("knowledge.dir_missing", "dir", dir)
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("knowledge: stat %s: %w", dir, err)
	}

	var docs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == promptFile {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("knowledge.read_failed", "file", path, "error", err)
			return nil
		}
		docs = append(docs, fmt.Sprintf("=== %s ===\n\n%s", filepath.ToSlash(rel), string(data)))
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("knowledge: walk %s: %w", dir, err)
	}

	// WalkDir order is lexical per directory but make the whole set
	// deterministic regardless of traversal details.
	sort.Strings(docs)
	return strings.Join(docs, documentSeparator), len(docs), nil
}

// loadPromptTemplate reads the template file and strips comment lines
// that start with '#'. Returns "" when the file is absent or empty so
// the caller falls back to the default.
func loadPromptTemplate(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
