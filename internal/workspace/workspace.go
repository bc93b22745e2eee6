// Package workspace stores each session's generated artifact. The store
// enforces the one rule the turn protocol depends on: a new write never
// replaces existing content with nothing.
package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("workspace: not found")

// Store keeps one artifact per workspace ref.
type Store interface {
	// Read returns the current artifact content, or ErrNotFound.
	Read(ctx context.Context, ref string) (string, error)
	// WriteIfNonEmpty replaces the artifact only when content is non-blank.
	// It returns false when the previous content was preserved instead.
	WriteIfNonEmpty(ctx context.Context, ref, content string) (bool, error)
	// Remove deletes the artifact. Removing a missing ref is not an error.
	Remove(ctx context.Context, ref string) error
}

// Stats summarizes an artifact for the processing-complete event.
type Stats struct {
	Size      int
	LineCount int
}

// Measure computes artifact stats for a piece of content.
func Measure(content string) Stats {
	if content == "" {
		return Stats{}
	}
	// A trailing newline terminates the last line, it does not open a new one.
	return Stats{
		Size:      len(content),
		LineCount: strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1,
	}
}

// FSStore writes artifacts as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(ref string) string {
	// Refs are opaque ids minted by the session manager, but keep path
	// traversal out anyway.
	return filepath.Join(s.root, filepath.Base(ref))
}

func (s *FSStore) Read(ctx context.Context, ref string) (string, error) {
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *FSStore) WriteIfNonEmpty(ctx context.Context, ref, content string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}
	if err := os.WriteFile(s.path(ref), []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FSStore) Remove(ctx context.Context, ref string) error {
	err := os.Remove(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is an in-process Store for tests and development.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]string)}
}

func (s *MemoryStore) Read(ctx context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.artifacts[ref]
	if !ok {
		return "", ErrNotFound
	}
	return content, nil
}

func (s *MemoryStore) WriteIfNonEmpty(ctx context.Context, ref, content string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[ref] = content
	return true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, ref)
	return nil
}
