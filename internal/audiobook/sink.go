package audiobook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bookvoice/internal/fileutil"
	"bookvoice/internal/textutil"
)

// DirectorySink writes archives atomically into a directory.
type DirectorySink struct {
	Dir string
}

// Deliver writes data to Dir/name and returns the absolute path.
func (s DirectorySink) Deliver(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	safe := textutil.SanitizeFileName(filepath.Base(name))
	if safe == "" {
		return "", fmt.Errorf("deliver archive: invalid name %q", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("deliver archive: create %s: %w", s.Dir, err)
	}
	path := filepath.Join(s.Dir, safe)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("deliver archive: %w", err)
	}
	return path, nil
}

// MemorySink keeps delivered archives in memory, keyed by name.
type MemorySink struct {
	mu       sync.Mutex
	archives map[string][]byte
	order    []string
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{archives: make(map[string][]byte)}
}

// Deliver stores a copy of data under name.
func (s *MemorySink) Deliver(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[name]; !ok {
		s.order = append(s.order, name)
	}
	s.archives[name] = append([]byte(nil), data...)
	return "memory://" + name, nil
}

// Get returns a delivered archive.
func (s *MemorySink) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.archives[name]
	return data, ok
}

// Names lists delivered archive names in first-delivery order.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
