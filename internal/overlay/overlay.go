// Package overlay provides file content with in-memory unsaved versions
// layered over on-disk state. It backs both dirty-detection comparisons and
// the content provider handed to the compiler frontend, so overlay-aware
// reads see exactly what the editor sees.
package overlay

import (
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ContentProvider is the read interface consumed by the compiler frontend
// and the freshness checker.
type ContentProvider interface {
	Read(path string) ([]byte, error)
}

// Store is an overlay-aware ContentProvider. In-memory versions take
// priority over disk; everything else falls through to the filesystem.
type Store struct {
	mu       sync.RWMutex
	overlays map[string][]byte
}

// NewStore creates an empty overlay store.
func NewStore() *Store {
	return &Store{overlays: make(map[string][]byte)}
}

// Read returns the overlay content for path if present, else the on-disk
// content.
func (s *Store) Read(path string) ([]byte, error) {
	s.mu.RLock()
	content, ok := s.overlays[path]
	s.mu.RUnlock()
	if ok {
		out := make([]byte, len(content))
		copy(out, content)
		return out, nil
	}
	return os.ReadFile(path)
}

// Set installs or replaces the in-memory version of a file.
func (s *Store) Set(path string, content []byte) {
	buf := make([]byte, len(content))
	copy(buf, content)
	s.mu.Lock()
	s.overlays[path] = buf
	s.mu.Unlock()
}

// Remove drops the in-memory version, falling back to disk.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	delete(s.overlays, path)
	s.mu.Unlock()
}

// Has reports whether an overlay exists for path.
func (s *Store) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.overlays[path]
	return ok
}

// HashFiles computes the input-freshness token for a set of files: the
// xxhash64 of each file's content mixed in sorted path order. Missing files
// contribute their path only, so adding or deleting an input changes the
// token.
func HashFiles(provider ContentProvider, paths []string) uint64 {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	h := xxhash.New()
	for _, path := range sorted {
		_, _ = h.WriteString(path)
		_, _ = h.Write([]byte{0})
		content, err := provider.Read(path)
		if err != nil {
			continue
		}
		_, _ = h.Write(content)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
