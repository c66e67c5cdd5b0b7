// Package cache persists compiled snapshots on disk so rarely-changing
// dependency units are not recompiled every session. Entries are keyed by
// unit identity plus an input-freshness token; a manifest file records what
// is cached. A stale or unreadable entry is simply a miss: the unit gets
// recompiled and the entry rewritten.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/uci/internal/debug"
	ucierr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

const manifestName = "manifest.toml"

// Entry describes one cached snapshot in the manifest.
type Entry struct {
	Name          string    `toml:"name"`
	Disambiguator string    `toml:"disambiguator"`
	Token         string    `toml:"token"` // freshness token, hex
	File          string    `toml:"file"`
	SavedAt       time.Time `toml:"saved_at"`
}

type manifest struct {
	Version int              `toml:"version"`
	Entries map[string]Entry `toml:"entries"`
}

// Store is a directory-backed snapshot cache.
type Store struct {
	dir string

	mu  sync.Mutex
	man manifest
}

// Open loads or creates a cache directory. A corrupt manifest is discarded
// and rebuilt from later saves rather than failing the session.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ucierr.NewCacheError("mkdir", dir, err)
	}
	s := &Store{dir: dir, man: manifest{Version: 1, Entries: make(map[string]Entry)}}

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, ucierr.NewCacheError("read manifest", dir, err)
	}
	var man manifest
	if err := toml.Unmarshal(data, &man); err != nil {
		debug.Logf("[cache] discarding corrupt manifest in %s: %v\n", dir, err)
		return s, nil
	}
	if man.Entries == nil {
		man.Entries = make(map[string]Entry)
	}
	s.man = man
	return s, nil
}

// entryKey is stable per unit identity and safe as a TOML table key and a
// file name stem.
func entryKey(ident types.UnitIdentity) string {
	sum := xxhash.Sum64String(ident.Name + "\x00" + ident.Disambiguator)
	return strconv.FormatUint(sum, 16)
}

// Load returns the cached snapshot for the identity if the stored freshness
// token matches. Any failure (missing entry, token mismatch, unreadable or
// corrupt file) is reported as a miss.
func (s *Store) Load(ident types.UnitIdentity, token uint64) (*snapshot.Snapshot, bool) {
	s.mu.Lock()
	entry, ok := s.man.Entries[entryKey(ident)]
	s.mu.Unlock()
	if !ok || entry.Token != strconv.FormatUint(token, 16) {
		return nil, false
	}

	f, err := os.Open(filepath.Join(s.dir, entry.File))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	snap, err := snapshot.Decode(f)
	if err != nil {
		debug.Logf("[cache] dropping unreadable entry for %s: %v\n", ident, err)
		return nil, false
	}
	if snap.Prelude.Identity != ident {
		return nil, false
	}
	debug.Logf("[cache] hit for %s (token %x)\n", ident, token)
	return snap, true
}

// Save writes the snapshot and records it in the manifest. Errors are
// returned for logging but callers treat them as non-fatal.
func (s *Store) Save(ident types.UnitIdentity, token uint64, snap *snapshot.Snapshot) error {
	key := entryKey(ident)
	file := key + ".snap"
	path := filepath.Join(s.dir, file)

	tmp, err := os.CreateTemp(s.dir, file+".tmp*")
	if err != nil {
		return ucierr.NewCacheError("create", path, err)
	}
	if err := snapshot.Encode(tmp, snap); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return ucierr.NewCacheError("encode", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return ucierr.NewCacheError("close", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return ucierr.NewCacheError("rename", path, err)
	}

	s.mu.Lock()
	s.man.Entries[key] = Entry{
		Name:          ident.Name,
		Disambiguator: ident.Disambiguator,
		Token:         strconv.FormatUint(token, 16),
		File:          file,
		SavedAt:       time.Now(),
	}
	err = s.writeManifestLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	debug.Logf("[cache] saved %s (token %x)\n", ident, token)
	return nil
}

// Evict drops the identity's entry and its snapshot file.
func (s *Store) Evict(ident types.UnitIdentity) {
	key := entryKey(ident)
	s.mu.Lock()
	entry, ok := s.man.Entries[key]
	if ok {
		delete(s.man.Entries, key)
		_ = s.writeManifestLocked()
	}
	s.mu.Unlock()
	if ok {
		os.Remove(filepath.Join(s.dir, entry.File))
	}
}

// Len returns the number of manifest entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.man.Entries)
}

func (s *Store) writeManifestLocked() error {
	data, err := toml.Marshal(s.man)
	if err != nil {
		return ucierr.NewCacheError("marshal manifest", s.dir, err)
	}
	path := filepath.Join(s.dir, manifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ucierr.NewCacheError("write manifest", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return ucierr.NewCacheError("rename manifest", path, err)
	}
	return nil
}

// String describes the store for status output.
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("snapshot cache at %s (%d entries)", s.dir, len(s.man.Entries))
}
