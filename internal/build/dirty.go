package build

import (
	"sort"
	"sync"
	"time"

	"github.com/standardbeagle/uci/internal/debug"
	"github.com/standardbeagle/uci/internal/types"
)

// DirtySet records files changed since the last successful build, each with
// the time the change was observed. Re-marking a file keeps the newest time.
type DirtySet map[string]time.Time

// Add marks a file dirty at the given time.
func (d DirtySet) Add(path string, at time.Time) {
	if prev, ok := d[path]; !ok || at.After(prev) {
		d[path] = at
	}
}

// Merge folds other into d, keeping the newest time per file.
func (d DirtySet) Merge(other DirtySet) {
	for path, at := range other {
		d.Add(path, at)
	}
}

// Paths returns the dirty file paths, sorted.
func (d DirtySet) Paths() []string {
	out := make([]string, 0, len(d))
	for path := range d {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Outcome is the result of resolving a dirty set against the unit graph:
// either a targeted set of units to rebuild, or an escalation to a
// project-wide rebuild because the unit graph itself may be stale.
type Outcome struct {
	Units       []types.CompilationUnitID
	ProjectWide bool
}

// Tracker maintains the reverse map from input file path to owning units,
// rebuilt from the current BuildUnit set whenever the project graph changes.
type Tracker struct {
	mu     sync.RWMutex
	owners map[string][]types.CompilationUnitID
	// isProjectFile reports whether a path is project-defining input
	// (manifest, build configuration); changes to those escalate.
	isProjectFile func(string) bool
}

// NewTracker creates a tracker. isProjectFile may be nil.
func NewTracker(isProjectFile func(string) bool) *Tracker {
	return &Tracker{
		owners:        make(map[string][]types.CompilationUnitID),
		isProjectFile: isProjectFile,
	}
}

// Rebuild replaces the file-ownership map from the given unit set.
func (t *Tracker) Rebuild(units map[types.CompilationUnitID]*BuildUnit) {
	owners := make(map[string][]types.CompilationUnitID)
	for id, unit := range units {
		for _, file := range unit.Files {
			owners[file] = append(owners[file], id)
		}
	}
	t.mu.Lock()
	t.owners = owners
	t.mu.Unlock()
	debug.LogBuild("dirty tracker rebuilt: %d files mapped\n", len(owners))
}

// OwnersOf returns the units owning a file.
func (t *Tracker) OwnersOf(path string) []types.CompilationUnitID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.owners[path]
}

// Resolve maps a set of dirty paths to a rebuild outcome. A path owned by
// known units marks those units; a path owned by no unit, or a
// project-defining input, escalates the whole outcome to project-wide.
func (t *Tracker) Resolve(paths []string) Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out Outcome
	seen := make(map[types.CompilationUnitID]bool)
	for _, path := range paths {
		if t.isProjectFile != nil && t.isProjectFile(path) {
			debug.LogBuild("project-defining input changed: %s\n", path)
			out.ProjectWide = true
			continue
		}
		units, ok := t.owners[path]
		if !ok || len(units) == 0 {
			debug.LogBuild("file %s owned by no known unit, escalating\n", path)
			out.ProjectWide = true
			continue
		}
		for _, id := range units {
			if !seen[id] {
				seen[id] = true
				out.Units = append(out.Units, id)
			}
		}
	}
	sortUnitIDs(out.Units)
	return out
}
