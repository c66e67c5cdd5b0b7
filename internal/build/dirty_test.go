package build

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/standardbeagle/uci/internal/types"
)

func trackerWithUnits() *Tracker {
	tracker := NewTracker(func(path string) bool {
		return path == "/proj/uci.units.toml"
	})
	tracker.Rebuild(map[types.CompilationUnitID]*BuildUnit{
		1: {ID: 1, Files: []string{"/proj/core/lib.x", "/proj/core/io.x"}},
		2: {ID: 2, Files: []string{"/proj/app/main.x"}},
	})
	return tracker
}

func TestResolveMapsOwnedFiles(t *testing.T) {
	tracker := trackerWithUnits()
	out := tracker.Resolve([]string{"/proj/core/io.x"})
	assert.False(t, out.ProjectWide)
	assert.Equal(t, []types.CompilationUnitID{1}, out.Units)
}

func TestResolveDeduplicatesUnits(t *testing.T) {
	tracker := trackerWithUnits()
	out := tracker.Resolve([]string{"/proj/core/lib.x", "/proj/core/io.x", "/proj/app/main.x"})
	assert.Equal(t, []types.CompilationUnitID{1, 2}, out.Units)
}

func TestResolveEscalatesUnknownFile(t *testing.T) {
	tracker := trackerWithUnits()
	out := tracker.Resolve([]string{"/proj/new/file.x"})
	assert.True(t, out.ProjectWide)
}

func TestResolveEscalatesProjectFile(t *testing.T) {
	tracker := trackerWithUnits()
	out := tracker.Resolve([]string{"/proj/uci.units.toml"})
	assert.True(t, out.ProjectWide)
}

func TestResolveMixedKeepsTargetedUnits(t *testing.T) {
	// A batch containing both an owned file and an unknown one escalates
	// but still reports the owned units.
	tracker := trackerWithUnits()
	out := tracker.Resolve([]string{"/proj/app/main.x", "/proj/new/file.x"})
	assert.True(t, out.ProjectWide)
	assert.Equal(t, []types.CompilationUnitID{2}, out.Units)
}

func TestDirtySetKeepsNewestTime(t *testing.T) {
	d := make(DirtySet)
	early := time.Now()
	late := early.Add(time.Second)

	d.Add("a.x", late)
	d.Add("a.x", early)
	assert.Equal(t, late, d["a.x"])

	other := DirtySet{"b.x": early}
	d.Merge(other)
	assert.Equal(t, []string{"a.x", "b.x"}, d.Paths())
}
