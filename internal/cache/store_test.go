package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

func sampleSnapshot(ident types.UnitIdentity) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Prelude: snapshot.Prelude{Identity: ident, RootFile: "lib.x"},
		Definitions: []snapshot.Definition{
			{Node: 1, Kind: types.KindFunction, QualifiedName: ident.Name + "::run",
				Span: types.Span{File: "lib.x", Start: 0, End: 40}},
		},
	}
}

func TestSaveThenLoad(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ident := types.UnitIdentity{Name: "core"}
	require.NoError(t, store.Save(ident, 0xbeef, sampleSnapshot(ident)))
	assert.Equal(t, 1, store.Len())

	snap, ok := store.Load(ident, 0xbeef)
	require.True(t, ok)
	assert.Equal(t, ident, snap.Prelude.Identity)
	assert.Equal(t, "core::run", snap.Definitions[0].QualifiedName)
}

func TestTokenMismatchIsMiss(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ident := types.UnitIdentity{Name: "core"}
	require.NoError(t, store.Save(ident, 1, sampleSnapshot(ident)))

	_, ok := store.Load(ident, 2)
	assert.False(t, ok)
}

func TestLoadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ident := types.UnitIdentity{Name: "core", Disambiguator: "test"}

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ident, 7, sampleSnapshot(ident)))

	reopened, err := Open(dir)
	require.NoError(t, err)
	snap, ok := reopened.Load(ident, 7)
	require.True(t, ok)
	assert.Equal(t, "test", snap.Prelude.Identity.Disambiguator)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	ident := types.UnitIdentity{Name: "core"}

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ident, 7, sampleSnapshot(ident)))

	// Truncate the snapshot file behind the manifest's back.
	file := filepath.Join(dir, entryKey(ident)+".snap")
	require.NoError(t, os.WriteFile(file, []byte("garbage"), 0o644))

	_, ok := store.Load(ident, 7)
	assert.False(t, ok)
}

func TestCorruptManifestDiscarded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte("not = [toml"), 0o644))

	store, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestEvict(t *testing.T) {
	dir := t.TempDir()
	ident := types.UnitIdentity{Name: "core"}

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(ident, 7, sampleSnapshot(ident)))

	store.Evict(ident)
	assert.Equal(t, 0, store.Len())
	_, ok := store.Load(ident, 7)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, entryKey(ident)+".snap"))
	assert.True(t, os.IsNotExist(err))

	// Evicting again is a no-op.
	store.Evict(ident)
}

func TestDisambiguatedEntriesAreSeparate(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	lib := types.UnitIdentity{Name: "core"}
	test := types.UnitIdentity{Name: "core", Disambiguator: "test"}
	require.NoError(t, store.Save(lib, 1, sampleSnapshot(lib)))
	require.NoError(t, store.Save(test, 2, sampleSnapshot(test)))

	assert.Equal(t, 2, store.Len())
	snap, ok := store.Load(test, 2)
	require.True(t, ok)
	assert.Equal(t, test, snap.Prelude.Identity)
}
