package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPrefersOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.x")
	require.NoError(t, os.WriteFile(path, []byte("on disk"), 0o644))

	store := NewStore()
	content, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(content))

	store.Set(path, []byte("unsaved"))
	content, err = store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "unsaved", string(content))
	assert.True(t, store.Has(path))

	store.Remove(path)
	content, err = store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(content))
	assert.False(t, store.Has(path))
}

func TestOverlayForFileWithoutDiskBacking(t *testing.T) {
	store := NewStore()
	path := filepath.Join(t.TempDir(), "untitled.x")

	_, err := store.Read(path)
	require.Error(t, err)

	store.Set(path, []byte("draft"))
	content, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "draft", string(content))
}

func TestReadReturnsCopy(t *testing.T) {
	store := NewStore()
	store.Set("a.x", []byte("abc"))

	content, err := store.Read("a.x")
	require.NoError(t, err)
	content[0] = 'z'

	again, err := store.Read("a.x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestHashFilesOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.x")
	b := filepath.Join(dir, "b.x")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("beta"), 0o644))

	store := NewStore()
	assert.Equal(t, HashFiles(store, []string{a, b}), HashFiles(store, []string{b, a}))
}

func TestHashFilesSeesOverlayAndContentChanges(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.x")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o644))

	store := NewStore()
	clean := HashFiles(store, []string{a})

	store.Set(a, []byte("edited"))
	assert.NotEqual(t, clean, HashFiles(store, []string{a}))

	store.Remove(a)
	assert.Equal(t, clean, HashFiles(store, []string{a}))
}

func TestHashFilesMissingInputStillCounts(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.x")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o644))
	ghost := filepath.Join(dir, "deleted.x")

	store := NewStore()
	with := HashFiles(store, []string{a, ghost})
	without := HashFiles(store, []string{a})
	assert.NotEqual(t, with, without, "a deleted input must still change the token")
}
