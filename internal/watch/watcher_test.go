package watch

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/config"
)

type batchCollector struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *batchCollector) collect(paths []string) {
	sort.Strings(paths)
	c.mu.Lock()
	c.batches = append(c.batches, paths)
	c.mu.Unlock()
}

func (c *batchCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *batchCollector) all() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.batches))
	copy(out, c.batches)
	return out
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	var c batchCollector
	d := newEventDebouncer(20*time.Millisecond, c.collect)

	d.add("a.x")
	d.add("b.x")
	d.add("a.x")

	require.Eventually(t, func() bool { return c.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a.x", "b.x"}, c.all()[0])
}

func TestDebouncerSeparateQuietPeriods(t *testing.T) {
	var c batchCollector
	d := newEventDebouncer(10*time.Millisecond, c.collect)

	d.add("a.x")
	require.Eventually(t, func() bool { return c.count() == 1 },
		time.Second, 2*time.Millisecond)

	d.add("b.x")
	require.Eventually(t, func() bool { return c.count() == 2 },
		time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"b.x"}, c.all()[1])
}

func TestDebouncerStopDropsPending(t *testing.T) {
	var c batchCollector
	d := newEventDebouncer(20*time.Millisecond, c.collect)

	d.add("a.x")
	d.stop()
	d.add("b.x")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func watcherConfig(root string) *config.Config {
	cfg := config.Default(root)
	cfg.Include = []string{"**/*.x"}
	cfg.Build.DebounceMs = 10
	return cfg
}

func TestWantedFiltering(t *testing.T) {
	root := t.TempDir()
	w, err := New(watcherConfig(root), nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.wanted(filepath.Join(root, "src/lib.x")))
	assert.False(t, w.wanted(filepath.Join(root, "notes.md")))
	assert.False(t, w.wanted(filepath.Join(root, "target/out.x")))
	assert.True(t, w.wanted(filepath.Join(root, "uci.units.toml")),
		"project-defining inputs bypass the include patterns")
}

func TestExcludedDir(t *testing.T) {
	root := t.TempDir()
	w, err := New(watcherConfig(root), nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.excludedDir(filepath.Join(root, ".git")))
	assert.True(t, w.excludedDir(filepath.Join(root, "node_modules/pkg")))
	assert.False(t, w.excludedDir(filepath.Join(root, "src")))
}

func TestWatcherForwardsWrites(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	file := filepath.Join(src, "lib.x")
	require.NoError(t, os.WriteFile(file, []byte("v1"), 0o644))

	var c batchCollector
	w, err := New(watcherConfig(root), c.collect)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(file, []byte("v2"), 0o644))

	require.Eventually(t, func() bool { return c.count() >= 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Contains(t, c.all()[0], file)

	stats := w.GetStats()
	assert.True(t, stats.Active)
	assert.GreaterOrEqual(t, stats.EventsProcessed, int64(1))
}

func TestWatcherIgnoresExcludedWrites(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target")
	require.NoError(t, os.Mkdir(target, 0o755))

	var c batchCollector
	w, err := New(watcherConfig(root), c.collect)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(target, "gen.x"), []byte("x"), 0o644))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}
