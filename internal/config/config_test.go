package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Project.Root)
	assert.Equal(t, 50, cfg.Build.DebounceMs)
	assert.Equal(t, "uci.units.toml", cfg.Build.ManifestPath)
	assert.Contains(t, cfg.Exclude, "**/.git/**")
	assert.Greater(t, cfg.Parallelism(), 0)
}

func TestParseKDLFull(t *testing.T) {
	dir := t.TempDir()
	content := `
project {
    name "demo"
}
build {
    parallelism 4
    debounce_ms 200
    cache_dir ".uci-cache"
    watch_mode true
    compiler "xlangc" "--emit-snapshot"
    manifest "units.toml"
}
include "src/**/*.x"
exclude "**/generated/**"
project_files "build.cfg"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".uci.kdl"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 4, cfg.Build.Parallelism)
	assert.Equal(t, 200, cfg.Build.DebounceMs)
	assert.Equal(t, filepath.Join(dir, ".uci-cache"), cfg.Build.CacheDir)
	assert.True(t, cfg.Build.WatchMode)
	assert.Equal(t, []string{"xlangc", "--emit-snapshot"}, cfg.Build.CompilerCommand)
	assert.Equal(t, "units.toml", cfg.Build.ManifestPath)
	assert.Equal(t, []string{"src/**/*.x"}, cfg.Include)
	assert.Equal(t, []string{"**/generated/**"}, cfg.Exclude, "an exclude block replaces the defaults")
	assert.Contains(t, cfg.ProjectFiles, "build.cfg")
	assert.Contains(t, cfg.ProjectFiles, ".uci.kdl", "built-in project files are kept")
}

func TestParseKDLBlockFormLists(t *testing.T) {
	cfg, err := parseKDL("/proj", `
exclude {
    "**/.git/**"
    "**/vendor/**"
}
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"**/.git/**", "**/vendor/**"}, cfg.Exclude)
}

func TestParseKDLRelativeProjectRoot(t *testing.T) {
	cfg, err := parseKDL("/proj", `
project {
    root "sub/ws"
}
`)
	require.NoError(t, err)
	assert.Equal(t, "/proj/sub/ws", cfg.Project.Root)
}

func TestLoadRejectsBadKDL(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".uci.kdl"), []byte(`build {`), 0o644))
	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default("/proj")
	require.NoError(t, cfg.Validate())

	cfg.Build.Parallelism = -1
	assert.Error(t, cfg.Validate())

	cfg = Default("relative")
	assert.Error(t, cfg.Validate())

	cfg = Default("/proj")
	cfg.Build.DebounceMs = -5
	assert.Error(t, cfg.Validate())
}

func TestIsProjectFile(t *testing.T) {
	cfg := Default("/proj")
	assert.True(t, cfg.IsProjectFile("/proj/uci.units.toml"))
	assert.True(t, cfg.IsProjectFile(".uci.kdl"))
	assert.False(t, cfg.IsProjectFile("/proj/src/lib.x"))
}
