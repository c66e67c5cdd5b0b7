// Package config loads and validates the .uci.kdl project configuration.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Config is the full runtime configuration.
type Config struct {
	Project Project
	Build   Build
	// Include and Exclude are doublestar glob patterns filtering which file
	// events the watcher forwards to the dirty tracker.
	Include []string
	Exclude []string
	// ProjectFiles are the project-defining inputs (manifests, build
	// configuration). A change to any of these escalates to a project-wide
	// rebuild because the unit graph itself may be stale.
	ProjectFiles []string
}

// Project identifies the workspace.
type Project struct {
	Root string
	Name string
}

// Build controls the scheduler.
type Build struct {
	// Parallelism bounds concurrent unit compiles. 0 = NumCPU.
	Parallelism int
	// DebounceMs is the watcher's event coalescing window.
	DebounceMs int
	// CacheDir holds persisted snapshots. Empty disables the cache.
	CacheDir string
	// WatchMode enables the file watcher.
	WatchMode bool
	// CompilerCommand is the external compiler frontend invocation. The
	// unit's own arguments are appended.
	CompilerCommand []string
	// ManifestPath is the unit-graph manifest consumed by the project
	// loader on project-wide rebuilds.
	ManifestPath string
}

// Default returns the configuration used when no .uci.kdl is present.
func Default(root string) *Config {
	return &Config{
		Project: Project{Root: root},
		Build: Build{
			Parallelism:  runtime.NumCPU(),
			DebounceMs:   50,
			ManifestPath: "uci.units.toml",
		},
		Include: []string{"**/*"},
		Exclude: []string{"**/.git/**", "**/target/**", "**/node_modules/**"},
		ProjectFiles: []string{
			".uci.kdl",
			"uci.units.toml",
		},
	}
}

// Parallelism returns the effective compile parallelism bound.
func (c *Config) Parallelism() int {
	if c.Build.Parallelism > 0 {
		return c.Build.Parallelism
	}
	return runtime.NumCPU()
}

// Validate checks the configuration for values that would break scheduling.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("project root is required")
	}
	if !filepath.IsAbs(c.Project.Root) {
		return fmt.Errorf("project root must be absolute, got %q", c.Project.Root)
	}
	if c.Build.Parallelism < 0 {
		return fmt.Errorf("build parallelism must be >= 0, got %d", c.Build.Parallelism)
	}
	if c.Build.DebounceMs < 0 {
		return fmt.Errorf("debounce must be >= 0 ms, got %d", c.Build.DebounceMs)
	}
	return nil
}

// IsProjectFile reports whether path is a project-defining input.
func (c *Config) IsProjectFile(path string) bool {
	base := filepath.Base(path)
	for _, pf := range c.ProjectFiles {
		if base == pf || path == pf {
			return true
		}
		if abs := filepath.Join(c.Project.Root, pf); path == abs {
			return true
		}
	}
	return false
}
