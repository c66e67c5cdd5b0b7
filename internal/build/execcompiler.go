package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/standardbeagle/uci/internal/overlay"
	"github.com/standardbeagle/uci/internal/snapshot"
)

// overlayIndexName is the manifest written into the overlay directory:
// one "storedname<TAB>sourcepath" line per materialized file.
const overlayIndexName = "overlay.index"

// ExecCompiler runs an external compiler frontend as a subprocess. The
// frontend receives the unit's invocation arguments and writes a snapshot in
// the persisted binary format on stdout. Unsaved file versions are
// materialized into a temp directory passed via UCI_OVERLAY_DIR: each file
// is stored under the lowercase hex encoding of its source path, and the
// directory's "overlay.index" file maps stored names back to source paths.
type ExecCompiler struct {
	// Command is the frontend executable plus fixed leading arguments.
	Command []string
}

// Compile implements Compiler.
func (c *ExecCompiler) Compile(ctx context.Context, unit *BuildUnit, files overlay.ContentProvider) (*snapshot.Snapshot, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("no compiler command configured")
	}

	args := append([]string{}, c.Command[1:]...)
	args = append(args, unit.Invoke.Args...)
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Dir = unit.Invoke.WorkDir
	cmd.Env = append(os.Environ(), unit.Invoke.Env...)

	overlayDir, cleanup, err := materializeOverlays(unit.Files, files)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if overlayDir != "" {
		cmd.Env = append(cmd.Env, "UCI_OVERLAY_DIR="+overlayDir)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compiler frontend: %w: %s", err, stderr.String())
	}

	snap, err := snapshot.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("compiler frontend output: %w", err)
	}
	return snap, nil
}

// materializeOverlays writes overlay versions of the unit's input files into
// a temp directory, each under the hex encoding of its source path, plus an
// overlay.index manifest mapping stored names back to source paths. Returns
// an empty dir when no file has an overlay.
func materializeOverlays(paths []string, files overlay.ContentProvider) (string, func(), error) {
	store, ok := files.(*overlay.Store)
	if !ok {
		return "", func() {}, nil
	}

	var dir string
	var index bytes.Buffer
	for _, path := range paths {
		if !store.Has(path) {
			continue
		}
		if dir == "" {
			d, err := os.MkdirTemp("", "uci-overlay-*")
			if err != nil {
				return "", func() {}, err
			}
			dir = d
		}
		content, err := store.Read(path)
		if err != nil {
			continue
		}
		name := fmt.Sprintf("%x", []byte(path))
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			os.RemoveAll(dir)
			return "", func() {}, err
		}
		fmt.Fprintf(&index, "%s\t%s\n", name, path)
	}
	if dir == "" {
		return "", func() {}, nil
	}
	if err := os.WriteFile(filepath.Join(dir, overlayIndexName), index.Bytes(), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", func() {}, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
