package build

import (
	"context"

	"github.com/standardbeagle/uci/internal/overlay"
	"github.com/standardbeagle/uci/internal/snapshot"
)

// Compiler is the compiler-frontend collaborator: it compiles one unit and
// produces an analysis snapshot, or an error carrying diagnostics. It must
// honor the content provider so overlay (unsaved) file versions are used.
type Compiler interface {
	Compile(ctx context.Context, unit *BuildUnit, files overlay.ContentProvider) (*snapshot.Snapshot, error)
}

// ProjectLoader is the project-graph builder collaborator: it discovers the
// current unit set with dependencies, invocation parameters and input files.
// It is invoked once per project-wide rebuild cycle.
type ProjectLoader interface {
	Load(ctx context.Context) ([]UnitSpec, error)
}
