// Package snapshot defines the data contract for one compiled unit's
// analysis output: the definitions, references, implementations, relations
// and import edges the compiler frontend produced, plus a prelude that
// identifies the unit and maps its session-local dependency numbering to
// persistent unit identities.
package snapshot

import (
	"fmt"

	ucierr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

// DependencyEntry binds one session-local index to a persistent unit
// identity. Index values start at 1; index 0 is the snapshot's own unit and
// never appears in the table.
type DependencyEntry struct {
	Index    types.SessionLocalIndex
	Identity types.UnitIdentity
}

// Prelude identifies the snapshot's own unit and the units its compiler
// session could see. It is the only part of a snapshot that speaks in
// persistent identities; everything else uses session-local numbering.
type Prelude struct {
	Identity types.UnitIdentity
	RootFile string
	Deps     []DependencyEntry
}

// TargetRef points at a node using the snapshot's own session-local
// numbering. It is translated to a GlobalID during lowering and never stored.
type TargetRef struct {
	Unit types.SessionLocalIndex
	Node types.LocalNodeID
}

// Definition is one declared entity owned by the snapshot's unit.
type Definition struct {
	Node          types.LocalNodeID
	Kind          types.DefKind
	QualifiedName string
	Span          types.Span
	// Parent is the enclosing definition's node, or 0 for top-level items.
	Parent     types.LocalNodeID
	Signature  string
	Doc        string
	Attributes []string
}

// Reference records a span in this unit that resolves to some definition,
// possibly in another unit.
type Reference struct {
	Span   types.Span
	Target TargetRef
}

// Implementation is a span-carrying edge recording that From implements To.
type Implementation struct {
	Span types.Span
	From TargetRef
	To   TargetRef
}

// Relation is a span-carrying typed edge between two nodes, such as a
// supertrait bound or an impl-for link.
type Relation struct {
	Kind types.RelationKind
	Span types.Span
	From TargetRef
	To   TargetRef
}

// Import records where this unit names one of its dependencies.
type Import struct {
	Unit types.SessionLocalIndex
	Span types.Span
}

// Snapshot is the full analysis output of compiling one unit.
type Snapshot struct {
	Prelude         Prelude
	Definitions     []Definition
	References      []Reference
	Implementations []Implementation
	Relations       []Relation
	Imports         []Import
}

// Validate checks the snapshot's structural integrity. A nil return means
// the snapshot is safe to lower; any error is a *errors.SnapshotError and
// the snapshot must be rejected whole.
func (s *Snapshot) Validate() error {
	if s.Prelude.Identity.Name == "" {
		return ucierr.NewSnapshotError(s.Prelude.Identity, "prelude missing unit identity")
	}
	seen := make(map[types.SessionLocalIndex]types.UnitIdentity, len(s.Prelude.Deps))
	for _, dep := range s.Prelude.Deps {
		if dep.Index == types.SelfUnit {
			return ucierr.NewSnapshotError(s.Prelude.Identity, "dependency table claims session index 0")
		}
		if dep.Identity.Name == "" {
			return ucierr.NewSnapshotError(s.Prelude.Identity,
				fmt.Sprintf("dependency at session index %d has no identity", dep.Index))
		}
		if prev, dup := seen[dep.Index]; dup && prev != dep.Identity {
			return ucierr.NewIdentityConflictError(s.Prelude.Identity, dep.Index, prev, dep.Identity)
		}
		seen[dep.Index] = dep.Identity
	}

	nodes := make(map[types.LocalNodeID]bool, len(s.Definitions))
	for i := range s.Definitions {
		def := &s.Definitions[i]
		if def.Node == 0 {
			return ucierr.NewSnapshotError(s.Prelude.Identity,
				fmt.Sprintf("definition %q has node id 0", def.QualifiedName))
		}
		if def.QualifiedName == "" {
			return ucierr.NewSnapshotError(s.Prelude.Identity,
				fmt.Sprintf("definition node %d has empty qualified name", def.Node))
		}
		// One node id, one definition: lowering keys the unit's records by
		// node, so a reused id would make two records share a GlobalID.
		if nodes[def.Node] {
			return ucierr.NewSnapshotError(s.Prelude.Identity,
				fmt.Sprintf("definition node id %d used more than once", def.Node))
		}
		nodes[def.Node] = true
	}

	check := func(what string, ref TargetRef) error {
		if ref.Unit != types.SelfUnit {
			if _, ok := seen[ref.Unit]; !ok {
				return ucierr.NewSnapshotError(s.Prelude.Identity,
					fmt.Sprintf("%s targets unknown session index %d", what, ref.Unit))
			}
		}
		return nil
	}
	for i := range s.References {
		if err := check("reference", s.References[i].Target); err != nil {
			return err
		}
	}
	for i := range s.Implementations {
		if err := check("implementation", s.Implementations[i].From); err != nil {
			return err
		}
		if err := check("implementation", s.Implementations[i].To); err != nil {
			return err
		}
	}
	for i := range s.Relations {
		if err := check("relation", s.Relations[i].From); err != nil {
			return err
		}
		if err := check("relation", s.Relations[i].To); err != nil {
			return err
		}
	}
	for i := range s.Imports {
		if s.Imports[i].Unit == types.SelfUnit {
			return ucierr.NewSnapshotError(s.Prelude.Identity, "import edge targets session index 0")
		}
		if _, ok := seen[s.Imports[i].Unit]; !ok {
			return ucierr.NewSnapshotError(s.Prelude.Identity,
				fmt.Sprintf("import edge targets unknown session index %d", s.Imports[i].Unit))
		}
	}
	return nil
}
