package identity

import (
	"fmt"

	ucierr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

// Translator maps one snapshot's (session-local index, local node id) pairs
// to GlobalIDs. It is built once per snapshot from the prelude and discarded
// after lowering; session-local indexes never leave this package.
type Translator struct {
	self  types.CompilationUnitID
	table map[types.SessionLocalIndex]types.CompilationUnitID
}

// NewTranslator resolves the prelude's own identity and dependency table
// against the registry, allocating IDs on first sight. It fails only on a
// malformed prelude (missing identity) or an ambiguous dependency table; in
// both cases the whole snapshot must be rejected.
func NewTranslator(reg *Registry, prelude *snapshot.Prelude) (*Translator, error) {
	if prelude.Identity.Name == "" {
		return nil, ucierr.NewSnapshotError(prelude.Identity, "prelude missing unit identity")
	}

	t := &Translator{
		self:  reg.Resolve(prelude.Identity),
		table: make(map[types.SessionLocalIndex]types.CompilationUnitID, len(prelude.Deps)+1),
	}
	t.table[types.SelfUnit] = t.self

	bound := make(map[types.SessionLocalIndex]types.UnitIdentity, len(prelude.Deps))
	for _, dep := range prelude.Deps {
		if dep.Identity.Name == "" {
			return nil, ucierr.NewSnapshotError(prelude.Identity,
				fmt.Sprintf("dependency at session index %d has no identity", dep.Index))
		}
		if prev, ok := bound[dep.Index]; ok && prev != dep.Identity {
			return nil, ucierr.NewIdentityConflictError(prelude.Identity, dep.Index, prev, dep.Identity)
		}
		bound[dep.Index] = dep.Identity
		t.table[dep.Index] = reg.Resolve(dep.Identity)
	}
	return t, nil
}

// Self returns the ID of the snapshot's own unit.
func (t *Translator) Self() types.CompilationUnitID {
	return t.self
}

// Global translates a session-local target to a GlobalID. The bool is false
// when the target names a session index absent from the prelude, which a
// validated snapshot never does.
func (t *Translator) Global(ref snapshot.TargetRef) (types.GlobalID, bool) {
	unit, ok := t.table[ref.Unit]
	if !ok {
		return types.GlobalID{}, false
	}
	return types.GlobalID{Unit: unit, Node: ref.Node}, true
}

// UnitFor translates a bare session-local index to its unit ID.
func (t *Translator) UnitFor(idx types.SessionLocalIndex) (types.CompilationUnitID, bool) {
	unit, ok := t.table[idx]
	return unit, ok
}
