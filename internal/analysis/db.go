// Package analysis owns the global cross-unit index: per-unit definition
// tables, a reverse reference index and relation graphs, all keyed by stable
// GlobalIDs. Snapshots are lowered into it one unit at a time; each lower
// atomically replaces everything the unit owns and touches nothing else.
package analysis

import (
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/standardbeagle/uci/internal/debug"
	"github.com/standardbeagle/uci/internal/identity"
	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

// Definition is a lowered definition record as stored in the database. All
// node references have been translated to GlobalIDs.
type Definition struct {
	ID            types.GlobalID
	Kind          types.DefKind
	QualifiedName string
	Span          types.Span
	// Parent is the enclosing definition, or the zero GlobalID for
	// top-level items.
	Parent     types.GlobalID
	Signature  string
	Doc        string
	Attributes []string
}

// Reference is a lowered reference: a span in the owning unit plus the
// GlobalID it resolves to. The target is self-contained and may name a unit
// that has not been lowered yet; it becomes resolvable once that unit is.
type Reference struct {
	Span   types.Span
	Target types.GlobalID
}

// Edge is a lowered typed edge between two GlobalIDs. Implementation
// records are stored as edges of kind RelationImplements.
type Edge struct {
	Kind types.RelationKind
	Span types.Span
	From types.GlobalID
	To   types.GlobalID
}

// unitState holds everything one unit owns. A lower builds a fresh unitState
// off-lock and swaps it in whole, so readers never observe a half-replaced
// unit.
type unitState struct {
	id         types.CompilationUnitID
	identity   types.UnitIdentity
	defs       []Definition
	defByNode  map[types.LocalNodeID]int
	defsByFile map[string][]int
	refs       []Reference
	edges      []Edge
	stale      bool
	loweredAt  time.Time
}

// DB is the analysis database. It is created empty at startup, owned by the
// server component, and mutated only through Lower and Evict. Queries may
// run concurrently with lowering.
type DB struct {
	mu       sync.RWMutex
	registry *identity.Registry
	units    map[types.CompilationUnitID]*unitState

	// touched maps a GlobalID to the set of units that contain at least one
	// reference or edge to it. Unit IDs are uint32, which is exactly what a
	// roaring bitmap wants.
	touched map[types.GlobalID]*roaring.Bitmap
}

// NewDB creates an empty database sharing the given identity registry.
func NewDB(reg *identity.Registry) *DB {
	return &DB{
		registry: reg,
		units:    make(map[types.CompilationUnitID]*unitState),
		touched:  make(map[types.GlobalID]*roaring.Bitmap),
	}
}

// Registry returns the identity registry the database resolves against.
func (db *DB) Registry() *identity.Registry {
	return db.registry
}

// Lower ingests one snapshot: validates it, translates session-local IDs to
// GlobalIDs, and replaces the owning unit's records in one visible step.
// Lowering an identical snapshot twice yields the same state as lowering it
// once. On any error the unit's previous state is retained unchanged.
func (db *DB) Lower(snap *snapshot.Snapshot) (types.CompilationUnitID, error) {
	if err := snap.Validate(); err != nil {
		return types.InvalidUnit, err
	}
	tr, err := identity.NewTranslator(db.registry, &snap.Prelude)
	if err != nil {
		return types.InvalidUnit, err
	}

	state := buildUnitState(tr, snap)

	db.mu.Lock()
	defer db.mu.Unlock()
	if old, ok := db.units[state.id]; ok {
		db.untouch(old)
	}
	db.units[state.id] = state
	db.touch(state)
	debug.LogLower("unit %s (%d): %d defs, %d refs, %d edges\n",
		state.identity, state.id, len(state.defs), len(state.refs), len(state.edges))
	return state.id, nil
}

// buildUnitState translates and deduplicates a validated snapshot into a
// fresh unitState. Runs without holding the database lock.
func buildUnitState(tr *identity.Translator, snap *snapshot.Snapshot) *unitState {
	self := tr.Self()
	state := &unitState{
		id:         self,
		identity:   snap.Prelude.Identity,
		defByNode:  make(map[types.LocalNodeID]int, len(snap.Definitions)),
		defsByFile: make(map[string][]int),
		loweredAt:  time.Now(),
	}

	type defKey struct {
		name string
		span types.Span
	}
	seen := make(map[defKey]bool, len(snap.Definitions))
	for i := range snap.Definitions {
		src := &snap.Definitions[i]
		key := defKey{name: src.QualifiedName, span: src.Span}
		if seen[key] {
			continue
		}
		seen[key] = true

		def := Definition{
			ID:            types.GlobalID{Unit: self, Node: src.Node},
			Kind:          src.Kind,
			QualifiedName: src.QualifiedName,
			Span:          src.Span,
			Signature:     src.Signature,
			Doc:           src.Doc,
			Attributes:    src.Attributes,
		}
		if src.Parent != 0 {
			def.Parent = types.GlobalID{Unit: self, Node: src.Parent}
		}
		idx := len(state.defs)
		state.defs = append(state.defs, def)
		state.defByNode[src.Node] = idx
		state.defsByFile[src.Span.File] = append(state.defsByFile[src.Span.File], idx)
	}

	for i := range snap.References {
		src := &snap.References[i]
		target, ok := tr.Global(src.Target)
		if !ok {
			continue // validated snapshots never hit this
		}
		state.refs = append(state.refs, Reference{Span: src.Span, Target: target})
	}
	for i := range snap.Implementations {
		src := &snap.Implementations[i]
		from, ok1 := tr.Global(src.From)
		to, ok2 := tr.Global(src.To)
		if !ok1 || !ok2 {
			continue
		}
		state.edges = append(state.edges, Edge{
			Kind: types.RelationImplements, Span: src.Span, From: from, To: to,
		})
	}
	for i := range snap.Relations {
		src := &snap.Relations[i]
		from, ok1 := tr.Global(src.From)
		to, ok2 := tr.Global(src.To)
		if !ok1 || !ok2 {
			continue
		}
		state.edges = append(state.edges, Edge{
			Kind: src.Kind, Span: src.Span, From: from, To: to,
		})
	}
	return state
}

// touch registers the unit in the reverse index for every GlobalID its
// references and edges mention. Caller holds the write lock.
func (db *DB) touch(state *unitState) {
	add := func(g types.GlobalID) {
		bm, ok := db.touched[g]
		if !ok {
			bm = roaring.New()
			db.touched[g] = bm
		}
		bm.Add(uint32(state.id))
	}
	for i := range state.refs {
		add(state.refs[i].Target)
	}
	for i := range state.edges {
		add(state.edges[i].From)
		add(state.edges[i].To)
	}
}

// untouch removes the unit from the reverse index. Caller holds the write
// lock.
func (db *DB) untouch(state *unitState) {
	remove := func(g types.GlobalID) {
		bm, ok := db.touched[g]
		if !ok {
			return
		}
		bm.Remove(uint32(state.id))
		if bm.IsEmpty() {
			delete(db.touched, g)
		}
	}
	for i := range state.refs {
		remove(state.refs[i].Target)
	}
	for i := range state.edges {
		remove(state.edges[i].From)
		remove(state.edges[i].To)
	}
}

// Evict removes every record owned by the unit. Used when a unit leaves the
// project. Evicting an unknown unit is a no-op.
func (db *DB) Evict(id types.CompilationUnitID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	state, ok := db.units[id]
	if !ok {
		return
	}
	db.untouch(state)
	delete(db.units, id)
	debug.LogLower("evicted unit %s (%d)\n", state.identity, id)
}

// Definition resolves a GlobalID to its current definition record. Returns
// false for unknown units or nodes: a reference may point at a unit that has
// not been lowered yet, which is valid and resolves once it is.
func (db *DB) Definition(g types.GlobalID) (Definition, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	state, ok := db.units[g.Unit]
	if !ok {
		return Definition{}, false
	}
	idx, ok := state.defByNode[g.Node]
	if !ok {
		return Definition{}, false
	}
	return state.defs[idx], true
}

// DefinitionAt returns the GlobalID of the innermost definition whose span
// contains the given span, if any.
func (db *DB) DefinitionAt(span types.Span) (types.GlobalID, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var best types.GlobalID
	bestLen := uint32(0)
	found := false
	for _, state := range db.units {
		for _, idx := range state.defsByFile[span.File] {
			def := &state.defs[idx]
			if !def.Span.Contains(span) {
				continue
			}
			if !found || def.Span.Len() < bestLen {
				best = def.ID
				bestLen = def.Span.Len()
				found = true
			}
		}
	}
	return best, found
}

// ReferencesTo returns every span, across all units, that references the
// given GlobalID, ordered by file then start offset. Unknown IDs return an
// empty slice.
func (db *DB) ReferencesTo(g types.GlobalID) []types.Span {
	db.mu.RLock()
	defer db.mu.RUnlock()

	bm, ok := db.touched[g]
	if !ok {
		return nil
	}
	var spans []types.Span
	it := bm.Iterator()
	for it.HasNext() {
		state, ok := db.units[types.CompilationUnitID(it.Next())]
		if !ok {
			continue
		}
		for i := range state.refs {
			if state.refs[i].Target == g {
				spans = append(spans, state.refs[i].Span)
			}
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].File != spans[j].File {
			return spans[i].File < spans[j].File
		}
		return spans[i].Start < spans[j].Start
	})
	return spans
}

// RelationsOf returns the GlobalIDs related to g by edges of the given kind,
// from either end: for an implements edge, querying the trait yields the
// implementors and querying the impl yields the trait. Results are sorted
// and deduplicated.
func (db *DB) RelationsOf(g types.GlobalID, kind types.RelationKind) []types.GlobalID {
	db.mu.RLock()
	defer db.mu.RUnlock()

	bm, ok := db.touched[g]
	if !ok {
		return nil
	}
	set := make(map[types.GlobalID]bool)
	it := bm.Iterator()
	for it.HasNext() {
		state, ok := db.units[types.CompilationUnitID(it.Next())]
		if !ok {
			continue
		}
		for i := range state.edges {
			edge := &state.edges[i]
			if edge.Kind != kind {
				continue
			}
			if edge.From == g {
				set[edge.To] = true
			}
			if edge.To == g {
				set[edge.From] = true
			}
		}
	}
	out := make([]types.GlobalID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// UnitDefinitions returns a copy of the unit's definition records, for
// status output and symbol search. Unknown units return nil.
func (db *DB) UnitDefinitions(id types.CompilationUnitID) []Definition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	state, ok := db.units[id]
	if !ok {
		return nil
	}
	out := make([]Definition, len(state.defs))
	copy(out, state.defs)
	return out
}

// EachDefinition calls fn for every definition in the database. fn must not
// call back into the database.
func (db *DB) EachDefinition(fn func(Definition)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, state := range db.units {
		for i := range state.defs {
			fn(state.defs[i])
		}
	}
}

// Units returns the IDs of every lowered unit.
func (db *DB) Units() []types.CompilationUnitID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]types.CompilationUnitID, 0, len(db.units))
	for id := range db.units {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasUnit reports whether the unit has been lowered.
func (db *DB) HasUnit(id types.CompilationUnitID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.units[id]
	return ok
}

// MarkStale flags the unit's records as possibly outdated. Query callers
// surface the flag so editors can say "results may be stale".
func (db *DB) MarkStale(id types.CompilationUnitID, stale bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if state, ok := db.units[id]; ok {
		state.stale = stale
	}
}

// IsStale reports the unit's staleness flag. Unknown units report false.
func (db *DB) IsStale(id types.CompilationUnitID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if state, ok := db.units[id]; ok {
		return state.stale
	}
	return false
}

// LoweredAt returns when the unit was last lowered.
func (db *DB) LoweredAt(id types.CompilationUnitID) (time.Time, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if state, ok := db.units[id]; ok {
		return state.loweredAt, true
	}
	return time.Time{}, false
}

// Stats summarizes database contents.
type Stats struct {
	Units       int
	Definitions int
	References  int
	Edges       int
}

// Stats returns current totals.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var s Stats
	s.Units = len(db.units)
	for _, state := range db.units {
		s.Definitions += len(state.defs)
		s.References += len(state.refs)
		s.Edges += len(state.edges)
	}
	return s
}
