// Package build turns dirty files into fresh snapshots: the dirty tracker
// maps changed files to affected units, and the scheduler compiles the
// minimal correct set of units in dependency order, lowering each result
// into the analysis database.
package build

import (
	"sort"
	"time"

	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

// Invocation carries the compiler-frontend parameters for one unit. The
// scheduler treats it as opaque.
type Invocation struct {
	Args     []string
	Env      []string
	WorkDir  string
	RootFile string
}

// BuildUnit is one entry of the scheduling plan: a unit's identity, its
// dependencies, how to compile it, and its current build state.
type BuildUnit struct {
	ID       types.CompilationUnitID
	Identity types.UnitIdentity
	Deps     []types.CompilationUnitID
	Invoke   Invocation
	Files    []string

	// Dirty means inputs changed since the last successful compile.
	Dirty bool
	// Stale means the last compile failed; the database keeps the previous
	// snapshot flagged stale.
	Stale bool
	// Blocked means a dependency failed; the unit is not recompiled until
	// that dependency succeeds again.
	Blocked bool

	// LastGood is the most recent successfully lowered snapshot.
	LastGood *snapshot.Snapshot
	// Token is the input-freshness token of LastGood.
	Token uint64

	CompileStart time.Time
	LoweredAt    time.Time
}

// UnitSpec is what the project-graph builder produces for one unit. The
// scheduler resolves identities to IDs when it ingests a spec set.
type UnitSpec struct {
	Identity types.UnitIdentity
	Deps     []types.UnitIdentity
	Invoke   Invocation
	Files    []string
}

// Plan is an ordered compile plan. Layers group units with no dependency
// edges between them; units within a layer may compile concurrently, and
// layer i must complete before layer i+1 starts.
type Plan struct {
	Order  []types.CompilationUnitID
	Layers [][]types.CompilationUnitID
}

// Len returns the number of units in the plan.
func (p *Plan) Len() int { return len(p.Order) }

// dependentsOf builds the reverse dependency map for a unit set.
func dependentsOf(units map[types.CompilationUnitID]*BuildUnit) map[types.CompilationUnitID][]types.CompilationUnitID {
	rev := make(map[types.CompilationUnitID][]types.CompilationUnitID, len(units))
	for id, unit := range units {
		for _, dep := range unit.Deps {
			rev[dep] = append(rev[dep], id)
		}
	}
	return rev
}

// closure expands a seed set to include all transitive dependents.
func closure(units map[types.CompilationUnitID]*BuildUnit, seeds []types.CompilationUnitID) map[types.CompilationUnitID]bool {
	rev := dependentsOf(units)
	in := make(map[types.CompilationUnitID]bool, len(seeds))
	queue := make([]types.CompilationUnitID, 0, len(seeds))
	for _, id := range seeds {
		if _, known := units[id]; known && !in[id] {
			in[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range rev[id] {
			if !in[dep] {
				in[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return in
}

// planFor computes a topologically layered compile plan covering the dirty
// seeds plus their transitive dependents. Dependencies always precede
// dependents; this ordering is a correctness requirement, not an
// optimization, because a dependent's references must resolve against fresh
// dependency data.
func planFor(units map[types.CompilationUnitID]*BuildUnit, seeds []types.CompilationUnitID) *Plan {
	in := closure(units, seeds)
	if len(in) == 0 {
		return &Plan{}
	}

	// Kahn's algorithm restricted to the in-plan subgraph.
	indegree := make(map[types.CompilationUnitID]int, len(in))
	for id := range in {
		n := 0
		for _, dep := range units[id].Deps {
			if in[dep] {
				n++
			}
		}
		indegree[id] = n
	}
	rev := dependentsOf(units)

	plan := &Plan{}
	var layer []types.CompilationUnitID
	for id, n := range indegree {
		if n == 0 {
			layer = append(layer, id)
		}
	}
	for len(layer) > 0 {
		sortUnitIDs(layer)
		plan.Layers = append(plan.Layers, layer)
		plan.Order = append(plan.Order, layer...)

		var next []types.CompilationUnitID
		for _, id := range layer {
			for _, dep := range rev[id] {
				if !in[dep] {
					continue
				}
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		layer = next
	}
	// Units form a DAG; anything left over would mean a cycle in the
	// project graph, which the loader rejects. Dropping them here keeps a
	// bad graph from wedging the scheduler.
	return plan
}

func sortUnitIDs(ids []types.CompilationUnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
