package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/types"
)

func graph(edges map[types.CompilationUnitID][]types.CompilationUnitID) map[types.CompilationUnitID]*BuildUnit {
	units := make(map[types.CompilationUnitID]*BuildUnit)
	for id, deps := range edges {
		units[id] = &BuildUnit{ID: id, Deps: deps}
	}
	return units
}

func TestPlanDependencyBeforeDependent(t *testing.T) {
	// 1 <- 2 <- 3, 1 <- 4
	units := graph(map[types.CompilationUnitID][]types.CompilationUnitID{
		1: nil, 2: {1}, 3: {2}, 4: {1},
	})
	plan := planFor(units, []types.CompilationUnitID{1})

	require.Equal(t, 4, plan.Len())
	pos := make(map[types.CompilationUnitID]int)
	for i, id := range plan.Order {
		pos[id] = i
	}
	assert.Less(t, pos[1], pos[2])
	assert.Less(t, pos[2], pos[3])
	assert.Less(t, pos[1], pos[4])
}

func TestPlanLayersGroupIndependentUnits(t *testing.T) {
	units := graph(map[types.CompilationUnitID][]types.CompilationUnitID{
		1: nil, 2: {1}, 3: {2}, 4: {1},
	})
	plan := planFor(units, []types.CompilationUnitID{1})

	require.Len(t, plan.Layers, 3)
	assert.Equal(t, []types.CompilationUnitID{1}, plan.Layers[0])
	assert.Equal(t, []types.CompilationUnitID{2, 4}, plan.Layers[1])
	assert.Equal(t, []types.CompilationUnitID{3}, plan.Layers[2])
}

func TestPlanCoversOnlyDirtyClosure(t *testing.T) {
	// Editing 2 must rebuild 2 and 3 but not 1 or 4.
	units := graph(map[types.CompilationUnitID][]types.CompilationUnitID{
		1: nil, 2: {1}, 3: {2}, 4: {1},
	})
	plan := planFor(units, []types.CompilationUnitID{2})

	assert.Equal(t, []types.CompilationUnitID{2, 3}, plan.Order)
}

func TestPlanEmptySeeds(t *testing.T) {
	units := graph(map[types.CompilationUnitID][]types.CompilationUnitID{1: nil})
	assert.Equal(t, 0, planFor(units, nil).Len())
}

func TestPlanIgnoresUnknownSeeds(t *testing.T) {
	units := graph(map[types.CompilationUnitID][]types.CompilationUnitID{1: nil})
	plan := planFor(units, []types.CompilationUnitID{99})
	assert.Equal(t, 0, plan.Len())
}

func TestPlanDiamond(t *testing.T) {
	// 1 <- 2, 1 <- 3, {2,3} <- 4
	units := graph(map[types.CompilationUnitID][]types.CompilationUnitID{
		1: nil, 2: {1}, 3: {1}, 4: {2, 3},
	})
	plan := planFor(units, []types.CompilationUnitID{1})

	require.Len(t, plan.Layers, 3)
	assert.Equal(t, []types.CompilationUnitID{2, 3}, plan.Layers[1])
	assert.Equal(t, []types.CompilationUnitID{4}, plan.Layers[2])
}
