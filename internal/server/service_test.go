package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/analysis"
	"github.com/standardbeagle/uci/internal/build"
	"github.com/standardbeagle/uci/internal/identity"
	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

func newService(t *testing.T) (*Service, *analysis.DB) {
	t.Helper()
	db := analysis.NewDB(identity.NewRegistry())
	sched := build.NewScheduler(db, build.NewTracker(nil), build.Options{})
	t.Cleanup(sched.Shutdown)
	return NewService(db, sched), db
}

func lowerFixtures(t *testing.T, db *analysis.DB) (coreID, appID types.CompilationUnitID) {
	t.Helper()
	core := &snapshot.Snapshot{
		Prelude: snapshot.Prelude{Identity: types.UnitIdentity{Name: "core"}},
		Definitions: []snapshot.Definition{
			{Node: 1, Kind: types.KindTrait, QualifiedName: "core::io::Reader",
				Span: types.Span{File: "core/io.x", Start: 0, End: 80}},
			{Node: 2, Kind: types.KindFunction, QualifiedName: "core::io::read_all",
				Span: types.Span{File: "core/io.x", Start: 100, End: 180}},
		},
	}
	app := &snapshot.Snapshot{
		Prelude: snapshot.Prelude{
			Identity: types.UnitIdentity{Name: "app"},
			Deps:     []snapshot.DependencyEntry{{Index: 1, Identity: types.UnitIdentity{Name: "core"}}},
		},
		Definitions: []snapshot.Definition{
			{Node: 1, Kind: types.KindType, QualifiedName: "app::FileSource",
				Span: types.Span{File: "app/main.x", Start: 0, End: 120}},
		},
		References: []snapshot.Reference{
			{Span: types.Span{File: "app/main.x", Start: 30, End: 38},
				Target: snapshot.TargetRef{Unit: 1, Node: 2}},
		},
		Implementations: []snapshot.Implementation{
			{Span: types.Span{File: "app/main.x", Start: 40, End: 110},
				From: snapshot.TargetRef{Unit: 0, Node: 1},
				To:   snapshot.TargetRef{Unit: 1, Node: 1}},
		},
	}

	var err error
	coreID, err = db.Lower(core)
	require.NoError(t, err)
	appID, err = db.Lower(app)
	require.NoError(t, err)
	return coreID, appID
}

func TestDefinitionAtWithStaleness(t *testing.T) {
	svc, db := newService(t)
	coreID, _ := lowerFixtures(t, db)

	res, ok := svc.DefinitionAt(types.Span{File: "core/io.x", Start: 120, End: 121})
	require.True(t, ok)
	assert.Equal(t, "core::io::read_all", res.Definition.QualifiedName)
	assert.False(t, res.Stale)

	db.MarkStale(coreID, true)
	res, ok = svc.DefinitionAt(types.Span{File: "core/io.x", Start: 120, End: 121})
	require.True(t, ok)
	assert.True(t, res.Stale, "queries against a failed unit must be flagged")

	_, ok = svc.DefinitionAt(types.Span{File: "unknown.x", Start: 0, End: 1})
	assert.False(t, ok)
}

func TestReferencesToAcrossUnits(t *testing.T) {
	svc, db := newService(t)
	coreID, _ := lowerFixtures(t, db)

	res := svc.ReferencesTo(types.GlobalID{Unit: coreID, Node: 2})
	require.Len(t, res.Spans, 1)
	assert.Equal(t, "app/main.x", res.Spans[0].File)
	assert.False(t, res.Stale)

	empty := svc.ReferencesTo(types.GlobalID{Unit: 999, Node: 1})
	assert.Empty(t, empty.Spans)
}

func TestRelationsOf(t *testing.T) {
	svc, db := newService(t)
	coreID, appID := lowerFixtures(t, db)

	res := svc.RelationsOf(types.GlobalID{Unit: coreID, Node: 1}, types.RelationImplements)
	require.Len(t, res.IDs, 1)
	assert.Equal(t, types.GlobalID{Unit: appID, Node: 1}, res.IDs[0])
}

func TestLookupSymbolSubstringFirst(t *testing.T) {
	svc, db := newService(t)
	lowerFixtures(t, db)

	// "read" is a substring of both read_all and Reader (case-insensitive);
	// equal scores break ties by case-insensitive name order.
	matches := svc.LookupSymbol("read", 0)
	require.GreaterOrEqual(t, len(matches), 2)
	assert.Equal(t, "core::io::read_all", matches[0].Definition.QualifiedName)
	assert.Equal(t, float32(1.0), matches[0].Score)
	assert.Equal(t, "core::io::Reader", matches[1].Definition.QualifiedName)
	assert.Equal(t, float32(1.0), matches[1].Score)
}

func TestLookupSymbolFuzzy(t *testing.T) {
	svc, db := newService(t)
	lowerFixtures(t, db)

	// No substring hit; "Raeder" is a transposition of "Reader".
	matches := svc.LookupSymbol("Raeder", 0)
	require.NotEmpty(t, matches)
	assert.Equal(t, "core::io::Reader", matches[0].Definition.QualifiedName)
	assert.Less(t, matches[0].Score, float32(1.0))
}

func TestLookupSymbolLimitAndEmptyQuery(t *testing.T) {
	svc, db := newService(t)
	lowerFixtures(t, db)

	assert.Nil(t, svc.LookupSymbol("", 10))
	matches := svc.LookupSymbol("core", 1)
	assert.Len(t, matches, 1)
}

func TestStatusReportsIdleScheduler(t *testing.T) {
	svc, db := newService(t)
	lowerFixtures(t, db)

	st := svc.Status()
	assert.Equal(t, build.Idle, st.State)
	assert.Empty(t, st.Units)
	assert.Equal(t, 3, st.Stats.Definitions)
}
