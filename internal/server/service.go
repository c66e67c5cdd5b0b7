// Package server exposes the query surface consumed by editor-protocol
// handlers: definition, references and relation lookups over the analysis
// database, each result annotated with the owning unit's staleness so
// callers can tell the user "results may be outdated".
package server

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/uci/internal/analysis"
	"github.com/standardbeagle/uci/internal/build"
	"github.com/standardbeagle/uci/internal/types"
)

// Service wraps the database and scheduler behind the editor-facing API.
// Queries keep returning the most recent valid data while builds run.
type Service struct {
	db    *analysis.DB
	sched *build.Scheduler
}

// NewService creates the query service.
func NewService(db *analysis.DB, sched *build.Scheduler) *Service {
	return &Service{db: db, sched: sched}
}

// DefinitionResult is a resolved definition plus its staleness.
type DefinitionResult struct {
	Definition analysis.Definition
	Stale      bool
}

// DefinitionAt returns the innermost definition covering the span.
func (s *Service) DefinitionAt(span types.Span) (DefinitionResult, bool) {
	id, ok := s.db.DefinitionAt(span)
	if !ok {
		return DefinitionResult{}, false
	}
	def, ok := s.db.Definition(id)
	if !ok {
		return DefinitionResult{}, false
	}
	return DefinitionResult{Definition: def, Stale: s.db.IsStale(id.Unit)}, true
}

// ReferenceResult is one referencing span plus the staleness of the unit
// owning the target.
type ReferenceResult struct {
	Spans []types.Span
	Stale bool
}

// ReferencesTo returns every span referencing the GlobalID, across all
// units, ordered by file then offset. Unknown IDs yield an empty result,
// not an error.
func (s *Service) ReferencesTo(id types.GlobalID) ReferenceResult {
	return ReferenceResult{
		Spans: s.db.ReferencesTo(id),
		Stale: s.db.IsStale(id.Unit),
	}
}

// RelationResult is the related IDs for one relation query.
type RelationResult struct {
	IDs   []types.GlobalID
	Stale bool
}

// RelationsOf returns the IDs related to id by edges of the given kind.
func (s *Service) RelationsOf(id types.GlobalID, kind types.RelationKind) RelationResult {
	return RelationResult{
		IDs:   s.db.RelationsOf(id, kind),
		Stale: s.db.IsStale(id.Unit),
	}
}

// SymbolMatch is one fuzzy symbol-lookup hit.
type SymbolMatch struct {
	Definition analysis.Definition
	Score      float32
	Stale      bool
}

// minSimilarity filters out matches that share almost nothing with the
// query; exact substring hits bypass it.
const minSimilarity = 0.3

// LookupSymbol searches all stored definitions by qualified name: exact
// substring matches rank first, then fuzzy matches by Jaro-Winkler
// similarity. limit <= 0 means 50.
func (s *Service) LookupSymbol(query string, limit int) []SymbolMatch {
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	lower := strings.ToLower(query)

	var matches []SymbolMatch
	s.db.EachDefinition(func(def analysis.Definition) {
		name := strings.ToLower(def.QualifiedName)
		if strings.Contains(name, lower) {
			matches = append(matches, SymbolMatch{
				Definition: def,
				Score:      1.0,
				Stale:      s.db.IsStale(def.ID.Unit),
			})
			return
		}
		// Compare against the last path segment so "Reader" finds
		// "std::io::Reader".
		short := name
		if i := strings.LastIndex(name, "::"); i >= 0 {
			short = name[i+2:]
		}
		score, err := edlib.StringsSimilarity(lower, short, edlib.JaroWinkler)
		if err != nil || score < minSimilarity {
			return
		}
		matches = append(matches, SymbolMatch{
			Definition: def,
			Score:      score,
			Stale:      s.db.IsStale(def.ID.Unit),
		})
	})

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// Case-insensitive name order, so "read_all" sorts next to "Reader"
		// instead of after every lowercase name.
		a := strings.ToLower(matches[i].Definition.QualifiedName)
		b := strings.ToLower(matches[j].Definition.QualifiedName)
		if a != b {
			return a < b
		}
		return matches[i].Definition.QualifiedName < matches[j].Definition.QualifiedName
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// UnitStale reports the staleness flag for one unit.
func (s *Service) UnitStale(id types.CompilationUnitID) bool {
	return s.db.IsStale(id)
}

// Status reports scheduler state plus database totals.
type Status struct {
	State build.State
	Units []build.UnitStatus
	Stats analysis.Stats
}

// Status returns a combined status report.
func (s *Service) Status() Status {
	return Status{
		State: s.sched.State(),
		Units: s.sched.Status(),
		Stats: s.db.Stats(),
	}
}
