package build

import (
	"context"
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/uci/internal/analysis"
	"github.com/standardbeagle/uci/internal/cache"
	"github.com/standardbeagle/uci/internal/debug"
	ucierr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/overlay"
	"github.com/standardbeagle/uci/internal/snapshot"
	"github.com/standardbeagle/uci/internal/types"
)

// State is the scheduler's coalescing state. Dirty notifications arriving
// while a build is in flight accumulate into a pending set and produce
// exactly one follow-up build, regardless of how many arrived.
type State int

const (
	// Idle means no build is running and nothing is pending.
	Idle State = iota
	// Building means a plan is executing and nothing new has arrived.
	Building
	// BuildingWithPendingDirty means a plan is executing and changes that
	// arrived since it started are waiting for one follow-up build.
	BuildingWithPendingDirty
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case BuildingWithPendingDirty:
		return "building+pending"
	default:
		return "unknown"
	}
}

// Summary describes one completed plan execution.
type Summary struct {
	ProjectWide bool
	Planned     int
	Compiled    int
	CacheHits   int
	Failed      int
	Blocked     int
	Skipped     int
	Duration    time.Duration
}

// Scheduler drives incremental rebuilds: it owns the unit graph, reacts to
// dirty notifications, computes topologically ordered plans and feeds fresh
// snapshots into the analysis database. One logical plan executor runs per
// scheduler; unit compiles within a plan layer run concurrently up to the
// configured parallelism bound.
type Scheduler struct {
	db       *analysis.DB
	tracker  *Tracker
	compiler Compiler
	loader   ProjectLoader
	provider overlay.ContentProvider
	cache    *cache.Store // nil disables snapshot reuse
	parallel int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                 sync.Mutex
	cond               *sync.Cond
	state              State
	units              map[types.CompilationUnitID]*BuildUnit
	pendingDirty       DirtySet
	pendingProjectWide bool
	superseded         bool
	closed             bool

	onBuildComplete func(Summary)
}

// Options configures a Scheduler.
type Options struct {
	Compiler Compiler
	Loader   ProjectLoader
	Provider overlay.ContentProvider
	Cache    *cache.Store
	// Parallelism bounds concurrent unit compiles. Values < 1 mean 1.
	Parallelism int
}

// NewScheduler creates an idle scheduler over the given database and
// tracker.
func NewScheduler(db *analysis.DB, tracker *Tracker, opts Options) *Scheduler {
	parallel := int64(opts.Parallelism)
	if parallel < 1 {
		parallel = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		db:           db,
		tracker:      tracker,
		compiler:     opts.Compiler,
		loader:       opts.Loader,
		provider:     opts.Provider,
		cache:        opts.Cache,
		parallel:     parallel,
		ctx:          ctx,
		cancel:       cancel,
		units:        make(map[types.CompilationUnitID]*BuildUnit),
		pendingDirty: make(DirtySet),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetOnBuildComplete installs a callback fired after each plan execution,
// before any follow-up build starts. Used by tests to observe coalescing.
func (s *Scheduler) SetOnBuildComplete(fn func(Summary)) {
	s.mu.Lock()
	s.onBuildComplete = fn
	s.mu.Unlock()
}

// SetUnits installs a unit graph directly, resolving identities against the
// database's registry and rebuilding the dirty tracker. Units keep their
// previous build state when their identity is unchanged.
func (s *Scheduler) SetUnits(specs []UnitSpec) {
	s.mu.Lock()
	s.installSpecsLocked(specs)
	s.mu.Unlock()
}

// installSpecsLocked replaces the unit graph. Caller holds s.mu.
func (s *Scheduler) installSpecsLocked(specs []UnitSpec) {
	reg := s.db.Registry()
	old := s.units
	units := make(map[types.CompilationUnitID]*BuildUnit, len(specs))
	for _, spec := range specs {
		id := reg.Resolve(spec.Identity)
		unit := &BuildUnit{
			ID:       id,
			Identity: spec.Identity,
			Invoke:   spec.Invoke,
			Files:    spec.Files,
			Dirty:    true,
		}
		for _, dep := range spec.Deps {
			unit.Deps = append(unit.Deps, reg.Resolve(dep))
		}
		if prev, ok := old[id]; ok {
			unit.Token = prev.Token
			unit.LastGood = prev.LastGood
			unit.LoweredAt = prev.LoweredAt
			unit.CompileStart = prev.CompileStart
		}
		units[id] = unit
	}
	for id, unit := range old {
		if _, kept := units[id]; !kept {
			s.db.Evict(id)
			if s.cache != nil {
				s.cache.Evict(unit.Identity)
			}
			debug.LogBuild("unit %s left the project\n", unit.Identity)
		}
	}
	s.units = units
	s.tracker.Rebuild(units)
}

// NotifyChanged records changed files and kicks off or coalesces a build.
func (s *Scheduler) NotifyChanged(paths ...string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, path := range paths {
		s.pendingDirty.Add(path, now)
	}
	s.kickLocked()
}

// RequestProjectWide asks for a full rebuild of the unit graph. If a build
// is in flight it is superseded: the in-flight unit compile finishes and is
// lowered, the queued remainder is dropped, and the project-wide cycle runs
// next. Repeated requests merge into one.
func (s *Scheduler) RequestProjectWide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pendingProjectWide = true
	if s.state == Idle {
		s.startLocked()
		return
	}
	s.superseded = true
	s.state = BuildingWithPendingDirty
}

// kickLocked transitions on new dirty input. Caller holds s.mu.
func (s *Scheduler) kickLocked() {
	switch s.state {
	case Idle:
		if len(s.pendingDirty) > 0 || s.pendingProjectWide {
			s.startLocked()
		}
	case Building:
		s.state = BuildingWithPendingDirty
	case BuildingWithPendingDirty:
		// already pending, nothing to do
	}
}

// startLocked consumes the pending state and launches a plan executor.
// Caller holds s.mu.
func (s *Scheduler) startLocked() {
	dirty := s.pendingDirty
	projectWide := s.pendingProjectWide
	s.pendingDirty = make(DirtySet)
	s.pendingProjectWide = false
	s.superseded = false
	s.state = Building

	s.wg.Add(1)
	go s.run(dirty, projectWide)
}

// run executes one build cycle, then either starts the coalesced follow-up
// or returns the scheduler to idle.
func (s *Scheduler) run(dirty DirtySet, projectWide bool) {
	defer s.wg.Done()
	started := time.Now()

	var seeds []types.CompilationUnitID
	if !projectWide {
		outcome := s.tracker.Resolve(dirty.Paths())
		if outcome.ProjectWide {
			projectWide = true
		} else {
			seeds = outcome.Units
		}
	}

	if projectWide {
		if err := s.reloadProject(s.ctx); err != nil {
			log.Printf("project reload failed, keeping previous unit graph: %v", err)
		}
		s.mu.Lock()
		for id, unit := range s.units {
			unit.Dirty = true
			seeds = append(seeds, id)
		}
		s.mu.Unlock()
		sortUnitIDs(seeds)
	} else {
		s.mu.Lock()
		for _, id := range seeds {
			if unit, ok := s.units[id]; ok {
				unit.Dirty = true
			}
		}
		// Plans cover every dirty unit, so a unit whose last compile
		// failed is retried on the next build that runs.
		seeds = seeds[:0]
		for id, unit := range s.units {
			if unit.Dirty {
				seeds = append(seeds, id)
			}
		}
		s.mu.Unlock()
		sortUnitIDs(seeds)
	}

	s.mu.Lock()
	plan := planFor(s.units, seeds)
	s.mu.Unlock()

	summary := s.execute(plan)
	summary.ProjectWide = projectWide
	summary.Duration = time.Since(started)
	debug.LogBuild("plan done: %d planned, %d compiled, %d cached, %d failed, %d blocked, %d skipped in %v\n",
		summary.Planned, summary.Compiled, summary.CacheHits, summary.Failed,
		summary.Blocked, summary.Skipped, summary.Duration)

	s.mu.Lock()
	cb := s.onBuildComplete
	s.mu.Unlock()
	if cb != nil {
		cb(summary)
	}

	s.mu.Lock()
	if !s.closed && (len(s.pendingDirty) > 0 || s.pendingProjectWide) {
		s.startLocked()
	} else {
		s.state = Idle
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// reloadProject invokes the project-graph builder and installs the result.
func (s *Scheduler) reloadProject(ctx context.Context) error {
	if s.loader == nil {
		return nil
	}
	specs, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.installSpecsLocked(specs)
	s.mu.Unlock()
	return nil
}

// execute runs one plan layer by layer. Units in a layer share no
// dependency edges and compile concurrently under the parallelism bound.
// A superseding request drops the queued remainder between dispatches but
// never interrupts an in-flight compile.
func (s *Scheduler) execute(plan *Plan) Summary {
	summary := Summary{Planned: plan.Len()}
	if plan.Len() == 0 {
		return summary
	}

	failed := make(map[types.CompilationUnitID]bool)
	var resMu sync.Mutex
	sem := semaphore.NewWeighted(s.parallel)

	dispatched := 0
	for _, layer := range plan.Layers {
		if s.isSuperseded() {
			break
		}
		g := new(errgroup.Group)
		stopped := false
		for _, id := range layer {
			if s.isSuperseded() {
				stopped = true
				break
			}
			dispatched++
			unitID := id
			g.Go(func() error {
				if err := sem.Acquire(s.ctx, 1); err != nil {
					return nil
				}
				defer sem.Release(1)
				s.buildOne(unitID, failed, &resMu, &summary)
				return nil
			})
		}
		_ = g.Wait()
		if stopped {
			break
		}
	}
	summary.Skipped = plan.Len() - dispatched
	return summary
}

func (s *Scheduler) isSuperseded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded || s.closed
}

// buildOne compiles (or cache-loads) one unit and lowers the result. Every
// failure is contained to the unit and its dependents.
func (s *Scheduler) buildOne(id types.CompilationUnitID, failed map[types.CompilationUnitID]bool, resMu *sync.Mutex, summary *Summary) {
	s.mu.Lock()
	unit := s.units[id]
	s.mu.Unlock()
	if unit == nil {
		return
	}

	// Propagate dependency failures: a dependent of a failed unit is not
	// compiled until the dependency succeeds again.
	resMu.Lock()
	blocked := false
	for _, dep := range unit.Deps {
		if failed[dep] {
			blocked = true
			break
		}
	}
	if blocked {
		failed[id] = true
		summary.Blocked++
	}
	resMu.Unlock()
	if blocked {
		s.mu.Lock()
		unit.Blocked = true
		s.mu.Unlock()
		s.db.MarkStale(id, true)
		debug.LogBuild("unit %s blocked by failed dependency\n", unit.Identity)
		return
	}

	token := s.freshnessToken(unit)

	if s.cache != nil {
		if snap, ok := s.cache.Load(unit.Identity, token); ok {
			if _, err := s.db.Lower(snap); err == nil {
				s.markBuilt(unit, snap, token, time.Time{})
				resMu.Lock()
				summary.CacheHits++
				resMu.Unlock()
				return
			}
			// An unlowerable cached snapshot falls through to a compile.
			s.cache.Evict(unit.Identity)
		}
	}

	compileStart := time.Now()
	s.mu.Lock()
	unit.CompileStart = compileStart
	s.mu.Unlock()

	snap, err := s.compiler.Compile(s.ctx, unit, s.provider)
	if err == nil {
		_, err = s.db.Lower(snap)
	}
	if err != nil {
		cerr := ucierr.NewCompileError(id, unit.Identity, err)
		log.Printf("%v", cerr)
		s.mu.Lock()
		unit.Stale = true
		s.mu.Unlock()
		s.db.MarkStale(id, true)
		resMu.Lock()
		failed[id] = true
		summary.Failed++
		resMu.Unlock()
		return
	}

	s.markBuilt(unit, snap, token, compileStart)
	resMu.Lock()
	summary.Compiled++
	resMu.Unlock()

	if s.cache != nil {
		if err := s.cache.Save(unit.Identity, token, snap); err != nil {
			debug.LogBuild("cache save failed for %s: %v\n", unit.Identity, err)
		}
	}
}

// markBuilt records a successful lower for the unit.
func (s *Scheduler) markBuilt(unit *BuildUnit, snap *snapshot.Snapshot, token uint64, compileStart time.Time) {
	now := time.Now()
	s.mu.Lock()
	unit.Dirty = false
	unit.Stale = false
	unit.Blocked = false
	unit.Token = token
	unit.LastGood = snap
	unit.LoweredAt = now
	if !compileStart.IsZero() {
		unit.CompileStart = compileStart
	}
	s.mu.Unlock()
	s.db.MarkStale(unit.ID, false)
}

// freshnessToken hashes the unit's own input contents (overlay-aware) mixed
// with its dependencies' current tokens, so a dependency rebuild invalidates
// the dependent's cached snapshot as well.
func (s *Scheduler) freshnessToken(unit *BuildUnit) uint64 {
	base := overlay.HashFiles(s.provider, unit.Files)

	s.mu.Lock()
	depTokens := make([]uint64, 0, len(unit.Deps))
	for _, dep := range unit.Deps {
		if d, ok := s.units[dep]; ok {
			depTokens = append(depTokens, d.Token)
		}
	}
	s.mu.Unlock()

	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], base)
	_, _ = h.Write(buf[:])
	for _, t := range depTokens {
		binary.LittleEndian.PutUint64(buf[:], t)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// State returns the current coalescing state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UnitStatus is one row of the scheduler's status report.
type UnitStatus struct {
	ID           types.CompilationUnitID
	Identity     types.UnitIdentity
	Dirty        bool
	Stale        bool
	Blocked      bool
	CompileStart time.Time
	LoweredAt    time.Time
}

// Status reports per-unit build state, sorted by unit ID.
func (s *Scheduler) Status() []UnitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UnitStatus, 0, len(s.units))
	ids := make([]types.CompilationUnitID, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	sortUnitIDs(ids)
	for _, id := range ids {
		unit := s.units[id]
		out = append(out, UnitStatus{
			ID:           unit.ID,
			Identity:     unit.Identity,
			Dirty:        unit.Dirty,
			Stale:        unit.Stale,
			Blocked:      unit.Blocked,
			CompileStart: unit.CompileStart,
			LoweredAt:    unit.LoweredAt,
		})
	}
	return out
}

// Unit returns a copy of the unit's current build state.
func (s *Scheduler) Unit(id types.CompilationUnitID) (BuildUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[id]
	if !ok {
		return BuildUnit{}, false
	}
	return *unit, true
}

// WaitIdle blocks until the scheduler is idle with nothing pending, or the
// context is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state != Idle || len(s.pendingDirty) > 0 || s.pendingProjectWide {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

// Shutdown stops the scheduler and waits for the in-flight build cycle.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}
