// Command uci maintains a live cross-unit code index: it compiles the
// project's units through a configured compiler frontend, lowers the
// resulting snapshots into an in-memory analysis database, and keeps the
// database fresh as files change.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/uci/internal/analysis"
	"github.com/standardbeagle/uci/internal/build"
	"github.com/standardbeagle/uci/internal/cache"
	"github.com/standardbeagle/uci/internal/config"
	"github.com/standardbeagle/uci/internal/identity"
	"github.com/standardbeagle/uci/internal/overlay"
	"github.com/standardbeagle/uci/internal/server"
	"github.com/standardbeagle/uci/internal/version"
	"github.com/standardbeagle/uci/internal/watch"
	"github.com/standardbeagle/uci/pkg/pathutil"
)

func main() {
	app := &cli.App{
		Name:    "uci",
		Usage:   "incremental cross-unit code index",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "project root directory",
				Value:   ".",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "run one project-wide build and print index statistics",
				Action: runIndex,
			},
			{
				Name:   "watch",
				Usage:  "build, then keep the index fresh until interrupted",
				Action: runWatch,
			},
			{
				Name:   "status",
				Usage:  "load the unit graph and report index state without building",
				Action: runStatus,
			},
			{
				Name:      "lookup",
				Usage:     "build, then fuzzy-search definitions by qualified name",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: runLookup,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// session wires the core components from configuration.
type session struct {
	cfg     *config.Config
	svc     *server.Service
	sched   *build.Scheduler
	overlay *overlay.Store
	loader  *build.ManifestLoader
	store   *cache.Store
}

func newSession(c *cli.Context) (*session, error) {
	root, err := filepath.Abs(c.String("root"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	reg := identity.NewRegistry()
	db := analysis.NewDB(reg)
	tracker := build.NewTracker(cfg.IsProjectFile)
	ov := overlay.NewStore()

	var store *cache.Store
	if cfg.Build.CacheDir != "" {
		store, err = cache.Open(cfg.Build.CacheDir)
		if err != nil {
			return nil, err
		}
	}

	manifest := pathutil.Abs(cfg.Build.ManifestPath, cfg.Project.Root)
	loader := &build.ManifestLoader{Path: manifest, Root: cfg.Project.Root}
	sched := build.NewScheduler(db, tracker, build.Options{
		Compiler:    &build.ExecCompiler{Command: cfg.Build.CompilerCommand},
		Loader:      loader,
		Provider:    ov,
		Cache:       store,
		Parallelism: cfg.Parallelism(),
	})

	return &session{
		cfg:     cfg,
		svc:     server.NewService(db, sched),
		sched:   sched,
		overlay: ov,
		loader:  loader,
		store:   store,
	}, nil
}

func (s *session) buildOnce(ctx context.Context) error {
	s.sched.RequestProjectWide()
	return s.sched.WaitIdle(ctx)
}

func runIndex(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.sched.Shutdown()

	start := time.Now()
	if err := s.buildOnce(c.Context); err != nil {
		return err
	}
	printStatus(s.svc.Status(), time.Since(start))
	return nil
}

func runWatch(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.sched.Shutdown()

	if err := s.buildOnce(c.Context); err != nil {
		return err
	}
	printStatus(s.svc.Status(), 0)

	watcher, err := watch.New(s.cfg, func(paths []string) {
		s.sched.NotifyChanged(paths...)
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	log.Printf("watching %s, ctrl-c to stop", s.cfg.Project.Root)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-c.Context.Done():
	}
	return nil
}

func runStatus(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.sched.Shutdown()

	specs, err := s.loader.Load(c.Context)
	if err != nil {
		return err
	}
	s.sched.SetUnits(specs)
	printStatus(s.svc.Status(), 0)
	if s.store != nil {
		fmt.Println(s.store)
	}
	return nil
}

func runLookup(c *cli.Context) error {
	query := c.Args().First()
	if query == "" {
		return fmt.Errorf("usage: uci lookup <query>")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.sched.Shutdown()

	if err := s.buildOnce(c.Context); err != nil {
		return err
	}
	for _, m := range s.svc.LookupSymbol(query, c.Int("limit")) {
		stale := ""
		if m.Stale {
			stale = " (stale)"
		}
		span := m.Definition.Span
		span.File = pathutil.Rel(span.File, s.cfg.Project.Root)
		fmt.Printf("%5.2f %-10s %s%s\n\t%s\n",
			m.Score, m.Definition.Kind, m.Definition.QualifiedName, stale, span)
	}
	return nil
}

func printStatus(st server.Status, elapsed time.Duration) {
	fmt.Printf("state: %s\n", st.State)
	fmt.Printf("units: %d, definitions: %d, references: %d, edges: %d\n",
		st.Stats.Units, st.Stats.Definitions, st.Stats.References, st.Stats.Edges)
	for _, u := range st.Units {
		flags := ""
		if u.Dirty {
			flags += " dirty"
		}
		if u.Stale {
			flags += " stale"
		}
		if u.Blocked {
			flags += " blocked"
		}
		fmt.Printf("  %-30s%s\n", u.Identity, flags)
	}
	if elapsed > 0 {
		fmt.Printf("built in %v\n", elapsed)
	}
}
