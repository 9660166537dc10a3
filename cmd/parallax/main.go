// Command parallax is the CLI entry point: a single binary dispatching to
// verbs the way distri's cmd/distri/distri.go does (a map of verb name to
// func(ctx, args) error, with -flags parsed ahead of the verb).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/artifactcache"
	"github.com/parallaxbuild/parallax/internal/cachekey"
	"github.com/parallaxbuild/parallax/internal/compile"
	"github.com/parallaxbuild/parallax/internal/env"
	"github.com/parallaxbuild/parallax/internal/exclusives"
	"github.com/parallaxbuild/parallax/internal/graph"
	"github.com/parallaxbuild/parallax/internal/lock"
	"github.com/parallaxbuild/parallax/internal/manifest"
	"github.com/parallaxbuild/parallax/internal/oninterrupt"
	"github.com/parallaxbuild/parallax/internal/report"
	"github.com/parallaxbuild/parallax/internal/reportserver"
	"github.com/parallaxbuild/parallax/internal/runtracker"
	"github.com/parallaxbuild/parallax/internal/worker"
	"github.com/parallaxbuild/parallax/internal/workunit"
	"golang.org/x/xerrors"
)

var debug = flag.Bool("debug", false, "print full error chains instead of the top-level message")

func main() {
	if err := funcmain(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "parallax: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "parallax: %v\n", err)
		}
		os.Exit(1)
	}
}

func funcmain() error {
	flag.Parse()

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"build": {cmdBuild},
		"graph": {cmdGraph},
		"env":   {cmdEnv},
		"gc":    {cmdGC},
		"serve": {cmdServe},
	}

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	c, ok := verbs[verb]
	if !ok {
		return xerrors.Errorf("unknown verb %q (available: build, graph, env, gc, serve)", verb)
	}

	ctx, canc := parallax.InterruptibleContext()
	defer canc()
	defer func() {
		if err := parallax.RunAtExit(); err != nil {
			log.Printf("atexit: %v", err)
		}
	}()

	return c.fn(ctx, args)
}

// loadGraph parses every manifest reachable from specs and resolves it
// into a BuildGraph.
func loadGraph(specs []string) (*graph.BuildGraph, []parallax.Address, error) {
	loader := manifest.NewLoader(manifest.NewParser())
	roots := make([]parallax.Address, 0, len(specs))
	for _, spec := range specs {
		if err := loader.AddBuildFileSpec(spec); err != nil {
			return nil, nil, xerrors.Errorf("loading %s: %w", spec, err)
		}
		addr, err := parallax.ParseSpec(spec, "")
		if err != nil {
			return nil, nil, err
		}
		roots = append(roots, addr)
	}
	bg := graph.New(nil)
	if err := graph.ResolveProxies(bg, loader.Proxies()); err != nil {
		return nil, nil, xerrors.Errorf("resolving build graph: %w", err)
	}
	return bg, roots, nil
}

func cmdGraph(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return xerrors.Errorf("usage: parallax graph <spec> [<spec>...]")
	}
	bg, _, err := loadGraph(fs.Args())
	if err != nil {
		return err
	}
	sorted, err := bg.SortedTargets()
	if err != nil {
		return err
	}
	for _, t := range sorted {
		fmt.Println(t.Address.String())
	}
	return nil
}

func cmdEnv(ctx context.Context, args []string) error {
	fmt.Printf("PARALLAX_ROOT=%s\n", env.WorkspaceRoot)
	fmt.Printf("PARALLAX_INFO_DIR=%s\n", env.InfoDir)
	fmt.Printf("PARALLAX_CACHE_DIR=%s\n", env.CacheRoot)
	return nil
}

func cmdGC(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	ageHours := fs.Float64("age-hours", 24*7, "prune cache entries committed longer than this many hours ago")
	fs.Parse(args)
	cache := artifactcache.New(env.CacheRoot, false, nil)
	return cache.Prune(*ageHours)
}

func cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", "localhost:7080", "host:port to serve the reporting HTTP server on")
	allow := fs.String("allow", "ALL", "comma-separated client IP allow-list, or ALL")
	fs.Parse(args)
	s := reportserver.New(env.InfoDir, []string{*allow}, nil)
	log.Printf("serving run reports on %s", *listen)
	return httpListenAndServe(ctx, *listen, s)
}

func cmdBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	compilerPath := fs.String("compiler", "", "path to the external incremental compiler binary")
	analysisToolPath := fs.String("analysis-tool", "", "path to the external analysis-file tool binary")
	jobs := fs.Int("j", 4, "maximum concurrent compile partitions")
	invalidateDependents := fs.Bool("invalidate-dependents", true, "recompile a target whenever any of its dependencies is invalid")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return xerrors.Errorf("usage: parallax build [-flags] <spec> [<spec>...]")
	}
	if *compilerPath == "" || *analysisToolPath == "" {
		return xerrors.Errorf("-compiler and -analysis-tool are required")
	}

	// Every build serializes against any other build in the same
	// workspace: two concurrent compiler invocations writing into the
	// same classes/analysis trees would corrupt each other's output.
	wl, err := lock.Acquire(workspaceLockPath(), func(holderInfo string) {
		log.Printf("waiting for workspace lock (%s)...", holderInfo)
	})
	if err != nil {
		return xerrors.Errorf("acquiring workspace lock: %w", err)
	}
	defer wl.Release()

	run, err := runtracker.Start(env.InfoDir, nil, time.Now())
	if err != nil {
		return xerrors.Errorf("starting run: %w", err)
	}
	defer run.End()

	bus := report.NewBus(report.NewConsoleReporter(os.Stdout))
	defer bus.Close()
	bus.StartWorkUnit(run.Root())
	defer bus.EndWorkUnit(run.Root())

	// On SIGINT/SIGTERM, mark the run's root work unit ABORTED (outcomes
	// propagate upward only, so still-open children keep their own
	// outcome) and let ctx's cancellation
	// unwind the build normally so the deferred run.End()/bus.Close() above
	// still run and the run's timings/stats are still written.
	oninterrupt.Register(func() {
		run.Root().SetOutcome(workunit.Aborted)
	})

	bg, roots, err := loadGraph(fs.Args())
	if err != nil {
		return err
	}

	propagator := exclusives.NewPropagator(bg, exclusives.Strict)
	if conflicts, err := propagator.Propagate(roots); err != nil {
		return xerrors.Errorf("propagating exclusives: %w", err)
	} else if len(conflicts) > 0 {
		for _, c := range conflicts {
			log.Printf("exclusives conflict: %v", c)
		}
		return xerrors.Errorf("%d exclusivity conflict(s)", len(conflicts))
	}

	partitioner, err := exclusives.NewPartitioner(bg)
	if err != nil {
		return xerrors.Errorf("building exclusivity partitioner: %w", err)
	}
	groups, err := partitioner.Groups()
	if err != nil {
		return xerrors.Errorf("partitioning by exclusivity: %w", err)
	}

	store, err := cachekey.NewFileStore(fingerprintStorePath())
	if err != nil {
		return xerrors.Errorf("opening fingerprint store: %w", err)
	}
	cache := artifactcache.New(env.CacheRoot, false, nil)
	cache.Name = "classes"
	cache.Recorder = run
	orch := compile.NewOrchestrator(
		&compile.ExecAnalysisTool{Path: *analysisToolPath},
		&compile.ExecCompiler{Path: *compilerPath, Log: log.Default()},
		cache,
		workScratchDir(run.ID),
		nil,
	)
	pool := worker.NewPool(*jobs, nil)
	defer pool.Shutdown()

	for key, targets := range groups {
		addrs := make([]parallax.Address, 0, len(targets))
		for _, t := range targets {
			addrs = append(addrs, t.Address)
		}
		inv, err := cachekey.Invalidated(bg, store, addrs, *invalidateDependents, 64)
		if err != nil {
			return xerrors.Errorf("invalidation for group %v: %w", key, err)
		}
		if len(inv.InvalidVTS) == 0 {
			continue
		}
		if _, err := worker.SubmitWorkAndWait(ctx, pool, run.Root(), "compile-partition", inv.InvalidVTSPartitioned,
			func(ctx context.Context, vts *cachekey.VersionedTargetSet, wu *workunit.WorkUnit) (*compile.PartitionResult, error) {
				p := partitionFor(vts, workScratchDir(run.ID))
				res, err := orch.CompilePartition(ctx, p, cacheKeyFor(vts), compile.PriorArtifacts{}, wu)
				if err != nil {
					return nil, err
				}
				for _, vt := range vts.Targets {
					if err := vt.Update(); err != nil {
						return nil, err
					}
				}
				return res, nil
			}); err != nil {
			return xerrors.Errorf("compiling group %v: %w", key, err)
		}
	}
	return nil
}

func partitionFor(vts *cachekey.VersionedTargetSet, scratchDir string) *compile.Partition {
	p := &compile.Partition{Sources: make(map[parallax.Address][]string, len(vts.Targets))}
	for _, vt := range vts.Targets {
		addr := vt.Target.Address
		p.Targets = append(p.Targets, addr)
		abs := make([]string, len(vt.Target.Sources))
		for i, rel := range vt.Target.Sources {
			abs[i] = filepath.Join(addr.Dir, rel)
		}
		p.Sources[addr] = abs
	}
	id := cacheKeyFor(vts).ID
	if id == "" {
		id = "partition"
	}
	dir := filepath.Join(scratchDir, sanitizePartitionID(id))
	p.ClassesDir = filepath.Join(dir, "classes")
	p.AnalysisFile = filepath.Join(dir, "merged.analysis")
	return p
}

// sanitizePartitionID makes an address string safe to use as a single
// path component.
func sanitizePartitionID(id string) string {
	r := strings.NewReplacer("/", "_", ":", "_")
	return r.Replace(id)
}

func cacheKeyFor(vts *cachekey.VersionedTargetSet) artifactcache.Key {
	if len(vts.Targets) == 0 {
		return artifactcache.Key{}
	}
	return artifactcache.Key{ID: vts.Targets[0].Target.Address.String(), Hash: vts.Targets[0].Fingerprint}
}

func init() {
	oninterrupt.Register(func() {
		log.Printf("interrupted, shutting down")
	})
}
