package compile

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/artifactcache"
	"github.com/parallaxbuild/parallax/internal/workunit"
)

// sentinel is the placeholder path an analysis file's absolute paths are
// rewritten to before caching, and back again on read, so one cache entry
// is reusable across machines and sandbox roots.
const sentinel = "__PARALLAX_ROOT__"

// Orchestrator drives the merge -> compile -> diff -> split -> relativize
// -> cache workflow for a run's partitions — the part of the system that
// ties the external incremental compiler, the analysis-file tool, and the
// artifact cache together.
type Orchestrator struct {
	Tool     AnalysisTool
	Compiler Compiler
	Cache    *artifactcache.Cache
	Log      *log.Logger

	// WorkRoot is a scratch directory for merged classes/analysis trees,
	// one subdirectory per partition.
	WorkRoot string

	// upstream accumulates (classes_dir, analysis_file) pairs across
	// partitions already compiled in this run, in partition order, so a
	// later partition's compile can see earlier ones' output.
	upstream []upstreamEntry
}

type upstreamEntry struct {
	classesDir   string
	analysisFile string
}

// NewOrchestrator constructs an Orchestrator. workRoot is created lazily
// per partition.
func NewOrchestrator(tool AnalysisTool, compiler Compiler, cache *artifactcache.Cache, workRoot string, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{Tool: tool, Compiler: compiler, Cache: cache, WorkRoot: workRoot, Log: logger}
}

// PartitionResult is what CompilePartition produces for one partition.
type PartitionResult struct {
	Diff *CompileDiff
	// PerTargetAnalysis maps each target in the partition to the analysis
	// file split out for it.
	PerTargetAnalysis map[string]string
	// CacheKey is the key the partition's result was stored under, if the
	// cache was written to.
	CacheKey artifactcache.Key
}

// PriorArtifacts lets a caller seed CompilePartition with each target's
// previous classes directory, used by mergePerTargetArtifacts.
type PriorArtifacts struct {
	Classes map[parallax.Address]string
}

// CompilePartition runs one partition through the full merge, compile,
// diff, split, relativize, cache workflow, checking the artifact cache
// first and only invoking the compiler on a miss.
func (o *Orchestrator) CompilePartition(ctx context.Context, p *Partition, cacheKey artifactcache.Key, prior PriorArtifacts, parent *workunit.WorkUnit) (result *PartitionResult, err error) {
	var w *workunit.WorkUnit
	if parent != nil {
		w = parent.Child("compile-partition")
		w.Start()
	}
	defer func() {
		if w != nil {
			if err != nil {
				w.SetOutcome(workunit.Failure)
			}
			w.End()
		}
	}()

	if res, hit, cacheErr := o.tryCacheRead(ctx, cacheKey, p); cacheErr != nil {
		// A failed cache read is treated as a miss: log it and compile.
		o.Log.Printf("artifact cache read for %s failed, compiling instead: %v", p.ClassesDir, cacheErr)
	} else if hit {
		return res, nil
	}

	if err := os.MkdirAll(p.ClassesDir, 0o755); err != nil {
		return nil, xerrors.Errorf("mkdir classes dir: %w", err)
	}

	// Step 1: merge per-target artifacts into one working tree.
	merged, err := mergePerTargetArtifacts(ctx, p, prior.Classes)
	if err != nil {
		return nil, xerrors.Errorf("merge per-target artifacts: %w", err)
	}
	o.Log.Printf("merged partition %s: %d exclusively-owned class files symlinked in", p.ClassesDir, len(merged.owned))

	before, err := snapshotClasses(p.ClassesDir)
	if err != nil {
		return nil, err
	}
	beforeFingerprint := ""
	var deleted []string
	if _, err := os.Stat(p.AnalysisFile); err == nil {
		beforeFingerprint, err = o.Tool.FingerprintRelations(ctx, p.AnalysisFile)
		if err != nil {
			return nil, xerrors.Errorf("fingerprint prior analysis: %w", err)
		}
		deleted, err = deletedSources(ctx, o.Tool, p.AnalysisFile)
		if err != nil {
			return nil, xerrors.Errorf("find deleted sources: %w", err)
		}
	}

	// Step 2: compute sources to compile, the union of every target's
	// owned sources in this partition plus any source the previous
	// analysis recorded that no longer exists on disk, so the compiler's
	// own removal logic runs for it.
	var sources []string
	for _, addrSources := range p.Sources {
		sources = append(sources, addrSources...)
	}

	// Step 3: invoke the external incremental compiler, with every
	// already-compiled-this-run partition passed as upstream context.
	req := CompileRequest{
		Sources:        sources,
		DeletedSources: deleted,
		ClassesDir:     p.ClassesDir,
		AnalysisFile:   p.AnalysisFile,
		Upstream:       o.upstreamMap(),
	}
	if err := o.Compiler.Compile(ctx, req); err != nil {
		return nil, xerrors.Errorf("compile partition: %w", err)
	}
	o.upstream = append(o.upstream, upstreamEntry{classesDir: p.ClassesDir, analysisFile: p.AnalysisFile})

	// Step 4: diff the compile output.
	diff, err := diffCompileOutput(ctx, o.Tool, p.ClassesDir, p.AnalysisFile, before, beforeFingerprint)
	if err != nil {
		return nil, xerrors.Errorf("diff compile output: %w", err)
	}

	// Step 5: split the merged analysis back into per-target pieces.
	bySourceSet := make(map[string][]string, len(p.Sources))
	for addr, srcs := range p.Sources {
		bySourceSet[addr.Name] = srcs
	}
	splitDir := filepath.Join(o.WorkRoot, "split")
	if err := os.MkdirAll(splitDir, 0o755); err != nil {
		return nil, xerrors.Errorf("mkdir split dir: %w", err)
	}
	perTarget, err := o.Tool.Split(ctx, p.AnalysisFile, bySourceSet, splitDir)
	if err != nil {
		return nil, xerrors.Errorf("split analysis: %w", err)
	}

	result = &PartitionResult{Diff: diff, PerTargetAnalysis: perTarget}

	if o.Cache == nil {
		return result, nil
	}

	// Step 6: relativize for cache.
	relativized := p.AnalysisFile + ".relativized"
	if err := o.Tool.Relativize(ctx, p.AnalysisFile, p.ClassesDir, sentinel, relativized); err != nil {
		return nil, xerrors.Errorf("relativize analysis: %w", err)
	}

	// Step 7: upload to the artifact cache. A cache failure must never
	// fail the build, so this uses TryInsert.
	relPaths, err := relPathsUnder(p.ClassesDir)
	if err != nil {
		return nil, err
	}
	relPaths = append(relPaths, filepath.Base(relativized))
	stageDir := filepath.Dir(relativized)
	if stageDir != p.ClassesDir {
		if err := deepCopy(relativized, filepath.Join(p.ClassesDir, filepath.Base(relativized))); err != nil {
			return nil, xerrors.Errorf("stage relativized analysis: %w", err)
		}
	}
	o.Cache.TryInsert(cacheKey, p.ClassesDir, relPaths)
	result.CacheKey = cacheKey
	return result, nil
}

// tryCacheRead is the cache read path: on a cache hit, localize the
// relativized analysis back to this partition's classes dir and report
// the partition as already compiled.
func (o *Orchestrator) tryCacheRead(ctx context.Context, key artifactcache.Key, p *Partition) (*PartitionResult, bool, error) {
	if o.Cache == nil {
		return nil, false, nil
	}
	artifact, err := o.Cache.UseCachedFiles(key)
	if err != nil {
		return nil, false, xerrors.Errorf("cache read: %w", err)
	}
	if artifact == nil {
		return nil, false, nil
	}
	if err := artifact.Extract(p.ClassesDir, artifactcache.LinkOrCopy); err != nil {
		return nil, false, xerrors.Errorf("extract cached artifact: %w", err)
	}
	relativized := filepath.Join(p.ClassesDir, filepath.Base(p.AnalysisFile)+".relativized")
	if _, err := os.Stat(relativized); err == nil {
		if err := o.Tool.Localize(ctx, relativized, sentinel, p.ClassesDir, p.AnalysisFile); err != nil {
			return nil, false, xerrors.Errorf("localize cached analysis: %w", err)
		}
	}
	o.upstream = append(o.upstream, upstreamEntry{classesDir: p.ClassesDir, analysisFile: p.AnalysisFile})
	return &PartitionResult{CacheKey: key}, true, nil
}

// deletedSources returns every source path the analysis at path records
// that no longer exists on disk, so CompileRequest.DeletedSources can tell
// the compiler which outputs to remove.
func deletedSources(ctx context.Context, tool AnalysisTool, path string) ([]string, error) {
	bySource, err := tool.SourceToClass(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []string
	for src := range bySource {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			out = append(out, src)
		}
	}
	return out, nil
}

func (o *Orchestrator) upstreamMap() map[string]string {
	m := make(map[string]string, len(o.upstream))
	for _, u := range o.upstream {
		m[u.classesDir] = u.analysisFile
	}
	return m
}

func relPathsUnder(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}
