package compile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/artifactcache"
)

// fakeTool is a no-op AnalysisTool double: every analysis-file operation
// just copies the input path's presence forward so these tests can
// exercise the workflow without a real incremental compiler's analysis
// format.
type fakeTool struct {
	relationsFingerprint string
	sourceToClass        map[string][]string
}

func (f *fakeTool) Rebase(ctx context.Context, path, newClassesDir, outPath string) error {
	return os.WriteFile(outPath, []byte("rebased"), 0o644)
}

func (f *fakeTool) Merge(ctx context.Context, analysisPaths []string, outPath string) error {
	return os.WriteFile(outPath, []byte("merged"), 0o644)
}

func (f *fakeTool) Split(ctx context.Context, path string, bySourceSet map[string][]string, outDir string) (map[string]string, error) {
	out := make(map[string]string, len(bySourceSet))
	for target := range bySourceSet {
		dst := filepath.Join(outDir, target+".analysis")
		if err := os.WriteFile(dst, []byte("split:"+target), 0o644); err != nil {
			return nil, err
		}
		out[target] = dst
	}
	return out, nil
}

func (f *fakeTool) Relativize(ctx context.Context, path, prefix, sentinel, outPath string) error {
	return os.WriteFile(outPath, []byte("relativized"), 0o644)
}

func (f *fakeTool) Localize(ctx context.Context, path, sentinel, prefix, outPath string) error {
	return os.WriteFile(outPath, []byte("localized"), 0o644)
}

func (f *fakeTool) SourceToClass(ctx context.Context, path string) (map[string][]string, error) {
	return f.sourceToClass, nil
}

func (f *fakeTool) FingerprintRelations(ctx context.Context, path string) (string, error) {
	return f.relationsFingerprint, nil
}

var _ AnalysisTool = (*fakeTool)(nil)

// fakeCompiler writes one class file per source into req.ClassesDir and
// touches req.AnalysisFile, standing in for the external incremental
// compiler binary.
type fakeCompiler struct {
	calls []CompileRequest
}

func (c *fakeCompiler) Compile(ctx context.Context, req CompileRequest) error {
	c.calls = append(c.calls, req)
	for _, src := range req.Sources {
		class := filepath.Join(req.ClassesDir, filepath.Base(src)+".class")
		if err := os.WriteFile(class, []byte("class bytes for "+src), 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(req.AnalysisFile, []byte("analysis"), 0o644)
}

var _ Compiler = (*fakeCompiler)(nil)

func newTestPartition(t *testing.T, root string, targets ...parallax.Address) *Partition {
	t.Helper()
	classesDir := filepath.Join(root, "classes")
	sources := make(map[parallax.Address][]string, len(targets))
	for i, addr := range targets {
		srcPath := filepath.Join(root, "src", addr.Name+".java")
		if err := os.MkdirAll(filepath.Dir(srcPath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(srcPath, []byte("class X {}"), 0o644); err != nil {
			t.Fatal(err)
		}
		sources[addr] = []string{srcPath}
		_ = i
	}
	return &Partition{
		Targets:      targets,
		ClassesDir:   classesDir,
		AnalysisFile: filepath.Join(root, "merged.analysis"),
		Sources:      sources,
	}
}

func TestCompilePartitionInvokesCompilerOnMiss(t *testing.T) {
	root := t.TempDir()
	tool := &fakeTool{relationsFingerprint: "v1"}
	compiler := &fakeCompiler{}
	o := NewOrchestrator(tool, compiler, nil, filepath.Join(root, "work"), nil)

	a := parallax.NewAddress(root, "a")
	p := newTestPartition(t, root, a)

	res, err := o.CompilePartition(context.Background(), p, artifactcache.Key{}, PriorArtifacts{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(compiler.calls) != 1 {
		t.Fatalf("expected exactly one compiler invocation, got %d", len(compiler.calls))
	}
	if res.PerTargetAnalysis["a"] == "" {
		t.Error("expected a split analysis file for target a")
	}
	if len(res.Diff.NewOrChangedClasses) == 0 {
		t.Error("expected the new class file to be reported as new_or_changed")
	}
}

func TestCompilePartitionPassesUpstreamAcrossPartitions(t *testing.T) {
	root := t.TempDir()
	tool := &fakeTool{relationsFingerprint: "v1"}
	compiler := &fakeCompiler{}
	o := NewOrchestrator(tool, compiler, nil, filepath.Join(root, "work"), nil)

	a := parallax.NewAddress(root, "a")
	b := parallax.NewAddress(root, "b")
	pa := newTestPartition(t, filepath.Join(root, "pa"), a)
	pb := newTestPartition(t, filepath.Join(root, "pb"), b)

	if _, err := o.CompilePartition(context.Background(), pa, artifactcache.Key{}, PriorArtifacts{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := o.CompilePartition(context.Background(), pb, artifactcache.Key{}, PriorArtifacts{}, nil); err != nil {
		t.Fatal(err)
	}

	if len(compiler.calls) != 2 {
		t.Fatalf("expected two compiler invocations, got %d", len(compiler.calls))
	}
	if _, ok := compiler.calls[1].Upstream[pa.ClassesDir]; !ok {
		t.Error("expected the second partition's compile to see the first as upstream")
	}
}

func TestCompilePartitionUsesArtifactCacheOnHit(t *testing.T) {
	root := t.TempDir()
	tool := &fakeTool{relationsFingerprint: "v1"}
	compiler := &fakeCompiler{}
	cache := artifactcache.New(filepath.Join(root, "cache"), false, nil)
	o := NewOrchestrator(tool, compiler, cache, filepath.Join(root, "work"), nil)

	a := parallax.NewAddress(root, "a")
	p := newTestPartition(t, root, a)
	key := artifactcache.Key{ID: "partition-a", Hash: "deadbeef"}

	if _, err := o.CompilePartition(context.Background(), p, key, PriorArtifacts{}, nil); err != nil {
		t.Fatal(err)
	}
	if len(compiler.calls) != 1 {
		t.Fatalf("expected one compile on the first (cache-miss) run, got %d", len(compiler.calls))
	}

	// A fresh orchestrator against the same cache, same key, should skip
	// compilation entirely.
	o2 := NewOrchestrator(tool, compiler, cache, filepath.Join(root, "work2"), nil)
	p2 := newTestPartition(t, filepath.Join(root, "p2"), a)
	if _, err := o2.CompilePartition(context.Background(), p2, key, PriorArtifacts{}, nil); err != nil {
		t.Fatal(err)
	}
	if len(compiler.calls) != 1 {
		t.Errorf("expected the compiler not to be invoked again on a cache hit, got %d total calls", len(compiler.calls))
	}
}

func TestCompilePartitionPopulatesDeletedSourcesFromPriorAnalysis(t *testing.T) {
	root := t.TempDir()
	compiler := &fakeCompiler{}
	tool := &fakeTool{relationsFingerprint: "v1"}
	o := NewOrchestrator(tool, compiler, nil, filepath.Join(root, "work"), nil)

	a := parallax.NewAddress(root, "a")
	p := newTestPartition(t, root, a)
	removedSrc := p.Sources[a][0]

	if _, err := o.CompilePartition(context.Background(), p, artifactcache.Key{}, PriorArtifacts{}, nil); err != nil {
		t.Fatal(err)
	}
	if len(compiler.calls[0].DeletedSources) != 0 {
		t.Fatalf("expected no deleted sources on the first compile, got %v", compiler.calls[0].DeletedSources)
	}

	// The previous analysis recorded removedSrc; it is now gone from disk
	// and a's surviving sources no longer include it.
	tool.sourceToClass = map[string][]string{removedSrc: {"X.class"}}
	if err := os.Remove(removedSrc); err != nil {
		t.Fatal(err)
	}
	p.Sources[a] = nil

	if _, err := o.CompilePartition(context.Background(), p, artifactcache.Key{}, PriorArtifacts{}, nil); err != nil {
		t.Fatal(err)
	}
	if len(compiler.calls) != 2 {
		t.Fatalf("expected two compiler invocations, got %d", len(compiler.calls))
	}
	deleted := compiler.calls[1].DeletedSources
	if len(deleted) != 1 || deleted[0] != removedSrc {
		t.Errorf("DeletedSources = %v, want [%s]", deleted, removedSrc)
	}
}

func TestMergeSymlinksExclusiveOwnershipCopiesShared(t *testing.T) {
	root := t.TempDir()
	a := parallax.NewAddress(root, "a")
	b := parallax.NewAddress(root, "b")

	aClasses := filepath.Join(root, "a-classes")
	bClasses := filepath.Join(root, "b-classes")
	for _, dir := range []string{aClasses, bClasses} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// Exclusive: only a has Exclusive.class.
	if err := os.WriteFile(filepath.Join(aClasses, "Exclusive.class"), []byte("a-only"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Shared: both a and b carry Shared.class.
	if err := os.WriteFile(filepath.Join(aClasses, "Shared.class"), []byte("shared-a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bClasses, "Shared.class"), []byte("shared-b"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &Partition{
		Targets:    []parallax.Address{a, b},
		ClassesDir: filepath.Join(root, "merged"),
		Sources:    map[parallax.Address][]string{},
	}
	prior := map[parallax.Address]string{a: aClasses, b: bClasses}

	result, err := mergePerTargetArtifacts(context.Background(), p, prior)
	if err != nil {
		t.Fatal(err)
	}
	if result.owned["Exclusive.class"] != a {
		t.Errorf("expected Exclusive.class owned by a, got %v", result.owned["Exclusive.class"])
	}
	if _, sharedIsOwned := result.owned["Shared.class"]; sharedIsOwned {
		t.Error("Shared.class should not be recorded as exclusively owned")
	}

	exclusiveLink := filepath.Join(p.ClassesDir, "Exclusive.class")
	if fi, err := os.Lstat(exclusiveLink); err != nil || fi.Mode()&os.ModeSymlink == 0 {
		t.Error("expected Exclusive.class to be merged in as a symlink")
	}
	sharedCopy := filepath.Join(p.ClassesDir, "Shared.class")
	if fi, err := os.Lstat(sharedCopy); err != nil || fi.Mode()&os.ModeSymlink != 0 {
		t.Error("expected Shared.class to be merged in as a real copy, not a symlink")
	}
}

func TestDiffCompileOutputDetectsNewChangedAndDeleted(t *testing.T) {
	root := t.TempDir()
	classesDir := filepath.Join(root, "classes")
	if err := os.MkdirAll(classesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(classesDir, "Stale.class"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := snapshotClasses(classesDir)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(classesDir, "Stale.class")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(classesDir, "Fresh.class"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	analysisFile := filepath.Join(root, "a.analysis")
	if err := os.WriteFile(analysisFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &fakeTool{relationsFingerprint: "v2"}
	diff, err := diffCompileOutput(context.Background(), tool, classesDir, analysisFile, before, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.NewOrChangedClasses) != 1 || diff.NewOrChangedClasses[0] != "Fresh.class" {
		t.Errorf("NewOrChangedClasses = %v, want [Fresh.class]", diff.NewOrChangedClasses)
	}
	if len(diff.DeletedClasses) != 1 || diff.DeletedClasses[0] != "Stale.class" {
		t.Errorf("DeletedClasses = %v, want [Stale.class]", diff.DeletedClasses)
	}
	if !diff.AnalysisChanged {
		t.Error("expected AnalysisChanged when the relations fingerprint moved")
	}
}
