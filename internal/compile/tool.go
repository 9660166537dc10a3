// Package compile implements the compile orchestrator: the
// merge → compile → diff → split → relativize → cache workflow that
// drives one external incremental (zinc-style) compiler across a run's
// VersionedTargetSet partitions.
package compile

import (
	"context"
)

// AnalysisTool is the narrow interface over the external incremental
// compiler's companion analysis tool, invoked as a subprocess. It covers
// the five analysis-file operations the orchestrator needs: rebase,
// merge, split, relativize, localize, plus reading the source->class
// relation and fingerprinting it for change detection.
type AnalysisTool interface {
	// Rebase rewrites every absolute path in the analysis at path so it
	// points beneath newClassesDir, writing the result to outPath.
	Rebase(ctx context.Context, path, newClassesDir, outPath string) error
	// Merge combines analysisPaths into a single analysis file at outPath.
	Merge(ctx context.Context, analysisPaths []string, outPath string) error
	// Split partitions the analysis at path back into one analysis file
	// per entry of bySourceSet (target name -> its owned source paths),
	// writing each to outDir/<target>.analysis.
	Split(ctx context.Context, path string, bySourceSet map[string][]string, outDir string) (map[string]string, error)
	// Relativize rewrites every absolute path under prefix in the
	// analysis at path to the sentinel, writing the result to outPath, so
	// a cached analysis file is portable across workspace roots.
	Relativize(ctx context.Context, path, prefix, sentinel, outPath string) error
	// Localize is Relativize's inverse: rewrites sentinel back to prefix.
	Localize(ctx context.Context, path, sentinel, prefix, outPath string) error
	// SourceToClass returns the analysis's source -> class relation:
	// every key is a source path, every value the set of class files it
	// produced.
	SourceToClass(ctx context.Context, path string) (map[string][]string, error)
	// FingerprintRelations returns a content fingerprint of the analysis's
	// source->class relation, used to detect whether it changed across a
	// compile.
	FingerprintRelations(ctx context.Context, path string) (string, error)
}

// Compiler is the narrow interface over the external incremental compiler
// binary itself, invoked as a subprocess.
type Compiler interface {
	// Compile runs one incremental compile. A non-zero exit is fatal for
	// the partition.
	Compile(ctx context.Context, req CompileRequest) error
}

// CompileRequest is everything the external compiler needs for one
// partition compile.
type CompileRequest struct {
	Classpath      []string
	Sources        []string
	DeletedSources []string
	ClassesDir     string
	AnalysisFile   string
	// Upstream maps classes_dir -> analysis_file for every upstream
	// partition compiled earlier in this run, so the compiler can resolve
	// cross-partition references without recompiling them.
	Upstream map[string]string
}
