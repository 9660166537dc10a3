package compile

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

// CompileDiff summarizes what one partition compile changed.
type CompileDiff struct {
	NewOrChangedClasses []string
	DeletedClasses      []string
	AnalysisChanged     bool
}

// classSnapshot maps a relative class path to its mtime, taken before and
// after a compile so diffCompileOutput can tell new/changed apart from
// untouched.
type classSnapshot map[string]time.Time

func snapshotClasses(classesDir string) (classSnapshot, error) {
	snap := make(classSnapshot)
	err := filepath.Walk(classesDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(classesDir, path)
		if err != nil {
			return err
		}
		snap[rel] = fi.ModTime()
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("snapshot %s: %w", classesDir, err)
	}
	return snap, nil
}

// diffCompileOutput compares the classes directory before and after a
// compile, and asks tool whether the source->class relation fingerprint
// moved, to decide whether downstream partitions need recompiling.
func diffCompileOutput(ctx context.Context, tool AnalysisTool, classesDir, analysisFile string, before classSnapshot, beforeAnalysisFingerprint string) (*CompileDiff, error) {
	after, err := snapshotClasses(classesDir)
	if err != nil {
		return nil, err
	}

	diff := &CompileDiff{}
	for rel, mtime := range after {
		prior, existed := before[rel]
		if !existed || !prior.Equal(mtime) {
			diff.NewOrChangedClasses = append(diff.NewOrChangedClasses, rel)
		}
	}
	for rel := range before {
		if _, stillThere := after[rel]; !stillThere {
			diff.DeletedClasses = append(diff.DeletedClasses, rel)
		}
	}

	afterFingerprint, err := tool.FingerprintRelations(ctx, analysisFile)
	if err != nil {
		return nil, xerrors.Errorf("fingerprint relations: %w", err)
	}
	diff.AnalysisChanged = afterFingerprint != beforeAnalysisFingerprint
	return diff, nil
}
