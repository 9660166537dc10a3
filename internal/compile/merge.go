package compile

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/parallaxbuild/parallax"
)

// Partition is one VersionedTargetSet's compile unit: the set of targets
// sharing a compile invocation, their merged classes directory and
// analysis file.
type Partition struct {
	Targets      []parallax.Address
	ClassesDir   string
	AnalysisFile string
	// Sources maps each target to the source files it owns.
	Sources map[parallax.Address][]string
}

// mergeResult is the outcome of merging one partition's prior per-target
// artifacts into a single working tree.
type mergeResult struct {
	// owned maps a merged destination path to the single target that owns
	// it exclusively (symlinked in place of copied).
	owned map[string]parallax.Address
}

// mergePerTargetArtifacts builds p.ClassesDir by combining the prior
// per-target classes directories named in priorClasses. A class file owned
// by exactly one target in this partition is symlinked in (cheap, and the
// compiler can overwrite it without disturbing the source-of-truth copy
// elsewhere); a class file any other target also contributes is deep-copied
// so each partition's compile sees an independent, writable tree.
func mergePerTargetArtifacts(ctx context.Context, p *Partition, priorClasses map[parallax.Address]string) (*mergeResult, error) {
	if err := os.MkdirAll(p.ClassesDir, 0o755); err != nil {
		return nil, xerrors.Errorf("mkdir classes dir: %w", err)
	}

	// owner counts how many of this partition's prior per-target trees
	// contain a given relative path.
	owner := make(map[string][]parallax.Address)
	for _, addr := range p.Targets {
		dir, ok := priorClasses[addr]
		if !ok {
			continue
		}
		err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			owner[rel] = append(owner[rel], addr)
			return nil
		})
		if err != nil {
			return nil, xerrors.Errorf("walk prior classes for %s: %w", addr, err)
		}
	}

	result := &mergeResult{owned: make(map[string]parallax.Address)}
	for rel, addrs := range owner {
		dst := filepath.Join(p.ClassesDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, xerrors.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
		}
		src := filepath.Join(priorClasses[addrs[0]], rel)
		if len(addrs) == 1 {
			if err := relink(src, dst); err != nil {
				return nil, xerrors.Errorf("symlink %s: %w", dst, err)
			}
			result.owned[rel] = addrs[0]
			continue
		}
		if err := deepCopy(src, dst); err != nil {
			return nil, xerrors.Errorf("copy %s: %w", dst, err)
		}
	}
	return result, nil
}

func relink(src, dst string) error {
	_ = os.Remove(dst)
	return os.Symlink(src, dst)
}

func deepCopy(src, dst string) error {
	_ = os.Remove(dst)
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
