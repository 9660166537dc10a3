// Package artifactcache implements a content-addressed local directory
// cache: a cache key maps to a directory of files, written with
// write-temp + atomic-rename so concurrent writers and interrupted writes
// can never corrupt a previously-committed entry.
package artifactcache

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"

	"github.com/parallaxbuild/parallax/internal/errs"
)

// CopyFn copies src to dst beneath artifact_root, e.g. os.Link for a
// same-filesystem hard link or io.Copy for a cross-filesystem fallback.
type CopyFn func(src, dst string) error

// LinkOrCopy hard-links src to dst, falling back to a byte copy if the
// link fails (e.g. src and dst are on different filesystems). This is the
// default CopyFn used when a caller doesn't need anything fancier.
func LinkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFileContents(src, dst)
}

func copyFileContents(src, dst string) error {
	r, err := mmap.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer w.Close()
	if _, err := io.Copy(w, io.NewSectionReader(r, 0, int64(r.Len()))); err != nil {
		return err
	}
	return w.Close()
}

// Artifact is a retrieved cache entry, ready to be materialized beneath an
// artifact root.
type Artifact interface {
	// Paths lists every file this artifact holds, relative to its cache
	// directory.
	Paths() []string
	// Extract copies each file under the cache directory to its path
	// beneath artifactRoot via copyFn.
	Extract(artifactRoot string, copyFn CopyFn) error
}

// DirectoryArtifact is an Artifact backed by a plain directory of files
// already laid out under the key's cache directory.
type DirectoryArtifact struct {
	Dir      string
	RelPaths []string
}

func (a *DirectoryArtifact) Paths() []string { return append([]string(nil), a.RelPaths...) }

func (a *DirectoryArtifact) Extract(artifactRoot string, copyFn CopyFn) error {
	if copyFn == nil {
		copyFn = LinkOrCopy
	}
	for _, rel := range a.RelPaths {
		src := filepath.Join(a.Dir, rel)
		dst := filepath.Join(artifactRoot, rel)
		if !isBelow(artifactRoot, dst) {
			return &errs.CacheIO{Op: "extract", Cause: errOutsideArtifactRoot(dst)}
		}
		if err := copyFn(src, dst); err != nil {
			return &errs.CacheIO{Op: "extract", Cause: err}
		}
	}
	return nil
}

type pathError string

func (e pathError) Error() string { return string(e) }

func errOutsideArtifactRoot(path string) error {
	return pathError("path " + path + " escapes artifact_root")
}

func isBelow(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
