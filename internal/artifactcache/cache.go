package artifactcache

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"

	"github.com/parallaxbuild/parallax/internal/errs"
)

// Key identifies one cache entry: a named partition of the cache keyed by
// a content hash ("a key maps to cache_root/<id>/<hash>/").
type Key struct {
	ID   string
	Hash string
}

func (k Key) dir(cacheRoot string) string {
	return filepath.Join(cacheRoot, k.ID, k.Hash)
}

// Recorder receives one has()/use outcome per cache consultation, so a
// run can surface aggregate hit/miss counts once it ends. *runtracker.Run
// implements this.
type Recorder interface {
	RecordCacheStat(cacheName, target string, hit bool)
}

// Cache is the local directory artifact cache. All methods are safe for
// concurrent use: concurrent writers to the same key are made safe by the
// write-temp + atomic-rename protocol, which also guarantees a killed
// write can never leave a corrupt entry behind.
type Cache struct {
	Root     string
	ReadOnly bool
	Log      *log.Logger

	// Name identifies this cache in a Recorder's per-cache-name stats
	// (e.g. "classes"). Defaults to "artifact" when empty.
	Name string
	// Recorder, if set, is notified of every Has/UseCachedFiles outcome.
	Recorder Recorder
}

// New constructs a Cache rooted at root.
func New(root string, readOnly bool, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{Root: root, ReadOnly: readOnly, Log: logger}
}

func (c *Cache) cacheName() string {
	if c.Name != "" {
		return c.Name
	}
	return "artifact"
}

func (c *Cache) recordStat(key Key, hit bool) {
	if c.Recorder != nil {
		c.Recorder.RecordCacheStat(c.cacheName(), key.ID, hit)
	}
}

// Has reports whether key currently has a committed entry.
func (c *Cache) Has(key Key) bool {
	info, err := os.Stat(key.dir(c.Root))
	hit := err == nil && info.IsDir()
	c.recordStat(key, hit)
	return hit
}

// Insert packages paths (relative to srcRoot) under key, failing the
// caller if the write itself fails. Prefer TryInsert in ordinary build
// code; Insert exists for callers that must know a write actually
// succeeded.
func (c *Cache) Insert(key Key, srcRoot string, relPaths []string) error {
	if c.ReadOnly {
		return nil
	}
	return c.writeEntry(key, srcRoot, relPaths)
}

// TryInsert behaves like Insert but swallows any write-path error after
// logging it, since a cache failure must never break a build.
func (c *Cache) TryInsert(key Key, srcRoot string, relPaths []string) {
	if c.ReadOnly {
		return
	}
	if err := c.writeEntry(key, srcRoot, relPaths); err != nil {
		c.Log.Printf("artifact cache: try_insert %s/%s failed (ignored): %v", key.ID, key.Hash, err)
	}
}

// writeEntry implements the write-temp + atomic-rename protocol: write
// into a fresh, uniquely named <dir>.tmp* directory of its own (so
// concurrent writers of one key never share a staging directory), delete
// any previous contents at the final path, then
// rename the temp directory into place. The directory swap itself is a
// plain os.Rename (atomic on one filesystem, same guarantee renameio gives
// per-file); the entry's "committed_at" marker is written with
// renameio.WriteFile, the teacher's idiom for "a single file must never be
// observed half-written" (distri uses it for meta.textproto and packed
// build products alike).
func (c *Cache) writeEntry(key Key, srcRoot string, relPaths []string) error {
	final := key.dir(c.Root)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return &errs.CacheIO{Op: "insert", Cause: err}
	}
	tmp, err := os.MkdirTemp(filepath.Dir(final), filepath.Base(final)+".tmp")
	if err != nil {
		return &errs.CacheIO{Op: "insert", Cause: err}
	}
	defer os.RemoveAll(tmp)
	for _, rel := range relPaths {
		src := filepath.Join(srcRoot, rel)
		dst := filepath.Join(tmp, rel)
		if err := LinkOrCopy(src, dst); err != nil {
			return &errs.CacheIO{Op: "insert", Cause: err}
		}
	}
	if err := renameio.WriteFile(filepath.Join(tmp, ".committed"), []byte(key.Hash), 0o644); err != nil {
		return &errs.CacheIO{Op: "insert", Cause: err}
	}

	if err := os.RemoveAll(final); err != nil {
		return &errs.CacheIO{Op: "insert", Cause: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		return &errs.CacheIO{Op: "insert", Cause: err}
	}
	return nil
}

// UseCachedFiles returns a DirectoryArtifact for key's committed entry, or
// nil if the key has no entry.
func (c *Cache) UseCachedFiles(key Key) (Artifact, error) {
	dir := key.dir(c.Root)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.recordStat(key, false)
			return nil, nil
		}
		return nil, &errs.CacheIO{Op: "use_cached_files", Cause: err}
	}
	if !info.IsDir() {
		return nil, &errs.CacheIO{Op: "use_cached_files", Cause: notADirectory(dir)}
	}
	var relPaths []string
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == ".committed" {
			return nil
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return nil, &errs.CacheIO{Op: "use_cached_files", Cause: err}
	}
	c.recordStat(key, true)
	return &DirectoryArtifact{Dir: dir, RelPaths: relPaths}, nil
}

type notADirectory string

func (e notADirectory) Error() string { return string(e) + " is not a directory" }

// Delete removes key's entry, if any. Swallowed under ReadOnly.
func (c *Cache) Delete(key Key) error {
	if c.ReadOnly {
		return nil
	}
	if err := os.RemoveAll(key.dir(c.Root)); err != nil {
		return &errs.CacheIO{Op: "delete", Cause: err}
	}
	return nil
}

// Prune removes every entry whose commit marker is older than ageHours.
func (c *Cache) Prune(ageHours float64) error {
	entries, err := os.ReadDir(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &errs.CacheIO{Op: "prune", Cause: err}
	}
	for _, idEntry := range entries {
		if !idEntry.IsDir() {
			continue
		}
		idDir := filepath.Join(c.Root, idEntry.Name())
		hashEntries, err := os.ReadDir(idDir)
		if err != nil {
			continue
		}
		for _, hashEntry := range hashEntries {
			entryDir := filepath.Join(idDir, hashEntry.Name())
			marker := filepath.Join(entryDir, ".committed")
			info, err := os.Stat(marker)
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()).Hours() > ageHours {
				if c.ReadOnly {
					continue
				}
				if err := os.RemoveAll(entryDir); err != nil {
					c.Log.Printf("artifact cache: prune %s failed (ignored): %v", entryDir, err)
				}
			}
		}
	}
	return nil
}
