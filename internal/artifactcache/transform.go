package artifactcache

// PreWrite rewrites paths before they are inserted into the cache, e.g. to
// relativize absolute paths baked into an analysis file so the cached copy
// is portable across workspaces.
type PreWrite func(paths []string) ([]string, error)

// PostRead rewrites an artifact's paths after it is read back from the
// cache, the inverse of PreWrite (localizing them back to this workspace).
type PostRead func(paths []string) error

// Transforming wraps a Cache with pre_write/post_read hooks, used for
// portable <-> local rewriting of analysis files. It preserves the
// wrapped cache's read-only semantics unchanged.
type Transforming struct {
	*Cache
	PreWrite PreWrite
	PostRead PostRead
}

// NewTransforming wraps cache with the given hooks. Either hook may be nil
// to skip that transform.
func NewTransforming(cache *Cache, pre PreWrite, post PostRead) *Transforming {
	return &Transforming{Cache: cache, PreWrite: pre, PostRead: post}
}

// Insert runs PreWrite over relPaths before delegating to the wrapped
// cache.
func (t *Transforming) Insert(key Key, srcRoot string, relPaths []string) error {
	if t.PreWrite != nil {
		rewritten, err := t.PreWrite(relPaths)
		if err != nil {
			return err
		}
		relPaths = rewritten
	}
	return t.Cache.Insert(key, srcRoot, relPaths)
}

// TryInsert is the swallow-on-failure variant of Insert.
func (t *Transforming) TryInsert(key Key, srcRoot string, relPaths []string) {
	if t.Cache.ReadOnly {
		return
	}
	if err := t.Insert(key, srcRoot, relPaths); err != nil {
		t.Cache.Log.Printf("artifact cache: try_insert %s/%s failed (ignored): %v", key.ID, key.Hash, err)
	}
}

// UseCachedFiles fetches the wrapped cache's artifact, then runs PostRead
// over its paths before returning it.
func (t *Transforming) UseCachedFiles(key Key) (Artifact, error) {
	a, err := t.Cache.UseCachedFiles(key)
	if err != nil || a == nil {
		return a, err
	}
	if t.PostRead != nil {
		if err := t.PostRead(a.Paths()); err != nil {
			return nil, err
		}
	}
	return a, nil
}
