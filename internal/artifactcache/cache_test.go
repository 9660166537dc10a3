package artifactcache

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInsertThenUseCachedFiles(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Foo.class"), "classbytes")

	c := New(filepath.Join(root, "cache"), false, nil)
	key := Key{ID: "jvm-classes", Hash: "deadbeef"}
	if c.Has(key) {
		t.Fatal("Has() should be false before Insert")
	}
	if err := c.Insert(key, src, []string{"Foo.class"}); err != nil {
		t.Fatal(err)
	}
	if !c.Has(key) {
		t.Fatal("Has() should be true after Insert")
	}

	artifact, err := c.UseCachedFiles(key)
	if err != nil {
		t.Fatal(err)
	}
	if artifact == nil {
		t.Fatal("UseCachedFiles returned nil for a present key")
	}
	paths := artifact.Paths()
	sort.Strings(paths)
	if len(paths) != 1 || paths[0] != "Foo.class" {
		t.Fatalf("Paths() = %v, want [Foo.class]", paths)
	}

	dst := t.TempDir()
	if err := artifact.Extract(dst, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "Foo.class"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "classbytes" {
		t.Errorf("extracted content = %q, want %q", got, "classbytes")
	}
}

func TestUseCachedFilesMissReturnsNil(t *testing.T) {
	c := New(t.TempDir(), false, nil)
	a, err := c.UseCachedFiles(Key{ID: "x", Hash: "y"})
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Error("expected a nil Artifact for a missing key")
	}
}

func TestReadOnlyInsertIsNoOp(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Foo.class"), "x")

	c := New(filepath.Join(root, "cache"), true, nil)
	key := Key{ID: "jvm-classes", Hash: "deadbeef"}
	if err := c.Insert(key, src, []string{"Foo.class"}); err != nil {
		t.Fatal(err)
	}
	if c.Has(key) {
		t.Error("a read-only cache must not actually write on Insert")
	}
}

func TestExtractRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Foo.class"), "x")

	c := New(filepath.Join(root, "cache"), false, nil)
	key := Key{ID: "jvm-classes", Hash: "abc"}
	if err := c.Insert(key, src, []string{"Foo.class"}); err != nil {
		t.Fatal(err)
	}
	bad := &DirectoryArtifact{Dir: filepath.Join(c.Root, "jvm-classes", "abc"), RelPaths: []string{"../../../etc/passwd"}}
	if err := bad.Extract(t.TempDir(), nil); err == nil {
		t.Fatal("expected an error extracting a path that escapes artifact_root")
	}
}

func TestPruneRemovesOldEntries(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Foo.class"), "x")

	c := New(filepath.Join(root, "cache"), false, nil)
	key := Key{ID: "jvm-classes", Hash: "old"}
	if err := c.Insert(key, src, []string{"Foo.class"}); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	marker := filepath.Join(key.dir(c.Root), ".committed")
	if err := os.Chtimes(marker, old, old); err != nil {
		t.Fatal(err)
	}

	if err := c.Prune(24); err != nil {
		t.Fatal(err)
	}
	if c.Has(key) {
		t.Error("Prune(24) should have removed an entry committed 48h ago")
	}
}

func TestTransformingAppliesPreWriteAndPostRead(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.analysis"), "x")
	writeFile(t, filepath.Join(src, "b.analysis"), "x")

	var postReadSeen []string
	tc := NewTransforming(New(filepath.Join(root, "cache"), false, nil),
		func(paths []string) ([]string, error) {
			// Drop b.analysis before it ever reaches the cache.
			var out []string
			for _, p := range paths {
				if p != "b.analysis" {
					out = append(out, p)
				}
			}
			return out, nil
		},
		func(paths []string) error {
			postReadSeen = append(postReadSeen, paths...)
			return nil
		},
	)

	key := Key{ID: "analysis", Hash: "x"}
	if err := tc.Insert(key, src, []string{"a.analysis", "b.analysis"}); err != nil {
		t.Fatal(err)
	}
	artifact, err := tc.UseCachedFiles(key)
	if err != nil {
		t.Fatal(err)
	}
	paths := artifact.Paths()
	if len(paths) != 1 || paths[0] != "a.analysis" {
		t.Fatalf("Paths() = %v, want [a.analysis] (b.analysis should have been dropped by PreWrite)", paths)
	}
	if len(postReadSeen) != 1 || postReadSeen[0] != "a.analysis" {
		t.Errorf("PostRead saw %v, want [a.analysis]", postReadSeen)
	}
}

type fakeRecorder struct {
	stats []recordedStat
}

type recordedStat struct {
	cacheName, target string
	hit               bool
}

func (r *fakeRecorder) RecordCacheStat(cacheName, target string, hit bool) {
	r.stats = append(r.stats, recordedStat{cacheName, target, hit})
}

func TestHasAndUseCachedFilesRecordCacheStats(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Foo.class"), "x")

	rec := &fakeRecorder{}
	c := New(filepath.Join(root, "cache"), false, nil)
	c.Name = "classes"
	c.Recorder = rec

	miss := Key{ID: "jvm-classes", Hash: "missing"}
	if c.Has(miss) {
		t.Fatal("expected a miss for an absent key")
	}
	if _, err := c.UseCachedFiles(miss); err != nil {
		t.Fatal(err)
	}

	hit := Key{ID: "jvm-classes", Hash: "present"}
	if err := c.Insert(hit, src, []string{"Foo.class"}); err != nil {
		t.Fatal(err)
	}
	if !c.Has(hit) {
		t.Fatal("expected a hit after Insert")
	}
	if _, err := c.UseCachedFiles(hit); err != nil {
		t.Fatal(err)
	}

	want := []recordedStat{
		{"classes", "jvm-classes", false},
		{"classes", "jvm-classes", false},
		{"classes", "jvm-classes", true},
		{"classes", "jvm-classes", true},
	}
	if len(rec.stats) != len(want) {
		t.Fatalf("recorded %d stats, want %d: %+v", len(rec.stats), len(want), rec.stats)
	}
	for i, got := range rec.stats {
		if got != want[i] {
			t.Errorf("stat %d = %+v, want %+v", i, got, want[i])
		}
	}
}
