package artifactcache

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestWriteTarballThenExtract(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	writeFile(t, filepath.Join(src, "nested", "b.txt"), "world")

	tgz := filepath.Join(t.TempDir(), "artifact.tar.gz")
	if err := WriteTarball(tgz, src, []string{"a.txt", "nested/b.txt"}); err != nil {
		t.Fatal(err)
	}

	a := &TarballArtifact{TarGzPath: tgz}
	paths := a.Paths()
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "a.txt" || paths[1] != "nested/b.txt" {
		t.Fatalf("Paths() = %v", paths)
	}

	dst := t.TempDir()
	if err := a.Extract(dst, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("a.txt = %q, want hello", got)
	}
	got2, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got2) != "world" {
		t.Errorf("nested/b.txt = %q, want world", got2)
	}
}
