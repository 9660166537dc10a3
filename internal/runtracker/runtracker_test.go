package runtracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStartCreatesLayoutAndLatestSymlink(t *testing.T) {
	infoDir := t.TempDir()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	r, err := Start(infoDir, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	defer r.End()

	if _, err := os.Stat(filepath.Join(r.Dir, "info")); err != nil {
		t.Errorf("info file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, "tool_outputs")); err != nil {
		t.Errorf("tool_outputs directory missing: %v", err)
	}

	target, err := os.Readlink(filepath.Join(infoDir, "latest"))
	if err != nil {
		t.Fatalf("latest symlink missing: %v", err)
	}
	if target != r.ID {
		t.Errorf("latest -> %q, want %q", target, r.ID)
	}
}

func TestSecondRunRelinksLatest(t *testing.T) {
	infoDir := t.TempDir()
	r1, err := Start(infoDir, nil, time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	r1.End()

	r2, err := Start(infoDir, nil, time.Date(2026, 7, 31, 10, 0, 1, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	defer r2.End()

	target, err := os.Readlink(filepath.Join(infoDir, "latest"))
	if err != nil {
		t.Fatal(err)
	}
	if target != r2.ID {
		t.Errorf("latest -> %q after second run, want %q", target, r2.ID)
	}
}

func TestWriteInfoRejectsColonInKey(t *testing.T) {
	infoDir := t.TempDir()
	r, err := Start(infoDir, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	defer r.End()
	if err := r.WriteInfo("bad:key", "v"); err == nil {
		t.Error("expected an error for a key containing ':'")
	}
}

func TestEndWritesSortedTimingsDescending(t *testing.T) {
	infoDir := t.TempDir()
	r, err := Start(infoDir, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	r.RecordCumulativeTiming("all:fast", 10*time.Millisecond, false)
	r.RecordCumulativeTiming("all:slow", 500*time.Millisecond, false)
	if err := r.End(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(r.Dir, "cumulative_timings"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// "all" (the root work unit, recorded by End()'s own root.End() call)
	// plus the two timings we injected manually.
	if len(lines) < 2 {
		t.Fatalf("expected at least 2 timing lines, got %v", lines)
	}
	if !strings.Contains(lines[0], "all:slow") {
		t.Errorf("first line %q should be the slowest timing", lines[0])
	}
}

func TestCacheStatsWritesOneSectionPerCache(t *testing.T) {
	infoDir := t.TempDir()
	r, err := Start(infoDir, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	r.RecordCacheStat("jvm-classes", "a:lib", true)
	r.RecordCacheStat("jvm-classes", "b:lib", false)
	r.RecordCacheStat("scalac-analysis", "a:lib", true)
	if err := r.End(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(r.Dir, "artifact_cache_stats"))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, "[jvm-classes]") || !strings.Contains(s, "[scalac-analysis]") {
		t.Errorf("artifact_cache_stats %q missing expected sections", s)
	}
	if !strings.Contains(s, "hit_targets: a:lib") {
		t.Errorf("artifact_cache_stats %q missing jvm-classes hit", s)
	}
}
