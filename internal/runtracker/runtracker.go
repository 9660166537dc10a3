// Package runtracker implements the run tracker: per-run identity, the
// on-disk info directory, the "latest" symlink, and the cumulative/self
// timing + artifact-cache-stats files persisted when a run closes.
package runtracker

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/parallaxbuild/parallax/internal/workunit"
)

// idLayout gives run IDs a monotonic, wall-clock-derived shape
// ("run_YYYY_MM_DD_HH_MM_SS_<ms>") so runs sort chronologically by name.
const idLayout = "2006_01_02_15_04_05"

// NewRunID derives a monotonic run identifier from now.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%03d", now.Format(idLayout), now.Nanosecond()/1e6)
}

// cacheStat is the per-cache-name hit/miss breakdown recorded for
// artifact_cache_stats, rather than a single global counter.
type cacheStat struct {
	hitTargets  []string
	missTargets []string
}

// Run is the per-invocation tracker. It implements workunit.Recorder so
// that every WorkUnit's End() call feeds it directly.
type Run struct {
	ID  string
	Dir string

	log *log.Logger

	mu         sync.Mutex
	infoFile   *os.File
	cumulative map[string]time.Duration
	self       map[string]time.Duration
	cacheStats map[string]*cacheStat

	root *workunit.WorkUnit
}

var _ workunit.Recorder = (*Run)(nil)

// Start creates infoDir/<run_id>/, opens its append-only info file, points
// infoDir/latest at the new directory, and opens the root "all" work unit.
func Start(infoDir string, logger *log.Logger, now time.Time) (*Run, error) {
	id := NewRunID(now)
	dir := filepath.Join(infoDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("creating run directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "tool_outputs"), 0o755); err != nil {
		return nil, xerrors.Errorf("creating tool_outputs directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "info"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("opening info file: %w", err)
	}

	if err := relinkLatest(infoDir, id); err != nil {
		f.Close()
		return nil, err
	}

	r := &Run{
		ID:         id,
		Dir:        dir,
		log:        logger,
		infoFile:   f,
		cumulative: make(map[string]time.Duration),
		self:       make(map[string]time.Duration),
		cacheStats: make(map[string]*cacheStat),
	}
	r.root = workunit.New(r, "all")
	r.root.Start()
	if err := r.WriteInfo("id", id); err != nil {
		return r, err
	}
	return r, nil
}

// relinkLatest atomically repoints infoDir/latest at runID.
func relinkLatest(infoDir, runID string) error {
	latest := filepath.Join(infoDir, "latest")
	tmp := latest + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(runID, tmp); err != nil {
		return xerrors.Errorf("symlinking latest: %w", err)
	}
	if err := os.Rename(tmp, latest); err != nil {
		return xerrors.Errorf("renaming latest symlink into place: %w", err)
	}
	return nil
}

// Root returns the run's root "all" work unit.
func (r *Run) Root() *workunit.WorkUnit { return r.root }

// WriteInfo appends a "key:value" line to the info file. ":" is forbidden
// in key.
func (r *Run) WriteInfo(key, value string) error {
	if strings.Contains(key, ":") {
		return xerrors.Errorf("info key %q must not contain ':'", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.infoFile, "%s:%s\n", key, value)
	if err != nil {
		return xerrors.Errorf("writing info line: %w", err)
	}
	return nil
}

// RecordCumulativeTiming implements workunit.Recorder.
func (r *Run) RecordCumulativeTiming(path string, d time.Duration, tool bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cumulative[path] += d
}

// RecordSelfTiming implements workunit.Recorder.
func (r *Run) RecordSelfTiming(path string, d time.Duration, tool bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self[path] += d
}

// RecordCacheStat records one has()+use outcome under cacheName.
func (r *Run) RecordCacheStat(cacheName, target string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.cacheStats[cacheName]
	if !ok {
		s = &cacheStat{}
		r.cacheStats[cacheName] = s
	}
	if hit {
		s.hitTargets = append(s.hitTargets, target)
	} else {
		s.missTargets = append(s.missTargets, target)
	}
}

// End closes the root work unit, then writes cumulative_timings,
// self_timings, and artifact_cache_stats. It must still be called after
// an interrupt, so a Ctrl-C'd build leaves behind the same timings and
// stats a normal run would.
func (r *Run) End() error {
	r.root.End()

	if err := writeTimings(filepath.Join(r.Dir, "cumulative_timings"), r.snapshotCumulative()); err != nil {
		return err
	}
	if err := writeTimings(filepath.Join(r.Dir, "self_timings"), r.snapshotSelf()); err != nil {
		return err
	}
	if err := r.writeCacheStats(); err != nil {
		return err
	}
	return r.infoFile.Close()
}

func (r *Run) snapshotCumulative() map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Duration, len(r.cumulative))
	for k, v := range r.cumulative {
		out[k] = v
	}
	return out
}

func (r *Run) snapshotSelf() map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Duration, len(r.self))
	for k, v := range r.self {
		out[k] = v
	}
	return out
}

// writeTimings renders "<seconds> <label>" lines sorted by timing
// descending.
func writeTimings(path string, timings map[string]time.Duration) error {
	type row struct {
		label   string
		seconds float64
	}
	rows := make([]row, 0, len(timings))
	for label, d := range timings {
		rows = append(rows, row{label: label, seconds: d.Seconds()})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].seconds != rows[j].seconds {
			return rows[i].seconds > rows[j].seconds
		}
		return rows[i].label < rows[j].label
	})

	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%.3f %s\n", row.seconds, row.label)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return xerrors.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeCacheStats renders one section per cache name.
func (r *Run) writeCacheStats() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.cacheStats))
	for name := range r.cacheStats {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		s := r.cacheStats[name]
		fmt.Fprintf(&b, "[%s]\n", name)
		fmt.Fprintf(&b, "hit_targets: %s\n", strings.Join(s.hitTargets, ", "))
		fmt.Fprintf(&b, "miss_targets: %s\n", strings.Join(s.missTargets, ", "))
	}
	r.mu.Unlock()

	if err := os.WriteFile(filepath.Join(r.Dir, "artifact_cache_stats"), []byte(b.String()), 0o644); err != nil {
		return xerrors.Errorf("writing artifact_cache_stats: %w", err)
	}
	return nil
}
