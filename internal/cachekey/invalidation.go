package cachekey

import (
	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/graph"
)

// VersionedTarget pairs a Target with its freshly computed fingerprint and
// the validity verdict against Store.
type VersionedTarget struct {
	Target      *graph.Target
	Fingerprint string
	Valid       bool

	store Store
}

// SourceCount returns the number of source files this target owns, used to
// size partitions against partition_size_hint.
func (vt *VersionedTarget) SourceCount() int {
	return vt.Target.Payload.SourceCount()
}

// Update persists the freshly computed fingerprint, marking the target
// valid for the next run. Callers must call it after a partition compiles
// successfully.
func (vt *VersionedTarget) Update() error {
	if vt.store == nil {
		return nil
	}
	return vt.store.Set(vt.Target.Address, vt.Fingerprint)
}

// ForceInvalidate discards any stored fingerprint for this target,
// guaranteeing it is recomputed next run even if its inputs happen not to
// have changed, for tools that may have deleted artifacts before failing.
func (vt *VersionedTarget) ForceInvalidate() error {
	if vt.store == nil {
		return nil
	}
	return vt.store.Delete(vt.Target.Address)
}

// VersionedTargetSet is a partition of VersionedTargets sized against
// partition_size_hint without splitting a dependency cluster.
type VersionedTargetSet struct {
	Targets []*VersionedTarget
}

// SourceCount is the sum of every member's SourceCount.
func (s *VersionedTargetSet) SourceCount() int {
	total := 0
	for _, vt := range s.Targets {
		total += vt.SourceCount()
	}
	return total
}

// Update persists every member's fingerprint.
func (s *VersionedTargetSet) Update() error {
	for _, vt := range s.Targets {
		if err := vt.Update(); err != nil {
			return err
		}
	}
	return nil
}

// ForceInvalidate discards every member's stored fingerprint.
func (s *VersionedTargetSet) ForceInvalidate() error {
	for _, vt := range s.Targets {
		if err := vt.ForceInvalidate(); err != nil {
			return err
		}
	}
	return nil
}

// InvalidationResult is the return value of Invalidated.
type InvalidationResult struct {
	InvalidVTS            []*VersionedTarget
	InvalidVTSPartitioned []*VersionedTargetSet
	AllVTSPartitioned     []*VersionedTargetSet
}

// Invalidated fingerprints every target in targets (folding in dependency
// fingerprints), compares each against store, and returns the invalid set
// plus both target-set partitionings the caller needs: every invalid
// target, and every target overall, each grouped into dependency-safe
// partitions.
//
// When invalidateDependents is true, a target with a valid fingerprint is
// still treated as invalid if any of its transitive dependencies is
// invalid — dependents of changed code must recompile even though their
// own sources are untouched.
func Invalidated(bg *graph.BuildGraph, store Store, targets []parallax.Address, invalidateDependents bool, partitionSizeHint int) (*InvalidationResult, error) {
	fingerprints, err := FingerprintAll(bg, targets)
	if err != nil {
		return nil, err
	}

	sorted, err := bg.SortedTargets()
	if err != nil {
		return nil, err
	}
	wanted := make(map[parallax.Address]bool, len(targets))
	for _, a := range targets {
		wanted[a] = true
	}

	all := make([]*VersionedTarget, 0, len(targets))
	invalidByAddr := make(map[parallax.Address]bool)
	// sorted is most-dependent-first; reverse so we visit dependencies
	// before their dependents, which invalidateDependents needs.
	for i := len(sorted) - 1; i >= 0; i-- {
		t := sorted[i]
		if len(targets) > 0 && !wanted[t.Address] {
			continue
		}
		fp := fingerprints[t.Address]
		stored, ok := store.Get(t.Address)
		valid := ok && stored == fp
		if valid && invalidateDependents {
			deps, err := bg.DependenciesOf(t.Address)
			if err != nil {
				return nil, err
			}
			for _, d := range deps {
				if invalidByAddr[d] {
					valid = false
					break
				}
			}
		}
		if !valid {
			invalidByAddr[t.Address] = true
		}
		all = append(all, &VersionedTarget{Target: t, Fingerprint: fp, Valid: valid, store: store})
	}
	// Restore most-dependent-first order for the caller.
	reverseVTs(all)

	var invalid []*VersionedTarget
	for _, vt := range all {
		if !vt.Valid {
			invalid = append(invalid, vt)
		}
	}

	clusters := clustersOf(bg)
	invalidPartitioned := partition(invalid, clusters, partitionSizeHint)
	allPartitioned := partition(all, clusters, partitionSizeHint)

	return &InvalidationResult{
		InvalidVTS:            invalid,
		InvalidVTSPartitioned: invalidPartitioned,
		AllVTSPartitioned:     allPartitioned,
	}, nil
}

func reverseVTs(vts []*VersionedTarget) {
	for i, j := 0, len(vts)-1; i < j; i, j = i+1, j-1 {
		vts[i], vts[j] = vts[j], vts[i]
	}
}

// clustersOf maps each target address to an integer cluster ID such that
// two addresses share an ID iff they belong to the same strongly connected
// component of the dependency graph. Partitioning must never split a
// cluster across two VersionedTargetSets. BuildGraph.SortedTargets already
// rejects cycles (returning *errs.Cycle), so by the time Invalidated calls
// this every component is a singleton; cluster IDs are simply each
// target's position in topological order.
func clustersOf(bg *graph.BuildGraph) map[parallax.Address]int {
	out := make(map[parallax.Address]int)
	sorted, err := bg.SortedTargets()
	if err != nil {
		return out
	}
	for i, t := range sorted {
		out[t.Address] = i
	}
	return out
}

// partition greedily buckets vts (assumed already in a valid dependency
// order) into VersionedTargetSets whose total SourceCount is approximately
// sizeHint, never splitting a cluster. A non-positive sizeHint disables
// bucketing: every target gets its own set.
func partition(vts []*VersionedTarget, clusters map[parallax.Address]int, sizeHint int) []*VersionedTargetSet {
	if len(vts) == 0 {
		return nil
	}
	if sizeHint <= 0 {
		out := make([]*VersionedTargetSet, len(vts))
		for i, vt := range vts {
			out[i] = &VersionedTargetSet{Targets: []*VersionedTarget{vt}}
		}
		return out
	}

	// Group adjacent same-cluster members together so a cluster is never
	// split across a bucket boundary.
	type run struct {
		members []*VersionedTarget
		size    int
	}
	var runs []run
	for _, vt := range vts {
		cid := clusters[vt.Target.Address]
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			if clusters[last.members[0].Target.Address] == cid {
				last.members = append(last.members, vt)
				last.size += vt.SourceCount()
				continue
			}
		}
		runs = append(runs, run{members: []*VersionedTarget{vt}, size: vt.SourceCount()})
	}

	var out []*VersionedTargetSet
	var cur []*VersionedTarget
	curSize := 0
	flush := func() {
		if len(cur) > 0 {
			out = append(out, &VersionedTargetSet{Targets: cur})
			cur = nil
			curSize = 0
		}
	}
	for _, r := range runs {
		if curSize > 0 && curSize+r.size > sizeHint {
			flush()
		}
		cur = append(cur, r.members...)
		curSize += r.size
	}
	flush()
	return out
}
