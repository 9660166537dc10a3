// Package exclusives implements the exclusivity constraint engine: transitive
// propagation of mutually-exclusive tags, conflict detection, and
// partitioning of the target set into compatible groups whose classpaths
// must not mix.
package exclusives

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/errs"
	"github.com/parallaxbuild/parallax/internal/graph"
)

// Mode selects how a detected conflict is surfaced.
type Mode int

const (
	// Strict fails the build the moment any target's computed exclusives
	// map holds more than one value for some key.
	Strict Mode = iota
	// Warn logs the conflict and continues; partitioning then keeps
	// conflicting targets in separate chunks.
	Warn
)

// Propagator computes ComputedExclusives for every target in a BuildGraph by
// walking it once in dependency order and memoising:
// computed_exclusives(t) = declared_exclusives(t) ⊎
// ⋃ computed_exclusives(d) for d in deps(t).
type Propagator struct {
	bg   *graph.BuildGraph
	mode Mode

	memo map[parallax.Address]graph.ExclusivesMap
}

// NewPropagator constructs a Propagator over bg.
func NewPropagator(bg *graph.BuildGraph, mode Mode) *Propagator {
	return &Propagator{bg: bg, mode: mode, memo: make(map[parallax.Address]graph.ExclusivesMap)}
}

// Propagate computes and stores ComputedExclusives on every target reachable
// from roots (or, if roots is empty, on every target in bg). In Strict mode
// it returns the first *errs.ExclusivesConflict found; in Warn mode it
// collects and returns every conflict found, alongside a nil error, leaving
// the caller (the partitioner) to isolate conflicting targets into separate
// groups.
func (p *Propagator) Propagate(roots []parallax.Address) ([]*errs.ExclusivesConflict, error) {
	var conflicts []*errs.ExclusivesConflict
	var walk func(addr parallax.Address) (graph.ExclusivesMap, error)
	walk = func(addr parallax.Address) (graph.ExclusivesMap, error) {
		if m, ok := p.memo[addr]; ok {
			return m, nil
		}
		t, err := p.bg.GetTarget(addr)
		if err != nil {
			return nil, err
		}
		computed := t.DeclaredExclusives.Clone()
		deps, err := p.bg.DependenciesOf(addr)
		if err != nil {
			return nil, err
		}
		sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })
		for _, d := range deps {
			depComputed, err := walk(d)
			if err != nil {
				return nil, err
			}
			computed = computed.Union(depComputed)
		}
		t.ComputedExclusives = computed
		p.memo[addr] = computed

		for _, key := range computed.SortedKeys() {
			values := computed.SortedValues(key)
			if len(values) > 1 {
				c := &errs.ExclusivesConflict{Target: addr.String(), Key: key, Values: values}
				if p.mode == Strict {
					return nil, c
				}
				log.Printf("exclusives conflict (continuing): %v", c)
				conflicts = append(conflicts, c)
			}
		}
		return computed, nil
	}

	targets := roots
	if len(targets) == 0 {
		sorted, err := p.bg.SortedTargets()
		if err != nil {
			return nil, err
		}
		for _, t := range sorted {
			targets = append(targets, t.Address)
		}
	}
	for _, addr := range targets {
		if _, err := walk(addr); err != nil {
			if c, ok := err.(*errs.ExclusivesConflict); ok {
				return nil, c
			}
			return nil, err
		}
	}
	return conflicts, nil
}

const noneSentinel = "<none>"

// GroupKey is the per-target tuple of (axis key, selected value),
// rendered as a stable string so it can be used as a map key (mirroring
// distri's own fullname-as-map-key convention).
type GroupKey string

// Partitioner computes the global partition axis and assigns every target a
// GroupKey.
type Partitioner struct {
	bg   *graph.BuildGraph
	axis []string
}

// NewPartitioner computes the partition axis (every exclusives key whose
// global value-set has cardinality > 1) over every target in bg.
func NewPartitioner(bg *graph.BuildGraph) (*Partitioner, error) {
	global := make(graph.ExclusivesMap)
	targets, err := bg.SortedTargets()
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		if t.ComputedExclusives == nil {
			return nil, fmt.Errorf("target %s has no computed exclusives; call Propagator.Propagate first", t.Address)
		}
		global = global.Union(t.ComputedExclusives)
	}
	var axis []string
	for _, k := range global.SortedKeys() {
		if len(global[k]) > 1 {
			axis = append(axis, k)
		}
	}
	return &Partitioner{bg: bg, axis: axis}, nil
}

// Axis returns the partition axis keys, sorted.
func (p *Partitioner) Axis() []string { return append([]string(nil), p.axis...) }

// GroupKeyFor computes t's group key: the ordered tuple of (key,
// value-or-sentinel) for each axis key. A target whose computed
// exclusives holds more than one value for an axis key gets all of them
// joined with "|" as its value, which matches no single-valued key, so
// such a target lands in a group of its own; callers running in Strict
// mode will never observe this because Propagate already failed the
// build.
func (p *Partitioner) GroupKeyFor(t *graph.Target) GroupKey {
	var parts []string
	for _, key := range p.axis {
		value := noneSentinel
		if vs := t.ComputedExclusives.SortedValues(key); len(vs) > 0 {
			value = strings.Join(vs, "|")
		}
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	return GroupKey("[" + strings.Join(parts, ",") + "]")
}

// parsedKey decomposes a GroupKey back into its per-axis values, keyed by
// axis name, for the Compatible check below.
func parsedKey(k GroupKey) map[string]string {
	s := strings.TrimSuffix(strings.TrimPrefix(string(k), "["), "]")
	out := make(map[string]string)
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// Compatible reports whether two group keys may share a classpath: for
// every axis key, either the values agree or at least one is the
// sentinel.
func Compatible(a, b GroupKey) bool {
	if a == b {
		return true
	}
	pa, pb := parsedKey(a), parsedKey(b)
	keys := make(map[string]bool)
	for k := range pa {
		keys[k] = true
	}
	for k := range pb {
		keys[k] = true
	}
	for k := range keys {
		va, oka := pa[k]
		vb, okb := pb[k]
		if !oka {
			va = noneSentinel
		}
		if !okb {
			vb = noneSentinel
		}
		if va == noneSentinel || vb == noneSentinel {
			continue
		}
		if va != vb {
			return false
		}
	}
	return true
}

// Groups partitions every target in bg into compatibility groups keyed by
// GroupKey.
func (p *Partitioner) Groups() (map[GroupKey][]*graph.Target, error) {
	targets, err := p.bg.SortedTargets()
	if err != nil {
		return nil, err
	}
	groups := make(map[GroupKey][]*graph.Target)
	for _, t := range targets {
		key := p.GroupKeyFor(t)
		groups[key] = append(groups[key], t)
	}
	return groups, nil
}

// ClasspathStore is an append-only, thread-safe classpath accumulator:
// UpdateCompatibleClasspaths(G, entry) appends entry to every group
// compatible with G, and GetClasspathForGroup(G) returns every entry ever
// added under a compatible key, de-duplicated, in insertion order.
type ClasspathStore struct {
	mu      chan struct{} // binary semaphore; see Lock/Unlock below
	entries []classpathEntry
}

type classpathEntry struct {
	key   GroupKey
	entry string
}

// NewClasspathStore constructs an empty, concurrency-safe classpath store.
func NewClasspathStore() *ClasspathStore {
	s := &ClasspathStore{mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

func (s *ClasspathStore) lock()   { <-s.mu }
func (s *ClasspathStore) unlock() { s.mu <- struct{}{} }

// UpdateCompatibleClasspaths appends entry under key; readers filter by
// compatibility at read time rather than at write time, which keeps writes
// O(1) regardless of how many groups exist.
func (s *ClasspathStore) UpdateCompatibleClasspaths(key GroupKey, entry string) {
	s.lock()
	defer s.unlock()
	s.entries = append(s.entries, classpathEntry{key: key, entry: entry})
}

// GetClasspathForGroup returns every entry added under a key compatible
// with group, in insertion order, with duplicates suppressed.
func (s *ClasspathStore) GetClasspathForGroup(group GroupKey) []string {
	s.lock()
	defer s.unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.entries {
		if !Compatible(e.key, group) {
			continue
		}
		if seen[e.entry] {
			continue
		}
		seen[e.entry] = true
		out = append(out, e.entry)
	}
	return out
}
