// Package graph assembles parsed TargetProxy values into an immutable,
// dependency-indexed DAG of resolved Target objects. Topological ordering
// and cycle detection are delegated to gonum.org/v1/gonum/graph's simple
// directed graph and topo package — distri's own internal/batch.Ctx.Build
// already builds exactly this kind of gonum graph over its package set and
// looks for strongly connected components before building, so this is the
// teacher's own idiom for "DAG plus topological sort plus cycle detection"
// generalized to our Target type.
package graph

import (
	"crypto/sha256"
	"hash"
	"os"
	"path/filepath"
	"sort"

	"github.com/parallaxbuild/parallax"
)

// Payload is the type-specific data attached to a Target.
type Payload interface {
	// HasSources reports whether any declared source file carries the
	// given extension (e.g. ".java", ".scala").
	HasSources(extension string) bool
	// HasResources reports whether this payload carries non-source
	// resource files (e.g. a resources directory).
	HasResources() bool
	// InvalidationHash feeds h with a canonical byte sequence derived from
	// every payload field plus, for source-bearing payloads, the exact
	// content of every listed source file.
	InvalidationHash(h hash.Hash) error
	// SourceCount reports how many source files this payload owns, used to
	// size invalidation partitions against a partition size hint.
	SourceCount() int
}

// JvmSources is the Payload variant for a target compiled from JVM-language
// source files.
type JvmSources struct {
	// Dir is the target's manifest directory, used to resolve Sources to
	// real file paths when hashing their contents.
	Dir            string
	SourcesRelPath string
	Sources        []string
	Provides       []string
	Excludes       []string
	Configurations []string
}

func (p *JvmSources) HasSources(extension string) bool {
	for _, s := range p.Sources {
		if filepath.Ext(s) == extension {
			return true
		}
	}
	return false
}

func (p *JvmSources) SourceCount() int { return len(p.Sources) }

func (p *JvmSources) HasResources() bool {
	for _, c := range p.Configurations {
		if c == "resources" {
			return true
		}
	}
	return false
}

func (p *JvmSources) InvalidationHash(h hash.Hash) error {
	writeField(h, "sources_rel_path", p.SourcesRelPath)
	sorted := append([]string(nil), p.Sources...)
	sort.Strings(sorted)
	for _, rel := range sorted {
		writeField(h, "source", rel)
		full := filepath.Join(p.Dir, rel)
		b, err := os.ReadFile(full)
		if err != nil {
			return err
		}
		h.Write(b)
	}
	writeListField(h, "provides", p.Provides)
	writeListField(h, "excludes", p.Excludes)
	writeListField(h, "configurations", p.Configurations)
	return nil
}

// JarLibrary is the Payload variant for a target that merely references
// prebuilt jar files rather than compiling sources.
type JarLibrary struct {
	Jars      []string
	Overrides []string
}

func (p *JarLibrary) HasSources(extension string) bool { return false }
func (p *JarLibrary) HasResources() bool               { return false }
func (p *JarLibrary) SourceCount() int                 { return 0 }

func (p *JarLibrary) InvalidationHash(h hash.Hash) error {
	writeListField(h, "jars", p.Jars)
	writeListField(h, "overrides", p.Overrides)
	return nil
}

func writeField(h hash.Hash, name, value string) {
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func writeListField(h hash.Hash, name string, values []string) {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	for _, v := range sorted {
		writeField(h, name, v)
	}
}

// NewHasher returns the streaming hash used throughout invalidation
// fingerprinting: SHA-256, matching distri's own use of crypto/sha256 for
// content-addressed package digests.
func NewHasher() hash.Hash { return sha256.New() }

// Target is the resolved object a graph edge actually points at, once every
// address referenced by a TargetProxy has been loaded.
type Target struct {
	Address parallax.Address
	ID      string

	Labels map[string]bool

	DeclaredExclusives ExclusivesMap
	// ComputedExclusives is nil until the exclusives engine propagates it.
	ComputedExclusives ExclusivesMap

	// DerivedFrom is the target itself unless this target was synthesized
	// by code generation from another target.
	DerivedFrom *Target

	Sources        []string
	SourcesRelPath string

	Payload Payload
}

// NewTarget constructs a Target whose DerivedFrom defaults to itself.
func NewTarget(addr parallax.Address, payload Payload) *Target {
	t := &Target{
		Address:            addr,
		ID:                 addr.ID(),
		Labels:             make(map[string]bool),
		DeclaredExclusives: make(ExclusivesMap),
		Sources:            nil,
		Payload:            payload,
	}
	t.DerivedFrom = t
	return t
}

// ExclusivesMap is a multimap<str,str>.
type ExclusivesMap map[string]map[string]bool

// Set records value under key, supporting multiple values per key so
// conflicts can be detected later.
func (m ExclusivesMap) Set(key, value string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][value] = true
}

// Clone returns a deep copy.
func (m ExclusivesMap) Clone() ExclusivesMap {
	out := make(ExclusivesMap, len(m))
	for k, vs := range m {
		cp := make(map[string]bool, len(vs))
		for v := range vs {
			cp[v] = true
		}
		out[k] = cp
	}
	return out
}

// Union merges other into a copy of m and returns the result, implementing
// the ⊎ multimap union the exclusives propagator relies on.
func (m ExclusivesMap) Union(other ExclusivesMap) ExclusivesMap {
	out := m.Clone()
	for k, vs := range other {
		if out[k] == nil {
			out[k] = make(map[string]bool)
		}
		for v := range vs {
			out[k][v] = true
		}
	}
	return out
}

// SortedKeys returns m's keys in sorted order.
func (m ExclusivesMap) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedValues returns the values for key in sorted order.
func (m ExclusivesMap) SortedValues(key string) []string {
	vs := make([]string, 0, len(m[key]))
	for v := range m[key] {
		vs = append(vs, v)
	}
	sort.Strings(vs)
	return vs
}
