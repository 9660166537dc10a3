package graph

import (
	"fmt"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/manifest"
)

// ResolveProxies turns every manifest.TargetProxy the loader parsed into a
// Target and injects it into bg, translating each proxy's declared
// dependency specs into graph edges. It is the bridge between the
// manifest package's untyped Kwargs and the graph package's typed Payload
// variants.
func ResolveProxies(bg *BuildGraph, proxies []*manifest.TargetProxy) error {
	// InjectTarget requires every dependency to already be present, so
	// targets are injected in a first pass with no edges, then edges are
	// added in a second pass once every address in the set resolves.
	for _, p := range proxies {
		payload, err := payloadFor(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Address, err)
		}
		t := NewTarget(p.Address, payload)
		t.Sources = p.ListKwarg("sources")
		t.SourcesRelPath = p.Dir
		if err := bg.InjectTarget(t, nil); err != nil {
			return err
		}
	}
	for _, p := range proxies {
		for _, spec := range p.Dependencies {
			addr, err := parallax.ParseSpec(spec, p.Dir)
			if err != nil {
				return fmt.Errorf("%s: dependency %q: %w", p.Address, spec, err)
			}
			if err := bg.InjectDependency(p.Address, addr); err != nil {
				return fmt.Errorf("%s: %w", p.Address, err)
			}
		}
	}
	return nil
}

func payloadFor(p *manifest.TargetProxy) (Payload, error) {
	switch p.TargetType {
	case "jvm_library":
		return &JvmSources{
			Dir:            p.Dir,
			SourcesRelPath: p.Dir,
			Sources:        p.ListKwarg("sources"),
			Provides:       p.ListKwarg("provides"),
			Excludes:       p.ListKwarg("excludes"),
			Configurations: p.ListKwarg("configurations"),
		}, nil
	case "jar_library":
		return &JarLibrary{
			Jars:      p.ListKwarg("jars"),
			Overrides: p.ListKwarg("overrides"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown target type %q", p.TargetType)
	}
}
