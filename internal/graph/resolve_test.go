package graph

import (
	"testing"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/manifest"
)

func proxy(dir, name, targetType string, deps []string, kwargs map[string]interface{}) *manifest.TargetProxy {
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	return &manifest.TargetProxy{
		TargetType:   targetType,
		Dir:          dir,
		Name:         name,
		Address:      parallax.NewAddress(dir, name),
		Kwargs:       kwargs,
		Dependencies: deps,
	}
}

func TestResolveProxiesInjectsTargetsAndEdgesRegardlessOfOrder(t *testing.T) {
	// lib depends on a jar_library declared later in the slice; ResolveProxies
	// must not depend on dependency-before-dependent ordering.
	lib := proxy("a", "lib", "jvm_library", []string{":dep"}, map[string]interface{}{
		"sources": []string{"A.java"},
	})
	dep := proxy("a", "dep", "jar_library", nil, map[string]interface{}{
		"jars": []string{"dep.jar"},
	})

	bg := New(nil)
	if err := ResolveProxies(bg, []*manifest.TargetProxy{lib, dep}); err != nil {
		t.Fatalf("ResolveProxies: %v", err)
	}

	deps, err := bg.DependenciesOf(lib.Address)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0] != dep.Address {
		t.Errorf("DependenciesOf(lib) = %v, want [%v]", deps, dep.Address)
	}

	target, err := bg.GetTarget(lib.Address)
	if err != nil {
		t.Fatal(err)
	}
	jvm, ok := target.Payload.(*JvmSources)
	if !ok {
		t.Fatalf("lib payload = %T, want *JvmSources", target.Payload)
	}
	if len(jvm.Sources) != 1 || jvm.Sources[0] != "A.java" {
		t.Errorf("lib.Sources = %v", jvm.Sources)
	}

	depTarget, err := bg.GetTarget(dep.Address)
	if err != nil {
		t.Fatal(err)
	}
	jar, ok := depTarget.Payload.(*JarLibrary)
	if !ok {
		t.Fatalf("dep payload = %T, want *JarLibrary", depTarget.Payload)
	}
	if len(jar.Jars) != 1 || jar.Jars[0] != "dep.jar" {
		t.Errorf("dep.Jars = %v", jar.Jars)
	}
}

func TestResolveProxiesUnknownTargetType(t *testing.T) {
	bad := proxy("a", "weird", "python_binary", nil, nil)
	bg := New(nil)
	if err := ResolveProxies(bg, []*manifest.TargetProxy{bad}); err == nil {
		t.Fatal("expected error for unknown target type")
	}
}

func TestResolveProxiesUnresolvableDependency(t *testing.T) {
	lib := proxy("a", "lib", "jvm_library", []string{":missing"}, nil)
	bg := New(nil)
	if err := ResolveProxies(bg, []*manifest.TargetProxy{lib}); err == nil {
		t.Fatal("expected error for dependency on a target never injected")
	}
}
