package exclusives

import (
	"testing"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/errs"
	"github.com/parallaxbuild/parallax/internal/graph"
)

func addr(name string) parallax.Address { return parallax.NewAddress(name, name) }

// buildScenario constructs a small conflict scenario: a={a:1,b:1},
// b={a:1}, c={a:2}, d deps {a,b}, e deps {a,c}. e ends up with two
// values for exclusives key "a" (1 from a, 2 from c), a conflict.
func buildScenario(t *testing.T) *graph.BuildGraph {
	t.Helper()
	bg := graph.New(nil)

	a := graph.NewTarget(addr("a"), &graph.JarLibrary{})
	a.DeclaredExclusives.Set("a", "1")
	a.DeclaredExclusives.Set("b", "1")

	b := graph.NewTarget(addr("b"), &graph.JarLibrary{})
	b.DeclaredExclusives.Set("a", "1")

	c := graph.NewTarget(addr("c"), &graph.JarLibrary{})
	c.DeclaredExclusives.Set("a", "2")

	d := graph.NewTarget(addr("d"), &graph.JarLibrary{})
	e := graph.NewTarget(addr("e"), &graph.JarLibrary{})

	for _, tgt := range []*graph.Target{a, b, c} {
		if err := bg.InjectTarget(tgt, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := bg.InjectTarget(d, []parallax.Address{a.Address, b.Address}); err != nil {
		t.Fatal(err)
	}
	if err := bg.InjectTarget(e, []parallax.Address{a.Address, c.Address}); err != nil {
		t.Fatal(err)
	}
	return bg
}

func TestPropagationWarnMode(t *testing.T) {
	bg := buildScenario(t)
	p := NewPropagator(bg, Warn)
	conflicts, err := p.Propagate(nil)
	if err != nil {
		t.Fatal(err)
	}

	d, _ := bg.GetTarget(addr("d"))
	if got := d.ComputedExclusives.SortedValues("a"); len(got) != 1 || got[0] != "1" {
		t.Errorf("computed_exclusives(d)[a] = %v, want [1]", got)
	}

	e, _ := bg.GetTarget(addr("e"))
	if got := e.ComputedExclusives.SortedValues("a"); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("computed_exclusives(e)[a] = %v, want [1 2]", got)
	}

	if len(conflicts) != 1 || conflicts[0].Target != addr("e").String() {
		t.Errorf("conflicts = %v, want exactly one conflict on e", conflicts)
	}
}

func TestPropagationStrictModeFailsOnConflict(t *testing.T) {
	bg := buildScenario(t)
	p := NewPropagator(bg, Strict)
	_, err := p.Propagate(nil)
	if err == nil {
		t.Fatal("expected strict-mode conflict error, got nil")
	}
	var conflict *errs.ExclusivesConflict
	if ok := as(err, &conflict); !ok {
		t.Fatalf("error %v is not *errs.ExclusivesConflict", err)
	}
	if conflict.Target != addr("e").String() {
		t.Errorf("conflict target = %q, want %q", conflict.Target, addr("e").String())
	}
}

func as(err error, target **errs.ExclusivesConflict) bool {
	c, ok := err.(*errs.ExclusivesConflict)
	if ok {
		*target = c
	}
	return ok
}

// TestPartitioningScenario covers: with a,b,c,d only (e excluded, since it
// is the strict-mode conflict from TestPropagationStrictModeFailsOnConflict's
// scenario), "a" is the only partition axis and it splits the four targets
// into a three-target group {a,b,d} and a one-target group {c}.
func TestPartitioningScenario(t *testing.T) {
	bg := graph.New(nil)
	a := graph.NewTarget(addr("a"), &graph.JarLibrary{})
	a.DeclaredExclusives.Set("a", "1")
	a.DeclaredExclusives.Set("b", "1")
	b := graph.NewTarget(addr("b"), &graph.JarLibrary{})
	b.DeclaredExclusives.Set("a", "1")
	c := graph.NewTarget(addr("c"), &graph.JarLibrary{})
	c.DeclaredExclusives.Set("a", "2")
	d := graph.NewTarget(addr("d"), &graph.JarLibrary{})

	for _, tgt := range []*graph.Target{a, b, c} {
		if err := bg.InjectTarget(tgt, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := bg.InjectTarget(d, []parallax.Address{a.Address, b.Address}); err != nil {
		t.Fatal(err)
	}

	p := NewPropagator(bg, Strict)
	if _, err := p.Propagate(nil); err != nil {
		t.Fatal(err)
	}

	part, err := NewPartitioner(bg)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := part.Axis(), []string{"a"}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("Axis() = %v, want %v (b never conflicts globally)", got, want)
	}

	groups, err := part.Groups()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	var sizes []int
	for _, members := range groups {
		sizes = append(sizes, len(members))
	}
	foundThree, foundOne := false, false
	for _, s := range sizes {
		if s == 3 {
			foundThree = true
		}
		if s == 1 {
			foundOne = true
		}
	}
	if !foundThree || !foundOne {
		t.Errorf("group sizes = %v, want one group of 3 ({a,b,d}) and one of 1 ({c})", sizes)
	}
}

func TestCompatibleSentinelMatchesAnything(t *testing.T) {
	specific := GroupKey("[a=1]")
	none := GroupKey("[a=<none>]")
	other := GroupKey("[a=2]")
	if !Compatible(specific, none) {
		t.Error("a specific value should be compatible with the <none> sentinel")
	}
	if Compatible(specific, other) {
		t.Error("two distinct specific values should not be compatible")
	}
}

func TestClasspathStoreCompatibleAppend(t *testing.T) {
	store := NewClasspathStore()
	g1 := GroupKey("[a=1]")
	g2 := GroupKey("[a=2]")
	store.UpdateCompatibleClasspaths(g1, "shared.jar")
	store.UpdateCompatibleClasspaths(g2, "other.jar")
	store.UpdateCompatibleClasspaths(g1, "shared.jar") // duplicate, must be suppressed

	got := store.GetClasspathForGroup(g1)
	if len(got) != 1 || got[0] != "shared.jar" {
		t.Errorf("GetClasspathForGroup(g1) = %v, want [shared.jar]", got)
	}
}
