package graph

import (
	"fmt"
	"log"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/errs"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// addrNode adapts an Address into a gonum graph.Node, using an arena of
// Targets plus an address -> integer index map for edges. This mirrors
// distri's internal/batch.node, which wraps a package name in exactly the
// same id/fullname shape for gonum's simple.NewDirectedGraph.
type addrNode struct {
	id   int64
	addr parallax.Address
}

func (n *addrNode) ID() int64 { return n.id }

// BuildGraph is the immutable DAG of resolved Targets. Once sealed by the
// loader that builds it, it is safe for concurrent read-only access.
type BuildGraph struct {
	Log *log.Logger

	targetByAddress map[parallax.Address]*Target
	depsOf          map[parallax.Address]map[parallax.Address]bool
	dependentsOf    map[parallax.Address]map[parallax.Address]bool

	g        *simple.DirectedGraph
	nodeByID map[parallax.Address]*addrNode
	nextID   int64
}

// New constructs an empty BuildGraph.
func New(logger *log.Logger) *BuildGraph {
	if logger == nil {
		logger = log.Default()
	}
	return &BuildGraph{
		Log:             logger,
		targetByAddress: make(map[parallax.Address]*Target),
		depsOf:          make(map[parallax.Address]map[parallax.Address]bool),
		dependentsOf:    make(map[parallax.Address]map[parallax.Address]bool),
		g:               simple.NewDirectedGraph(),
		nodeByID:        make(map[parallax.Address]*addrNode),
	}
}

func (bg *BuildGraph) nodeFor(addr parallax.Address) *addrNode {
	if n, ok := bg.nodeByID[addr]; ok {
		return n
	}
	n := &addrNode{id: bg.nextID, addr: addr}
	bg.nextID++
	bg.nodeByID[addr] = n
	bg.g.AddNode(n)
	return n
}

// InjectTarget registers target at an address unseen so far, then calls
// InjectDependency for every entry in deps. Re-injecting an
// already-registered address is a programming error.
func (bg *BuildGraph) InjectTarget(target *Target, deps []parallax.Address) error {
	if _, ok := bg.targetByAddress[target.Address]; ok {
		return fmt.Errorf("target %s already injected", target.Address)
	}
	bg.targetByAddress[target.Address] = target
	bg.depsOf[target.Address] = make(map[parallax.Address]bool)
	bg.dependentsOf[target.Address] = make(map[parallax.Address]bool)
	bg.nodeFor(target.Address)
	for _, d := range deps {
		if err := bg.InjectDependency(target.Address, d); err != nil {
			return err
		}
	}
	return nil
}

// InjectDependency records that dependent depends on dependency. Both
// endpoints must already be injected; a self-edge is rejected; a duplicate
// edge is logged and skipped.
func (bg *BuildGraph) InjectDependency(dependent, dependency parallax.Address) error {
	if dependent == dependency {
		return fmt.Errorf("target %s cannot depend on itself", dependent)
	}
	if _, ok := bg.targetByAddress[dependent]; !ok {
		return fmt.Errorf("dependent %s is not in the graph", dependent)
	}
	if _, ok := bg.targetByAddress[dependency]; !ok {
		return fmt.Errorf("dependency %s is not in the graph", dependency)
	}
	if bg.depsOf[dependent][dependency] {
		bg.Log.Printf("skipping duplicate edge %s -> %s", dependent, dependency)
		return nil
	}
	bg.depsOf[dependent][dependency] = true
	bg.dependentsOf[dependency][dependent] = true
	bg.g.SetEdge(bg.g.NewEdge(bg.nodeFor(dependent), bg.nodeFor(dependency)))
	return nil
}

// ContainsAddress reports whether addr has been injected.
func (bg *BuildGraph) ContainsAddress(addr parallax.Address) bool {
	_, ok := bg.targetByAddress[addr]
	return ok
}

// GetTarget returns the Target injected at addr.
func (bg *BuildGraph) GetTarget(addr parallax.Address) (*Target, error) {
	t, ok := bg.targetByAddress[addr]
	if !ok {
		return nil, fmt.Errorf("unknown address %s", addr)
	}
	return t, nil
}

// DependenciesOf returns the addresses addr directly depends on.
func (bg *BuildGraph) DependenciesOf(addr parallax.Address) ([]parallax.Address, error) {
	deps, ok := bg.depsOf[addr]
	if !ok {
		return nil, fmt.Errorf("unknown address %s", addr)
	}
	return addrSet(deps), nil
}

// DependentsOf returns the addresses that directly depend on addr.
func (bg *BuildGraph) DependentsOf(addr parallax.Address) ([]parallax.Address, error) {
	deps, ok := bg.dependentsOf[addr]
	if !ok {
		return nil, fmt.Errorf("unknown address %s", addr)
	}
	return addrSet(deps), nil
}

// TransitiveDependenciesOf returns every address reachable from addr by
// following dependency edges, addr itself excluded.
func (bg *BuildGraph) TransitiveDependenciesOf(addr parallax.Address) ([]parallax.Address, error) {
	if !bg.ContainsAddress(addr) {
		return nil, fmt.Errorf("unknown address %s", addr)
	}
	seen := make(map[parallax.Address]bool)
	var walk func(a parallax.Address)
	walk = func(a parallax.Address) {
		for d := range bg.depsOf[a] {
			if seen[d] {
				continue
			}
			seen[d] = true
			walk(d)
		}
	}
	walk(addr)
	return addrSet(seen), nil
}

func addrSet(m map[parallax.Address]bool) []parallax.Address {
	out := make([]parallax.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	return out
}

// SortedTargets computes a topological order (most-dependent first, i.e.
// targets appear before the dependencies they need) using gonum's Kahn's
// algorithm implementation. If a dependency edge closes a cycle, it returns
// an *errs.Cycle carrying the full offending path.
func (bg *BuildGraph) SortedTargets() ([]*Target, error) {
	ordered, err := topo.Sort(bg.g)
	if err != nil {
		return nil, bg.cycleError(err)
	}
	// Our edges run dependent -> dependency, so gonum's Kahn's-algorithm
	// order (which places a node before everything it has an edge to)
	// already yields dependents before their dependencies: most-dependent
	// first.
	out := make([]*Target, 0, len(ordered))
	for _, n := range ordered {
		an := n.(*addrNode)
		out = append(out, bg.targetByAddress[an.addr])
	}
	return out, nil
}

// cycleError converts gonum's topo.Unorderable into an errs.Cycle carrying
// one concrete offending path, using Tarjan's algorithm to find the
// strongly connected component responsible.
func (bg *BuildGraph) cycleError(cause error) error {
	for _, scc := range topo.TarjanSCC(bg.g) {
		if len(scc) < 2 {
			continue
		}
		path := make([]string, 0, len(scc)+1)
		for _, n := range scc {
			path = append(path, n.(*addrNode).addr.String())
		}
		path = append(path, path[0])
		return &errs.Cycle{Path: path}
	}
	return fmt.Errorf("cycle detected but no SCC found: %w", cause)
}
