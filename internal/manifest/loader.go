package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parallaxbuild/parallax"
)

// Loader recursively parses manifests reachable from a set of starting
// directories, maintaining three registries: proxy_by_address,
// proxies_by_build_file, and addresses_by_build_file. Parsing is
// idempotent — a directory already in the parsed set is never re-parsed.
type Loader struct {
	parser *Parser

	parsed               map[string]bool
	proxyByAddress       map[parallax.Address]*TargetProxy
	proxiesByBuildFile   map[string][]*TargetProxy
	addressesByBuildFile map[string][]parallax.Address
}

// NewLoader constructs an empty Loader.
func NewLoader(p *Parser) *Loader {
	return &Loader{
		parser:               p,
		parsed:               make(map[string]bool),
		proxyByAddress:       make(map[parallax.Address]*TargetProxy),
		proxiesByBuildFile:   make(map[string][]*TargetProxy),
		addressesByBuildFile: make(map[string][]parallax.Address),
	}
}

// AddBuildFileSpec resolves spec to a manifest directory, parses it (unless
// already parsed), registers its proxies, then recursively enqueues every
// unparsed manifest directory reachable from their dependency specs.
// Specs of the form ":sibling" are skipped since they resolve within a
// manifest already being parsed.
func (l *Loader) AddBuildFileSpec(spec string) error {
	addr, err := parallax.ParseSpec(spec, "")
	if err != nil {
		return err
	}
	return l.addDir(addr.Dir)
}

func (l *Loader) addDir(dir string) error {
	if l.parsed[dir] {
		return nil
	}
	l.parsed[dir] = true

	set, err := l.parser.Parse(dir)
	if err != nil {
		return err
	}

	buildFile := parallax.NewAddress(dir, "").BuildFile()
	for _, proxy := range set.Proxies() {
		if existing, ok := l.proxyByAddress[proxy.Address]; ok {
			return fmt.Errorf("address %s already registered (from %s)", proxy.Address, existing.Dir)
		}
		l.proxyByAddress[proxy.Address] = proxy
		l.proxiesByBuildFile[buildFile] = append(l.proxiesByBuildFile[buildFile], proxy)
		l.addressesByBuildFile[buildFile] = append(l.addressesByBuildFile[buildFile], proxy.Address)
	}

	var nextDirs []string
	for _, proxy := range set.Proxies() {
		for _, rawDep := range proxy.Dependencies {
			if strings.HasPrefix(rawDep, ":") {
				continue // sibling within this same manifest, nothing to enqueue
			}
			depAddr, err := parallax.ParseSpec(rawDep, dir)
			if err != nil {
				return fmt.Errorf("%s: invalid dependency %q: %w", proxy.Address, rawDep, err)
			}
			nextDirs = append(nextDirs, depAddr.Dir)
		}
	}
	for _, d := range nextDirs {
		if err := l.addDir(d); err != nil {
			return err
		}
	}
	return nil
}

// Proxies returns every TargetProxy loaded so far, across all manifests.
func (l *Loader) Proxies() []*TargetProxy {
	out := make([]*TargetProxy, 0, len(l.proxyByAddress))
	for _, bf := range sortedKeys(l.proxiesByBuildFile) {
		out = append(out, l.proxiesByBuildFile[bf]...)
	}
	return out
}

// ProxyByAddress looks up a single loaded proxy.
func (l *Loader) ProxyByAddress(addr parallax.Address) (*TargetProxy, bool) {
	p, ok := l.proxyByAddress[addr]
	return p, ok
}

func sortedKeys(m map[string][]*TargetProxy) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic iteration for callers that need reproducible output
	// (e.g. golden-output tests); manifest discovery order is otherwise
	// directory-walk dependent.
	sort.Strings(keys)
	return keys
}
