// Package manifest turns BUILD manifest files into ordered sets of
// TargetProxy values, and recursively loads the manifests transitively
// referenced by their dependency specs.
//
// The manifest grammar is a schema-less textproto-like format, parsed with
// github.com/protocolbuffers/txtpbfmt's ast/parser packages — the same
// library distri depends on to canonicalize its own build.textproto and
// meta.textproto files. Using its parser half to *read* structured data
// without a compiled .proto schema is exactly the trick txtpbfmt is built
// for, and it keeps the manifest grammar declarative rather than requiring
// an embedded scripting language.
package manifest

import (
	"fmt"
	"sort"

	"github.com/parallaxbuild/parallax"
)

// TargetProxy is an eagerly-validated record produced by the parser for one
// target block in a manifest.
type TargetProxy struct {
	TargetType string
	Dir        string // manifest directory; BuildFile never appears in Kwargs
	Name       string
	Address    parallax.Address

	// Kwargs holds every declared field, deep-copied at construction time so
	// later mutation of the parsed AST (or a caller's map) cannot alias it.
	// Values are either string or []string.
	Kwargs map[string]interface{}

	// Dependencies is the ordered, unresolved list of dependency reference
	// strings as written in the manifest (e.g. ":sibling", "a/b:c").
	Dependencies []string
}

// deepCopyKwargs clones a kwargs map so the proxy never aliases the caller's
// (or the AST's) backing storage.
func deepCopyKwargs(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case []string:
			cp := make([]string, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// StringKwarg returns kwargs[key] as a string, or "" if absent or not a
// string.
func (p *TargetProxy) StringKwarg(key string) string {
	v, _ := p.Kwargs[key].(string)
	return v
}

// ListKwarg returns kwargs[key] as a []string, or nil if absent.
func (p *TargetProxy) ListKwarg(key string) []string {
	v, _ := p.Kwargs[key].([]string)
	return v
}

// TargetAlias describes one registered target type: the keyword-only
// fields it is willing to accept and which of those are mandatory. This is
// the declarative analogue of the original system's TargetCallProxy — a
// callable bound to a target alias, validating arguments before
// constructing a TargetProxy.
type TargetAlias struct {
	// Required lists field names that must be present (beyond "name",
	// which is always required).
	Required []string
}

// DefaultAliases is the alias registry for the two payload kinds this
// build supports: JvmSources and JarLibrary targets.
func DefaultAliases() map[string]TargetAlias {
	return map[string]TargetAlias{
		"jvm_library": {Required: nil}, // sources/provides/excludes/configurations all optional
		"jar_library": {Required: []string{"jars"}},
	}
}

// reservedKwargs are never legal as manifest fields because they are
// supplied positionally by the parser itself.
var reservedKwargs = map[string]bool{
	"build_file": true,
}

func validateProxy(alias TargetAlias, targetType, name string, kwargs map[string]interface{}) error {
	if name == "" {
		return fmt.Errorf("%s: target is missing required field %q", targetType, "name")
	}
	for k := range kwargs {
		if reservedKwargs[k] {
			return fmt.Errorf("%s %q: %q must not be set explicitly; it is derived from the manifest path", targetType, name, k)
		}
	}
	for _, req := range alias.Required {
		if _, ok := kwargs[req]; !ok {
			return fmt.Errorf("%s %q: missing required field %q", targetType, name, req)
		}
	}
	return nil
}

// newTargetProxy validates and constructs a TargetProxy the way a
// TargetCallProxy invocation would: name must be present, build_file must
// not be passed as a keyword, and kwargs is deep-copied so later mutation
// of the caller's map cannot alias the proxy.
func newTargetProxy(alias TargetAlias, targetType, dir string, kwargs map[string]interface{}) (*TargetProxy, error) {
	name, _ := kwargs["name"].(string)
	if err := validateProxy(alias, targetType, name, kwargs); err != nil {
		return nil, err
	}
	cp := deepCopyKwargs(kwargs)
	delete(cp, "name")
	deps, _ := cp["dependencies"].([]string)
	delete(cp, "dependencies")
	return &TargetProxy{
		TargetType:   targetType,
		Dir:          dir,
		Name:         name,
		Address:      parallax.NewAddress(dir, name),
		Kwargs:       cp,
		Dependencies: append([]string(nil), deps...),
	}, nil
}

// ProxySet is an insertion-ordered collection of TargetProxy values
// produced by parsing a single manifest file.
type ProxySet struct {
	order  []*TargetProxy
	byName map[string]*TargetProxy
}

func newProxySet() *ProxySet {
	return &ProxySet{byName: make(map[string]*TargetProxy)}
}

func (s *ProxySet) add(p *TargetProxy) error {
	if _, ok := s.byName[p.Name]; ok {
		return fmt.Errorf("duplicate target name %q in %s", p.Name, p.Dir)
	}
	s.byName[p.Name] = p
	s.order = append(s.order, p)
	return nil
}

// Proxies returns the proxies in declaration order.
func (s *ProxySet) Proxies() []*TargetProxy {
	out := make([]*TargetProxy, len(s.order))
	copy(out, s.order)
	return out
}

// Len reports how many proxies were parsed from the manifest.
func (s *ProxySet) Len() int { return len(s.order) }

// sortedNames is used only by tests for deterministic assertions.
func (s *ProxySet) sortedNames() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
