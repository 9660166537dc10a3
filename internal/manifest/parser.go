package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/protocolbuffers/txtpbfmt/ast"
	"github.com/protocolbuffers/txtpbfmt/parser"
)

// Parser reads one BUILD manifest file into a ProxySet. It has no
// cross-manifest state; recursive loading of transitively referenced
// manifests is Loader's job (loader.go).
type Parser struct {
	Aliases map[string]TargetAlias
}

// NewParser constructs a Parser with the default target alias registry.
func NewParser() *Parser {
	return &Parser{Aliases: DefaultAliases()}
}

// Parse reads dir's manifest file (dir/BUILD) and returns the ordered set
// of TargetProxy values it declares.
func (p *Parser) Parse(dir string) (*ProxySet, error) {
	buildFile := filepath.Join(dir, "BUILD")
	src, err := os.ReadFile(buildFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", buildFile, err)
	}
	nodes, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", buildFile, err)
	}
	set := newProxySet()
	for _, n := range nodes {
		if n.Name != "target" {
			// Top-level fields other than "target" blocks are reserved for
			// future manifest-wide directives (e.g. defaults); ignore for
			// now rather than fail, the way distri's textproto parser
			// tolerates unknown top-level messages.
			continue
		}
		proxy, err := p.parseTargetNode(dir, n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", buildFile, err)
		}
		if err := set.add(proxy); err != nil {
			return nil, fmt.Errorf("%s: %w", buildFile, err)
		}
	}
	return set, nil
}

// repeatedFields are manifest fields that accumulate into a []string even
// though each occurrence is a single scalar child node (e.g. multiple
// "dependencies: ..." lines within one target block).
var repeatedFields = map[string]bool{
	"dependencies":   true,
	"sources":        true,
	"provides":       true,
	"excludes":       true,
	"configurations": true,
	"jars":           true,
	"overrides":      true,
	"labels":         true,
}

func (p *Parser) parseTargetNode(dir string, n *ast.Node) (*TargetProxy, error) {
	kwargs := make(map[string]interface{})
	var targetType string
	for _, child := range n.Children {
		val := scalarValue(child)
		switch {
		case child.Name == "type":
			targetType = val
		case repeatedFields[child.Name]:
			existing, _ := kwargs[child.Name].([]string)
			kwargs[child.Name] = append(existing, val)
		default:
			kwargs[child.Name] = val
		}
	}
	if targetType == "" {
		return nil, fmt.Errorf("target block is missing required field %q", "type")
	}
	alias, ok := p.Aliases[targetType]
	if !ok {
		return nil, fmt.Errorf("unknown target type %q", targetType)
	}
	return newTargetProxy(alias, targetType, dir, kwargs)
}

// scalarValue extracts a single string value from a leaf node. txtpbfmt's
// AST keeps scalar values quoted exactly as written; we only ever emit
// quoted string literals from our manifest grammar, so the first value (if
// any) is unquoted and returned.
func scalarValue(n *ast.Node) string {
	if len(n.Values) == 0 {
		return ""
	}
	return unquote(n.Values[0].Value)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
