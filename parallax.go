// Package parallax implements the core of a polyglot, incremental build
// orchestrator for large monorepos: it turns declarative build manifests
// into a target graph, partitions that graph under exclusivity
// constraints, drives an external incremental compiler, and caches the
// resulting artifacts by content hash.
package parallax

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ManifestFilename is the conventional basename every manifest file must
// carry. A directory "services/auth" is expected to hold
// "services/auth/BUILD".
const ManifestFilename = "BUILD"

// Address identifies a target: the directory of the manifest that declares
// it plus its name within that manifest. Dir is the manifest's directory,
// not the manifest file path itself — the canonical string form omits the
// manifest filename ("a/BUILD" containing fake(name='foozle') renders as
// "a:foozle").
type Address struct {
	Dir  string
	Name string
}

// NewAddress builds an Address for name declared under dir.
func NewAddress(dir, name string) Address {
	return Address{Dir: dir, Name: name}
}

// BuildFile returns the manifest file path this address is declared in.
func (a Address) BuildFile() string {
	return filepath.Join(a.Dir, ManifestFilename)
}

// String renders the canonical "relpath:name" form, omitting ":name" when
// name equals the manifest directory's basename.
func (a Address) String() string {
	if a.Name == filepath.Base(a.Dir) {
		return a.Dir
	}
	return fmt.Sprintf("%s:%s", a.Dir, a.Name)
}

// ID returns a filesystem-safe identifier derived from the address, suitable
// for use as a cache directory component or a per-target scratch directory
// name.
func (a Address) ID() string {
	s := a.Dir + "_" + a.Name
	replacer := strings.NewReplacer("/", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}

// ParseSpec parses a dependency reference string as it appears in a
// manifest's `dependencies` list:
//
//	"path/to/dir:name"  -> file-bound address
//	"path/to/dir"       -> equivalent to "path/to/dir:<basename>"
//	":name"             -> sibling within fromDir
//
// ParseSpec never touches the filesystem: it is a textual parse only.
func ParseSpec(spec, fromDir string) (Address, error) {
	if spec == "" {
		return Address{}, fmt.Errorf("empty dependency spec")
	}
	if strings.HasPrefix(spec, ":") {
		return Address{Dir: fromDir, Name: spec[1:]}, nil
	}
	if idx := strings.IndexByte(spec, ':'); idx >= 0 {
		dir, name := spec[:idx], spec[idx+1:]
		if name == "" {
			return Address{}, fmt.Errorf("dependency spec %q: empty name after ':'", spec)
		}
		return Address{Dir: dir, Name: name}, nil
	}
	return Address{Dir: spec, Name: filepath.Base(spec)}, nil
}
