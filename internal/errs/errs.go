// Package errs defines the error kinds raised across the build pipeline.
// Each kind wraps an underlying cause with golang.org/x/xerrors, mirroring
// how distri wraps subprocess and I/O failures (e.g.
// xerrors.Errorf("Join: %w", err)) instead of hand-rolling an errors
// package.
package errs

import "golang.org/x/xerrors"

// Manifest reports a parse or validation error in a manifest.
type Manifest struct {
	BuildFile string
	Cause     error
}

func (e *Manifest) Error() string {
	return xerrors.Errorf("manifest %s: %w", e.BuildFile, e.Cause).Error()
}

func (e *Manifest) Unwrap() error { return e.Cause }

// Cycle reports a dependency cycle found while sorting the build graph.
// Path holds the full offending chain of addresses, outermost first.
type Cycle struct {
	Path []string
}

func (e *Cycle) Error() string {
	return xerrors.Errorf("dependency cycle: %s", joinArrow(e.Path)).Error()
}

func joinArrow(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// ExclusivesConflict reports a target whose computed exclusives map holds
// more than one value for some key.
type ExclusivesConflict struct {
	Target string
	Key    string
	Values []string
}

func (e *ExclusivesConflict) Error() string {
	return xerrors.Errorf("target %s: exclusive key %q has conflicting values %v",
		e.Target, e.Key, e.Values).Error()
}

// CompileFailure reports a non-zero exit from the external incremental
// compiler for one partition.
type CompileFailure struct {
	Partition string
	Cause     error
}

func (e *CompileFailure) Error() string {
	return xerrors.Errorf("compile partition %s: %w", e.Partition, e.Cause).Error()
}

func (e *CompileFailure) Unwrap() error { return e.Cause }

// CacheIO reports a read/write failure against the artifact cache. This is
// always locally recoverable: callers log and continue as though the
// operation had missed (read) or not happened (write).
type CacheIO struct {
	Op    string
	Cause error
}

func (e *CacheIO) Error() string {
	return xerrors.Errorf("artifact cache %s: %w", e.Op, e.Cause).Error()
}

func (e *CacheIO) Unwrap() error { return e.Cause }

// Render reports a missing or broken reporting template. It never fails
// the build. No reporter switches to another reporter on such a failure:
// HTMLReporter drops the fragment that failed to render and carries on.
type Render struct {
	Template string
	Cause    error
}

func (e *Render) Error() string {
	return xerrors.Errorf("render %s: %w", e.Template, e.Cause).Error()
}

func (e *Render) Unwrap() error { return e.Cause }

// UserInterrupt reports a SIGINT/SIGTERM received during a run.
type UserInterrupt struct{}

func (e *UserInterrupt) Error() string { return "interrupted by user" }
