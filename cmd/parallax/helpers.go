package main

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/parallaxbuild/parallax/internal/env"
)

// fingerprintStorePath is where the cache-key fingerprint store persists
// across runs.
func fingerprintStorePath() string {
	return filepath.Join(env.WorkspaceRoot, ".parallax", "fingerprints.json")
}

// workScratchDir is the per-run scratch directory the compile orchestrator
// stages merged classes/analysis trees under.
func workScratchDir(runID string) string {
	return filepath.Join(env.WorkspaceRoot, ".parallax", "work", runID)
}

// workspaceLockPath is the single global lock file a build run holds for
// its duration, serializing concurrent builds against the same workspace.
func workspaceLockPath() string {
	return filepath.Join(env.WorkspaceRoot, ".parallax", "workspace.lock")
}

// httpListenAndServe runs handler on addr until ctx is canceled.
func httpListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
