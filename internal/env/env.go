// Package env captures details about the parallax environment. Inspect the
// environment using `parallax env`.
package env

import (
	"os"
	"path/filepath"
)

// WorkspaceRoot is the root directory of the monorepo workspace being built.
var WorkspaceRoot = findWorkspaceRoot()

// InfoDir holds one directory per run.
var InfoDir = findInfoDir()

// CacheRoot is the default local artifact cache directory.
var CacheRoot = findCacheRoot()

func findWorkspaceRoot() string {
	if v := os.Getenv("PARALLAX_ROOT"); v != "" {
		return v
	}
	// TODO: find the dominating workspace directory (the one holding the
	// outermost manifest), if any.
	return os.ExpandEnv("$HOME/.parallax/workspace") // default
}

func findInfoDir() string {
	if v := os.Getenv("PARALLAX_INFO_DIR"); v != "" {
		return v
	}
	return filepath.Join(WorkspaceRoot, ".parallax", "runs")
}

func findCacheRoot() string {
	if v := os.Getenv("PARALLAX_CACHE_DIR"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.cache/parallax")
}
