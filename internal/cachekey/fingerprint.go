// Package cachekey implements fingerprinting and valid/invalid
// partitioning of targets. A target's fingerprint absorbs its own sources
// and payload fields, folded together with every dependency's fingerprint
// in address order, so that any upstream change invalidates
// everything downstream of it.
package cachekey

import (
	"encoding/hex"
	"sort"

	"github.com/parallaxbuild/parallax"
	"github.com/parallaxbuild/parallax/internal/graph"
)

// Fingerprint computes the streaming-hash digest of a single target,
// folding in the already-computed fingerprints of its direct dependencies
// sorted by address string.
func Fingerprint(bg *graph.BuildGraph, addr parallax.Address, depFingerprints map[parallax.Address]string) (string, error) {
	t, err := bg.GetTarget(addr)
	if err != nil {
		return "", err
	}
	h := graph.NewHasher()
	if err := t.Payload.InvalidationHash(h); err != nil {
		return "", err
	}

	deps, err := bg.DependenciesOf(addr)
	if err != nil {
		return "", err
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })
	for _, d := range deps {
		h.Write([]byte(depFingerprints[d]))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintAll computes the fingerprint of every target reachable from
// roots (or, if roots is empty, every target in bg), walking dependencies
// first so each fingerprint can fold in its already-computed deps.
func FingerprintAll(bg *graph.BuildGraph, roots []parallax.Address) (map[parallax.Address]string, error) {
	out := make(map[parallax.Address]string)
	var walk func(addr parallax.Address) error
	walk = func(addr parallax.Address) error {
		if _, ok := out[addr]; ok {
			return nil
		}
		deps, err := bg.DependenciesOf(addr)
		if err != nil {
			return err
		}
		for _, d := range deps {
			if err := walk(d); err != nil {
				return err
			}
		}
		fp, err := Fingerprint(bg, addr, out)
		if err != nil {
			return err
		}
		out[addr] = fp
		return nil
	}

	targets := roots
	if len(targets) == 0 {
		sorted, err := bg.SortedTargets()
		if err != nil {
			return nil, err
		}
		for _, t := range sorted {
			targets = append(targets, t.Address)
		}
	}
	for _, addr := range targets {
		if err := walk(addr); err != nil {
			return nil, err
		}
	}
	return out, nil
}
