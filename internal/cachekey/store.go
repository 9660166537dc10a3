package cachekey

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/xerrors"

	"github.com/parallaxbuild/parallax"
)

// Store persists the last-known-good fingerprint of each target between
// runs; a target is invalid whenever its freshly computed fingerprint
// differs from (or is absent from) the store.
type Store interface {
	Get(addr parallax.Address) (fingerprint string, ok bool)
	Set(addr parallax.Address, fingerprint string) error
	Delete(addr parallax.Address) error
}

// FileStore is a Store backed by a single JSON file, written with
// write-temp + atomic-rename so a crash mid-write can never corrupt
// previously-committed fingerprints — the same protocol the artifact
// cache uses, mirrored here for the fingerprint ledger.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]string // addr.String() -> fingerprint
}

// NewFileStore loads path if it exists, or starts empty.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: make(map[string]string)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, xerrors.Errorf("reading fingerprint store: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.entries); err != nil {
		return nil, xerrors.Errorf("parsing fingerprint store: %w", err)
	}
	return s, nil
}

func (s *FileStore) Get(addr parallax.Address) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.entries[addr.String()]
	return fp, ok
}

func (s *FileStore) Set(addr parallax.Address, fingerprint string) error {
	s.mu.Lock()
	s.entries[addr.String()] = fingerprint
	s.mu.Unlock()
	return s.flush()
}

func (s *FileStore) Delete(addr parallax.Address) error {
	s.mu.Lock()
	delete(s.entries, addr.String())
	s.mu.Unlock()
	return s.flush()
}

func (s *FileStore) flush() error {
	s.mu.Lock()
	b, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return xerrors.Errorf("marshaling fingerprint store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return xerrors.Errorf("creating fingerprint store directory: %w", err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return xerrors.Errorf("writing fingerprint store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return xerrors.Errorf("renaming fingerprint store into place: %w", err)
	}
	return nil
}
