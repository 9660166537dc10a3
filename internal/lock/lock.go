// Package lock implements the single global workspace lock file: the
// caller decides when to acquire it (cmd/parallax's build verb acquires it
// for every run; there is no per-phase policy), Acquire prints a wait
// message identifying the current holder, and the caller releases on scope
// exit. It uses golang.org/x/sys/unix.Flock directly on the lock file's
// descriptor, the same low-level-syscall idiom distri reaches for
// elsewhere (e.g. unix.IoctlGetTermios in cmd/distri/batch.go) rather than
// a third-party flock wrapper.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Lock is one held workspace lock. Release it on scope exit.
type Lock struct {
	f *os.File
}

// Acquire takes the workspace lock at path, blocking and printing a wait
// message identifying the current holder (pid + cmdline) until it
// succeeds.
func Acquire(path string, waitMessage func(holderInfo string)) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if waitMessage != nil {
			waitMessage(holderInfo(path))
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			f.Close()
			return nil, xerrors.Errorf("flock: %w", err)
		}
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, xerrors.Errorf("truncating lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d %s\n", os.Getpid(), strings.Join(os.Args, " "))), 0); err != nil {
		f.Close()
		return nil, xerrors.Errorf("writing pid to lock file: %w", err)
	}
	return &Lock{f: f}, nil
}

// holderInfo reads the pid and command line recorded by the current lock holder, for
// display in the wait message. Best-effort: any read failure yields a
// generic message rather than an error, since this only feeds a log line.
func holderInfo(path string) string {
	b, err := os.ReadFile(path)
	if err != nil || len(b) == 0 {
		return "unknown holder"
	}
	return fmt.Sprintf("held by pid %s", string(b))
}

// Release unlocks and closes the underlying file descriptor.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return xerrors.Errorf("unlocking: %w", err)
	}
	return l.f.Close()
}
