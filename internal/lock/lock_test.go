package lock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	l, err := Acquire(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestSecondAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	l1, err := Acquire(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	var waited bool
	go func() {
		l2, err := Acquire(path, func(holder string) { waited = true })
		if err != nil {
			t.Error(err)
			return
		}
		l2.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before the first Lock was released")
	case <-time.After(50 * time.Millisecond):
	}

	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never completed after release")
	}
	if !waited {
		t.Error("expected the wait-message callback to fire while blocked")
	}
}
