package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parallaxbuild/parallax/internal/workunit"
)

func TestSubmitWorkAndWaitReturnsInInputOrder(t *testing.T) {
	p := NewPool(2, nil)
	args := []int{5, 1, 3, 2, 4}
	results, err := SubmitWorkAndWait(context.Background(), p, nil, "", args,
		func(ctx context.Context, a int, wu *workunit.WorkUnit) (int, error) {
			time.Sleep(time.Duration(a) * time.Millisecond)
			return a * 10, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{50, 10, 30, 20, 40}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %d, want %d", i, results[i], want[i])
		}
	}
}

func TestSubmitWorkAndWaitZeroLengthShortCircuits(t *testing.T) {
	p := NewPool(2, nil)
	results, err := SubmitWorkAndWait(context.Background(), p, nil, "", []int{},
		func(ctx context.Context, a int, wu *workunit.WorkUnit) (int, error) {
			t.Fatal("f should never be called for zero-length args")
			return 0, nil
		})
	if err != nil || results != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", results, err)
	}
}

func TestSubmitWorkAndWaitPropagatesError(t *testing.T) {
	p := NewPool(2, nil)
	boom := errors.New("boom")
	_, err := SubmitWorkAndWait(context.Background(), p, nil, "", []int{1, 2, 3},
		func(ctx context.Context, a int, wu *workunit.WorkUnit) (int, error) {
			if a == 2 {
				return 0, boom
			}
			return a, nil
		})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestSubmitWorkAndWaitBoundsConcurrency(t *testing.T) {
	p := NewPool(2, nil)
	var current, max int32
	args := make([]int, 10)
	_, err := SubmitWorkAndWait(context.Background(), p, nil, "", args,
		func(ctx context.Context, a int, wu *workunit.WorkUnit) (int, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&max)
				if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return 0, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if max > 2 {
		t.Errorf("observed concurrency %d, want <= 2", max)
	}
}

func TestSubmitWorkAndWaitCreatesChildWorkUnits(t *testing.T) {
	p := NewPool(4, nil)
	parent := workunit.New(nil, "all")
	parent.Start()
	_, err := SubmitWorkAndWait(context.Background(), p, parent, "compile", []int{1, 2, 3},
		func(ctx context.Context, a int, wu *workunit.WorkUnit) (int, error) {
			if wu == nil {
				t.Error("expected a non-nil child work unit")
				return 0, nil
			}
			if wu.Name() != "compile" {
				t.Errorf("child work unit name = %q, want compile", wu.Name())
			}
			return a, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(parent.Children()) != 3 {
		t.Errorf("parent has %d children, want 3", len(parent.Children()))
	}
}

func TestSubmitAsyncWorkDeliversAllResults(t *testing.T) {
	p := NewPool(3, nil)
	var mu sync.Mutex
	seen := make(map[int]bool)
	wait := SubmitAsyncWork(context.Background(), p, nil, "", []int{1, 2, 3, 4, 5},
		func(ctx context.Context, a int, wu *workunit.WorkUnit) (int, error) {
			return a, nil
		},
		func(r int, err error) {
			mu.Lock()
			defer mu.Unlock()
			seen[r] = true
		})
	wait()
	if len(seen) != 5 {
		t.Errorf("callback saw %d distinct results, want 5", len(seen))
	}
}
