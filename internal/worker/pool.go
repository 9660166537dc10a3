// Package worker implements a bounded parallel execution pool: a fixed
// number of workers, each task attributed to a child work-unit of the
// submitter's current unit, built on golang.org/x/sync/errgroup +
// golang.org/x/sync/semaphore exactly the way distri's
// internal/batch.scheduler.run bounds its own build fan-out.
package worker

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/parallaxbuild/parallax/internal/workunit"
)

// Pool is a bounded pool of workers. The system is I/O-bound (compilation
// is subprocessed), so "worker" here is a goroutine bounded by a
// semaphore, not an OS thread pool.
type Pool struct {
	sem *semaphore.Weighted
	Log *log.Logger

	mu    sync.Mutex
	hooks []func()
}

// NewPool constructs a Pool that runs at most n tasks concurrently.
func NewPool(n int, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), Log: logger}
}

// RegisterShutdownHook adds fn to the list invoked by Shutdown, in
// registration order.
func (p *Pool) RegisterShutdownHook(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// Shutdown invokes every registered shutdown hook and does nothing else.
// Every SubmitWorkAndWait call has already blocked until its own batch
// completed; tasks dispatched by SubmitAsyncWork are not waited for here
// and may still be running when the hooks run (only the function
// SubmitAsyncWork returns waits for them).
func (p *Pool) Shutdown() {
	p.mu.Lock()
	hooks := append([]func(){}, p.hooks...)
	p.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// SubmitWorkAndWait dispatches f(ctx, args[i]) for every i to the pool,
// each running inside a new child work unit (under parent) named
// workUnitName if non-empty, and blocks until every task completes,
// returning results in input order. An error from any task cancels the
// remaining tasks' context and is returned; zero-length args
// short-circuits without touching the pool.
func SubmitWorkAndWait[A any, R any](ctx context.Context, p *Pool, parent *workunit.WorkUnit, workUnitName string, args []A, f func(ctx context.Context, arg A, wu *workunit.WorkUnit) (R, error)) ([]R, error) {
	if len(args) == 0 {
		return nil, nil
	}
	results := make([]R, len(args))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, a := range args {
		i, a := i, a
		if err := p.sem.Acquire(egCtx, 1); err != nil {
			return nil, err
		}
		eg.Go(func() error {
			defer p.sem.Release(1)
			var wu *workunit.WorkUnit
			if workUnitName != "" && parent != nil {
				wu = parent.Child(workUnitName)
				wu.Start()
			}
			r, err := f(egCtx, a, wu)
			if wu != nil {
				if err != nil {
					wu.SetOutcome(workunit.Failure)
				}
				wu.End()
			}
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Callback receives one task's result as it completes, in completion
// order (not necessarily input order) — the asynchronous counterpart to
// SubmitWorkAndWait's ordered, blocking return.
type Callback[R any] func(r R, err error)

// SubmitAsyncWork dispatches f(ctx, args[i]) for every i to the pool
// without blocking the caller; each result is delivered to callback as it
// completes. The returned function blocks until every dispatched task has
// been delivered to callback, for callers that eventually need to
// rendezvous (e.g. before process exit).
func SubmitAsyncWork[A any, R any](ctx context.Context, p *Pool, parent *workunit.WorkUnit, workUnitName string, args []A, f func(ctx context.Context, arg A, wu *workunit.WorkUnit) (R, error), callback Callback[R]) func() {
	if len(args) == 0 {
		return func() {}
	}
	var wg sync.WaitGroup
	wg.Add(len(args))
	for _, a := range args {
		a := a
		go func() {
			defer wg.Done()
			if err := p.sem.Acquire(ctx, 1); err != nil {
				callback(*new(R), err)
				return
			}
			defer p.sem.Release(1)
			var wu *workunit.WorkUnit
			if workUnitName != "" && parent != nil {
				wu = parent.Child(workUnitName)
				wu.Start()
			}
			r, err := f(ctx, a, wu)
			if wu != nil {
				if err != nil {
					wu.SetOutcome(workunit.Failure)
				}
				wu.End()
			}
			callback(r, err)
		}()
	}
	return wg.Wait
}
