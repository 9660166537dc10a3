// Package oninterrupt dispatches cleanup callbacks when the process
// receives SIGINT or SIGTERM, e.g. to mark the currently running work unit
// ABORTED. It deliberately does not terminate the process itself: actual
// shutdown is driven by parallax.InterruptibleContext canceling the run's
// context, so that the caller's own deferred cleanup (closing the run
// tracker, flushing the report bus, draining the worker pool) still runs
// during the normal return path instead of being skipped by an os.Exit
// from a second, unrelated goroutine.
package oninterrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	onInterruptMu sync.Mutex
	onInterrupt   []func()
)

func init() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		onInterruptMu.Lock()
		defer onInterruptMu.Unlock()
		for _, f := range onInterrupt {
			f()
		}
	}()
}

// Register adds cb to the set of functions run on interrupt, e.g. aborting
// the active work unit or releasing the workspace lock.
func Register(cb func()) {
	onInterruptMu.Lock()
	defer onInterruptMu.Unlock()
	onInterrupt = append(onInterrupt, cb)
}
