// Package report implements the Report Bus: one per run, it drives zero or
// more Reporter subscribers by polling every open work unit's output
// buffers on a fixed tick and fanning out newly-appended bytes, messages,
// and log lines.
package report

import (
	"sync"
	"time"

	"github.com/parallaxbuild/parallax/internal/workunit"
)

// MessageElement is either a bare string or a (text, detail) pair. Rich
// reporters may expand Detail interactively; plain reporters must emit at
// least Text.
type MessageElement struct {
	Text   string
	Detail string
}

// Reporter receives work-unit lifecycle and output events from the Bus.
type Reporter interface {
	Open()
	Close()
	StartWorkUnit(w *workunit.WorkUnit)
	EndWorkUnit(w *workunit.WorkUnit)
	HandleOutput(w *workunit.WorkUnit, label string, data []byte)
	HandleMessage(w *workunit.WorkUnit, elements ...MessageElement)
	HandleLog(w *workunit.WorkUnit, level string, msg string)
}

// tick is the emitter's polling interval: it wakes roughly every 100ms.
const tick = 100 * time.Millisecond

type openUnit struct {
	w       *workunit.WorkUnit
	offsets map[string]int // per-label read offset, see emitOnce
}

// Bus is the Report Bus: it owns a background emitter goroutine that wakes
// every tick, acquires mu, and for each currently-open work unit reads any
// newly-appended bytes from each named output buffer before dispatching
// HandleOutput to every subscribed Reporter.
type Bus struct {
	mu        sync.Mutex
	reporters []Reporter
	open      map[string]*openUnit // keyed by workunit.ID()

	stop chan struct{}
	done chan struct{}
}

// NewBus constructs a Bus with the given reporters and opens each of them.
func NewBus(reporters ...Reporter) *Bus {
	b := &Bus{
		reporters: reporters,
		open:      make(map[string]*openUnit),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, r := range b.reporters {
		r.Open()
	}
	go b.emitLoop()
	return b
}

// StartWorkUnit registers w as open and notifies every reporter.
func (b *Bus) StartWorkUnit(w *workunit.WorkUnit) {
	b.mu.Lock()
	b.open[w.ID()] = &openUnit{w: w, offsets: make(map[string]int)}
	b.mu.Unlock()
	for _, r := range b.reporters {
		r.StartWorkUnit(w)
	}
}

// EndWorkUnit flushes any remaining output for w, unregisters it, and
// notifies every reporter.
func (b *Bus) EndWorkUnit(w *workunit.WorkUnit) {
	b.mu.Lock()
	u, ok := b.open[w.ID()]
	if ok {
		b.flushUnit(u)
		delete(b.open, w.ID())
	}
	b.mu.Unlock()
	for _, r := range b.reporters {
		r.EndWorkUnit(w)
	}
}

// HandleMessage fans a message out to every reporter, without waiting for
// the next emitter tick (messages, unlike raw output bytes, are not
// buffered in an OutputBuffer).
func (b *Bus) HandleMessage(w *workunit.WorkUnit, elements ...MessageElement) {
	for _, r := range b.reporters {
		r.HandleMessage(w, elements...)
	}
}

// HandleLog fans a log line out to every reporter.
func (b *Bus) HandleLog(w *workunit.WorkUnit, level, msg string) {
	for _, r := range b.reporters {
		r.HandleLog(w, level, msg)
	}
}

// emitLoop is the background emitter: it wakes every tick and flushes every
// open unit's buffers under mu.
func (b *Bus) emitLoop() {
	defer close(b.done)
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.mu.Lock()
			for _, u := range b.open {
				b.flushUnit(u)
			}
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}

// flushUnit reads every newly-appended byte from each of u.w's output
// buffers and dispatches HandleOutput, preserving per-buffer FIFO order.
// Caller must hold b.mu.
func (b *Bus) flushUnit(u *openUnit) {
	for label, buf := range u.w.Outputs() {
		offset := u.offsets[label]
		data, newOffset := buf.ReadFrom(offset)
		if len(data) == 0 {
			continue
		}
		u.offsets[label] = newOffset
		for _, r := range b.reporters {
			r.HandleOutput(u.w, label, data)
		}
	}
}

// Close stops the emitter, flushes every still-open unit once more under
// the lock, then closes every reporter.
func (b *Bus) Close() {
	close(b.stop)
	<-b.done

	b.mu.Lock()
	for _, u := range b.open {
		b.flushUnit(u)
	}
	b.mu.Unlock()

	for _, r := range b.reporters {
		r.Close()
	}
}
