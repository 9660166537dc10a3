// Package workunit implements the tree of timed, labeled scopes that
// drives reporting, captures per-scope output, and aggregates
// cumulative/self timings.
//
// Each WorkUnit also opens a golang.org/x/net/trace.Trace for the duration
// of its lifetime. x/net/trace is the standard Go-ecosystem mechanism for
// "a nested, named, timed scope with an attached event log" (it backs the
// /debug/requests page every grpc-go server exposes) and is a natural fit
// here, even though distri itself reaches for the sibling
// golang.org/x/net/html package rather than trace.
package workunit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/net/trace"
)

// Label classifies a WorkUnit by the kind of work it represents.
type Label string

const (
	Setup     Label = "SETUP"
	Phase     Label = "PHASE"
	Goal      Label = "GOAL"
	Group     Label = "GROUP"
	Tool      Label = "TOOL"
	Multitool Label = "MULTITOOL"
	Compiler  Label = "COMPILER"
	Test      Label = "TEST"
	JVM       Label = "JVM"
	Nailgun   Label = "NAILGUN"
	Run       Label = "RUN"
	Repl      Label = "REPL"
)

// Outcome is monotonically non-increasing once set on a node; setting an
// outcome propagates to the parent by taking the minimum (ABORTED beats
// FAILURE beats WARNING beats SUCCESS, so one aborted child drags its
// whole ancestor chain down with it).
type Outcome int

const (
	Aborted Outcome = iota
	Failure
	Warning
	Success
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Aborted:
		return "ABORTED"
	case Failure:
		return "FAILURE"
	case Warning:
		return "WARNING"
	case Success:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}

// Recorder receives the two timings end() produces: cumulative (total
// duration) and self (duration minus the sum of child durations), both
// under the unit's path. runtracker.Run implements this.
type Recorder interface {
	RecordCumulativeTiming(path string, d time.Duration, tool bool)
	RecordSelfTiming(path string, d time.Duration, tool bool)
}

var outputNamePattern = regexp.MustCompile(`^\w+$`)

// WorkUnit is one node of the run's tree of timed, labeled scopes.
type WorkUnit struct {
	mu sync.Mutex

	parent   *WorkUnit
	children []*WorkUnit

	name   string
	labels map[Label]bool
	cmd    string
	id     string

	startTime  time.Time
	endTime    time.Time
	outcome    Outcome
	outcomeSet bool

	outputs map[string]*OutputBuffer

	recorder Recorder
	trace    trace.Trace
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// New constructs a root WorkUnit with no parent. Use Child to nest further
// scopes beneath it.
func New(recorder Recorder, name string, labels ...Label) *WorkUnit {
	return newWorkUnit(nil, recorder, name, labels)
}

func newWorkUnit(parent *WorkUnit, recorder Recorder, name string, labels []Label) *WorkUnit {
	labelSet := make(map[Label]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}
	return &WorkUnit{
		parent:   parent,
		name:     name,
		labels:   labelSet,
		id:       newID(),
		outcome:  Unknown,
		outputs:  make(map[string]*OutputBuffer),
		recorder: recorder,
	}
}

// Child creates and links a new child WorkUnit beneath w, inheriting w's
// recorder.
func (w *WorkUnit) Child(name string, labels ...Label) *WorkUnit {
	w.mu.Lock()
	defer w.mu.Unlock()
	child := newWorkUnit(w, w.recorder, name, labels)
	w.children = append(w.children, child)
	return child
}

// Path returns the ":"-joined names from the root to this unit.
func (w *WorkUnit) Path() string {
	var names []string
	for u := w; u != nil; u = u.parent {
		names = append([]string{u.name}, names...)
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ":"
		}
		out += n
	}
	return out
}

// HasLabel reports whether l was attached to this unit.
func (w *WorkUnit) HasLabel(l Label) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.labels[l]
}

// SetCmd records the external command this unit wraps, for reporter
// display.
func (w *WorkUnit) SetCmd(cmd string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cmd = cmd
}

// Start records start_time = now and opens the unit's trace.Trace.
func (w *WorkUnit) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startTime = time.Now()
	w.trace = trace.New("workunit", w.Path())
	w.trace.LazyPrintf("start")
}

// End records end_time = now, closes every output buffer, defaults the
// outcome to Success if nothing set one explicitly, then records
// cumulative and self timings with the recorder.
func (w *WorkUnit) End() {
	w.mu.Lock()
	if w.endTime.IsZero() {
		w.endTime = time.Now()
	}
	if !w.outcomeSet {
		w.outcome = Success
		w.outcomeSet = true
	}
	for _, b := range w.outputs {
		b.close()
	}
	tool := w.labels[Tool]
	path := w.Path()
	cumulative := w.endTime.Sub(w.startTime)
	var childTotal time.Duration
	for _, c := range w.children {
		c.mu.Lock()
		childTotal += c.endTime.Sub(c.startTime)
		c.mu.Unlock()
	}
	selfDuration := cumulative - childTotal
	recorder := w.recorder
	tr := w.trace
	w.mu.Unlock()

	if tr != nil {
		tr.LazyPrintf("end outcome=%s", w.Outcome())
		tr.Finish()
	}
	if recorder != nil {
		recorder.RecordCumulativeTiming(path, cumulative, tool)
		recorder.RecordSelfTiming(path, selfDuration, tool)
	}
}

// SetOutcome overwrites the outcome if o is worse (lower) than the current
// value, then propagates the same rule to the parent.
func (w *WorkUnit) SetOutcome(o Outcome) {
	w.mu.Lock()
	changed := !w.outcomeSet || o < w.outcome
	if changed {
		w.outcome = o
		w.outcomeSet = true
	}
	parent := w.parent
	tr := w.trace
	w.mu.Unlock()
	if changed {
		if tr != nil {
			tr.LazyPrintf("outcome -> %s", o)
			if o <= Failure {
				tr.SetError()
			}
		}
		if parent != nil {
			parent.SetOutcome(o)
		}
	}
}

// Outcome returns the current outcome.
func (w *WorkUnit) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Output returns (creating lazily on first call) the named output buffer.
// name must match \w+; any other identifier is rejected.
func (w *WorkUnit) Output(name string) (*OutputBuffer, error) {
	if !outputNamePattern.MatchString(name) {
		return nil, fmt.Errorf("output label %q does not match \\w+", name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.outputs[name]
	if !ok {
		b = newOutputBuffer()
		w.outputs[name] = b
	}
	return b, nil
}

// Outputs returns every output buffer name currently registered on w.
func (w *WorkUnit) Outputs() map[string]*OutputBuffer {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*OutputBuffer, len(w.outputs))
	for k, v := range w.outputs {
		out[k] = v
	}
	return out
}

// Children returns the currently linked children, in creation order.
func (w *WorkUnit) Children() []*WorkUnit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*WorkUnit(nil), w.children...)
}

// Name, ID, Cmd are simple read accessors used by reporters.
func (w *WorkUnit) Name() string { return w.name }
func (w *WorkUnit) ID() string   { return w.id }
func (w *WorkUnit) Cmd() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cmd
}
