package report

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/parallaxbuild/parallax/internal/workunit"
)

// ConsoleReporter writes work-unit lifecycle events and output to a
// terminal-like stream. It only emits ANSI color codes when the underlying
// stream is a real TTY (detected via isatty.IsTerminal, mirroring how
// distri's own CLI tools probe os.Stdout before deciding whether to draw a
// progress indicator).
type ConsoleReporter struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// NewConsoleReporter wraps w. If w is *os.File and refers to a terminal,
// color output is enabled.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ConsoleReporter{out: w, color: color}
}

func (c *ConsoleReporter) Open()  {}
func (c *ConsoleReporter) Close() {}

func (c *ConsoleReporter) StartWorkUnit(w *workunit.WorkUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLine(w, fmt.Sprintf("%s %s", w.Path(), colorize(c.color, "36", "[start]")))
}

func (c *ConsoleReporter) EndWorkUnit(w *workunit.WorkUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag := outcomeTag(c.color, w.Outcome().String())
	c.writeLine(w, fmt.Sprintf("%s %s", w.Path(), tag))
}

func (c *ConsoleReporter) HandleOutput(w *workunit.WorkUnit, label string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s> %s", w.Path(), data)
}

func (c *ConsoleReporter) HandleMessage(w *workunit.WorkUnit, elements ...MessageElement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range elements {
		c.writeLine(w, e.Text)
	}
}

func (c *ConsoleReporter) HandleLog(w *workunit.WorkUnit, level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLine(w, fmt.Sprintf("[%s] %s", level, msg))
}

func (c *ConsoleReporter) writeLine(w *workunit.WorkUnit, line string) {
	fmt.Fprintf(c.out, "%s: %s\n", w.Path(), line)
}

func colorize(enabled bool, code, text string) string {
	if !enabled {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func outcomeTag(color bool, outcome string) string {
	code := "32"
	switch outcome {
	case "FAILURE", "ABORTED":
		code = "31"
	case "WARNING":
		code = "33"
	}
	return colorize(color, code, "["+outcome+"]")
}
