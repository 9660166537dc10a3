package report

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"text/template"

	"github.com/parallaxbuild/parallax/internal/workunit"
)

// TemplateRenderer is the narrow interface HTMLReporter renders through,
// keeping the actual mustache/HTML rendering engine as an out-of-scope
// external collaborator invoked through exactly this shape.
type TemplateRenderer interface {
	// Render fills the named template with data and returns the result.
	Render(name string, data interface{}) (string, error)
}

// textTemplateRenderer is the trivial default TemplateRenderer, built on
// stdlib text/template. It is not meant to reproduce a full mustache-based
// file-tree report; it exists so HTMLReporter has a working default
// collaborator without pulling in a real HTML templating engine.
type textTemplateRenderer struct {
	mu        sync.Mutex
	templates map[string]*template.Template
}

// NewTextTemplateRenderer constructs a TemplateRenderer backed by the given
// named text/template sources.
func NewTextTemplateRenderer(sources map[string]string) (TemplateRenderer, error) {
	r := &textTemplateRenderer{templates: make(map[string]*template.Template, len(sources))}
	for name, src := range sources {
		t, err := template.New(name).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parsing template %q: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

func (r *textTemplateRenderer) Render(name string, data interface{}) (string, error) {
	r.mu.Lock()
	t, ok := r.templates[name]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no template registered under name %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// workUnitView is the data textTemplateRenderer templates see for a single
// work unit event.
type workUnitView struct {
	Path    string
	Outcome string
	Label   string
	Output  string
}

// HTMLReporter renders each event through a TemplateRenderer and appends
// the result to out, standing in for a file-tree HTML report. It keeps its
// own internal serialization since multiple work units may report
// concurrently.
type HTMLReporter struct {
	mu       sync.Mutex
	out      io.Writer
	renderer TemplateRenderer
}

// NewHTMLReporter constructs an HTMLReporter. renderer must know how to
// render at least the "workunit-start", "workunit-end", and "output"
// template names.
func NewHTMLReporter(out io.Writer, renderer TemplateRenderer) *HTMLReporter {
	return &HTMLReporter{out: out, renderer: renderer}
}

func (h *HTMLReporter) Open()  {}
func (h *HTMLReporter) Close() {}

func (h *HTMLReporter) render(name string, view workUnitView) {
	s, err := h.renderer.Render(name, view)
	if err != nil {
		// A rendering failure must not break the build; drop the fragment.
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	io.WriteString(h.out, s)
}

func (h *HTMLReporter) StartWorkUnit(w *workunit.WorkUnit) {
	h.render("workunit-start", workUnitView{Path: w.Path()})
}

func (h *HTMLReporter) EndWorkUnit(w *workunit.WorkUnit) {
	h.render("workunit-end", workUnitView{Path: w.Path(), Outcome: w.Outcome().String()})
}

func (h *HTMLReporter) HandleOutput(w *workunit.WorkUnit, label string, data []byte) {
	h.render("output", workUnitView{Path: w.Path(), Label: label, Output: string(data)})
}

func (h *HTMLReporter) HandleMessage(w *workunit.WorkUnit, elements ...MessageElement) {
	for _, e := range elements {
		h.render("output", workUnitView{Path: w.Path(), Output: e.Text})
	}
}

func (h *HTMLReporter) HandleLog(w *workunit.WorkUnit, level, msg string) {
	h.render("output", workUnitView{Path: w.Path(), Label: level, Output: msg})
}
