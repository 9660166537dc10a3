package compile

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// ExecCompiler invokes an external incremental compiler binary as a
// subprocess, the way every external tool invocation in distri's
// cmd/distri/build.go is done: build an exec.CommandContext, wire
// Stdout/Stderr, and treat a non-zero exit as fatal.
type ExecCompiler struct {
	// Path is the compiler binary, e.g. the path to a zinc-style
	// incremental Scala/Java compiler launcher.
	Path string
	Log  *log.Logger
}

var _ Compiler = (*ExecCompiler)(nil)

// Compile shells out to e.Path with flags encoding req. Stdout/Stderr are
// captured and, on a non-zero exit, included in the returned error's
// text; on success they are discarded.
func (e *ExecCompiler) Compile(ctx context.Context, req CompileRequest) error {
	args := []string{
		"-classpath", strings.Join(req.Classpath, ":"),
		"-d", req.ClassesDir,
		"-analysis", req.AnalysisFile,
	}
	for _, s := range req.DeletedSources {
		args = append(args, "-deleted", s)
	}
	for classesDir, analysisFile := range req.Upstream {
		args = append(args, "-upstream", classesDir+"="+analysisFile)
	}
	args = append(args, req.Sources...)

	cmd := exec.CommandContext(ctx, e.Path, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = io.MultiWriter(&stdout)
	cmd.Stderr = io.MultiWriter(&stderr)
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("compile %s: %w\nstdout:\n%s\nstderr:\n%s", req.AnalysisFile, err, stdout.String(), stderr.String())
	}
	if e.Log != nil {
		e.Log.Printf("compiled %d sources into %s", len(req.Sources), req.ClassesDir)
	}
	return nil
}

// ExecAnalysisTool invokes the same external compiler's analysis-file
// sub-commands (rebase/merge/split/relativize/localize) as one-shot
// subprocess calls, matching how distri drives single-purpose external
// tools like "patch" or "objcopy" from Go (cmd/distri/build.go).
type ExecAnalysisTool struct {
	Path string
}

var _ AnalysisTool = (*ExecAnalysisTool)(nil)

func (t *ExecAnalysisTool) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.Path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return xerrors.Errorf("%s %s: %w: %s", t.Path, strings.Join(args, " "), err, out)
	}
	return nil
}

func (t *ExecAnalysisTool) Rebase(ctx context.Context, path, newClassesDir, outPath string) error {
	return t.run(ctx, "rebase", "-in", path, "-classes", newClassesDir, "-out", outPath)
}

func (t *ExecAnalysisTool) Merge(ctx context.Context, analysisPaths []string, outPath string) error {
	args := []string{"merge", "-out", outPath}
	args = append(args, analysisPaths...)
	return t.run(ctx, args...)
}

func (t *ExecAnalysisTool) Split(ctx context.Context, path string, bySourceSet map[string][]string, outDir string) (map[string]string, error) {
	out := make(map[string]string, len(bySourceSet))
	for target, sources := range bySourceSet {
		dst := outDir + "/" + target + ".analysis"
		args := []string{"split", "-in", path, "-out", dst}
		args = append(args, sources...)
		if err := t.run(ctx, args...); err != nil {
			return nil, err
		}
		out[target] = dst
	}
	return out, nil
}

func (t *ExecAnalysisTool) Relativize(ctx context.Context, path, prefix, sentinel, outPath string) error {
	return t.run(ctx, "relativize", "-in", path, "-prefix", prefix, "-sentinel", sentinel, "-out", outPath)
}

func (t *ExecAnalysisTool) Localize(ctx context.Context, path, sentinel, prefix, outPath string) error {
	return t.run(ctx, "localize", "-in", path, "-sentinel", sentinel, "-prefix", prefix, "-out", outPath)
}

func (t *ExecAnalysisTool) SourceToClass(ctx context.Context, path string) (map[string][]string, error) {
	cmd := exec.CommandContext(ctx, t.Path, "source-to-class", "-in", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, xerrors.Errorf("%s source-to-class %s: %w", t.Path, path, err)
	}
	var rel map[string][]string
	if err := json.Unmarshal(out, &rel); err != nil {
		return nil, xerrors.Errorf("parsing source-to-class output for %s: %w", path, err)
	}
	return rel, nil
}

func (t *ExecAnalysisTool) FingerprintRelations(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, t.Path, "fingerprint", "-in", path)
	out, err := cmd.Output()
	if err != nil {
		return "", xerrors.Errorf("%s fingerprint %s: %w", t.Path, path, err)
	}
	return strings.TrimSpace(string(out)), nil
}
