package inference

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/carbocation/sarscov2ts/logging"
)

type Phase int

const (
	PhaseGenerateAncestors Phase = iota
	PhaseMatchAncestors
	PhaseMatchSamples
)

func (p Phase) String() string {
	switch p {
	case PhaseGenerateAncestors:
		return "generate-ancestors"
	case PhaseMatchAncestors:
		return "match-ancestors"
	case PhaseMatchSamples:
		return "match-samples"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Engine is the external inference library. Each phase reads the files the
// previous one wrote; MatchSamples writes the tree sequence to outputPath.
type Engine interface {
	GenerateAncestors(ctx context.Context, samplesPath, ancestorsPath string, cfg Config) error
	MatchAncestors(ctx context.Context, samplesPath, ancestorsPath, ancestorsTreesPath string, cfg Config) error
	MatchSamples(ctx context.Context, samplesPath, ancestorsTreesPath, outputPath string, cfg Config) error
}

// ExecEngine runs an inference program with a tsinfer-style command line:
//
//	BINARY [ARGS...] generate-ancestors SAMPLES --ancestors ANCESTORS
//	BINARY [ARGS...] match-ancestors SAMPLES --ancestors ANCESTORS --ancestors-trees TREES
//	BINARY [ARGS...] match-samples SAMPLES --ancestors-trees TREES --output-trees OUTPUT
//
// followed by --num-threads N when N > 0 and, for the matching phases,
// --num-mismatches X when set.
type ExecEngine struct {
	Binary string

	// Placed before the phase, e.g. []string{"-m", "tsinfer"} with python3.
	Args []string

	// Appended to the current environment.
	Env []string
}

func (e ExecEngine) GenerateAncestors(ctx context.Context, samplesPath, ancestorsPath string, cfg Config) error {
	return e.run(ctx, PhaseGenerateAncestors, cfg, samplesPath, "--ancestors", ancestorsPath)
}

func (e ExecEngine) MatchAncestors(ctx context.Context, samplesPath, ancestorsPath, ancestorsTreesPath string, cfg Config) error {
	return e.run(ctx, PhaseMatchAncestors, cfg, samplesPath, "--ancestors", ancestorsPath, "--ancestors-trees", ancestorsTreesPath)
}

func (e ExecEngine) MatchSamples(ctx context.Context, samplesPath, ancestorsTreesPath, outputPath string, cfg Config) error {
	return e.run(ctx, PhaseMatchSamples, cfg, samplesPath, "--ancestors-trees", ancestorsTreesPath, "--output-trees", outputPath)
}

// CommandArgs builds the argument list for one phase, without the binary.
func (e ExecEngine) CommandArgs(phase Phase, cfg Config, phaseArgs ...string) []string {
	args := append([]string{}, e.Args...)
	args = append(args, phase.String())
	args = append(args, phaseArgs...)

	if cfg.NumThreads > 0 {
		args = append(args, "--num-threads", strconv.Itoa(cfg.NumThreads))
	}
	if cfg.NumMismatches.Valid && phase != PhaseGenerateAncestors {
		args = append(args, "--num-mismatches", strconv.FormatFloat(cfg.NumMismatches.Float64, 'g', -1, 64))
	}

	return args
}

func (e ExecEngine) run(ctx context.Context, phase Phase, cfg Config, phaseArgs ...string) error {
	cmd := exec.CommandContext(ctx, e.Binary, e.CommandArgs(phase, cfg, phaseArgs...)...)
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	stderr := &tailWriter{prefix: phase.String(), keep: 20}
	cmd.Stdout = &tailWriter{prefix: phase.String()}
	cmd.Stderr = stderr

	logging.Debugf("Running %s", strings.Join(cmd.Args, " "))

	if err := cmd.Run(); err != nil {
		if tail := stderr.Tail(); tail != "" {
			return fmt.Errorf("%s %s: %w: %s", e.Binary, phase, err, tail)
		}
		return fmt.Errorf("%s %s: %w", e.Binary, phase, err)
	}

	return nil
}

// tailWriter logs each complete line at DEBUG and remembers the last keep
// lines.
type tailWriter struct {
	prefix string
	keep   int

	mu      sync.Mutex
	partial []byte
	lines   []string
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.line(string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}

	return len(p), nil
}

func (w *tailWriter) line(s string) {
	logging.Debugf("[%s] %s", w.prefix, s)
	if w.keep <= 0 {
		return
	}
	w.lines = append(w.lines, s)
	if len(w.lines) > w.keep {
		w.lines = w.lines[len(w.lines)-w.keep:]
	}
}

// Tail returns the remembered lines, including any unterminated last line.
func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	lines := w.lines
	if len(w.partial) > 0 {
		lines = append(append([]string{}, lines...), string(w.partial))
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
