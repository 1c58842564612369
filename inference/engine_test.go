package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func TestCommandArgs(t *testing.T) {
	e := ExecEngine{Binary: "python3", Args: []string{"-m", "tsinfer"}}

	assert.Equal(t,
		[]string{"-m", "tsinfer", "generate-ancestors", "x.samples", "--ancestors", "x.ancestors"},
		e.CommandArgs(PhaseGenerateAncestors, Config{}, "x.samples", "--ancestors", "x.ancestors"))

	assert.Equal(t,
		[]string{"-m", "tsinfer", "generate-ancestors", "x.samples", "--num-threads", "4"},
		e.CommandArgs(PhaseGenerateAncestors, Config{NumThreads: 4, NumMismatches: null.FloatFrom(3)}, "x.samples"))

	// An explicit zero is passed on; an unset value is left to the engine.
	assert.Equal(t,
		[]string{"-m", "tsinfer", "match-samples", "x.samples", "--num-mismatches", "0"},
		e.CommandArgs(PhaseMatchSamples, Config{NumMismatches: null.FloatFrom(0)}, "x.samples"))
	assert.Equal(t,
		[]string{"-m", "tsinfer", "match-ancestors", "x.samples", "--num-mismatches", "0.5"},
		e.CommandArgs(PhaseMatchAncestors, Config{NumMismatches: null.FloatFrom(0.5)}, "x.samples"))
	assert.Equal(t,
		[]string{"-m", "tsinfer", "match-ancestors", "x.samples"},
		e.CommandArgs(PhaseMatchAncestors, Config{}, "x.samples"))
}

// fakeEngineScript writes a shell script that logs its arguments and creates
// whatever file the phase is expected to produce.
func fakeEngineScript(t *testing.T, dir string) (script, log string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	log = filepath.Join(dir, "calls.log")
	script = filepath.Join(dir, "fake-engine")
	contents := fmt.Sprintf(`#!/bin/sh
echo "$*" >> %q
phase="$1"
shift
if [ -n "$FAIL_PHASE" ] && [ "$FAIL_PHASE" = "$phase" ]; then
	echo "progress line"
	echo "boom in $phase" >&2
	exit 3
fi
while [ $# -gt 0 ]; do
	case "$phase:$1" in
	generate-ancestors:--ancestors|match-ancestors:--ancestors-trees|match-samples:--output-trees)
		echo "$phase" > "$2"
		shift
		;;
	esac
	shift
done
`, log)
	require.NoError(t, os.WriteFile(script, []byte(contents), 0o755))

	return script, log
}

func TestExecEngine(t *testing.T) {
	dir := t.TempDir()
	script, log := fakeEngineScript(t, dir)
	e := ExecEngine{Binary: script}
	ctx := context.Background()
	cfg := Config{NumThreads: 3}

	anc := filepath.Join(dir, "x.ancestors")
	trees := filepath.Join(dir, "x.ancestors.trees")
	out := filepath.Join(dir, "x.ts")

	require.NoError(t, e.GenerateAncestors(ctx, "x.samples", anc, cfg))
	require.NoError(t, e.MatchAncestors(ctx, "x.samples", anc, trees, cfg))
	require.NoError(t, e.MatchSamples(ctx, "x.samples", trees, out, cfg))

	contents, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "match-samples\n", string(contents))

	calls, err := os.ReadFile(log)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, fmt.Sprintf("generate-ancestors x.samples --ancestors %s --num-threads 3", anc), lines[0])
	assert.Equal(t, fmt.Sprintf("match-samples x.samples --ancestors-trees %s --output-trees %s --num-threads 3", trees, out), lines[2])
}

func TestExecEngineFailure(t *testing.T) {
	dir := t.TempDir()
	script, _ := fakeEngineScript(t, dir)
	e := ExecEngine{Binary: script, Env: []string{"FAIL_PHASE=match-ancestors"}}

	err := e.MatchAncestors(context.Background(), "x.samples", "a", "b", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match-ancestors")
	assert.Contains(t, err.Error(), "boom in match-ancestors")
	assert.NotContains(t, err.Error(), "progress line")
}

func TestExecEngineMissingBinary(t *testing.T) {
	e := ExecEngine{Binary: filepath.Join(t.TempDir(), "no-such-engine")}
	assert.Error(t, e.GenerateAncestors(context.Background(), "x.samples", "a", Config{}))
}

func TestTailWriter(t *testing.T) {
	w := &tailWriter{prefix: "test", keep: 2}
	w.Write([]byte("one\ntw"))
	w.Write([]byte("o\nthree\nfour"))

	assert.Equal(t, "two\nthree\nfour", w.Tail())
}
