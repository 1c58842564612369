package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/carbocation/sarscov2ts/logging"
	"github.com/carbocation/sarscov2ts/samples"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVCF      = "testdata/usher.vcf"
	testMetadata = "testdata/usher-metadata.tsv"
)

// execute runs sc2ts with args and returns command output followed by log
// lines.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var logs bytes.Buffer
	logging.SetOutput(&logs)
	logging.SetFlags(0)
	t.Cleanup(func() {
		logging.SetOutput(os.Stderr)
		logging.SetFlags(log.LstdFlags)
		logging.SetLevel(logging.LevelWarn)
	})

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String() + logs.String(), err
}

func importFixture(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "usher.samples")
	_, err := execute(t, "import-usher-vcf", testVCF, testMetadata, path)
	require.NoError(t, err)

	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "built with")
}

func TestImportUsherVCF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usher.samples")

	out, err := execute(t, "import-usher-vcf", testVCF, testMetadata, path, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "[INFO] Wrote 5 individuals and 4 sites")
	assert.Contains(t, out, "[WARN] Dropped 2 metadata rows with missing dates")

	d, err := samples.Open(path)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, 5, d.NumSamples())
	assert.Equal(t, 4, d.NumSites())
}

func TestImportUsherVCFQuietByDefault(t *testing.T) {
	out, err := execute(t, "import-usher-vcf", testVCF, testMetadata, filepath.Join(t.TempDir(), "x.samples"))
	require.NoError(t, err)
	assert.NotContains(t, out, "[INFO]")
	assert.Contains(t, out, "[WARN]")
}

func TestImportUsherVCFProgress(t *testing.T) {
	out, err := execute(t, "import-usher-vcf", testVCF, testMetadata, filepath.Join(t.TempDir(), "x.samples"), "-v", "--progress-every", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "[INFO] Wrote 2 sites")
	assert.Contains(t, out, "[INFO] Wrote 4 sites")
	assert.NotContains(t, out, "[INFO] Wrote 3 sites")

	out, err = execute(t, "import-usher-vcf", testVCF, testMetadata, filepath.Join(t.TempDir(), "y.samples"), "-v", "--progress-every", "0")
	require.NoError(t, err)
	assert.NotContains(t, out, "[INFO] Wrote 2 sites")
}

func TestImportUsherVCFDelimiter(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "import-usher-vcf", testVCF, testMetadata, filepath.Join(dir, "tab.samples"), "--delimiter", `\t`)
	require.NoError(t, err)

	output := filepath.Join(dir, "bad.samples")
	_, err = execute(t, "import-usher-vcf", testVCF, testMetadata, output, "--delimiter", "semicolon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "semicolon")

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestImportUsherVCFErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "import-usher-vcf", testVCF, testMetadata)
	assert.Error(t, err)

	output := filepath.Join(dir, "x.samples")
	_, err = execute(t, "import-usher-vcf", filepath.Join(dir, "missing.vcf"), testMetadata, output)
	assert.Error(t, err)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSplitSamples(t *testing.T) {
	dir := t.TempDir()
	path := importFixture(t, dir)
	prefix := filepath.Join(dir, "split-")

	out, err := execute(t, "split-samples", path, prefix)
	require.NoError(t, err)

	for _, expected := range []struct {
		date    string
		samples int
	}{
		{"2020-01-10", 1},
		{"2020-02-29", 2},
		{"2020-03-15", 4},
		{"2020-12-31", 5},
	} {
		splitPath := prefix + expected.date + ".samples"
		assert.Contains(t, out, fmt.Sprintf("[INFO] Wrote %d samples to %s", expected.samples, splitPath))

		d, err := samples.Open(splitPath)
		require.NoError(t, err)
		assert.Equal(t, expected.samples, d.NumSamples())
		assert.Equal(t, 4, d.NumSites())
		d.Close()
	}
	assert.NotContains(t, out, "[DEBUG]")
}

func TestSplitSamplesCutoffs(t *testing.T) {
	dir := t.TempDir()
	path := importFixture(t, dir)
	prefix := filepath.Join(dir, "split-")

	out, err := execute(t, "split-samples", path, prefix, "--cutoff", "2020-03-01", "--cutoff", "2020-03-01")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Wrote "))
	assert.Contains(t, out, "Wrote 2 samples to "+prefix+"2020-03-01.samples")

	_, err = execute(t, "split-samples", path, prefix, "--cutoff", "not a date")
	assert.Error(t, err)
}

// fakeEngine writes a shell script that accepts the inference phases, logs
// its arguments and creates the files each phase is expected to write.
func fakeEngine(t *testing.T, dir string) (script, calls string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	calls = filepath.Join(dir, "calls.log")
	script = filepath.Join(dir, "fake-tsinfer")
	contents := fmt.Sprintf(`#!/bin/sh
echo "$*" >> %q
phase="$1"
shift
while [ $# -gt 0 ]; do
	case "$phase:$1" in
	generate-ancestors:--ancestors|match-ancestors:--ancestors-trees|match-samples:--output-trees)
		echo "$phase" > "$2"
		shift
		;;
	esac
	shift
done
`, calls)
	require.NoError(t, os.WriteFile(script, []byte(contents), 0o755))

	return script, calls
}

func TestInfer(t *testing.T) {
	dir := t.TempDir()
	path := importFixture(t, dir)
	script, calls := fakeEngine(t, dir)
	prefix := filepath.Join(dir, "out-")

	_, err := execute(t, "infer", path, prefix, "--engine", script, "--num-threads", "2", "--work-dir", filepath.Join(dir, "work"))
	require.NoError(t, err)

	for _, date := range []string{"2020-01-10", "2020-02-29", "2020-03-15", "2020-12-31"} {
		assert.FileExists(t, prefix+date+".ts")
	}

	logged, err := os.ReadFile(calls)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(logged)), "\n")
	require.Len(t, lines, 12)
	for _, line := range lines {
		assert.Contains(t, line, "--num-threads 2")
		assert.NotContains(t, line, "--num-mismatches")
	}
}

func TestInferWholeWithMismatches(t *testing.T) {
	dir := t.TempDir()
	path := importFixture(t, dir)
	script, calls := fakeEngine(t, dir)
	prefix := filepath.Join(dir, "out-")

	_, err := execute(t, "infer", path, prefix, "--engine", script, "--whole", "--num-mismatches", "0", "--work-dir", dir)
	require.NoError(t, err)
	assert.FileExists(t, prefix+"2020-12-31.ts")

	logged, err := os.ReadFile(calls)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(logged)), "\n")
	require.Len(t, lines, 3)
	assert.NotContains(t, lines[0], "--num-mismatches")
	assert.Contains(t, lines[1], "--num-mismatches 0")
	assert.Contains(t, lines[2], "--num-mismatches 0")
}

func TestInferWholeRejectsCutoffs(t *testing.T) {
	dir := t.TempDir()
	path := importFixture(t, dir)
	script, calls := fakeEngine(t, dir)

	_, err := execute(t, "infer", path, filepath.Join(dir, "out-"), "--engine", script, "--whole", "--cutoff", "2020-03-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whole")

	_, statErr := os.Stat(calls)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInferFailures(t *testing.T) {
	dir := t.TempDir()
	path := importFixture(t, dir)

	_, err := execute(t, "infer", path, filepath.Join(dir, "out-"), "--engine", filepath.Join(dir, "no-such-engine"), "--whole", "--work-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 partitions failed")

	_, err = execute(t, "infer", path, filepath.Join(dir, "out-"), "--num-threads", "-1")
	assert.Error(t, err)

	_, err = execute(t, "infer", filepath.Join(dir, "missing.samples"), filepath.Join(dir, "out-"))
	assert.Error(t, err)
}
