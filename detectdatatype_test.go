package sarscov2ts

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDataType(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	w.Write([]byte("##fileformat=VCFv4.2\n"))
	w.Close()

	for _, v := range []struct {
		name     string
		input    []byte
		expected DataType
	}{
		{"gzip", gz.Bytes(), DataTypeGzip},
		{"plain", []byte("strain\tdate\n"), DataTypeNoCompression},
		{"short", []byte{0x1f}, DataTypeNoCompression},
		{"empty", nil, DataTypeNoCompression},
		{"bzip2", []byte("BZh91AY&SY"), DataTypeBZip2},
	} {
		dt, err := DetectDataType(bytes.NewReader(v.input))
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		if dt != v.expected {
			t.Errorf("%s: got %s, expected %s", v.name, dt, v.expected)
		}
	}
}

func TestOpenInputGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.tsv.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	w := gzip.NewWriter(f)
	_, err = w.Write([]byte("strain\tdate\nA\t2020-01-01\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	rc, err := OpenInput(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	contents, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "strain\tdate\nA\t2020-01-01\n", string(contents))
}

func TestOpenInputPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.tsv")
	require.NoError(t, os.WriteFile(path, []byte("strain\tdate\n"), 0o644))

	rc, err := OpenInput(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	contents, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "strain\tdate\n", string(contents))
}

func TestOpenInputMissing(t *testing.T) {
	_, err := OpenInput(context.Background(), filepath.Join(t.TempDir(), "nope.tsv"))
	assert.Error(t, err)
}

func TestParseDelimiter(t *testing.T) {
	for _, tt := range []struct {
		value    string
		expected rune
	}{
		{"tab", '\t'},
		{`\t`, '\t'},
		{"comma", ','},
		{";", ';'},
		{"|", '|'},
		{"auto", 0},
		{"", 0},
	} {
		got, err := ParseDelimiter(tt.value)
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.expected, got, tt.value)
	}

	for _, value := range []string{"semicolon", "ab", "\\t\\t"} {
		_, err := ParseDelimiter(value)
		assert.Error(t, err, value)
	}
}

func TestDetermineDelimiter(t *testing.T) {
	table := "strain,date,host\nA,2020-01-01,Human\nB,2020-01-02,Human\n"
	assert.Equal(t, ',', DetermineDelimiter(strings.NewReader(table)))
}

func TestSplitGoogleStoragePath(t *testing.T) {
	bucket, object, err := splitGoogleStoragePath("gs://bucket/dir/metadata.tsv.gz")
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "dir/metadata.tsv.gz", object)

	for _, path := range []string{"gs://bucket", "gs://bucket/", "gs:///object"} {
		_, _, err := splitGoogleStoragePath(path)
		require.Error(t, err, path)
		assert.Contains(t, err.Error(), "google storage path")
	}
}
