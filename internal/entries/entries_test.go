package entries

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "databroadcast/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadSkipsBlankLinesAndTrims(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "data.txt", "a\n\n  b \r\n\t\n")

	got, err := Load([]string{p}, filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Equal(t, []Entry{"a", "b"}, got)
}

func TestLoadConcatenatesInListOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.txt", "1\n2\n")
	second := writeFile(t, dir, "second.txt", "3\n")
	def := writeFile(t, dir, "default.txt", "never\n")

	got, err := Load([]string{second, filepath.Join(dir, "gone.txt"), first}, def)
	require.NoError(t, err)
	assert.Equal(t, []Entry{"3", "1", "2"}, got)
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.txt", "\n \n")
	def := writeFile(t, dir, "default.txt", "x\ny\n")

	tests := []struct {
		name  string
		paths []string
	}{
		{name: "no paths", paths: nil},
		{name: "missing paths", paths: []string{filepath.Join(dir, "nope.txt")}},
		{name: "empty file", paths: []string{empty}},
		{name: "directory", paths: []string{dir}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.paths, def)
			require.NoError(t, err)
			assert.Equal(t, []Entry{"x", "y"}, got)
		})
	}
}

func TestLoadMissingDefault(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(nil, filepath.Join(dir, "data.txt"))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Contains(t, err.Error(), "no data source")
}

func TestLoadEmptyDefault(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "data.txt", "\n\n   \n")

	_, err := Load(nil, def)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Contains(t, err.Error(), "empty data source")
}

func TestLoadDoesNotMutatePaths(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.txt", "a\n")
	paths := []string{p, p}
	_, err := Load(paths, "")
	require.NoError(t, err)
	assert.Equal(t, []string{p, p}, paths)
}

func TestReadRejectsInvalidUTF8(t *testing.T) {
	_, err := Read(strings.NewReader("ok\n\xff\xfe\n"))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
}

func TestReadLineEndings(t *testing.T) {
	cases := map[string]string{
		"lf":         "a\nb\n",
		"crlf":       "a\r\nb\r\n",
		"cr":         "a\rb\r",
		"mixed":      "a\r\r\nb",
		"no newline": "a\nb",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Read(strings.NewReader(in))
			require.NoError(t, err)
			assert.Equal(t, []Entry{"a", "b"}, got)
		})
	}
}

func TestReadLongLine(t *testing.T) {
	long := strings.Repeat("x", 2<<20)
	got, err := Read(strings.NewReader("a\n" + long + "\nb\n"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Entry(long), got[1])
}

func TestUniquePaths(t *testing.T) {
	in := []string{"b.txt", "a.txt", " b.txt ", "", "c.txt", "a.txt"}
	assert.Equal(t, []string{"b.txt", "a.txt", "c.txt"}, UniquePaths(in))
	assert.Equal(t, []string{"b.txt", "a.txt", " b.txt ", "", "c.txt", "a.txt"}, in)
}
