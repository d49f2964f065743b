package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(ln), &m), ln)
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "server"))

	log.Debug("hidden")
	log.Info("client connected", Int("clients", 2), Duration("interval", time.Second), Err(errors.New("boom")))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "client connected", e["message"])
	assert.Equal(t, "server", e["comp"])
	assert.EqualValues(t, 2, e["clients"])
	assert.Equal(t, "boom", e["err"])
	assert.Contains(t, e["caller"], "logx_test.go:")
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(&buf, "debug")
	_ = parent.With(String("child", "yes"))
	parent.Info("plain")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	_, ok := got[0]["child"]
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" debug ", LevelInfo))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING", LevelInfo))
	assert.Equal(t, LevelInfo, ParseLevel("loud", LevelInfo))
}

func TestNopAndZeroLoggerAreSilent(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("nothing")
	Nop().Error("nothing")
	assert.False(t, Nop().IsZero())
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broadcastd.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Debug("dropped")
	log.Info("kept")
	assert.True(t, log.Enabled(LevelInfo))
	assert.False(t, log.Enabled(LevelDebug))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.True(t, log.Enabled(LevelDebug))
	log.Debug("now visible")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "now visible")
	assert.NotContains(t, out, "dropped")
	assert.Equal(t, "debug", svc.Config().Level)
}

func TestServiceApplyKeepsReplacedFileOpenForInflightEvents(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	inflight := svc.current()
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	inflight.Info().Msg("late write")
	log.Info("after apply")

	b, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(b), "late write")

	b, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(b), "after apply")
	assert.NotContains(t, string(b), "late write")
}
