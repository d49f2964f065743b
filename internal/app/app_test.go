package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"databroadcast/internal/config"
	apperrors "databroadcast/internal/errors"
	"databroadcast/internal/server"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type testFiles struct {
	dir  string
	data string
	cfg  string
}

func writeConfig(t *testing.T, f testFiles, mutate func(m map[string]any)) {
	t.Helper()
	m := map[string]any{
		"server": map[string]any{
			"host":           "127.0.0.1",
			"port":           freePort(t),
			"interval":       "10ms",
			"files":          []string{f.data},
			"start_delay":    "300ms",
			"autostart":      true,
			"exit_when_done": true,
		},
		"logging": map[string]any{"level": "error", "console": false},
		"systemd": map[string]any{"notify": false},
	}
	if mutate != nil {
		mutate(m)
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.cfg, b, 0o600))
}

func setup(t *testing.T, mutate func(m map[string]any)) testFiles {
	t.Helper()
	dir := t.TempDir()
	f := testFiles{dir: dir, data: filepath.Join(dir, "data.txt"), cfg: filepath.Join(dir, "broadcastd.json")}
	require.NoError(t, os.WriteFile(f.data, []byte("alpha\n\nbeta\n"), 0o600))
	writeConfig(t, f, mutate)
	return f
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopUnknown))
}

func TestAppAutostartBroadcastsAndFinishes(t *testing.T) {
	f := setup(t, nil)
	a, err := New(f.cfg, Overrides{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer stopApp(t, a)

	require.Equal(t, server.StateRunning, a.Status().State)
	conn, err := net.DialTimeout("tcp", a.ctl.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "alphabeta", string(got))

	select {
	case <-a.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not finish after the session was exhausted")
	}
	st := a.Status()
	assert.Equal(t, server.StateIdle, st.State)
	assert.Equal(t, server.StopExhausted, st.StopReason)
	assert.EqualValues(t, 2, st.Sent)
}

func TestAppStaysUpWithoutExitWhenDone(t *testing.T) {
	f := setup(t, func(m map[string]any) {
		srv := m["server"].(map[string]any)
		srv["exit_when_done"] = false
		srv["start_delay"] = "0s"
		srv["interval"] = "1s"
	})
	a, err := New(f.cfg, Overrides{})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	require.Eventually(t, func() bool { return a.Status().State == server.StateIdle }, 5*time.Second, 10*time.Millisecond)
	select {
	case <-a.Finished():
		t.Fatal("finished without exit_when_done")
	case <-time.After(100 * time.Millisecond):
	}

	// A second session can be started on demand.
	require.NoError(t, a.StartSession(context.Background()))
	require.NoError(t, a.StopSession(context.Background()))
	assert.Equal(t, server.StateIdle, a.Status().State)
	assert.Equal(t, server.StopRequested, a.Status().StopReason)
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	f := setup(t, func(m map[string]any) {
		m["server"].(map[string]any)["host"] = "not-an-ip"
	})
	_, err := New(f.cfg, Overrides{})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Equal(t, "Invalid IP format", apperrors.UserMessage(err))
}

func TestAppOverridesWin(t *testing.T) {
	f := setup(t, func(m map[string]any) {
		m["server"].(map[string]any)["host"] = "not-an-ip"
		m["server"].(map[string]any)["autostart"] = false
	})
	host := "127.0.0.1"
	a, err := New(f.cfg, Overrides{Host: &host})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", a.Config().Server.Host)
	assert.Equal(t, "not-an-ip", a.cfgm.Get().Server.Host)
}

func TestAppReloadEnablesOps(t *testing.T) {
	f := setup(t, func(m map[string]any) {
		m["server"].(map[string]any)["autostart"] = false
	})
	a, err := New(f.cfg, Overrides{})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)
	assert.Equal(t, "", a.ops.Addr())

	writeConfig(t, f, func(m map[string]any) {
		m["server"].(map[string]any)["autostart"] = false
		m["ops"] = map[string]any{"enabled": true, "addr": "127.0.0.1:0"}
	})
	// The file watcher may get there first; either way the config lands.
	_, err = a.cfgm.Reload(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.ops.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
}

func TestAppReloadRejectsBadSchedule(t *testing.T) {
	f := setup(t, func(m map[string]any) {
		m["server"].(map[string]any)["autostart"] = false
	})
	a, err := New(f.cfg, Overrides{})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	writeConfig(t, f, func(m map[string]any) {
		m["schedule"] = map[string]any{"start": "whenever"}
	})
	_, err = a.cfgm.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "", a.cfgm.Get().Schedule.Start)
}

func TestOverridesApplyCopies(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Files = []string{"a.txt"}
	port, iv, lvl := 2000, "0.5", "debug"
	out := Overrides{Port: &port, Interval: &iv, LogLevel: &lvl, Files: []string{"b.txt"}}.apply(cfg)

	assert.Equal(t, 2000, out.Server.Port)
	assert.Equal(t, config.Interval("0.5"), out.Server.Interval)
	assert.Equal(t, "debug", out.Logging.Level)
	assert.Equal(t, []string{"b.txt"}, out.Server.Files)

	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, []string{"a.txt"}, cfg.Server.Files)
	assert.Nil(t, Overrides{}.apply(nil))
}

func TestStartRequestFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Interval = "0.25"
	cfg.Server.StartDelay = "2s"
	cfg.Server.WriteTimeout = "1s"
	cfg.Server.Files = []string{"x.txt"}

	req, err := startRequest(cfg)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, req.Interval)
	assert.Equal(t, 2*time.Second, req.StartDelay)
	assert.Equal(t, time.Second, req.WriteTimeout)
	assert.Equal(t, []string{"x.txt"}, req.Files)
	assert.Equal(t, config.DefaultDataFile, req.DefaultFile)
	assert.Equal(t, config.DefaultPort, req.Port)
}

func TestValidatePort(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Port = 70000
	err := validate(cfg)
	require.Error(t, err)
	assert.Equal(t, "Port must be an integer between 1 and 65535", apperrors.UserMessage(err))
}

func TestValidateReturnsIntervalParseError(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.Interval = "soon"
	_, want := config.ParseInterval("soon")
	require.Error(t, want)

	err := validate(cfg)
	require.Error(t, err)
	assert.Equal(t, want.Error(), err.Error())
}
