package server

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "databroadcast/internal/errors"
	"databroadcast/internal/eventbus"
	"databroadcast/internal/metrics"
	logx "databroadcast/pkg/logx"
)

const (
	testDelay    = 50 * time.Millisecond
	testInterval = 10 * time.Millisecond
)

func writeEntries(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "entries.txt")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return p
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func request(t *testing.T, file string) StartRequest {
	return StartRequest{
		Files:      []string{file},
		Host:       "127.0.0.1",
		Port:       freePort(t),
		Interval:   testInterval,
		StartDelay: testDelay,
	}
}

func dial(t *testing.T, ctl *Controller) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", ctl.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, ctl *Controller, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ctl.Status().Clients == n }, 2*time.Second, 5*time.Millisecond)
}

func readSome(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func requireEOF(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 8))
	require.ErrorIs(t, err, io.EOF)
}

func waitDone(t *testing.T, ctl *Controller) {
	t.Helper()
	select {
	case <-ctl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestBroadcastReachesEveryClientThenExhausts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ctl := NewController(logx.Nop(), WithClock(clock), WithMetrics(m))

	require.NoError(t, ctl.Start(context.Background(), request(t, writeEntries(t, "a", "b"))))
	require.Equal(t, StateRunning, ctl.State())
	assert.Contains(t, ctl.Status().Text, "Running: 127.0.0.1:")

	c1 := dial(t, ctl)
	c2 := dial(t, ctl)
	waitClients(t, ctl, 2)

	clock.BlockUntil(1)
	clock.Advance(testDelay)
	assert.Equal(t, "a", readSome(t, c1))
	assert.Equal(t, "a", readSome(t, c2))

	clock.BlockUntil(1)
	clock.Advance(testInterval)
	assert.Equal(t, "b", readSome(t, c1))
	assert.Equal(t, "b", readSome(t, c2))

	// The interval after the last entry still elapses before the stop.
	clock.BlockUntil(1)
	clock.Advance(testInterval)
	waitDone(t, ctl)

	requireEOF(t, c1)
	requireEOF(t, c2)

	st := ctl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "Stopped", st.Text)
	assert.Equal(t, StopExhausted, st.StopReason)
	assert.EqualValues(t, 2, st.Sent)
	assert.Equal(t, 0, st.Clients)
	assert.Equal(t, "", ctl.Addr())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntriesSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClientsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionStarts.WithLabelValues(metrics.StartOK)))
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.ClientsConnected) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionState))
}

func TestLateJoinerOnlySeesLaterEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctl := NewController(logx.Nop(), WithClock(clock))
	require.NoError(t, ctl.Start(context.Background(), request(t, writeEntries(t, "a", "b"))))

	early := dial(t, ctl)
	waitClients(t, ctl, 1)
	clock.BlockUntil(1)
	clock.Advance(testDelay)
	assert.Equal(t, "a", readSome(t, early))

	late := dial(t, ctl)
	waitClients(t, ctl, 2)
	clock.BlockUntil(1)
	clock.Advance(testInterval)
	assert.Equal(t, "b", readSome(t, early))
	assert.Equal(t, "b", readSome(t, late))

	clock.BlockUntil(1)
	clock.Advance(testInterval)
	waitDone(t, ctl)
	requireEOF(t, late)
}

func TestStartValidation(t *testing.T) {
	file := writeEntries(t, "x")
	missing := filepath.Join(t.TempDir(), "missing.txt")

	cases := []struct {
		name string
		mod  func(r *StartRequest)
		msg  string
	}{
		{"bad ip", func(r *StartRequest) { r.Host = "999.1.1.1" }, "Invalid IP format"},
		{"hostname", func(r *StartRequest) { r.Host = "not-an-ip" }, "Invalid IP format"},
		{"port zero", func(r *StartRequest) { r.Port = 0 }, "Port must be an integer between 1 and 65535"},
		{"port too big", func(r *StartRequest) { r.Port = 65536 }, "Port must be an integer between 1 and 65535"},
		{"zero interval", func(r *StartRequest) { r.Interval = 0 }, "Interval must be a number greater than 0"},
		{"negative interval", func(r *StartRequest) { r.Interval = -time.Second }, "Interval must be a number greater than 0"},
		{"no data", func(r *StartRequest) { r.Files = nil; r.DefaultFile = missing }, ""},
		// Entries are checked before the endpoint.
		{"no data wins", func(r *StartRequest) { r.Files = nil; r.DefaultFile = missing; r.Host = "bad" }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctl := NewController(logx.Nop())
			req := StartRequest{Files: []string{file}, Host: "127.0.0.1", Port: 1000, Interval: time.Second}
			tc.mod(&req)

			err := ctl.Start(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
			if tc.msg != "" {
				assert.Equal(t, tc.msg, apperrors.UserMessage(err))
			}
			assert.Equal(t, StateIdle, ctl.State())
			assert.Equal(t, err, ctl.LastError())
			assert.Equal(t, string(apperrors.KindConfiguration), ctl.Status().LastErrorKind)
		})
	}
}

func TestValidateSettingsAccepts(t *testing.T) {
	for _, host := range []string{"0.0.0.0", "127.0.0.1", "::1", ""} {
		assert.NoError(t, ValidateSettings(host, 1, time.Millisecond), host)
	}
	assert.NoError(t, ValidateSettings("127.0.0.1", 65535, 10*time.Millisecond))
}

func TestBindFailureLeavesIdle(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	m := metrics.New(prometheus.NewRegistry())
	ctl := NewController(logx.Nop(), WithMetrics(m))
	req := request(t, writeEntries(t, "x"))
	req.Port = busy.Addr().(*net.TCPAddr).Port

	err = ctl.Start(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBind))
	assert.True(t, strings.HasPrefix(apperrors.UserMessage(err), "Port is in use or failed to start"))
	assert.Equal(t, StateIdle, ctl.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionStarts.WithLabelValues(metrics.StartBindError)))
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	ctl := NewController(logx.Nop(), WithClock(clockwork.NewFakeClock()))
	req := request(t, writeEntries(t, "x"))
	require.NoError(t, ctl.Start(context.Background(), req))
	t.Cleanup(func() { _ = ctl.Stop(context.Background()) })

	err := ctl.Start(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindState))
	assert.Equal(t, StateRunning, ctl.State())
	assert.NoError(t, ctl.LastError())
}

func TestStopClosesClientsAndIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	ctl := NewController(logx.Nop(), WithClock(clockwork.NewFakeClock()), WithBus(bus))
	req := request(t, writeEntries(t, "x"))
	require.NoError(t, ctl.Start(context.Background(), req))

	c := dial(t, ctl)
	waitClients(t, ctl, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctl.Stop(ctx))
	assert.Equal(t, StateIdle, ctl.State())
	assert.Equal(t, StopRequested, ctl.Status().StopReason)
	requireEOF(t, c)

	require.NoError(t, ctl.Stop(ctx))

	// The port is released and a fresh session can bind it again.
	require.NoError(t, ctl.Start(context.Background(), req))
	require.NoError(t, ctl.Stop(ctx))

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, eventbus.SessionStarted)
	assert.Contains(t, types, eventbus.ClientConnected)
	assert.Contains(t, types, eventbus.ClientDisconnected)
	assert.Contains(t, types, eventbus.SessionStopped)
}

func TestConcurrentStop(t *testing.T) {
	ctl := NewController(logx.Nop(), WithClock(clockwork.NewFakeClock()))
	require.NoError(t, ctl.Start(context.Background(), request(t, writeEntries(t, "x"))))
	dial(t, ctl)
	waitClients(t, ctl, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ctl.Stop(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, StateIdle, ctl.State())
}

func TestStopOnIdleIsNoop(t *testing.T) {
	ctl := NewController(logx.Nop())
	assert.NoError(t, ctl.Stop(context.Background()))
	assert.Equal(t, StateIdle, ctl.State())
	select {
	case <-ctl.Done():
	default:
		t.Fatal("Done should be closed when idle")
	}
}

func TestParentCancelStopsSession(t *testing.T) {
	ctl := NewController(logx.Nop(), WithClock(clockwork.NewFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctl.Start(ctx, request(t, writeEntries(t, "x"))))
	c := dial(t, ctl)
	waitClients(t, ctl, 1)

	cancel()
	waitDone(t, ctl)
	requireEOF(t, c)
	assert.Equal(t, StateIdle, ctl.State())
	assert.Equal(t, StopCanceled, ctl.Status().StopReason)
}
