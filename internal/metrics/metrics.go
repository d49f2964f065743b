// Package metrics exposes broadcaster counters as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Start results for SessionStarts.
const (
	StartOK          = "ok"
	StartConfigError = "config_error"
	StartBindError   = "bind_error"
	StartRejected    = "rejected"
)

// Metrics groups the broadcaster collectors. A nil *Metrics is a no-op so
// components can be built without a registry.
type Metrics struct {
	ClientsConnected    prometheus.Gauge
	ClientsAccepted     prometheus.Counter
	EntriesSent         prometheus.Counter
	ClientWriteFailures prometheus.Counter
	ClientCloseFailures prometheus.Counter
	AcceptErrors        prometheus.Counter
	SessionStarts       *prometheus.CounterVec
	// SessionState is 0=idle, 1=starting, 2=running, 3=stopping.
	SessionState prometheus.Gauge
	// GoroutinePanics counts recovered panics by goroutine name.
	GoroutinePanics *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClientsConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "broadcast_clients_connected",
			Help: "Subscribers currently registered",
		}),
		ClientsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_clients_accepted_total",
			Help: "Subscriber connections accepted",
		}),
		EntriesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_entries_sent_total",
			Help: "Broadcast passes completed (one per entry)",
		}),
		ClientWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_client_write_failures_total",
			Help: "Writes to a single subscriber that failed",
		}),
		ClientCloseFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_client_close_failures_total",
			Help: "Subscriber connection closes that returned an error",
		}),
		AcceptErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_accept_errors_total",
			Help: "Accept failures other than a deliberate listener close",
		}),
		SessionStarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcast_session_starts_total",
			Help: "Session start attempts by result",
		}, []string{"result"}),
		SessionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "broadcast_session_state",
			Help: "Controller state (0=idle, 1=starting, 2=running, 3=stopping)",
		}),
		GoroutinePanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcast_goroutine_panics_total",
			Help: "Panics recovered by a supervisor, by goroutine name",
		}, []string{"name"}),
	}
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ClientsAccepted.Inc()
	m.ClientsConnected.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.ClientsConnected.Dec()
}

func (m *Metrics) EntrySent() {
	if m == nil {
		return
	}
	m.EntriesSent.Inc()
}

func (m *Metrics) WriteFailed() {
	if m == nil {
		return
	}
	m.ClientWriteFailures.Inc()
}

func (m *Metrics) CloseFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ClientCloseFailures.Add(float64(n))
}

func (m *Metrics) AcceptFailed() {
	if m == nil {
		return
	}
	m.AcceptErrors.Inc()
}

func (m *Metrics) SessionStart(result string) {
	if m == nil {
		return
	}
	m.SessionStarts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetState(v int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(v))
}

// Panicked matches supervisor.WithPanicHook.
func (m *Metrics) Panicked(name string) {
	if m == nil {
		return
	}
	m.GoroutinePanics.WithLabelValues(name).Inc()
}
