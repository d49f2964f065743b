package server

import (
	"fmt"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StopReason records why a session ended.
type StopReason string

const (
	StopRequested StopReason = "requested"
	StopExhausted StopReason = "exhausted"
	StopCanceled  StopReason = "canceled"
)

// Status is a point-in-time view for operators. When idle it still carries
// the last session's figures.
type Status struct {
	State           State      `json:"state"`
	Text            string     `json:"text"`
	SessionID       string     `json:"session_id,omitempty"`
	Addr            string     `json:"addr,omitempty"`
	IntervalSeconds float64    `json:"interval_seconds,omitempty"`
	Entries         int        `json:"entries"`
	Files           int        `json:"files"`
	Clients         int        `json:"clients"`
	Sent            int64      `json:"sent"`
	StartedAt       time.Time  `json:"started_at"`
	StopReason      StopReason `json:"stop_reason,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastErrorKind   string     `json:"last_error_kind,omitempty"`
}

// Event payloads published on the bus.

type SessionEvent struct {
	SessionID string
	Addr      string
	Entries   int
	Interval  time.Duration
	Reason    StopReason
	Sent      int64
	Err       string
}

type ClientEvent struct {
	SessionID string
	ClientID  string
	Addr      string
	Clients   int
}

type EntryEvent struct {
	SessionID string
	Index     int
	Total     int
	Clients   int
	Failures  int
}

func runningText(addr string, interval time.Duration) string {
	return fmt.Sprintf("Running: %s  |  Interval %gs", addr, interval.Seconds())
}
