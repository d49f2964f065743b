package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Ops      OpsConfig      `json:"ops"`
	Schedule ScheduleConfig `json:"schedule"`
	Systemd  SystemdConfig  `json:"systemd"`
}

// ServerConfig describes the broadcast session started by the daemon.
//
// Changes to this section are picked up by the next session start; a running
// session keeps the settings it was started with.
type ServerConfig struct {
	// Host must be an IP literal ("0.0.0.0", "::1").
	Host string `json:"host"`
	Port int    `json:"port"`
	// Interval between entries: a Go duration ("250ms") or seconds (0.01).
	Interval Interval `json:"interval"`

	Files       []string `json:"files,omitempty"`
	DefaultFile string   `json:"default_file,omitempty"`

	// Go duration strings; "0s" or empty disables.
	StartDelay   string `json:"start_delay,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`

	// Autostart starts a session right after boot.
	Autostart bool `json:"autostart"`
	// ExitWhenDone stops the daemon once a session ends on its own.
	ExitWhenDone bool `json:"exit_when_done"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// OpsConfig controls the optional operator HTTP endpoint.
//
// Security note:
//   - Prefer binding to localhost (the default "127.0.0.1:9100").
//   - A non-loopback bind needs a token or an explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,listen_addr"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts /debug/pprof/ on the same server.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ScheduleConfig starts sessions on a cron spec, e.g. "0 */5 * * * *" or
// "@every 10m". A start is skipped while a session is already running.
type ScheduleConfig struct {
	Start    string `json:"start,omitempty"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type SystemdConfig struct {
	// Notify sends READY/STATUS/STOPPING and watchdog pings when running
	// under a Type=notify unit. Outside systemd it does nothing.
	Notify bool `json:"notify"`
}

// Interval decodes from a JSON string or number and keeps the literal text.
type Interval string

func (iv *Interval) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*iv = Interval(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("interval: want a duration string or a number of seconds, got %s", b)
	}
	*iv = Interval(n.String())
	return nil
}

func (iv Interval) String() string { return string(iv) }
