package config

import (
	"reflect"
	"strings"

	logx "databroadcast/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and log-safe
// fields describing the new values. Tokens are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Server, newCfg.Server
	if strings.TrimSpace(o.Host) != strings.TrimSpace(n.Host) ||
		o.Port != n.Port ||
		strings.TrimSpace(o.Interval.String()) != strings.TrimSpace(n.Interval.String()) ||
		!reflect.DeepEqual(o.Files, n.Files) ||
		strings.TrimSpace(o.DefaultFile) != strings.TrimSpace(n.DefaultFile) ||
		strings.TrimSpace(o.StartDelay) != strings.TrimSpace(n.StartDelay) ||
		strings.TrimSpace(o.WriteTimeout) != strings.TrimSpace(n.WriteTimeout) ||
		o.Autostart != n.Autostart ||
		o.ExitWhenDone != n.ExitWhenDone {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.host", strings.TrimSpace(n.Host)),
			logx.Int("server.port", n.Port),
			logx.String("server.interval", n.Interval.String()),
			logx.Int("server.files", len(n.Files)),
			logx.Bool("server.autostart", n.Autostart),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Enabled != no.Enabled ||
		strings.TrimSpace(oo.Addr) != strings.TrimSpace(no.Addr) ||
		oo.AllowInsecure != no.AllowInsecure ||
		oo.Pprof != no.Pprof ||
		strings.TrimSpace(oo.ReadTimeout) != strings.TrimSpace(no.ReadTimeout) ||
		strings.TrimSpace(oo.WriteTimeout) != strings.TrimSpace(no.WriteTimeout) ||
		strings.TrimSpace(oo.IdleTimeout) != strings.TrimSpace(no.IdleTimeout) ||
		oo.Token != no.Token {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""),
			logx.Bool("ops.pprof", no.Pprof),
		)
	}

	if strings.TrimSpace(oldCfg.Schedule.Start) != strings.TrimSpace(newCfg.Schedule.Start) ||
		strings.TrimSpace(oldCfg.Schedule.Timezone) != strings.TrimSpace(newCfg.Schedule.Timezone) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.start", strings.TrimSpace(newCfg.Schedule.Start)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	return changed, attrs
}
