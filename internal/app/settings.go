package app

import (
	"context"
	"strings"

	"databroadcast/internal/config"
	"databroadcast/internal/ops"
	"databroadcast/internal/schedule"
	"databroadcast/internal/server"
	logx "databroadcast/pkg/logx"
)

// Overrides are command-line values that win over the config file. They
// are re-applied to every reloaded config.
type Overrides struct {
	Host        *string
	Port        *int
	Interval    *string
	Files       []string
	DefaultFile *string
	LogLevel    *string
}

// apply returns a copy of cfg with the overrides set. cfg is not modified.
func (o Overrides) apply(cfg *config.Config) *config.Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.Server.Files = append([]string(nil), cfg.Server.Files...)

	if o.Host != nil {
		out.Server.Host = *o.Host
	}
	if o.Port != nil {
		out.Server.Port = *o.Port
	}
	if o.Interval != nil {
		out.Server.Interval = config.Interval(*o.Interval)
	}
	if len(o.Files) > 0 {
		out.Server.Files = append([]string(nil), o.Files...)
	}
	if o.DefaultFile != nil {
		out.Server.DefaultFile = *o.DefaultFile
	}
	if o.LogLevel != nil {
		out.Logging.Level = *o.LogLevel
	}
	return &out
}

// validate runs every check a config must pass before it is committed:
// the config package rules, the server endpoint rules and the cron spec.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	interval, err := config.ParseInterval(cfg.Server.Interval.String())
	if err != nil {
		return err
	}
	host := strings.TrimSpace(cfg.Server.Host)
	if host == "" {
		host = server.DefaultHost
	}
	if err := server.ValidateSettings(host, cfg.Server.Port, interval); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Schedule.Start); spec != "" {
		if _, err := schedule.ParseSpec(spec); err != nil {
			return err
		}
	}
	return nil
}

func startRequest(cfg *config.Config) (server.StartRequest, error) {
	sc := cfg.Server
	interval, err := config.ParseInterval(sc.Interval.String())
	if err != nil {
		return server.StartRequest{}, err
	}
	delay, err := config.ParseDurationField("server.start_delay", sc.StartDelay)
	if err != nil {
		return server.StartRequest{}, err
	}
	wt, err := config.ParseDurationField("server.write_timeout", sc.WriteTimeout)
	if err != nil {
		return server.StartRequest{}, err
	}
	return server.StartRequest{
		Files:        sc.Files,
		DefaultFile:  sc.DefaultFile,
		Host:         sc.Host,
		Port:         sc.Port,
		Interval:     interval,
		StartDelay:   delay,
		WriteTimeout: wt,
	}, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func opsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	rt, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func scheduleConfig(cfg *config.Config) schedule.Config {
	return schedule.Config{Start: cfg.Schedule.Start, Timezone: cfg.Schedule.Timezone}
}

// applyRuntime pushes the hot-reloadable sections to their owners.
func (a *App) applyRuntime(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(loggingConfig(cfg))

	if oc, err := opsConfig(cfg); err != nil {
		a.log.Warn("ops config not applied", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	if err := a.sched.Apply(scheduleConfig(cfg)); err != nil {
		a.log.Warn("schedule config not applied", logx.Err(err))
	}
}
