package config

import (
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"

	apperrors "databroadcast/internal/errors"
)

const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 1000
	DefaultInterval = "1s"
	DefaultDataFile = "data.txt"
	DefaultOpsAddr  = "127.0.0.1:9100"
	DefaultLogLevel = "info"
)

// Defaults returns the configuration used when no file is given. Files are
// decoded on top of it, so omitted keys keep these values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			Interval:     DefaultInterval,
			DefaultFile:  DefaultDataFile,
			StartDelay:   "0s",
			WriteTimeout: "0s",
			Autostart:    true,
			ExitWhenDone: true,
		},
		Logging: LoggingConfig{
			Level:   DefaultLogLevel,
			Console: true,
		},
		Ops: OpsConfig{
			Addr: DefaultOpsAddr,
		},
		Systemd: SystemdConfig{Notify: true},
	}
}

var (
	validate  = newValidator()
	hostnames = validator.New()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("listen_addr", listenAddr)
	return v
}

// listenAddr accepts "host:port" where host is empty, an IP literal
// (IPv6 in brackets) or a hostname, and port is 0-65535.
func listenAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return false
	}
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return hostnames.Var(host, "hostname_rfc1123") == nil
}

// Validate checks everything that can be checked without other packages:
// duration fields, the interval, log level, ops address and timezone.
// Endpoint rules for host and port live with the server.
func Validate(cfg *Config) error {
	if cfg == nil {
		return apperrors.ConfigurationError("config is nil")
	}
	if _, err := ParseInterval(cfg.Server.Interval.String()); err != nil {
		return err
	}
	durations := []struct{ path, raw string }{
		{"server.start_delay", cfg.Server.StartDelay},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return apperrors.ConfigurationErrorf("invalid duration", err).WithContext("field", d.path)
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return apperrors.ConfigurationErrorf("invalid config", err)
	}
	return nil
}
