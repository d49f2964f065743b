package server

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"databroadcast/internal/entries"
	apperrors "databroadcast/internal/errors"
)

const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 1000
	DefaultInterval = time.Second
)

// StartRequest is everything a session needs from its caller.
type StartRequest struct {
	// Files are read in order; when they yield nothing DefaultFile is used.
	Files       []string
	DefaultFile string

	// Host must be an IP literal; empty means DefaultHost.
	Host string
	Port int

	Interval time.Duration
	// StartDelay postpones the first broadcast pass.
	StartDelay time.Duration
	// WriteTimeout bounds each write to a subscriber; zero means none.
	WriteTimeout time.Duration
}

// settings holds the fields checked by struct tags, in reporting order.
type settings struct {
	Host         string        `validate:"required,ip"`
	Port         int           `validate:"min=1,max=65535"`
	Interval     time.Duration `validate:"gt=0"`
	StartDelay   time.Duration `validate:"gte=0"`
	WriteTimeout time.Duration `validate:"gte=0"`
}

var validate = validator.New()

// plan is a validated StartRequest.
type plan struct {
	entries      []entries.Entry
	files        int
	addr         string
	interval     time.Duration
	startDelay   time.Duration
	writeTimeout time.Duration
}

// resolve loads entries and validates the endpoint. The first failing check
// wins; nothing touches the network.
func (r StartRequest) resolve() (plan, error) {
	ents, err := entries.Load(r.Files, r.DefaultFile)
	if err != nil {
		return plan{}, err
	}

	host := strings.TrimSpace(r.Host)
	if host == "" {
		host = DefaultHost
	}
	st := settings{
		Host:         host,
		Port:         r.Port,
		Interval:     r.Interval,
		StartDelay:   r.StartDelay,
		WriteTimeout: r.WriteTimeout,
	}
	if err := validateStruct(st); err != nil {
		return plan{}, err
	}

	return plan{
		entries:      ents,
		files:        len(r.Files),
		addr:         net.JoinHostPort(host, strconv.Itoa(r.Port)),
		interval:     r.Interval,
		startDelay:   r.StartDelay,
		writeTimeout: r.WriteTimeout,
	}, nil
}

// ValidateSettings checks host, port and interval the way Start does. Config
// reload uses it to reject a bad file before it is committed.
func ValidateSettings(host string, port int, interval time.Duration) error {
	if strings.TrimSpace(host) == "" {
		host = DefaultHost
	}
	return validateStruct(settings{Host: host, Port: port, Interval: interval})
}

func validateStruct(st settings) error {
	err := validate.Struct(st)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fieldError(verrs[0])
	}
	return apperrors.ConfigurationErrorf("invalid settings", err)
}

func fieldError(fe validator.FieldError) error {
	switch fe.Field() {
	case "Host":
		return apperrors.ConfigurationError("Invalid IP format").WithContext("host", fe.Value())
	case "Port":
		return apperrors.ConfigurationError("Port must be an integer between 1 and 65535").WithContext("port", fe.Value())
	case "Interval":
		return apperrors.ConfigurationError("Interval must be a number greater than 0").WithContext("interval", fe.Value())
	case "StartDelay":
		return apperrors.ConfigurationError("Start delay must not be negative")
	case "WriteTimeout":
		return apperrors.ConfigurationError("Write timeout must not be negative")
	default:
		return apperrors.ConfigurationError("invalid " + fe.Field())
	}
}
