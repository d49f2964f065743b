package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	apperrors "databroadcast/internal/errors"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

const maxIntervalSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseInterval accepts a plain number of seconds ("1", "0.01") or a Go
// duration ("250ms"). The result is always > 0.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	invalid := func() error {
		return apperrors.ConfigurationError("Interval must be a number greater than 0").WithContext("interval", raw)
	}
	if s == "" {
		return 0, invalid()
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || f <= 0 || f > maxIntervalSeconds {
			return 0, invalid()
		}
		d := time.Duration(f * float64(time.Second))
		if d <= 0 {
			return 0, invalid()
		}
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, invalid()
	}
	return d, nil
}
