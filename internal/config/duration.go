package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a required duration string, naming the field in
// the error so validation messages point at the offending key.
func ParseDurationField(field, value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, fmt.Errorf("%s: empty duration", field)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, v)
	}
	return d, nil
}

// ParseDurationOrDefault parses an optional duration string, returning def
// when the value is empty.
func ParseDurationOrDefault(field, value string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	return ParseDurationField(field, value)
}
