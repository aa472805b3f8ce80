package httpx

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// ErrBadParam marks a malformed query parameter.
var ErrBadParam = errors.New("invalid query parameter")

// ParseTime accepts RFC3339 or a bare YYYY-MM-DD date, read as midnight in loc.
// An empty value returns the zero time.
func ParseTime(name, value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(traffic.DateLayout, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s=%q is neither RFC3339 nor YYYY-MM-DD", ErrBadParam, name, value)
}

// ParseLimit returns def for an empty value and caps the result at max.
func ParseLimit(value string, def, max int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit=%q must be a positive integer", ErrBadParam, value)
	}
	if n > max {
		n = max
	}
	return n, nil
}
