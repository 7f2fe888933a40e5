package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ParseEpochMillis converts a decimal epoch-milliseconds string to a UTC time.
func ParseEpochMillis(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch millis: %w", err)
	}
	if ms < 0 {
		return time.Time{}, fmt.Errorf("epoch millis must not be negative")
	}
	return time.UnixMilli(ms).UTC(), nil
}

// EpochMillis renders a time as epoch milliseconds; zero times map to 0.
func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
