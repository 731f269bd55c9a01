// Package timestamp converts between time.Time and the forms timestamps take
// on the wire: unix milliseconds for emitted events and ISO 8601 strings (or
// numeric unix strings) from the telemetry feed.
//
// Zero Value Semantics:
//   - A millisecond value of 0 means "not set"
//   - The zero time.Time converts to 0 and back
//
// Usage:
//
//	ms := timestamp.ToUnixMs(event.Timestamp)
//	t := timestamp.FromUnixMs(ms)
//
//	if t, ok := timestamp.ParseTime(sample.Timestamp); ok {
//	    lag := time.Since(t)
//	}
package timestamp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// secondsCutoff separates unix seconds from unix milliseconds. Values above
// it (September 2001 in seconds) are read as milliseconds.
const secondsCutoff = 1e12

// maxUnixMs is the first millisecond of the year 3000
const maxUnixMs = 32503680000000

// ToUnixMs converts a time.Time to unix milliseconds. The zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts unix milliseconds to time.Time. 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders unix milliseconds as RFC 3339 in UTC with millisecond
// precision. It returns "" for 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTime reads a feed timestamp. ISO 8601 strings with or without zone
// are accepted, as are integer or fractional unix seconds and milliseconds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		return FromUnixMs(fromNumber(float64(n))), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f <= 0 {
			return time.Time{}, false
		}
		return FromUnixMs(fromNumber(f)), true
	}
	if t, err := iso8601.ParseString(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Parse converts a decoded JSON value to unix milliseconds. Numbers follow
// the seconds/milliseconds cutoff, strings go through ParseTime. Anything
// else, including unparseable input, yields 0.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0
	case int64:
		return fromNumber(float64(v))
	case int:
		return fromNumber(float64(v))
	case float64:
		return fromNumber(v)
	case string:
		t, ok := ParseTime(v)
		if !ok {
			return 0
		}
		return ToUnixMs(t)
	case time.Time:
		return ToUnixMs(v)
	default:
		return 0
	}
}

func fromNumber(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v > secondsCutoff {
		return int64(v)
	}
	return int64(math.Round(v * 1000))
}

// Validate rejects negative values and values past the year 3000
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", ms)
	}
	if ms > maxUnixMs {
		return fmt.Errorf("timestamp too far in future: %d", ms)
	}
	return nil
}
