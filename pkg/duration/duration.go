// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with support for days and weeks.
//
// Supported units (case-insensitive, with plural/singular variants):
//   - ns, us/µs, ms, s, m, h: standard Go units
//   - sec, second(s), min, minute(s), hr, hour(s): full-word forms
//   - d, day(s): days (24 hours)
//   - w, wk, week(s): weeks (7 days)
//
// Examples:
//   - "3 days" = 72 hours
//   - "1w2d12h" = 1 week, 2 days, 12 hours
//   - "720h" = 720 hours (standard Go format)
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnitHours maps day and week unit names to their hour multiplier.
// Hours are the largest unit time.ParseDuration accepts natively.
var extendedUnitHours = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"wks":   7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,

	"d":    24,
	"day":  24,
	"days": 24,
}

// standardUnitReplacements maps full-word time units to their Go duration
// equivalents so users can write "3 hours" instead of "3h".
var standardUnitReplacements = map[string]string{
	"hour":  "h",
	"hours": "h",
	"hr":    "h",
	"hrs":   "h",

	"minute":  "m",
	"minutes": "m",
	"min":     "m",
	"mins":    "m",

	"second":  "s",
	"seconds": "s",
	"sec":     "s",
	"secs":    "s",

	"millisecond":  "ms",
	"milliseconds": "ms",

	"microsecond":  "us",
	"microseconds": "us",

	"nanosecond":  "ns",
	"nanoseconds": "ns",
}

// extendedUnitPattern matches week and day units with optional whitespace
// between number and unit. Examples: "30d", "30 days", "2weeks".
var extendedUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// standardUnitPattern matches standard time units written as full words.
// Examples: "3 hours", "30 minutes", "5 seconds".
var standardUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|microseconds?|nanoseconds?)`)

// Parse parses a human-readable duration string.
// It extends Go's standard time.ParseDuration with support for:
//   - d/day/days: days (24 hours)
//   - w/wk/week/weeks: weeks (7 days)
//
// Whitespace between number and unit is optional: "3d" and "3 days" are
// equivalent. Extended units are converted to hours before delegating to
// time.ParseDuration.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	s = strings.TrimSpace(s)

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var totalHours int64

	// Convert week and day units to hours
	remaining := extendedUnitPattern.ReplaceAllStringFunc(s, func(match string) string {
		matches := extendedUnitPattern.FindStringSubmatch(match)
		if len(matches) == 3 {
			value, _ := strconv.ParseInt(matches[1], 10, 64)
			if multiplier, ok := extendedUnitHours[strings.ToLower(matches[2])]; ok {
				totalHours += value * multiplier
			}
		}
		return ""
	})

	// Convert full-word time units to short form
	remaining = standardUnitPattern.ReplaceAllStringFunc(remaining, func(match string) string {
		matches := standardUnitPattern.FindStringSubmatch(match)
		if len(matches) == 3 {
			if shortUnit, ok := standardUnitReplacements[strings.ToLower(matches[2])]; ok {
				return matches[1] + shortUnit
			}
		}
		return match
	})

	// Go's duration parser doesn't accept spaces between units
	remaining = strings.Join(strings.Fields(strings.TrimSpace(remaining)), "")

	var durationStr string
	if totalHours > 0 {
		durationStr = fmt.Sprintf("%dh", totalHours)
	}
	durationStr += remaining

	if durationStr == "" {
		durationStr = "0s"
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}

	if negative {
		d = -d
	}

	return d, nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
// Use only for compile-time constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format converts a duration to a human-readable string. Weeks and days are
// extracted first; the sub-day remainder uses time.Duration's standard
// formatting. Example: 9.5 days becomes "1w2d12h0m0s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var result strings.Builder

	weeks := d / Week
	d -= weeks * Week

	days := d / Day
	d -= days * Day

	if weeks > 0 {
		fmt.Fprintf(&result, "%dw", weeks)
	}
	if days > 0 {
		fmt.Fprintf(&result, "%dd", days)
	}
	if d > 0 {
		result.WriteString(d.String())
	}

	if result.Len() == 0 {
		return "0s"
	}

	if negative {
		return "-" + result.String()
	}
	return result.String()
}
