package timex

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultLifetime is used whenever a lifetime string cannot be parsed.
// Falling back to a short, fixed value keeps a typo in configuration from
// producing either an unusable service or very long-lived credentials.
const DefaultLifetime = 15 * time.Minute

var lifetimePattern = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

// ParseLifetime parses "<integer><unit>" where unit is one of s, m, h, d
// ("15m", "7d"). Any other input yields DefaultLifetime and ok=false so the
// caller can report the fallback.
func ParseLifetime(s string) (d time.Duration, ok bool) {
	m := lifetimePattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultLifetime, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return DefaultLifetime, false
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	// reject values that would overflow time.Duration
	if n > int64(1<<63-1)/int64(unit) {
		return DefaultLifetime, false
	}
	return time.Duration(n) * unit, true
}

// LifetimeSeconds is ParseLifetime expressed in whole seconds.
func LifetimeSeconds(s string) int64 {
	d, _ := ParseLifetime(s)
	return int64(d / time.Second)
}
