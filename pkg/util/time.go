package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// DayKey formats t as a calendar day in loc (UTC when loc is nil).
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// ParseDays parses YYYY-MM-DD strings into a lookup set keyed by DayKey.
func ParseDays(days []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(days))
	for _, d := range days {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, err
		}
		set[t.Format("2006-01-02")] = struct{}{}
	}
	return set, nil
}
