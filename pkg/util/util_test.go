package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestDayKeyUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	// 02:00 UTC is still the previous evening in New York.
	ts := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	if got := DayKey(ts, ny); got != "2026-03-09" {
		t.Fatalf("got %s", got)
	}
	if got := DayKey(ts, nil); got != "2026-03-10" {
		t.Fatalf("got %s", got)
	}
}

func TestParseDays(t *testing.T) {
	set, err := ParseDays([]string{"2026-12-25", "2026-07-03"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set["2026-12-25"]; !ok {
		t.Fatalf("missing holiday")
	}
	if _, err := ParseDays([]string{"25/12/2026"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("a very long note", 8); got != "a ver..." {
		t.Fatalf("got %q", got)
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault("", 5) != 5 || ParseIntDefault("x", 5) != 5 || ParseIntDefault("12", 5) != 12 {
		t.Fatalf("unexpected parse")
	}
	if ClampInt(500, 1, 200) != 200 || ClampInt(-1, 1, 200) != 1 {
		t.Fatalf("unexpected clamp")
	}
}
