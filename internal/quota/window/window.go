// Package window computes the per-day quota window in a fixed UTC offset.
package window

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/meterguard/pkg/errs"
)

var (
	ErrInvalidOffset    = errs.New(errs.KindValidation, "invalid_utc_offset")
	ErrInvalidResetTime = errs.New(errs.KindValidation, "invalid_reset_time")
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

var offsetPattern = regexp.MustCompile(`^(?i:utc|gmt)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// ParseUTCOffset accepts "UTC+8", "UTC-05:30", "+08:00", "-0530" and "UTC".
func ParseUTCOffset(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrInvalidOffset
	}
	switch strings.ToUpper(s) {
	case "UTC", "GMT", "Z":
		return 0, nil
	}
	m := offsetPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}
	hours, _ := strconv.Atoi(m[2])
	minutes := 0
	if m[3] != "" {
		minutes, _ = strconv.Atoi(m[3])
	}
	if hours > 14 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// ParseResetTime parses "HH:MM" into an offset from local midnight.
func ParseResetTime(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResetTime, raw)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResetTime, raw)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResetTime, raw)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// DayWindow returns the day window containing now for the given offset and
// reset time. The result is in UTC.
func DayWindow(now time.Time, offset, reset time.Duration) Window {
	local := now.UTC().Add(offset)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	start := midnight.Add(reset)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	end := start.AddDate(0, 0, 1)
	return Window{Start: start.Add(-offset), End: end.Add(-offset)}
}

// Resolve parses offset and reset strings and returns the window containing now.
func Resolve(now time.Time, utcOffset, resetTime string) (Window, error) {
	offset, err := ParseUTCOffset(utcOffset)
	if err != nil {
		return Window{}, err
	}
	reset, err := ParseResetTime(resetTime)
	if err != nil {
		return Window{}, err
	}
	return DayWindow(now, offset, reset), nil
}

// Days returns n consecutive windows ending with the one containing now, oldest first.
func Days(now time.Time, offset, reset time.Duration, n int) []Window {
	if n <= 0 {
		return nil
	}
	current := DayWindow(now, offset, reset)
	out := make([]Window, n)
	for i := 0; i < n; i++ {
		back := n - 1 - i
		out[i] = Window{
			Start: current.Start.AddDate(0, 0, -back),
			End:   current.End.AddDate(0, 0, -back),
		}
	}
	return out
}
