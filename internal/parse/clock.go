package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"
)

var clockRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)(?::([0-5]\d))?$`)

// Clock parses a time of day written as "H:MM", "HH:MM" or "HH:MM:SS" and
// returns it normalized to "HH:MM:SS" together with its offset from midnight.
func Clock(raw string) (string, time.Duration, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", 0, fmt.Errorf("invalid time of day %q", raw)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	offset := time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(sec)*time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, mm, sec), offset, nil
}

// FormatSeconds renders a non-negative second count as "HH:MM:SS".
func FormatSeconds(total int) string {
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// Seconds accepts either a number of seconds or an "HH:MM:SS" string, the
// two shapes the app sends for delay and alert offset. Hours are not capped
// at 23 because these are durations, not clock readings.
func Seconds(v any) (int, error) {
	if s, ok := v.(string); ok && strings.Contains(s, ":") {
		parts := strings.Split(strings.TrimSpace(s), ":")
		if len(parts) != 3 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		var total int
		for i, unit := range []int{3600, 60, 1} {
			n, err := strconv.Atoi(parts[i])
			if err != nil || n < 0 || (i > 0 && n > 59) {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			total += n * unit
		}
		return total, nil
	}

	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %v: %w", v, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("duration must not be negative: %d", n)
	}
	return n, nil
}

// Timestamp parses a device-reported timestamp in the location of ref.
// Inputs without a zone are taken as wall-clock time there. A bare time of
// day ("08:12" or "08:12:00") falls on the calendar day of ref.
func Timestamp(raw string, ref time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	loc := ref.Location()
	if clockRe.MatchString(raw) {
		_, offset, err := Clock(raw)
		if err != nil {
			return time.Time{}, err
		}
		midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
		return midnight.Add(offset), nil
	}
	t, err := dateparse.ParseIn(raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

// Weekday resolves an English day name ("Monday", "mon") to a time.Weekday.
func Weekday(raw string) (time.Weekday, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}
