// Package xtime parses and formats durations with calendar units, which the
// time package doesn't support.
package xtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

var durationRx = regexp.MustCompile(`(\d*\.\d+|\d+)([^\d.]*)`)

// calendarUnits are the units ParseDuration accepts in addition to the ones of
// time.ParseDuration.
var calendarUnits = map[string]time.Duration{
	"d": day, "D": day,
	"w": week, "W": week,
	"M": month,
	"y": year, "Y": year,
}

// ParseDuration parses a duration string such as "10d", "-1.5w", "3Y4M5d" or
// "1h30m". Months are 30 days long and years 365 days.
func ParseDuration(s string) (time.Duration, error) {
	in := s
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	matches := durationRx.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration '%s'", in)
	}

	var (
		total    time.Duration
		consumed int
	)
	for _, m := range matches {
		consumed += len(m[0])
		num, unit := m[1], strings.TrimSpace(m[2])

		if mult, ok := calendarUnits[unit]; ok {
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration '%s': %w", in, err)
			}
			total += time.Duration(f * float64(mult))
			continue
		}

		if unit == "" {
			return 0, fmt.Errorf("missing unit in duration '%s'", in)
		}
		d, err := time.ParseDuration(num + unit)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", in, err)
		}
		total += d
	}
	if consumed != len(s) {
		return 0, fmt.Errorf("invalid duration '%s'", in)
	}

	if neg {
		total = -total
	}

	return total, nil
}

var formatUnits = []struct {
	size   time.Duration
	suffix string
}{
	{year, "Y"},
	{month, "M"},
	{week, "w"},
	{day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// FormatDuration formats d with the units of ParseDuration, largest first,
// e.g. "1w2d" or "5m30s". d is rounded to round, and no unit smaller than
// round is written.
func FormatDuration(d time.Duration, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}

	for _, u := range formatUnits {
		if u.size < round {
			break
		}
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&sb, "%d%s", n, u.suffix)
			d -= n * u.size
		}
	}

	return sb.String()
}
