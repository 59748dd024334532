// Package timeutil provides the German-locale formatting helpers used by
// snapshots and alert texts, plus a coarse rate limiter for periodic jobs.
package timeutil

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var weekdays = map[time.Weekday]string{
	time.Monday:    "Montag",
	time.Tuesday:   "Dienstag",
	time.Wednesday: "Mittwoch",
	time.Thursday:  "Donnerstag",
	time.Friday:    "Freitag",
	time.Saturday:  "Samstag",
	time.Sunday:    "Sonntag",
}

var months = map[time.Month]string{
	time.January:   "Januar",
	time.February:  "Februar",
	time.March:     "März",
	time.April:     "April",
	time.May:       "Mai",
	time.June:      "Juni",
	time.July:      "Juli",
	time.August:    "August",
	time.September: "September",
	time.October:   "Oktober",
	time.November:  "November",
	time.December:  "Dezember",
}

// FormatDuration renders a duration as German hours and minutes,
// e.g. "3 Stunden 5 Minuten" or "1 Minute".
func FormatDuration(d time.Duration) string {
	var parts []string
	hours := int(d.Hours())
	if hours != 0 {
		unit := "Stunden"
		if hours == 1 {
			unit = "Stunde"
		}
		parts = append(parts, fmt.Sprintf("%d %s", hours, unit))
	}
	minutes := int(d.Minutes()) % 60
	unit := "Minuten"
	if minutes == 1 {
		unit = "Minute"
	}
	parts = append(parts, fmt.Sprintf("%d %s", minutes, unit))
	return strings.Join(parts, " ")
}

// FormatTimestamp renders a timestamp relative to now in tz: today as
// "um 15:04 Uhr", yesterday, within a week by weekday, otherwise by date.
func FormatTimestamp(ts, now time.Time, tz *time.Location) string {
	t := ts.In(tz)
	n := now.In(tz)
	// Day difference is computed via rounding so DST transition days
	// (23 or 25 hours) still count as one day.
	days := int(math.Round(date(n).Sub(date(t)).Hours() / 24))
	switch {
	case days == 0:
		return fmt.Sprintf("um %02d:%02d Uhr", t.Hour(), t.Minute())
	case days == 1:
		return fmt.Sprintf("gestern um %02d:%02d Uhr", t.Hour(), t.Minute())
	case days < 7:
		return fmt.Sprintf("am %s um %02d:%02d Uhr", weekdays[t.Weekday()], t.Hour(), t.Minute())
	case t.Year() == n.Year():
		return fmt.Sprintf("am %02d. %s um %02d:%02d Uhr",
			t.Day(), months[t.Month()], t.Hour(), t.Minute())
	default:
		return fmt.Sprintf("am %02d. %s %d um %02d:%02d Uhr",
			t.Day(), months[t.Month()], t.Year(), t.Hour(), t.Minute())
	}
}

func date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
