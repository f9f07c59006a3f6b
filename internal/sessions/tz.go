package sessions

import "time"

// zoneRules holds a static offset table for an IANA zone. US zones have
// followed the second-Sunday-March / first-Sunday-November schedule since
// 2007; queries outside the validity range are answered with the same rules
// and flagged approximate by the calendar.
type zoneRules struct {
	stdOffset time.Duration
	dstOffset time.Duration
	validFrom int
	validTo   int
}

var usZones = map[string]zoneRules{
	"America/New_York": {stdOffset: -5 * time.Hour, dstOffset: -4 * time.Hour, validFrom: 2007, validTo: 2035},
	"America/Chicago":  {stdOffset: -6 * time.Hour, dstOffset: -5 * time.Hour, validFrom: 2007, validTo: 2035},
}

// inDST reports whether a calendar date falls inside US daylight saving
// time. Transition days count as the post-transition offset because the
// switch happens at 02:00 local, before any session opens.
func inDST(year int, month time.Month, day int) bool {
	start := nthWeekday(year, time.March, time.Sunday, 2)
	end := nthWeekday(year, time.November, time.Sunday, 1)
	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return !date.Before(start) && date.Before(end)
}

// offsetFor returns the UTC offset of a zone on a calendar date.
func offsetFor(zone string, year int, month time.Month, day int) time.Duration {
	rules, ok := usZones[zone]
	if !ok {
		return 0
	}
	if inDST(year, month, day) {
		return rules.dstOffset
	}
	return rules.stdOffset
}

// zoneValid reports whether the year is covered by the zone's rule table.
func zoneValid(zone string, year int) bool {
	rules, ok := usZones[zone]
	if !ok {
		return false
	}
	return year >= rules.validFrom && year <= rules.validTo
}

// wallToUTC converts an exchange-local wall clock time on a calendar date
// to UTC using the static offset table.
func wallToUTC(zone string, year int, month time.Month, day, hour, min int) time.Time {
	offset := offsetFor(zone, year, month, day)
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC).Add(-offset)
}

// nthWeekday returns the nth given weekday of a month at 00:00 UTC.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last given weekday of a month at 00:00 UTC.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	last := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}
