package sessions

import "time"

// holidayRule describes one recurring full-closure rule. ValidFrom/ValidTo
// bound the years the rule is known to apply; zero means open-ended within
// the calendar's overall validity range.
type holidayRule struct {
	name      string
	date      func(year int) time.Time
	observed  bool
	validFrom int
	validTo   int
}

// usHolidayRules is the shared US full-closure table. XNYS, XNAS and XCME
// all observe these as full trading halts in this model.
var usHolidayRules = []holidayRule{
	{name: "new_years_day", date: fixedDate(time.January, 1), observed: true},
	{name: "mlk_day", date: nthWeekdayDate(time.January, time.Monday, 3)},
	{name: "presidents_day", date: nthWeekdayDate(time.February, time.Monday, 3)},
	{name: "good_friday", date: goodFriday},
	{name: "memorial_day", date: lastWeekdayDate(time.May, time.Monday)},
	{name: "juneteenth", date: fixedDate(time.June, 19), observed: true, validFrom: 2022},
	{name: "independence_day", date: fixedDate(time.July, 4), observed: true},
	{name: "labor_day", date: nthWeekdayDate(time.September, time.Monday, 1)},
	{name: "thanksgiving", date: nthWeekdayDate(time.November, time.Thursday, 4)},
	{name: "christmas", date: fixedDate(time.December, 25), observed: true},
}

func fixedDate(month time.Month, day int) func(int) time.Time {
	return func(year int) time.Time {
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}
}

func nthWeekdayDate(month time.Month, weekday time.Weekday, n int) func(int) time.Time {
	return func(year int) time.Time {
		return nthWeekday(year, month, weekday, n)
	}
}

func lastWeekdayDate(month time.Month, weekday time.Weekday) func(int) time.Time {
	return func(year int) time.Time {
		return lastWeekday(year, month, weekday)
	}
}

// goodFriday derives Good Friday from the Gregorian Easter computus.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := time.Month((h + l - 7*m + 114) / 31)
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}

// observe shifts weekend holidays to their observed trading date.
// Saturday holidays move to Friday; a Saturday New Year is not observed
// at all because the preceding Friday falls in the prior year.
func observe(date time.Time) (time.Time, bool) {
	switch date.Weekday() {
	case time.Saturday:
		if date.Month() == time.January && date.Day() == 1 {
			return time.Time{}, false
		}
		return date.AddDate(0, 0, -1), true
	case time.Sunday:
		return date.AddDate(0, 0, 1), true
	default:
		return date, true
	}
}

// holidaySet computes the observed full-closure dates for a year,
// keyed by midnight UTC.
func holidaySet(year int) map[time.Time]string {
	set := make(map[time.Time]string, len(usHolidayRules))
	for _, rule := range usHolidayRules {
		if rule.validFrom != 0 && year < rule.validFrom {
			continue
		}
		if rule.validTo != 0 && year > rule.validTo {
			continue
		}
		date := rule.date(year)
		if rule.observed {
			shifted, ok := observe(date)
			if !ok {
				continue
			}
			date = shifted
		}
		set[date] = rule.name
	}
	return set
}

// earlyCloseSet computes half-day dates for a year, keyed by midnight UTC.
// A date already covered by a full closure is never a half day.
func earlyCloseSet(year int, holidays map[time.Time]string) map[time.Time]string {
	set := make(map[time.Time]string, 3)

	add := func(date time.Time, name string) {
		wd := date.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return
		}
		if _, closed := holidays[date]; closed {
			return
		}
		set[date] = name
	}

	add(time.Date(year, time.July, 3, 0, 0, 0, 0, time.UTC), "pre_independence_day")
	add(nthWeekday(year, time.November, time.Thursday, 4).AddDate(0, 0, 1), "post_thanksgiving")
	add(time.Date(year, time.December, 24, 0, 0, 0, 0, time.UTC), "christmas_eve")

	return set
}
