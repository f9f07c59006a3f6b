// Package sessions answers trading-hours questions for the exchanges the
// cache serves: which sessions a trading day has, whether a date is a
// holiday and where the regular-hours window sits in UTC.
package sessions

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/barkeep/internal/symbols"
)

// SessionType classifies a trading session.
type SessionType string

const (
	SessionRTH     SessionType = "RTH"
	SessionETHPre  SessionType = "ETH_PRE"
	SessionETHPost SessionType = "ETH_POST"
)

// MIC codes for the exchanges the calendar knows about.
const (
	ExchangeNYSE   = "XNYS"
	ExchangeNasdaq = "XNAS"
	ExchangeCME    = "XCME"
)

// TimeWindow is a half-open UTC interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Session is one trading session of a single exchange day, in UTC.
// Approximate is set when the date falls outside the validity range of the
// static timezone tables and the answer is best-effort.
type Session struct {
	Type        SessionType `json:"type"`
	Exchange    string      `json:"exchange"`
	Window      TimeWindow  `json:"window"`
	Approximate bool        `json:"approximate,omitempty"`
}

// wall is a local wall-clock time of day.
type wall struct {
	hour, min int
}

// exchangeSpec is the static schedule of one exchange. Pre sessions may
// start on the previous calendar day (CME Globex opens at 17:00 the
// evening before).
type exchangeSpec struct {
	zone       string
	preStart   wall
	prePrevDay bool
	rthStart   wall
	rthEnd     wall
	postEnd    wall
	earlyClose wall
	hasPre     bool
	hasPost    bool
}

var exchangeSpecs = map[string]exchangeSpec{
	ExchangeNYSE: {
		zone:       "America/New_York",
		preStart:   wall{4, 0},
		rthStart:   wall{9, 30},
		rthEnd:     wall{16, 0},
		postEnd:    wall{20, 0},
		earlyClose: wall{13, 0},
		hasPre:     true,
		hasPost:    true,
	},
	ExchangeNasdaq: {
		zone:       "America/New_York",
		preStart:   wall{4, 0},
		rthStart:   wall{9, 30},
		rthEnd:     wall{16, 0},
		postEnd:    wall{20, 0},
		earlyClose: wall{13, 0},
		hasPre:     true,
		hasPost:    true,
	},
	ExchangeCME: {
		zone:       "America/Chicago",
		preStart:   wall{17, 0},
		prePrevDay: true,
		rthStart:   wall{8, 30},
		rthEnd:     wall{15, 0},
		postEnd:    wall{16, 0},
		earlyClose: wall{12, 15},
		hasPre:     true,
		hasPost:    true,
	},
}

// Calendar resolves symbols to exchanges and builds their session windows.
type Calendar struct {
	normalizer *symbols.Normalizer
	log        zerolog.Logger
}

// NewCalendar creates a session calendar backed by the symbol normalizer.
func NewCalendar(normalizer *symbols.Normalizer, log zerolog.Logger) *Calendar {
	return &Calendar{
		normalizer: normalizer,
		log:        log.With().Str("component", "session_calendar").Logger(),
	}
}

// ExchangeFor maps a symbol to its exchange MIC. Futures contracts and
// continuous roots trade on CME; everything else defaults to NYSE.
// Unparseable symbols return an empty MIC.
func (c *Calendar) ExchangeFor(symbol string) string {
	norm, err := c.normalizer.Normalize(symbol)
	if err != nil {
		return ""
	}
	if norm.IsContract || norm.IsContinuous {
		return ExchangeCME
	}
	return ExchangeNYSE
}

// SessionsFor returns the sessions of the symbol's exchange on the given
// trading date. The date's UTC calendar day identifies the trading day.
// Weekends and holidays return no sessions; early-close days return a
// truncated RTH and no post session.
func (c *Calendar) SessionsFor(date time.Time, symbol string) []Session {
	mic := c.ExchangeFor(symbol)
	if mic == "" {
		return nil
	}
	return c.SessionsForExchange(date, mic)
}

// SessionsForExchange is SessionsFor keyed directly by MIC.
func (c *Calendar) SessionsForExchange(date time.Time, mic string) []Session {
	spec, ok := exchangeSpecs[mic]
	if !ok {
		return nil
	}

	year, month, day := date.UTC().Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	if wd := midnight.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil
	}

	holidays := holidaySet(year)
	if name, closed := holidays[midnight]; closed {
		c.log.Debug().Str("exchange", mic).Str("holiday", name).Time("date", midnight).Msg("Exchange closed")
		return nil
	}

	approximate := !zoneValid(spec.zone, year)
	if approximate {
		c.log.Debug().Str("exchange", mic).Int("year", year).Msg("Date outside timezone table validity, answering best-effort")
	}

	_, early := earlyCloseSet(year, holidays)[midnight]

	at := func(w wall, prevDay bool) time.Time {
		y, m, d := year, month, day
		if prevDay {
			y, m, d = midnight.AddDate(0, 0, -1).Date()
		}
		return wallToUTC(spec.zone, y, m, d, w.hour, w.min)
	}

	rthEnd := spec.rthEnd
	if early {
		rthEnd = spec.earlyClose
	}

	sessions := make([]Session, 0, 3)
	if spec.hasPre {
		sessions = append(sessions, Session{
			Type:        SessionETHPre,
			Exchange:    mic,
			Window:      TimeWindow{Start: at(spec.preStart, spec.prePrevDay), End: at(spec.rthStart, false)},
			Approximate: approximate,
		})
	}
	sessions = append(sessions, Session{
		Type:        SessionRTH,
		Exchange:    mic,
		Window:      TimeWindow{Start: at(spec.rthStart, false), End: at(rthEnd, false)},
		Approximate: approximate,
	})
	if spec.hasPost && !early {
		sessions = append(sessions, Session{
			Type:        SessionETHPost,
			Exchange:    mic,
			Window:      TimeWindow{Start: at(spec.rthEnd, false), End: at(spec.postEnd, false)},
			Approximate: approximate,
		})
	}
	return sessions
}

// RTHWindow returns the regular-hours window for a trading date, or false
// when the exchange is closed that day.
func (c *Calendar) RTHWindow(date time.Time, symbol string) (TimeWindow, bool) {
	for _, s := range c.SessionsFor(date, symbol) {
		if s.Type == SessionRTH {
			return s.Window, true
		}
	}
	return TimeWindow{}, false
}

// IsHoliday reports whether the date is a full closure for the symbol's
// exchange. Weekends are not holidays.
func (c *Calendar) IsHoliday(date time.Time, symbol string) bool {
	if c.ExchangeFor(symbol) == "" {
		return false
	}
	year, month, day := date.UTC().Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	_, closed := holidaySet(year)[midnight]
	return closed
}

// IsOpen reports whether any session of the symbol's exchange covers the
// instant. Sessions can spill across UTC midnight in both directions, so
// the neighbouring trading dates are checked too.
func (c *Calendar) IsOpen(at time.Time, symbol string) bool {
	for _, offset := range []int{-1, 0, 1} {
		for _, s := range c.SessionsFor(at.AddDate(0, 0, offset), symbol) {
			if s.Window.Contains(at) {
				return true
			}
		}
	}
	return false
}
