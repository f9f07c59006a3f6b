package sessions

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/barkeep/internal/symbols"
)

func newTestCalendar() *Calendar {
	return NewCalendar(symbols.NewNormalizer(nil), zerolog.Nop())
}

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestSessionsForEquityWinter(t *testing.T) {
	c := newTestCalendar()

	sessions := c.SessionsFor(utc(2025, time.January, 15, 0, 0), "AAPL")
	require.Len(t, sessions, 3)

	assert.Equal(t, SessionETHPre, sessions[0].Type)
	assert.Equal(t, utc(2025, time.January, 15, 9, 0), sessions[0].Window.Start)
	assert.Equal(t, utc(2025, time.January, 15, 14, 30), sessions[0].Window.End)

	assert.Equal(t, SessionRTH, sessions[1].Type)
	assert.Equal(t, utc(2025, time.January, 15, 14, 30), sessions[1].Window.Start)
	assert.Equal(t, utc(2025, time.January, 15, 21, 0), sessions[1].Window.End)

	assert.Equal(t, SessionETHPost, sessions[2].Type)
	assert.Equal(t, utc(2025, time.January, 15, 21, 0), sessions[2].Window.Start)
	assert.Equal(t, utc(2025, time.January, 16, 1, 0), sessions[2].Window.End)

	for _, s := range sessions {
		assert.Equal(t, ExchangeNYSE, s.Exchange)
		assert.False(t, s.Approximate)
	}
}

func TestSessionsForEquitySummer(t *testing.T) {
	c := newTestCalendar()

	window, ok := c.RTHWindow(utc(2025, time.July, 15, 0, 0), "AAPL")
	require.True(t, ok)
	assert.Equal(t, utc(2025, time.July, 15, 13, 30), window.Start)
	assert.Equal(t, utc(2025, time.July, 15, 20, 0), window.End)
}

func TestSessionsDSTTransitions(t *testing.T) {
	c := newTestCalendar()

	tests := []struct {
		name      string
		date      time.Time
		wantStart time.Time
	}{
		{
			name:      "friday before spring forward",
			date:      utc(2025, time.March, 7, 0, 0),
			wantStart: utc(2025, time.March, 7, 14, 30),
		},
		{
			name:      "monday after spring forward",
			date:      utc(2025, time.March, 10, 0, 0),
			wantStart: utc(2025, time.March, 10, 13, 30),
		},
		{
			name:      "monday after fall back",
			date:      utc(2025, time.November, 3, 0, 0),
			wantStart: utc(2025, time.November, 3, 14, 30),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, ok := c.RTHWindow(tt.date, "AAPL")
			require.True(t, ok)
			assert.Equal(t, tt.wantStart, window.Start)
		})
	}
}

func TestSessionsForFutures(t *testing.T) {
	c := newTestCalendar()

	// Monday's Globex pre session opens Sunday 17:00 Chicago time.
	sessions := c.SessionsFor(utc(2025, time.January, 13, 0, 0), "ES")
	require.Len(t, sessions, 3)

	assert.Equal(t, SessionETHPre, sessions[0].Type)
	assert.Equal(t, utc(2025, time.January, 12, 23, 0), sessions[0].Window.Start)
	assert.Equal(t, utc(2025, time.January, 13, 14, 30), sessions[0].Window.End)

	assert.Equal(t, SessionRTH, sessions[1].Type)
	assert.Equal(t, utc(2025, time.January, 13, 14, 30), sessions[1].Window.Start)
	assert.Equal(t, utc(2025, time.January, 13, 21, 0), sessions[1].Window.End)

	assert.Equal(t, SessionETHPost, sessions[2].Type)
	assert.Equal(t, utc(2025, time.January, 13, 22, 0), sessions[2].Window.End)

	for _, s := range sessions {
		assert.Equal(t, ExchangeCME, s.Exchange)
	}

	// Summer offset shifts everything an hour earlier in UTC.
	window, ok := c.RTHWindow(utc(2025, time.June, 10, 0, 0), "ESM25")
	require.True(t, ok)
	assert.Equal(t, utc(2025, time.June, 10, 13, 30), window.Start)
}

func TestSessionsForWeekend(t *testing.T) {
	c := newTestCalendar()

	assert.Empty(t, c.SessionsFor(utc(2025, time.January, 11, 0, 0), "AAPL"))
	assert.Empty(t, c.SessionsFor(utc(2025, time.January, 12, 0, 0), "ES"))
}

func TestSessionsForHolidays(t *testing.T) {
	c := newTestCalendar()

	holidays := []struct {
		name string
		date time.Time
	}{
		{name: "new years day", date: utc(2025, time.January, 1, 0, 0)},
		{name: "mlk day", date: utc(2025, time.January, 20, 0, 0)},
		{name: "good friday", date: utc(2025, time.April, 18, 0, 0)},
		{name: "memorial day", date: utc(2025, time.May, 26, 0, 0)},
		{name: "juneteenth", date: utc(2025, time.June, 19, 0, 0)},
		{name: "labor day", date: utc(2025, time.September, 1, 0, 0)},
		{name: "thanksgiving", date: utc(2025, time.November, 27, 0, 0)},
		{name: "christmas", date: utc(2025, time.December, 25, 0, 0)},
		{name: "observed independence day", date: utc(2026, time.July, 3, 0, 0)},
	}

	for _, tt := range holidays {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, c.SessionsFor(tt.date, "AAPL"))
			assert.Empty(t, c.SessionsFor(tt.date, "ES"))

			_, ok := c.RTHWindow(tt.date, "AAPL")
			assert.False(t, ok)
		})
	}
}

func TestSessionsJuneteenthValidFrom(t *testing.T) {
	c := newTestCalendar()

	// Juneteenth became a closure in 2022; June 19, 2020 was a trading day.
	assert.NotEmpty(t, c.SessionsFor(utc(2020, time.June, 19, 0, 0), "AAPL"))
	assert.False(t, c.IsHoliday(utc(2020, time.June, 19, 0, 0), "AAPL"))
	assert.True(t, c.IsHoliday(utc(2025, time.June, 19, 0, 0), "AAPL"))
}

func TestSessionsEarlyClose(t *testing.T) {
	c := newTestCalendar()

	tests := []struct {
		name    string
		date    time.Time
		symbol  string
		wantEnd time.Time
	}{
		{
			name:    "day after thanksgiving equity",
			date:    utc(2025, time.November, 28, 0, 0),
			symbol:  "AAPL",
			wantEnd: utc(2025, time.November, 28, 18, 0),
		},
		{
			name:    "christmas eve equity",
			date:    utc(2024, time.December, 24, 0, 0),
			symbol:  "AAPL",
			wantEnd: utc(2024, time.December, 24, 18, 0),
		},
		{
			name:    "pre independence day futures",
			date:    utc(2025, time.July, 3, 0, 0),
			symbol:  "ES",
			wantEnd: utc(2025, time.July, 3, 17, 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := c.SessionsFor(tt.date, tt.symbol)
			require.Len(t, sessions, 2, "early close drops the post session")

			rth := sessions[1]
			require.Equal(t, SessionRTH, rth.Type)
			assert.Equal(t, tt.wantEnd, rth.Window.End)
		})
	}
}

func TestSessionsChristmasSaturdayObserved(t *testing.T) {
	c := newTestCalendar()

	// Christmas 2021 fell on Saturday and was observed Friday the 24th,
	// which is therefore a full closure rather than a half day.
	assert.Empty(t, c.SessionsFor(utc(2021, time.December, 24, 0, 0), "AAPL"))
}

func TestSessionsApproximateOutsideValidity(t *testing.T) {
	c := newTestCalendar()

	sessions := c.SessionsFor(utc(2040, time.January, 4, 0, 0), "AAPL")
	require.NotEmpty(t, sessions)
	for _, s := range sessions {
		assert.True(t, s.Approximate)
	}
}

func TestExchangeFor(t *testing.T) {
	c := newTestCalendar()

	assert.Equal(t, ExchangeNYSE, c.ExchangeFor("AAPL"))
	assert.Equal(t, ExchangeCME, c.ExchangeFor("ES"))
	assert.Equal(t, ExchangeCME, c.ExchangeFor("@NQ"))
	assert.Equal(t, ExchangeCME, c.ExchangeFor("ESH25"))
	assert.Equal(t, "", c.ExchangeFor(""))
}

func TestIsOpen(t *testing.T) {
	c := newTestCalendar()

	// Sunday evening falls inside Monday's Globex pre session.
	assert.True(t, c.IsOpen(utc(2025, time.January, 12, 23, 30), "ES"))
	assert.False(t, c.IsOpen(utc(2025, time.January, 11, 12, 0), "ES"))

	assert.True(t, c.IsOpen(utc(2025, time.January, 15, 15, 0), "AAPL"))
	assert.False(t, c.IsOpen(utc(2025, time.January, 15, 2, 0), "AAPL"))

	// Tuesday's post session spills past UTC midnight into Wednesday.
	assert.True(t, c.IsOpen(utc(2025, time.January, 15, 0, 30), "AAPL"))
}
