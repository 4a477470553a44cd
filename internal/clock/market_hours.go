package clock

import (
	"sync"
	"time"
)

// Regular session bounds, Eastern time.
const (
	openHour    = 9
	openMinute  = 30
	closeHour   = 16
	closeMinute = 0
)

var (
	easternOnce sync.Once
	eastern     *time.Location
)

// Eastern returns the exchange time zone. Falls back to a fixed UTC-5 zone if
// tzdata is unavailable.
func Eastern() *time.Location {
	easternOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.FixedZone("EST", -5*60*60)
		}
		eastern = loc
	})
	return eastern
}

// IsMarketOpen reports whether the regular session is open at t: weekdays
// with Eastern time of day in [09:30, 16:00).
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern())
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := et.Hour()*60 + et.Minute()
	return minutes >= openHour*60+openMinute && minutes < closeHour*60+closeMinute
}

// NextMarketOpen returns the next instant at or after t when the regular
// session is open.
func NextMarketOpen(t time.Time) time.Time {
	if IsMarketOpen(t) {
		return t
	}
	et := t.In(Eastern())
	open := time.Date(et.Year(), et.Month(), et.Day(), openHour, openMinute, 0, 0, Eastern())
	if !et.Before(open) {
		open = open.AddDate(0, 0, 1)
	}
	for open.Weekday() == time.Saturday || open.Weekday() == time.Sunday {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// SameTradingDay reports whether a and b fall on the same Eastern calendar
// day. Used by day-order expiry and day-trade grouping.
func SameTradingDay(a, b time.Time) bool {
	ae, be := a.In(Eastern()), b.In(Eastern())
	return ae.Year() == be.Year() && ae.YearDay() == be.YearDay()
}

// TradingDay returns the Eastern calendar date of t, truncated to midnight.
func TradingDay(t time.Time) time.Time {
	et := t.In(Eastern())
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, Eastern())
}
