package clock

import (
	"testing"
	"time"
)

func TestIsMarketOpen(t *testing.T) {
	et := Eastern()
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday mid-session", time.Date(2024, 3, 4, 12, 0, 0, 0, et), true},
		{"open boundary", time.Date(2024, 3, 4, 9, 30, 0, 0, et), true},
		{"one minute before open", time.Date(2024, 3, 4, 9, 29, 0, 0, et), false},
		{"close boundary", time.Date(2024, 3, 4, 16, 0, 0, 0, et), false},
		{"one minute before close", time.Date(2024, 3, 4, 15, 59, 0, 0, et), true},
		{"saturday", time.Date(2024, 3, 9, 12, 0, 0, 0, et), false},
		{"sunday", time.Date(2024, 3, 10, 12, 0, 0, 0, et), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMarketOpen(tc.at); got != tc.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestSameTradingDay(t *testing.T) {
	et := Eastern()
	morning := time.Date(2024, 3, 4, 9, 35, 0, 0, et)
	afternoon := time.Date(2024, 3, 4, 15, 0, 0, 0, et)
	nextDay := time.Date(2024, 3, 5, 9, 35, 0, 0, et)

	if !SameTradingDay(morning, afternoon) {
		t.Error("same-day times should share a trading day")
	}
	if SameTradingDay(morning, nextDay) {
		t.Error("different days should not share a trading day")
	}

	// UTC times near midnight ET resolve by Eastern calendar date
	lateUTC := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC) // 2024-03-04 20:00 ET
	if !SameTradingDay(afternoon, lateUTC) {
		t.Error("evening UTC time should still be the prior ET day")
	}
}

func TestTradingDay(t *testing.T) {
	et := Eastern()
	at := time.Date(2024, 3, 4, 15, 45, 12, 0, et)
	day := TradingDay(at)
	if day.Hour() != 0 || day.Minute() != 0 {
		t.Errorf("TradingDay should truncate to midnight ET, got %v", day)
	}
	if day.Day() != 4 {
		t.Errorf("wrong day: %v", day)
	}
}

func TestNextMarketOpen(t *testing.T) {
	et := Eastern()

	// friday after close rolls to monday
	fridayEvening := time.Date(2024, 3, 8, 17, 0, 0, 0, et)
	open := NextMarketOpen(fridayEvening)
	if open.Weekday() != time.Monday {
		t.Errorf("expected Monday, got %v", open.Weekday())
	}
	if open.Hour() != 9 || open.Minute() != 30 {
		t.Errorf("expected 09:30 ET, got %v", open)
	}

	// before open on a weekday opens the same day
	monMorning := time.Date(2024, 3, 4, 8, 0, 0, 0, et)
	open = NextMarketOpen(monMorning)
	if open.Day() != 4 || open.Hour() != 9 || open.Minute() != 30 {
		t.Errorf("expected same-day 09:30, got %v", open)
	}
}
