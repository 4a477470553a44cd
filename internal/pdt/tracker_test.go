package pdt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/models"
)

var (
	qty       = decimal.NewFromInt(10)
	richEquity = decimal.NewFromInt(30_000)
	poorEquity = decimal.NewFromInt(20_000)
)

// 2024-03-04 was a Monday.
func day(n int) time.Time {
	return time.Date(2024, 3, 4+n, 15, 0, 0, 0, time.UTC)
}

func roundTrip(t *Tracker, acct uuid.UUID, symbol string, at time.Time) {
	t.Record(acct, symbol, models.SideBuy, qty, at)
	t.Record(acct, symbol, models.SideSell, qty, at.Add(time.Minute))
}

func TestCountDayTrades(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()

	roundTrip(tr, acct, "AAPL", day(0))
	if got := tr.CountDayTrades(acct, day(0).Add(time.Hour)); got != 1 {
		t.Errorf("want 1 day trade, got %d", got)
	}

	// a second round trip on the same symbol-day still counts once
	roundTrip(tr, acct, "AAPL", day(0).Add(2*time.Hour))
	if got := tr.CountDayTrades(acct, day(0).Add(3*time.Hour)); got != 1 {
		t.Errorf("collapsed count: want 1, got %d", got)
	}

	// a different symbol the same day is a second day trade
	roundTrip(tr, acct, "MSFT", day(0))
	if got := tr.CountDayTrades(acct, day(0).Add(3*time.Hour)); got != 2 {
		t.Errorf("want 2, got %d", got)
	}

	// buy without a sell is not a day trade
	tr.Record(acct, "TSLA", models.SideBuy, qty, day(0))
	if got := tr.CountDayTrades(acct, day(0).Add(3*time.Hour)); got != 2 {
		t.Errorf("one-sided trade counted: want 2, got %d", got)
	}
}

func TestCountWindowSlides(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()

	roundTrip(tr, acct, "AAPL", day(0))
	if got := tr.CountDayTrades(acct, day(4)); got != 1 {
		t.Errorf("inside window: want 1, got %d", got)
	}
	if got := tr.CountDayTrades(acct, day(6)); got != 0 {
		t.Errorf("outside window: want 0, got %d", got)
	}
}

func TestWouldBeDayTrade(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()

	tr.Record(acct, "AAPL", models.SideBuy, qty, day(0))

	if !tr.WouldBeDayTrade(acct, "AAPL", models.SideSell, day(0).Add(time.Hour)) {
		t.Error("sell after same-day buy should be a day trade")
	}
	if tr.WouldBeDayTrade(acct, "AAPL", models.SideBuy, day(0).Add(time.Hour)) {
		t.Error("same side is not a round trip")
	}
	if tr.WouldBeDayTrade(acct, "AAPL", models.SideSell, day(1)) {
		t.Error("next-day sell is not a day trade")
	}
	if tr.WouldBeDayTrade(acct, "MSFT", models.SideSell, day(0).Add(time.Hour)) {
		t.Error("different symbol is not a day trade")
	}
}

func TestValidateTrade(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()

	// opening trades always pass
	if v := tr.ValidateTrade(acct, "AAPL", models.SideBuy, poorEquity, day(0)); v != Allowed {
		t.Errorf("opening trade: want Allowed, got %v", v)
	}

	// two prior day trades: the third (closing now) warns under minimum equity
	roundTrip(tr, acct, "MSFT", day(0))
	roundTrip(tr, acct, "TSLA", day(1))
	tr.Record(acct, "AAPL", models.SideBuy, qty, day(2))
	if v := tr.ValidateTrade(acct, "AAPL", models.SideSell, poorEquity, day(2).Add(time.Hour)); v != Warning {
		t.Errorf("third day trade: want Warning, got %v", v)
	}

	// three prior day trades: the fourth rejects under minimum equity
	tr.Record(acct, "AAPL", models.SideSell, qty, day(2).Add(time.Hour))
	tr.Record(acct, "NVDA", models.SideBuy, qty, day(3))
	if v := tr.ValidateTrade(acct, "NVDA", models.SideSell, poorEquity, day(3).Add(time.Hour)); v != Rejected {
		t.Errorf("fourth day trade: want Rejected, got %v", v)
	}

	// equity at the minimum always passes
	if v := tr.ValidateTrade(acct, "NVDA", models.SideSell, richEquity, day(3).Add(time.Hour)); v != Allowed {
		t.Errorf("funded account: want Allowed, got %v", v)
	}
}

func TestPurge(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()

	roundTrip(tr, acct, "AAPL", day(0))
	roundTrip(tr, acct, "MSFT", day(4))

	// purge at day 5 keeps both: nothing is older than six days
	tr.Purge(day(5))
	if got := tr.CountDayTrades(acct, day(5)); got != 2 {
		t.Errorf("purge changed in-window count: want 2, got %d", got)
	}

	// purge at day 7 drops the day-0 records
	tr.Purge(day(7))
	if got := tr.CountDayTrades(acct, day(7)); got != 1 {
		t.Errorf("want 1 after purge, got %d", got)
	}
}

func TestIsPatternDayTrader(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()

	for i, sym := range []string{"AAPL", "MSFT", "TSLA"} {
		roundTrip(tr, acct, sym, day(i))
	}
	if tr.IsPatternDayTrader(acct, day(3)) {
		t.Error("three day trades should not flag")
	}
	roundTrip(tr, acct, "NVDA", day(3))
	if !tr.IsPatternDayTrader(acct, day(3).Add(time.Hour)) {
		t.Error("four day trades in five days should flag")
	}
}

func TestDropAccount(t *testing.T) {
	tr := NewTracker()
	acct := uuid.New()
	roundTrip(tr, acct, "AAPL", day(0))
	tr.DropAccount(acct)
	if got := tr.CountDayTrades(acct, day(0).Add(time.Hour)); got != 0 {
		t.Errorf("want 0 after drop, got %d", got)
	}
}
