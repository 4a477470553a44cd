// Package pdt counts day trades over a rolling window and enforces the
// pattern-day-trader rule: four or more day trades in five business days
// require $25,000 of equity.
package pdt

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/clock"
	"market-replay-broker/internal/models"
)

const (
	// Window is the rolling lookback for day-trade counting.
	Window = 5 * 24 * time.Hour
	// purgeAge is how old a record must be before purge drops it. One day of
	// slack past the window so boundary counts never change.
	purgeAge = 6 * 24 * time.Hour
	// FlagThreshold marks the account as a pattern day trader.
	FlagThreshold = 4
)

var minimumEquity = decimal.NewFromInt(25_000)

// Verdict is the result of validating a prospective trade.
type Verdict int

const (
	Allowed Verdict = iota
	// Warning: the trade consumes the last free day-trade allowance.
	Warning
	// Rejected: the trade would exceed the allowance below minimum equity.
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Warning:
		return "warning"
	case Rejected:
		return "rejected"
	}
	return "allowed"
}

// Tracker records fills per account and answers day-trade questions. It is
// shared state guarded by its own lock; callers additionally serialize per
// session.
type Tracker struct {
	mu      sync.Mutex
	records map[uuid.UUID][]models.TradeRecord
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[uuid.UUID][]models.TradeRecord)}
}

// Record stores one fill.
func (t *Tracker) Record(accountID uuid.UUID, symbol string, side models.OrderSide, qty decimal.Decimal, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[accountID] = append(t.records[accountID], models.TradeRecord{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		Timestamp: at,
	})
}

// CountDayTrades counts day trades in [asOf - 5 days, asOf]. A day trade is
// one (symbol, day) grouping containing both a buy and a sell; multiple
// round-trips on one symbol-day still count once.
func (t *Tracker) CountDayTrades(accountID uuid.UUID, asOf time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart := asOf.Add(-Window)
	type key struct {
		symbol string
		day    time.Time
	}
	sides := make(map[key]map[models.OrderSide]bool)
	for _, r := range t.records[accountID] {
		if r.Timestamp.Before(windowStart) || r.Timestamp.After(asOf) {
			continue
		}
		k := key{symbol: r.Symbol, day: clock.TradingDay(r.Timestamp)}
		if sides[k] == nil {
			sides[k] = make(map[models.OrderSide]bool)
		}
		sides[k][r.Side] = true
	}

	count := 0
	for _, s := range sides {
		if s[models.SideBuy] && s[models.SideSell] {
			count++
		}
	}
	return count
}

// IsPatternDayTrader reports whether the rolling count has reached the flag
// threshold.
func (t *Tracker) IsPatternDayTrader(accountID uuid.UUID, asOf time.Time) bool {
	return t.CountDayTrades(accountID, asOf) >= FlagThreshold
}

// WouldBeDayTrade reports whether a fill of the given side now would complete
// a same-day round trip: an opposite-side record already exists for the same
// (account, symbol, day).
func (t *Tracker) WouldBeDayTrade(accountID uuid.UUID, symbol string, side models.OrderSide, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	opposite := side.Opposite()
	for _, r := range t.records[accountID] {
		if r.Symbol == symbol && r.Side == opposite && clock.SameTradingDay(r.Timestamp, at) {
			return true
		}
	}
	return false
}

// ValidateTrade checks a prospective trade against the PDT rule. Accounts at
// or above minimum equity always pass.
func (t *Tracker) ValidateTrade(accountID uuid.UUID, symbol string, side models.OrderSide, equity decimal.Decimal, at time.Time) Verdict {
	if !t.WouldBeDayTrade(accountID, symbol, side, at) {
		return Allowed
	}
	if equity.GreaterThanOrEqual(minimumEquity) {
		return Allowed
	}
	count := t.CountDayTrades(accountID, at)
	switch {
	case count >= FlagThreshold-1:
		return Rejected
	case count == FlagThreshold-2:
		// the 3rd day trade consumes the last allowance
		return Warning
	}
	return Allowed
}

// Purge drops records older than six days. Counts within the five-day window
// are unaffected.
func (t *Tracker) Purge(asOf time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := asOf.Add(-purgeAge)
	for id, recs := range t.records {
		kept := recs[:0]
		for _, r := range recs {
			if !r.Timestamp.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(t.records, id)
		} else {
			t.records[id] = kept
		}
	}
}

// DropAccount removes all records for an account. Used when a session is
// deleted.
func (t *Tracker) DropAccount(accountID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, accountID)
}
