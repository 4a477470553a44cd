package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Resolution is the aggregation window of a bar series
type Resolution string

const (
	ResolutionMinute Resolution = "minute"
	ResolutionHour   Resolution = "hour"
	ResolutionDay    Resolution = "day"
	ResolutionWeek   Resolution = "week"
	ResolutionMonth  Resolution = "month"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionMinute, ResolutionHour, ResolutionDay, ResolutionWeek, ResolutionMonth:
		return true
	}
	return false
}

// Bar is one OHLCV aggregate for a symbol. low <= open,close <= high and
// volume >= 0.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    decimal.Decimal `json:"v"`
	VWAP      *decimal.Decimal `json:"vw,omitempty"`
	NTrades   *int64           `json:"n,omitempty"`
}

// Range is high minus low.
func (b *Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// Quote is a synthesized bid/ask derived from a bar.
type Quote struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bp"`
	AskPrice  decimal.Decimal `json:"ap"`
	Timestamp time.Time       `json:"t"`
}

// TradeRecord is one recorded fill used for pattern-day-trade counting.
// Records older than the rolling window are purged.
type TradeRecord struct {
	AccountID uuid.UUID       `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Qty       decimal.Decimal `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
}
