package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position is a signed holding in one symbol. Qty > 0 is long, Qty < 0 is
// short. Qty == 0 implies AvgEntryPrice == 0.
type Position struct {
	ID        uuid.UUID `json:"-"`
	SessionID uuid.UUID `json:"-"`
	AccountID uuid.UUID `json:"account_id"`
	Symbol    string    `json:"symbol"`

	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`

	CurrentPrice          decimal.Decimal `json:"current_price"`
	LastDayPrice          decimal.Decimal `json:"lastday_price"`
	MarketValue           decimal.Decimal `json:"market_value"`
	CostBasis             decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL         decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPnLPercent  decimal.Decimal `json:"unrealized_plpc"`
	UnrealizedIntradayPnL decimal.Decimal `json:"unrealized_intraday_pl"`
	ChangeToday           decimal.Decimal `json:"change_today"`
}

// Side returns "long" or "short" for the wire representation.
func (p *Position) Side() string {
	if p.Qty.IsNegative() {
		return "short"
	}
	return "long"
}

// Flat reports whether the position holds no shares.
func (p *Position) Flat() bool {
	return p.Qty.IsZero()
}
