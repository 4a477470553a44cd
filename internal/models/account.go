package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds the cash and margin state for one simulated account.
// Invariants maintained by the account keeper:
//
//	equity = cash + longMarketValue - |shortMarketValue|
//	cashWithdrawable = max(0, cash - initialMargin)
//	buyingPower >= 0
type Account struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"-"`
	Number    string    `json:"account_number"`

	Cash                  decimal.Decimal `json:"cash"`
	CashWithdrawable      decimal.Decimal `json:"cash_withdrawable"`
	BuyingPower           decimal.Decimal `json:"buying_power"`
	DayTradingBuyingPower decimal.Decimal `json:"daytrading_buying_power"`
	InitialMargin         decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin     decimal.Decimal `json:"maintenance_margin"`
	LongMarketValue       decimal.Decimal `json:"long_market_value"`
	ShortMarketValue      decimal.Decimal `json:"short_market_value"`
	Equity                decimal.Decimal `json:"equity"`
	LastEquity            decimal.Decimal `json:"last_equity"`
	PortfolioValue        decimal.Decimal `json:"portfolio_value"`

	PatternDayTrader bool `json:"pattern_day_trader"`
	DayTradeCount    int  `json:"daytrade_count"`
	TradingBlocked   bool `json:"trading_blocked"`
	AccountBlocked   bool `json:"account_blocked"`

	CreatedAt time.Time `json:"created_at"`
}
