package portfolio

import (
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/models"
)

var (
	pdtMinimumEquity = decimal.NewFromInt(25_000)
	shortSaleFactor  = decimal.RequireFromString("1.03")
	four             = decimal.NewFromInt(4)
)

// ApplyAccountFill moves cash for one execution: buys debit, sells credit.
func ApplyAccountFill(a *models.Account, side models.OrderSide, qty, price decimal.Decimal) {
	notional := qty.Mul(price)
	if side == models.SideBuy {
		a.Cash = a.Cash.Sub(notional)
	} else {
		a.Cash = a.Cash.Add(notional)
	}
}

// ShortSaleRequirement is the buying power a short sale must clear:
// max(limitPrice, 1.03 * ask) * qty. limitPrice may be zero for market sells.
func ShortSaleRequirement(limitPrice, ask, qty decimal.Decimal) decimal.Decimal {
	return decimal.Max(limitPrice, shortSaleFactor.Mul(ask)).Mul(qty)
}

// Recalculate refreshes the aggregate account figures from the account's
// positions. Call after every fill and after every price update.
func Recalculate(a *models.Account, positions []*models.Position) {
	long := decimal.Zero
	short := decimal.Zero
	for _, p := range positions {
		if p.Qty.IsNegative() {
			short = short.Add(p.MarketValue)
		} else {
			long = long.Add(p.MarketValue)
		}
	}

	a.LongMarketValue = long
	a.ShortMarketValue = short
	a.Equity = a.Cash.Add(long).Sub(short.Abs())
	a.PortfolioValue = a.Equity

	// simplified cash account
	a.BuyingPower = decimal.Max(decimal.Zero, a.Cash)

	if a.PatternDayTrader {
		a.DayTradingBuyingPower = decimal.Max(decimal.Zero, four.Mul(a.Equity.Sub(a.MaintenanceMargin)))
	} else {
		a.DayTradingBuyingPower = a.BuyingPower
	}

	a.CashWithdrawable = decimal.Max(decimal.Zero, a.Cash.Sub(a.InitialMargin))
}

// MeetsPdtMinimum reports whether the account clears the $25,000 pattern-day-
// trader equity floor.
func MeetsPdtMinimum(a *models.Account) bool {
	return a.Equity.GreaterThanOrEqual(pdtMinimumEquity)
}
