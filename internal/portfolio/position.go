// Package portfolio applies fills to positions and accounts and keeps the
// derived balances consistent: cost basis, market values, equity, buying
// power, and margin figures.
package portfolio

import (
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/models"
)

// ApplyFill folds one execution into the position's signed quantity and
// average entry price, and returns the realized P&L of any reduced or closed
// portion.
func ApplyFill(p *models.Position, fillQty, fillPrice decimal.Decimal, side models.OrderSide) decimal.Decimal {
	signed := fillQty
	if side == models.SideSell {
		signed = fillQty.Neg()
	}

	switch {
	case p.Qty.IsZero():
		// opening from flat
		p.Qty = signed
		p.AvgEntryPrice = fillPrice
		return decimal.Zero

	case p.Qty.Sign() == signed.Sign():
		// adding to the position: volume-weighted entry price
		absOld := p.Qty.Abs()
		p.AvgEntryPrice = absOld.Mul(p.AvgEntryPrice).
			Add(fillQty.Mul(fillPrice)).
			Div(absOld.Add(fillQty))
		p.Qty = p.Qty.Add(signed)
		return decimal.Zero

	default:
		newQty := p.Qty.Add(signed)
		closed := decimal.Min(p.Qty.Abs(), fillQty)
		// realized = closed * (fill - entry) for longs, inverted for shorts
		perShare := fillPrice.Sub(p.AvgEntryPrice)
		if p.Qty.IsNegative() {
			perShare = perShare.Neg()
		}
		realized := closed.Mul(perShare)

		switch {
		case newQty.IsZero():
			p.Qty = decimal.Zero
			p.AvgEntryPrice = decimal.Zero
		case newQty.Sign() != p.Qty.Sign():
			// flipped through flat: residual takes the new price
			p.Qty = newQty
			p.AvgEntryPrice = fillPrice
		default:
			// reduced: entry price unchanged
			p.Qty = newQty
		}
		return realized
	}
}

// UpdatePrices recomputes the derived market fields from the latest price.
// lastDayPrice may be zero when no prior close is known.
func UpdatePrices(p *models.Position, currentPrice, lastDayPrice decimal.Decimal) {
	p.CurrentPrice = currentPrice
	if !lastDayPrice.IsZero() {
		p.LastDayPrice = lastDayPrice
	}

	abs := p.Qty.Abs()
	p.CostBasis = abs.Mul(p.AvgEntryPrice)

	mv := abs.Mul(currentPrice)
	if p.Qty.IsNegative() {
		mv = mv.Neg()
	}
	p.MarketValue = mv

	// unrealized = marketValue - costBasis for longs; shorts profit as price
	// falls, so the sign flips with the position.
	if p.Qty.IsNegative() {
		p.UnrealizedPnL = p.CostBasis.Sub(abs.Mul(currentPrice))
	} else {
		p.UnrealizedPnL = mv.Sub(p.CostBasis)
	}

	if p.CostBasis.IsPositive() {
		p.UnrealizedPnLPercent = p.UnrealizedPnL.Div(p.CostBasis)
	} else {
		p.UnrealizedPnLPercent = decimal.Zero
	}

	if !p.LastDayPrice.IsZero() {
		p.UnrealizedIntradayPnL = abs.Mul(currentPrice.Sub(p.LastDayPrice))
		p.ChangeToday = currentPrice.Sub(p.LastDayPrice).Div(p.LastDayPrice)
	} else {
		p.UnrealizedIntradayPnL = decimal.Zero
		p.ChangeToday = decimal.Zero
	}
}
