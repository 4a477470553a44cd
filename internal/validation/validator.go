// Package validation runs the static admission checks an order must pass
// before it is accepted. All rules are applied; every violation is collected
// into one field-tagged error list.
package validation

import (
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

var (
	one          = decimal.NewFromInt(1)
	lowPremium   = decimal.RequireFromString("0.04")  // stop below $50
	highPremium  = decimal.RequireFromString("0.025") // stop at or above $50
	premiumSplit = decimal.NewFromInt(50)
)

// Context carries the market state the validator needs alongside the order.
type Context struct {
	CurrentPrice *decimal.Decimal // latest known price for the symbol, nil if no bar
	MarketOpen   bool
	BuyingPower  decimal.Decimal
}

// Validator applies broker admission rules to incoming orders.
type Validator struct{}

// New returns a Validator.
func New() *Validator {
	return &Validator{}
}

// ValidateOrder applies every admission rule and returns the collected
// violations. A nil return means the order is admissible.
func (v *Validator) ValidateOrder(o *models.Order, vc Context) errs.ValidationErrors {
	var out errs.ValidationErrors

	out = append(out, v.checkPricePrecision(o)...)
	out = append(out, v.checkTypeRequirements(o)...)
	out = append(out, v.checkStopDirection(o, vc)...)
	out = append(out, v.checkExtendedHours(o)...)
	out = append(out, v.checkTIFMarketState(o, vc)...)
	out = append(out, v.checkBuyingPower(o, vc)...)

	if len(out) == 0 {
		return nil
	}
	return out
}

// checkPricePrecision enforces sub-penny rules: 2 fractional digits at or
// above $1, 4 below.
func (v *Validator) checkPricePrecision(o *models.Order) errs.ValidationErrors {
	var out errs.ValidationErrors
	check := func(field string, p *decimal.Decimal) {
		if p == nil {
			return
		}
		maxScale := int32(2)
		if p.LessThan(one) {
			maxScale = 4
		}
		if !p.Equal(p.Round(maxScale)) {
			out = append(out, errs.Field(field, "price %s exceeds %d decimal places", p.String(), maxScale))
		}
	}
	check("limit_price", o.LimitPrice)
	check("stop_price", o.StopPrice)
	return out
}

// checkTypeRequirements verifies each order type carries the prices it needs.
func (v *Validator) checkTypeRequirements(o *models.Order) errs.ValidationErrors {
	var out errs.ValidationErrors
	switch o.Type {
	case models.OrderTypeLimit:
		if o.LimitPrice == nil {
			out = append(out, errs.Field("limit_price", "limit orders require limit_price"))
		}
	case models.OrderTypeStop:
		if o.StopPrice == nil {
			out = append(out, errs.Field("stop_price", "stop orders require stop_price"))
		}
	case models.OrderTypeStopLimit:
		if o.LimitPrice == nil {
			out = append(out, errs.Field("limit_price", "stop_limit orders require limit_price"))
		}
		if o.StopPrice == nil {
			out = append(out, errs.Field("stop_price", "stop_limit orders require stop_price"))
		}
	case models.OrderTypeTrailingStop:
		if (o.TrailPrice == nil) == (o.TrailPercent == nil) {
			out = append(out, errs.Field("trail_price", "trailing_stop orders require exactly one of trail_price or trail_percent"))
		}
	}
	return out
}

// checkStopDirection rejects stops that would trigger immediately: buy stops
// must sit above the market, sell stops below.
func (v *Validator) checkStopDirection(o *models.Order, vc Context) errs.ValidationErrors {
	if o.StopPrice == nil || vc.CurrentPrice == nil {
		return nil
	}
	if o.Type != models.OrderTypeStop && o.Type != models.OrderTypeStopLimit {
		return nil
	}
	switch o.Side {
	case models.SideBuy:
		if !o.StopPrice.GreaterThan(*vc.CurrentPrice) {
			return errs.ValidationErrors{errs.Field("stop_price", "buy stop_price must be above current price %s", vc.CurrentPrice.String())}
		}
	case models.SideSell:
		if !o.StopPrice.LessThan(*vc.CurrentPrice) {
			return errs.ValidationErrors{errs.Field("stop_price", "sell stop_price must be below current price %s", vc.CurrentPrice.String())}
		}
	}
	return nil
}

// checkExtendedHours restricts extended-hours orders to limit/day.
func (v *Validator) checkExtendedHours(o *models.Order) errs.ValidationErrors {
	if !o.ExtendedHours {
		return nil
	}
	var out errs.ValidationErrors
	if o.Type != models.OrderTypeLimit {
		out = append(out, errs.Field("type", "extended_hours orders must be limit orders"))
	}
	if o.TimeInForce != models.TIFDay {
		out = append(out, errs.Field("time_in_force", "extended_hours orders must use day time_in_force"))
	}
	return out
}

// checkTIFMarketState gates opg/cls on the market state at submission.
func (v *Validator) checkTIFMarketState(o *models.Order, vc Context) errs.ValidationErrors {
	switch o.TimeInForce {
	case models.TIFOPG:
		if vc.MarketOpen {
			return errs.ValidationErrors{errs.Field("time_in_force", "opg orders may only be submitted while the market is closed")}
		}
	case models.TIFCLS:
		if !vc.MarketOpen {
			return errs.ValidationErrors{errs.Field("time_in_force", "cls orders may only be submitted while the market is open")}
		}
	}
	return nil
}

// checkBuyingPower estimates the cost of a buy order against the account's
// buying power.
func (v *Validator) checkBuyingPower(o *models.Order, vc Context) errs.ValidationErrors {
	if o.Side != models.SideBuy {
		return nil
	}
	cost, ok := EstimatedCost(o, vc.CurrentPrice)
	if !ok {
		return nil
	}
	if cost.GreaterThan(vc.BuyingPower) {
		return errs.ValidationErrors{{
			Kind:    errs.KindInsufficientFunds,
			Field:   "qty",
			Message: "estimated cost " + cost.String() + " exceeds buying power " + vc.BuyingPower.String(),
		}}
	}
	return nil
}

// EstimatedCost computes the admission-time cost estimate for a buy order.
// The second return is false when no reference price is known.
func EstimatedCost(o *models.Order, currentPrice *decimal.Decimal) (decimal.Decimal, bool) {
	if o.Notional != nil {
		return *o.Notional, true
	}
	var ref *decimal.Decimal
	switch o.Type {
	case models.OrderTypeLimit, models.OrderTypeStopLimit:
		ref = o.LimitPrice
	case models.OrderTypeStop:
		ref = o.StopPrice
		if ref == nil {
			ref = currentPrice
		}
	default:
		ref = currentPrice
	}
	if ref == nil {
		return decimal.Zero, false
	}
	return o.Qty.Mul(*ref), true
}

// StopLimitPremium is the advertised limit-price premium over a stop price:
// 4% below $50, 2.5% at or above. It is a convenience for clients and never
// applied automatically.
func StopLimitPremium(stopPrice decimal.Decimal) decimal.Decimal {
	p := highPremium
	if stopPrice.LessThan(premiumSplit) {
		p = lowPremium
	}
	return stopPrice.Mul(one.Add(p))
}
