// Package matching decides whether and how a working order fills against a
// single OHLCV bar: price condition, theoretical execution price, adverse
// slippage, volume participation, and time-in-force post-processing.
package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"market-replay-broker/internal/clock"
	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

var (
	defaultSlippageRatio      = decimal.RequireFromString("0.10") // of bar range, always adverse
	defaultParticipationRatio = decimal.RequireFromString("0.01") // of bar volume per bar
)

// Fill is one execution against a bar.
type Fill struct {
	Qty     decimal.Decimal
	Price   decimal.Decimal
	Partial bool
}

// Result describes the outcome of matching one order against one bar (or
// against the absence of one). Fill is nil when nothing executed. Status is
// the order's status after the attempt.
type Result struct {
	Fill   *Fill
	Status models.OrderStatus
}

// Engine evaluates orders against bars. It is pure: it never mutates the
// order it is given.
type Engine struct {
	slippageRatio      decimal.Decimal
	participationRatio decimal.Decimal
}

// NewEngine returns an engine with the production slippage (10% of range)
// and participation (1% of volume) ratios.
func NewEngine() *Engine {
	return &Engine{
		slippageRatio:      defaultSlippageRatio,
		participationRatio: defaultParticipationRatio,
	}
}

// CanFill reports whether the bar satisfies the order's price condition.
func (e *Engine) CanFill(o *models.Order, bar *models.Bar) (bool, error) {
	switch o.Type {
	case models.OrderTypeMarket:
		return true, nil
	case models.OrderTypeLimit:
		if o.Side == models.SideBuy {
			return bar.Low.LessThanOrEqual(*o.LimitPrice), nil
		}
		return bar.High.GreaterThanOrEqual(*o.LimitPrice), nil
	case models.OrderTypeStop:
		if o.Side == models.SideBuy {
			return bar.High.GreaterThanOrEqual(*o.StopPrice), nil
		}
		return bar.Low.LessThanOrEqual(*o.StopPrice), nil
	case models.OrderTypeStopLimit:
		if o.Side == models.SideBuy {
			return bar.High.GreaterThanOrEqual(*o.StopPrice) && bar.Low.LessThanOrEqual(*o.LimitPrice), nil
		}
		return bar.Low.LessThanOrEqual(*o.StopPrice) && bar.High.GreaterThanOrEqual(*o.LimitPrice), nil
	case models.OrderTypeTrailingStop:
		return false, errs.E(errs.KindNotImplemented, "trailing stop orders are not supported by the matching engine")
	}
	return false, errs.E(errs.KindInvalidArgument, "unknown order type %q", o.Type)
}

// ExecutionPrice returns the theoretical execution price before slippage.
// Only meaningful when CanFill returned true.
func (e *Engine) ExecutionPrice(o *models.Order, bar *models.Bar) decimal.Decimal {
	switch o.Type {
	case models.OrderTypeLimit, models.OrderTypeStopLimit:
		return *o.LimitPrice
	case models.OrderTypeStop:
		if o.Side == models.SideBuy {
			return decimal.Max(bar.Open, *o.StopPrice)
		}
		return decimal.Min(bar.Open, *o.StopPrice)
	default:
		return bar.Open
	}
}

// applySlippage pushes the price adversely by slippageRatio of the bar range
// and clamps the result back into [low, high].
func (e *Engine) applySlippage(price decimal.Decimal, side models.OrderSide, bar *models.Bar) decimal.Decimal {
	r := bar.Range()
	if r.IsZero() {
		return price
	}
	s := e.slippageRatio.Mul(r)
	if side == models.SideBuy {
		return decimal.Min(bar.High, price.Add(s))
	}
	return decimal.Max(bar.Low, price.Sub(s))
}

// maxFillQty is the most one bar can fill: participationRatio of its volume.
func (e *Engine) maxFillQty(bar *models.Bar) decimal.Decimal {
	return e.participationRatio.Mul(bar.Volume)
}

// orderQty resolves the quantity still to fill. Notional market orders
// convert to shares at the execution price.
func orderQty(o *models.Order, execPrice decimal.Decimal) decimal.Decimal {
	if o.Qty.IsPositive() {
		return o.RemainingQty()
	}
	if o.Notional != nil && execPrice.IsPositive() {
		return o.Notional.Div(execPrice).Round(9)
	}
	return decimal.Zero
}

// Match evaluates one active order against the bar at the current simulated
// time. The returned result carries the fill, if any, and the order's next
// status; the caller applies both.
func (e *Engine) Match(o *models.Order, bar *models.Bar, now time.Time) (Result, error) {
	if expired, res := e.checkExpiry(o, now); expired {
		return res, nil
	}

	ok, err := e.CanFill(o, bar)
	if err != nil {
		return Result{Status: o.Status}, err
	}

	switch o.TimeInForce {
	case models.TIFFOK:
		return e.matchFOK(o, bar, ok), nil
	case models.TIFIOC:
		return e.matchIOC(o, bar, ok), nil
	default:
		if !ok {
			return Result{Status: o.Status}, nil
		}
		return e.standardFill(o, bar), nil
	}
}

// MatchAbsent handles an order whose symbol has no bar at the current
// simulated time.
func (e *Engine) MatchAbsent(o *models.Order, now time.Time) Result {
	if expired, res := e.checkExpiry(o, now); expired {
		return res
	}
	switch o.TimeInForce {
	case models.TIFIOC:
		return Result{Status: models.OrderStatusCanceled}
	case models.TIFFOK:
		return Result{Status: models.OrderStatusRejected}
	}
	return Result{Status: o.Status}
}

// checkExpiry applies day and gtc lifetimes before any matching.
func (e *Engine) checkExpiry(o *models.Order, now time.Time) (bool, Result) {
	switch o.TimeInForce {
	case models.TIFDay, models.TIFOPG, models.TIFCLS:
		if clock.TradingDay(now).After(clock.TradingDay(o.SubmittedAt)) {
			return true, Result{Status: models.OrderStatusExpired}
		}
	case models.TIFGTC:
		if !now.Before(o.SubmittedAt.Add(models.GTCHorizon)) {
			return true, Result{Status: models.OrderStatusExpired}
		}
	}
	return false, Result{}
}

// standardFill executes against the bar, honoring the participation cap.
func (e *Engine) standardFill(o *models.Order, bar *models.Bar) Result {
	exec := e.ExecutionPrice(o, bar)
	price := e.applySlippage(exec, o.Side, bar)

	want := orderQty(o, price)
	if !want.IsPositive() {
		return Result{Status: o.Status}
	}

	maxFill := e.maxFillQty(bar)
	if maxFill.IsPositive() && want.GreaterThan(maxFill) {
		return Result{
			Fill:   &Fill{Qty: maxFill, Price: price, Partial: true},
			Status: models.OrderStatusPartiallyFilled,
		}
	}
	return Result{
		Fill:   &Fill{Qty: want, Price: price},
		Status: models.OrderStatusFilled,
	}
}

// matchIOC fills what it can now and cancels the remainder.
func (e *Engine) matchIOC(o *models.Order, bar *models.Bar, priceOK bool) Result {
	if !priceOK {
		return Result{Status: models.OrderStatusCanceled}
	}
	res := e.standardFill(o, bar)
	if res.Fill != nil && res.Fill.Partial {
		res.Status = models.OrderStatusCanceled
	}
	if res.Fill == nil {
		res.Status = models.OrderStatusCanceled
	}
	return res
}

// matchFOK fills only if the full quantity clears in this single bar,
// otherwise rejects. The volume gate uses the same participation cap.
func (e *Engine) matchFOK(o *models.Order, bar *models.Bar, priceOK bool) Result {
	if !priceOK {
		return Result{Status: models.OrderStatusRejected}
	}
	exec := e.ExecutionPrice(o, bar)
	price := e.applySlippage(exec, o.Side, bar)
	want := orderQty(o, price)
	maxFill := e.maxFillQty(bar)
	if !want.IsPositive() || (maxFill.IsPositive() && want.GreaterThan(maxFill)) {
		return Result{Status: models.OrderStatusRejected}
	}
	return Result{
		Fill:   &Fill{Qty: want, Price: price},
		Status: models.OrderStatusFilled,
	}
}

// OrderMatch pairs an order with its matching result for batch processing.
type OrderMatch struct {
	Order  *models.Order
	Result Result
	Err    error
}

// ProcessPending evaluates every active order of one session against the
// latest bars. Iteration is deterministic: ascending submitted_at, ties
// broken by order id. One order's failure does not stop the others.
func (e *Engine) ProcessPending(orders []*models.Order, barsBySymbol map[string]*models.Bar, now time.Time) []OrderMatch {
	sorted := make([]*models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status.Active() {
			sorted = append(sorted, o)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].SubmittedAt.Equal(sorted[j].SubmittedAt) {
			return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	out := make([]OrderMatch, 0, len(sorted))
	for _, o := range sorted {
		bar, ok := barsBySymbol[o.Symbol]
		if !ok || bar == nil {
			out = append(out, OrderMatch{Order: o, Result: e.MatchAbsent(o, now)})
			continue
		}
		res, err := e.Match(o, bar, now)
		out = append(out, OrderMatch{Order: o, Result: res, Err: err})
	}
	return out
}
