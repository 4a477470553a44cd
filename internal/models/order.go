// Package models defines the domain records shared by the simulation engine,
// the stores, and the HTTP layer. All monetary and quantity values use
// shopspring decimals; wire field names follow the retail-broker schema.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType identifies how an order prices its execution
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TimeInForce controls how long an order stays working
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// Valid reports whether t is a known time in force.
func (t TimeInForce) Valid() bool {
	switch t {
	case TIFDay, TIFGTC, TIFOPG, TIFCLS, TIFIOC, TIFFOK:
		return true
	}
	return false
}

// GTCHorizon is how long a good-til-cancelled order stays working before it
// expires on its own.
const GTCHorizon = 90 * 24 * time.Hour

// OrderStatus is the order lifecycle state
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusDoneForDay      OrderStatus = "done_for_day"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusReplaced        OrderStatus = "replaced"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
	OrderStatusPendingReplace  OrderStatus = "pending_replace"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusDoneForDay, OrderStatusCanceled,
		OrderStatusExpired, OrderStatusReplaced, OrderStatusRejected:
		return true
	}
	return false
}

// Cancelable reports whether a working order in this status may still be
// cancelled by the client.
func (s OrderStatus) Cancelable() bool {
	switch s {
	case OrderStatusNew, OrderStatusPendingNew, OrderStatusAccepted, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Active reports whether the matching engine should still consider the order.
func (s OrderStatus) Active() bool {
	switch s {
	case OrderStatusNew, OrderStatusPendingNew, OrderStatusAccepted, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Order is a client order working inside one simulation session.
type Order struct {
	ID            uuid.UUID   `json:"id"`
	SessionID     uuid.UUID   `json:"-"`
	AccountID     uuid.UUID   `json:"account_id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	Type          OrderType   `json:"type"`
	Side          OrderSide   `json:"side"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TrailPrice    *decimal.Decimal `json:"trail_price,omitempty"`
	TrailPercent  *decimal.Decimal `json:"trail_percent,omitempty"`
	ExtendedHours bool        `json:"extended_hours"`
	Status        OrderStatus `json:"status"`

	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price,omitempty"`

	// Warnings carries advisory messages attached at submission time, such
	// as a day-trade allowance running out. Not persisted.
	Warnings []string `json:"warnings,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// RemainingQty is the quantity still open for matching.
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Qty.Sub(o.FilledQty)
}

// RecordFill folds one fill into the order's filled quantity and
// volume-weighted average price, and moves the status forward.
func (o *Order) RecordFill(qty, price decimal.Decimal, at time.Time) {
	prevNotional := decimal.Zero
	if o.FilledAvgPrice != nil {
		prevNotional = o.FilledQty.Mul(*o.FilledAvgPrice)
	}
	o.FilledQty = o.FilledQty.Add(qty)
	avg := prevNotional.Add(qty.Mul(price)).Div(o.FilledQty)
	o.FilledAvgPrice = &avg

	if o.FilledQty.GreaterThanOrEqual(o.Qty) && o.Qty.IsPositive() {
		o.Status = OrderStatusFilled
		t := at
		o.FilledAt = &t
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
}
