package session

import (
	"time"

	"github.com/shopspring/decimal"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// CreateSessionRequest creates a new simulation session with one funded
// account.
type CreateSessionRequest struct {
	Name        string           `json:"name"`
	SimStart    time.Time        `json:"sim_start"`
	SimEnd      time.Time        `json:"sim_end"`
	Speed       *decimal.Decimal `json:"speed,omitempty"`
	InitialCash *decimal.Decimal `json:"initial_cash,omitempty"`
}

// Validate checks the request shape.
func (r *CreateSessionRequest) Validate() error {
	if r.SimStart.IsZero() || r.SimEnd.IsZero() {
		return errs.Field("sim_start", "sim_start and sim_end are required")
	}
	if !r.SimEnd.After(r.SimStart) {
		return errs.Field("sim_end", "sim_end must be after sim_start")
	}
	if r.Speed != nil && !r.Speed.IsPositive() {
		return errs.Field("speed", "speed must be greater than zero")
	}
	if r.InitialCash != nil && r.InitialCash.IsNegative() {
		return errs.Field("initial_cash", "initial_cash must not be negative")
	}
	return nil
}

// OrderRequest is the submit-order payload.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	Side          models.OrderSide `json:"side"`
	Type          models.OrderType `json:"type"`
	TimeInForce   models.TimeInForce `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TrailPrice    *decimal.Decimal `json:"trail_price,omitempty"`
	TrailPercent  *decimal.Decimal `json:"trail_percent,omitempty"`
	ExtendedHours bool             `json:"extended_hours"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Validate checks the request shape before broker rules run.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errs.Field("symbol", "symbol is required")
	}
	if !r.Side.Valid() {
		return errs.Field("side", "side must be buy or sell")
	}
	if !r.Type.Valid() {
		return errs.Field("type", "unknown order type")
	}
	if !r.TimeInForce.Valid() {
		return errs.Field("time_in_force", "unknown time_in_force")
	}
	hasQty := r.Qty != nil && r.Qty.IsPositive()
	hasNotional := r.Notional != nil && r.Notional.IsPositive()
	if hasQty == hasNotional {
		return errs.Field("qty", "exactly one of qty or notional is required")
	}
	if hasNotional && r.Type != models.OrderTypeMarket {
		return errs.Field("notional", "notional orders must be market orders")
	}
	return nil
}

// AdvanceRequest moves a session's clock: a relative duration in minutes or
// an absolute target. Empty means one minute.
type AdvanceRequest struct {
	DurationMinutes *int64     `json:"duration,omitempty"`
	TargetTime      *time.Time `json:"target_time,omitempty"`
}

// AdvanceResult reports one clock movement and what it triggered.
type AdvanceResult struct {
	PrevTime     time.Time `json:"prev_time"`
	NewTime      time.Time `json:"new_time"`
	FilledOrders int       `json:"filled_orders"`
	ExpiredOrders int      `json:"expired_orders"`
	CanceledOrders int     `json:"canceled_orders"`
	RejectedOrders int     `json:"rejected_orders"`
}
