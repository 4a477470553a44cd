// Package session orchestrates the simulation: it is the only mutator of
// session state. Every operation on one session runs under that session's
// serializer; operations on different sessions proceed in parallel.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/clock"
	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/events"
	"market-replay-broker/internal/logging"
	"market-replay-broker/internal/matching"
	"market-replay-broker/internal/models"
	"market-replay-broker/internal/pdt"
	"market-replay-broker/internal/portfolio"
	"market-replay-broker/internal/store"
	"market-replay-broker/internal/validation"
)

const duplicateClientIDWindow = 24 * time.Hour

var defaultInitialCash = decimal.NewFromInt(100_000)

// Controller composes the clock, validator, matching engine, keepers, and
// day-trade tracker over the stores.
type Controller struct {
	store     store.SessionStore
	bars      bars.BarStore
	clock     *clock.Clock
	engine    *matching.Engine
	validator *validation.Validator
	tracker   *pdt.Tracker
	bus       *events.Bus
	logger    *logging.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	// wall-clock tick references for playing sessions; in-memory only, a
	// restart just restarts playback from the next tick
	tickMu   sync.Mutex
	lastTick map[uuid.UUID]time.Time
}

// NewController wires the simulation core.
func NewController(st store.SessionStore, barStore bars.BarStore, bus *events.Bus, logger *logging.Logger) *Controller {
	return &Controller{
		store:     st,
		bars:      barStore,
		clock:     clock.New(),
		engine:    matching.NewEngine(),
		validator: validation.New(),
		tracker:   pdt.NewTracker(),
		bus:       bus,
		logger:    logger.WithComponent("controller"),
		locks:     make(map[uuid.UUID]*sync.Mutex),
		lastTick:  make(map[uuid.UUID]time.Time),
	}
}

// lockSession returns the serializer for one session, creating it on first
// use. Callers hold it across every suspension point of an operation.
func (c *Controller) lockSession(id uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func (c *Controller) dropLock(id uuid.UUID) {
	c.mu.Lock()
	delete(c.locks, id)
	c.mu.Unlock()
	c.tickMu.Lock()
	delete(c.lastTick, id)
	c.tickMu.Unlock()
}

// CreateSession creates a session and its first funded account.
func (c *Controller) CreateSession(ctx context.Context, ownerKey string, req CreateSessionRequest) (*models.Session, *models.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	speed := decimal.NewFromInt(1)
	if req.Speed != nil {
		speed = *req.Speed
	}
	cash := defaultInitialCash
	if req.InitialCash != nil {
		cash = *req.InitialCash
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:          uuid.New(),
		OwnerKey:    ownerKey,
		Name:        req.Name,
		SimStart:    req.SimStart.UTC(),
		SimEnd:      req.SimEnd.UTC(),
		SimNow:      req.SimStart.UTC(),
		Playback:    models.PlaybackPaused,
		Speed:       speed,
		InitialCash: cash,
		Status:      models.SessionActive,
		CreatedAt:   now,
	}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}

	acct := &models.Account{
		ID:        uuid.New(),
		SessionID: sess.ID,
		Number:    fmt.Sprintf("SIM%08d", rand.Intn(100_000_000)),
		Cash:      cash,
		CreatedAt: now,
	}
	portfolio.Recalculate(acct, nil)
	acct.LastEquity = acct.Equity
	if err := c.store.CreateAccount(ctx, acct); err != nil {
		return nil, nil, err
	}

	c.bus.Publish(events.Event{Type: events.EventSessionCreated, SessionID: sess.ID})
	c.logger.Info("session created", "session_id", sess.ID, "sim_start", sess.SimStart, "sim_end", sess.SimEnd)
	return sess, acct, nil
}

// GetSession loads a session owned by the caller.
func (c *Controller) GetSession(ctx context.Context, ownerKey string, id uuid.UUID) (*models.Session, error) {
	sess, err := c.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerKey != ownerKey {
		return nil, errs.E(errs.KindNotFound, "session %s not found", id)
	}
	return sess, nil
}

// ListSessions lists the caller's sessions.
func (c *Controller) ListSessions(ctx context.Context, ownerKey string) ([]*models.Session, error) {
	return c.store.ListSessions(ctx, ownerKey)
}

// DeleteSession destroys a session and everything it owns.
func (c *Controller) DeleteSession(ctx context.Context, ownerKey string, id uuid.UUID) error {
	l := c.lockSession(id)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, id)
	if err != nil {
		return err
	}
	accts, err := c.store.ListAccounts(ctx, sess.ID)
	if err != nil {
		return err
	}
	if err := c.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	for _, a := range accts {
		c.tracker.DropAccount(a.ID)
	}
	c.dropLock(id)
	c.bus.Publish(events.Event{Type: events.EventSessionDeleted, SessionID: id})
	c.logger.Info("session deleted", "session_id", id)
	return nil
}

// CreateAccount adds a funded account to a session.
func (c *Controller) CreateAccount(ctx context.Context, ownerKey string, sessionID uuid.UUID, cash decimal.Decimal) (*models.Account, error) {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return nil, err
	}
	if cash.IsNegative() {
		return nil, errs.Field("cash", "cash must not be negative")
	}
	if cash.IsZero() {
		cash = sess.InitialCash
	}
	acct := &models.Account{
		ID:        uuid.New(),
		SessionID: sess.ID,
		Number:    fmt.Sprintf("SIM%08d", rand.Intn(100_000_000)),
		Cash:      cash,
		CreatedAt: time.Now().UTC(),
	}
	portfolio.Recalculate(acct, nil)
	acct.LastEquity = acct.Equity
	if err := c.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// GetAccount loads one account.
func (c *Controller) GetAccount(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID) (*models.Account, error) {
	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	return c.store.GetAccount(ctx, sessionID, accountID)
}

// ListAccounts lists a session's accounts.
func (c *Controller) ListAccounts(ctx context.Context, ownerKey string, sessionID uuid.UUID) ([]*models.Account, error) {
	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	return c.store.ListAccounts(ctx, sessionID)
}

// AdjustAccountCash patches an account's cash and recomputes aggregates.
// Used to seed scenarios.
func (c *Controller) AdjustAccountCash(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID, cash decimal.Decimal) (*models.Account, error) {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	acct, err := c.store.GetAccount(ctx, sessionID, accountID)
	if err != nil {
		return nil, err
	}
	if cash.IsNegative() {
		return nil, errs.Field("cash", "cash must not be negative")
	}
	acct.Cash = cash
	positions, err := c.store.ListPositions(ctx, sessionID, accountID)
	if err != nil {
		return nil, err
	}
	portfolio.Recalculate(acct, positions)
	if err := c.store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// DeleteAccount removes an account and its orders and positions.
func (c *Controller) DeleteAccount(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID) error {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return err
	}
	if err := c.store.DeleteAccount(ctx, sessionID, accountID); err != nil {
		return err
	}
	c.tracker.DropAccount(accountID)
	return nil
}

// SubmitOrder validates and accepts an order; market orders may fill
// immediately against the current bar.
func (c *Controller) SubmitOrder(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID, req OrderRequest) (*models.Order, error) {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return nil, err
	}
	acct, err := c.store.GetAccount(ctx, sessionID, accountID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	symbol := bars.NormalizeSymbol(req.Symbol)
	now := sess.SimNow

	if req.ClientOrderID != "" {
		if prev, err := c.store.GetOrderByClientID(ctx, sessionID, accountID, req.ClientOrderID); err == nil {
			if now.Sub(prev.SubmittedAt) < duplicateClientIDWindow {
				return nil, errs.E(errs.KindInvalidArgument, "duplicate client_order_id %q", req.ClientOrderID)
			}
		}
	}

	order := &models.Order{
		ID:            uuid.New(),
		SessionID:     sessionID,
		AccountID:     accountID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        symbol,
		Type:          req.Type,
		Side:          req.Side,
		TimeInForce:   req.TimeInForce,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		TrailPrice:    req.TrailPrice,
		TrailPercent:  req.TrailPercent,
		ExtendedHours: req.ExtendedHours,
		Status:        models.OrderStatusAccepted,
		SubmittedAt:   now,
	}
	if req.Qty != nil {
		order.Qty = *req.Qty
	}
	if req.Notional != nil {
		n := *req.Notional
		order.Notional = &n
	}

	var currentPrice *decimal.Decimal
	bar, barErr := c.bars.GetBar(ctx, symbol, now, models.ResolutionMinute)
	if barErr == nil {
		p := bar.Close
		currentPrice = &p
	}

	if verrs := c.validator.ValidateOrder(order, validation.Context{
		CurrentPrice: currentPrice,
		MarketOpen:   clock.IsMarketOpen(now),
		BuyingPower:  acct.BuyingPower,
	}); verrs != nil {
		c.persistRejected(ctx, order, now)
		return order, verrs
	}

	if err := c.checkShortSale(ctx, order, acct, bar); err != nil {
		c.persistRejected(ctx, order, now)
		return order, err
	}

	// PDT gate: a closing trade that would complete a same-day round trip
	// below minimum equity consumes or exceeds the allowance.
	var pdtWarning string
	switch c.tracker.ValidateTrade(accountID, symbol, order.Side, acct.Equity, now) {
	case pdt.Rejected:
		c.persistRejected(ctx, order, now)
		return order, errs.E(errs.KindPdtViolation, "day trade limit reached: %d day trades in the last 5 days with equity below $25,000",
			c.tracker.CountDayTrades(accountID, now))
	case pdt.Warning:
		pdtWarning = "this order would be your 3rd day trade in 5 days; further day trades will be blocked until equity reaches $25,000"
		c.logger.Warn("day trade allowance nearly exhausted", "account_id", accountID, "symbol", symbol)
	}

	if err := c.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	if pdtWarning != "" {
		order.Warnings = append(order.Warnings, pdtWarning)
	}
	c.publishOrder(events.EventOrderAccepted, sess.ID, order)

	// Market orders execute against the current bar right away.
	if order.Type == models.OrderTypeMarket && barErr == nil {
		res, mErr := c.engine.Match(order, bar, now)
		if mErr != nil {
			return order, mErr
		}
		if err := c.applyResult(ctx, sess, acct, order, res, bar, now); err != nil {
			return order, err
		}
		if err := c.store.UpdateSession(ctx, sess); err != nil {
			return order, err
		}
	}

	return order, nil
}

func (c *Controller) persistRejected(ctx context.Context, order *models.Order, now time.Time) {
	order.Status = models.OrderStatusRejected
	t := now
	order.FailedAt = &t
	if err := c.store.CreateOrder(ctx, order); err != nil {
		c.logger.Error("failed to persist rejected order", "order_id", order.ID, "error", err)
	}
	c.publishOrder(events.EventOrderRejected, order.SessionID, order)
}

// checkShortSale enforces the short-sale buying power requirement for sells
// that would open or extend a short position.
func (c *Controller) checkShortSale(ctx context.Context, order *models.Order, acct *models.Account, bar *models.Bar) error {
	if order.Side != models.SideSell || bar == nil {
		return nil
	}
	held := decimal.Zero
	if pos, err := c.store.GetPosition(ctx, order.SessionID, order.AccountID, order.Symbol); err == nil {
		held = pos.Qty
	}
	if order.Qty.LessThanOrEqual(held) {
		return nil
	}
	shortQty := order.Qty.Sub(decimal.Max(held, decimal.Zero))
	limit := decimal.Zero
	if order.LimitPrice != nil {
		limit = *order.LimitPrice
	}
	ask := matching.QuoteFromBar(bar).AskPrice
	required := portfolio.ShortSaleRequirement(limit, ask, shortQty)
	if required.GreaterThan(acct.BuyingPower) {
		return errs.E(errs.KindInsufficientFunds,
			"short sale requires %s buying power, have %s", required.String(), acct.BuyingPower.String())
	}
	return nil
}

// CancelOrder cancels a working order.
func (c *Controller) CancelOrder(ctx context.Context, ownerKey string, sessionID, orderID uuid.UUID) (*models.Order, error) {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return nil, err
	}
	order, err := c.store.GetOrder(ctx, sessionID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancelable() {
		return nil, errs.E(errs.KindConflict, "order %s is %s and cannot be canceled", orderID, order.Status)
	}
	order.Status = models.OrderStatusCanceled
	t := sess.SimNow
	order.CanceledAt = &t
	if err := c.store.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}
	c.publishOrder(events.EventOrderCanceled, sessionID, order)
	return order, nil
}

// GetOrder loads one order.
func (c *Controller) GetOrder(ctx context.Context, ownerKey string, sessionID, orderID uuid.UUID) (*models.Order, error) {
	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	return c.store.GetOrder(ctx, sessionID, orderID)
}

// ListOrders lists an account's orders through the store filter.
func (c *Controller) ListOrders(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID, f store.OrderFilter) ([]*models.Order, error) {
	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	return c.store.ListOrders(ctx, sessionID, accountID, f)
}

// ListPositions lists an account's open positions.
func (c *Controller) ListPositions(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID) ([]*models.Position, error) {
	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	return c.store.ListPositions(ctx, sessionID, accountID)
}

// GetPosition loads one position by symbol.
func (c *Controller) GetPosition(ctx context.Context, ownerKey string, sessionID, accountID uuid.UUID, symbol string) (*models.Position, error) {
	if _, err := c.GetSession(ctx, ownerKey, sessionID); err != nil {
		return nil, err
	}
	return c.store.GetPosition(ctx, sessionID, accountID, bars.NormalizeSymbol(symbol))
}

// Quote synthesizes a bid/ask from the session's current bar.
func (c *Controller) Quote(ctx context.Context, ownerKey string, sessionID uuid.UUID, symbol string) (*models.Quote, error) {
	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return nil, err
	}
	bar, err := c.bars.GetBar(ctx, bars.NormalizeSymbol(symbol), sess.SimNow, models.ResolutionMinute)
	if err != nil {
		return nil, err
	}
	q := matching.QuoteFromBar(bar)
	return &q, nil
}

// AdvanceTime applies the clock movement, then fills, expires, and cancels
// pending orders against the bars at the new simulated time.
func (c *Controller) AdvanceTime(ctx context.Context, ownerKey string, sessionID uuid.UUID, req AdvanceRequest) (*AdvanceResult, error) {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return nil, err
	}

	var prev, next time.Time
	switch {
	case req.TargetTime != nil:
		prev, next, err = c.clock.AdvanceTo(sess, req.TargetTime.UTC())
	case req.DurationMinutes != nil:
		if *req.DurationMinutes < 0 {
			return nil, errs.Field("duration", "duration must not be negative")
		}
		prev, next, err = c.clock.AdvanceBy(sess, time.Duration(*req.DurationMinutes)*time.Minute)
	default:
		prev, next, err = c.clock.AdvanceBy(sess, time.Minute)
	}
	if err != nil {
		return nil, err
	}

	// A manual step on a playing session parks playback while it runs so the
	// background ticker skips it.
	if sess.Playback == models.PlaybackPlaying {
		sess.Playback = models.PlaybackStepPending
		if err := c.store.UpdateSession(ctx, sess); err != nil {
			return nil, err
		}
		defer func() {
			if sess.Playback != models.PlaybackStepPending {
				return
			}
			sess.Playback = models.PlaybackPlaying
			if err := c.store.UpdateSession(ctx, sess); err != nil {
				c.logger.Error("failed to resume playback after step", "session_id", sess.ID, "error", err)
			}
		}()
	}

	if err := c.rolloverTradingDay(ctx, sess, prev, next); err != nil {
		return nil, err
	}

	result := &AdvanceResult{PrevTime: prev, NewTime: next}
	if err := c.processPending(ctx, sess, result); err != nil {
		return nil, err
	}

	if sess.Playback == models.PlaybackStepPending {
		sess.Playback = models.PlaybackPlaying
	}
	if sess.AtEnd() {
		sess.Status = models.SessionCompleted
		sess.Playback = models.PlaybackPaused
	}
	if err := c.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	c.tracker.Purge(sess.SimNow)
	c.bus.Publish(events.Event{
		Type:      events.EventClockAdvanced,
		SessionID: sess.ID,
		Data: map[string]interface{}{
			"prev_time": prev,
			"new_time":  next,
		},
	})
	return result, nil
}

// rolloverTradingDay snapshots each account's equity into last_equity when
// the clock crosses an Eastern calendar-day boundary.
func (c *Controller) rolloverTradingDay(ctx context.Context, sess *models.Session, prev, next time.Time) error {
	if clock.SameTradingDay(prev, next) {
		return nil
	}
	accts, err := c.store.ListAccounts(ctx, sess.ID)
	if err != nil {
		return err
	}
	for _, a := range accts {
		a.LastEquity = a.Equity
		if err := c.store.UpdateAccount(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// processPending runs the matching batch for every active order of the
// session and refreshes positions and accounts. One order's failure does not
// stop the rest.
func (c *Controller) processPending(ctx context.Context, sess *models.Session, result *AdvanceResult) error {
	now := sess.SimNow
	orders, err := c.store.ListOrders(ctx, sess.ID, uuid.Nil, store.OrderFilter{Status: "open", Ascending: true})
	if err != nil {
		return err
	}

	symbolSet := make(map[string]bool)
	for _, o := range orders {
		symbolSet[o.Symbol] = true
	}
	positions, err := c.store.ListPositions(ctx, sess.ID, uuid.Nil)
	if err != nil {
		return err
	}
	for _, p := range positions {
		symbolSet[p.Symbol] = true
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	barsBySymbol := map[string]*models.Bar{}
	if len(symbols) > 0 {
		barsBySymbol, err = c.bars.GetLatestBars(ctx, symbols, now)
		if err != nil {
			return err
		}
	}

	accounts := make(map[uuid.UUID]*models.Account)
	loadAccount := func(id uuid.UUID) (*models.Account, error) {
		if a, ok := accounts[id]; ok {
			return a, nil
		}
		a, err := c.store.GetAccount(ctx, sess.ID, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = a
		return a, nil
	}

	for _, m := range c.engine.ProcessPending(orders, barsBySymbol, now) {
		if m.Err != nil {
			c.logger.Warn("order match failed", "order_id", m.Order.ID, "error", m.Err)
			continue
		}
		acct, err := loadAccount(m.Order.AccountID)
		if err != nil {
			c.logger.Error("account load failed during advance", "account_id", m.Order.AccountID, "error", err)
			continue
		}
		bar := barsBySymbol[m.Order.Symbol]
		if err := c.applyResult(ctx, sess, acct, m.Order, m.Result, bar, now); err != nil {
			c.logger.Error("order processing failed during advance", "order_id", m.Order.ID, "error", err)
			continue
		}
		switch m.Order.Status {
		case models.OrderStatusFilled, models.OrderStatusPartiallyFilled:
			result.FilledOrders++
		case models.OrderStatusExpired:
			result.ExpiredOrders++
		case models.OrderStatusCanceled:
			result.CanceledOrders++
		case models.OrderStatusRejected:
			result.RejectedOrders++
		}
	}

	return c.refreshPositions(ctx, sess, barsBySymbol, accounts)
}

// refreshPositions marks every open position to the latest bar close and
// recomputes account and session aggregates.
func (c *Controller) refreshPositions(ctx context.Context, sess *models.Session, barsBySymbol map[string]*models.Bar, touched map[uuid.UUID]*models.Account) error {
	positions, err := c.store.ListPositions(ctx, sess.ID, uuid.Nil)
	if err != nil {
		return err
	}

	byAccount := make(map[uuid.UUID][]*models.Position)
	unrealized := decimal.Zero
	for _, p := range positions {
		if bar, ok := barsBySymbol[p.Symbol]; ok {
			lastDay := c.lastDayClose(ctx, p.Symbol, sess.SimNow)
			portfolio.UpdatePrices(p, bar.Close, lastDay)
			if err := c.store.UpsertPosition(ctx, p); err != nil {
				return err
			}
		}
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	sess.UnrealizedPnL = unrealized

	// Every account holding a position moved with the marks, not just those
	// that saw a fill this advance.
	for id := range byAccount {
		if _, ok := touched[id]; ok {
			continue
		}
		acct, err := c.store.GetAccount(ctx, sess.ID, id)
		if err != nil {
			return err
		}
		touched[id] = acct
	}

	for id, acct := range touched {
		portfolio.Recalculate(acct, byAccount[id])
		acct.DayTradeCount = c.tracker.CountDayTrades(id, sess.SimNow)
		if c.tracker.IsPatternDayTrader(id, sess.SimNow) {
			acct.PatternDayTrader = true
		}
		if err := c.store.UpdateAccount(ctx, acct); err != nil {
			return err
		}
	}
	return nil
}

// lastDayClose returns the previous daily close for intraday P&L, or zero.
func (c *Controller) lastDayClose(ctx context.Context, symbol string, now time.Time) decimal.Decimal {
	dayStart := clock.TradingDay(now)
	bar, err := c.bars.GetBar(ctx, symbol, dayStart, models.ResolutionDay)
	if err != nil {
		return decimal.Zero
	}
	return bar.Close
}

// applyResult persists one matching result: status transitions and, when a
// fill occurred, position, account, and day-trade bookkeeping.
func (c *Controller) applyResult(ctx context.Context, sess *models.Session, acct *models.Account, order *models.Order, res matching.Result, bar *models.Bar, now time.Time) error {
	if res.Fill == nil {
		if res.Status == order.Status {
			return nil
		}
		order.Status = res.Status
		t := now
		switch res.Status {
		case models.OrderStatusExpired:
			order.ExpiredAt = &t
			c.publishOrder(events.EventOrderExpired, sess.ID, order)
		case models.OrderStatusCanceled:
			order.CanceledAt = &t
			c.publishOrder(events.EventOrderCanceled, sess.ID, order)
		case models.OrderStatusRejected:
			order.FailedAt = &t
			c.publishOrder(events.EventOrderRejected, sess.ID, order)
		}
		return c.store.UpdateOrder(ctx, order)
	}

	fill := res.Fill
	if order.Qty.IsZero() && order.Notional != nil {
		// notional orders size themselves at the first execution price
		order.Qty = order.Notional.Div(fill.Price).Round(9)
	}
	order.RecordFill(fill.Qty, fill.Price, now)
	if res.Status == models.OrderStatusCanceled {
		// IOC remainder after a partial fill
		order.Status = models.OrderStatusCanceled
		t := now
		order.CanceledAt = &t
	}

	pos, err := c.store.GetPosition(ctx, sess.ID, order.AccountID, order.Symbol)
	if err != nil {
		if errs.KindOf(err) != errs.KindNotFound {
			return err
		}
		pos = &models.Position{
			ID:        uuid.New(),
			SessionID: sess.ID,
			AccountID: order.AccountID,
			Symbol:    order.Symbol,
		}
	}
	realized := portfolio.ApplyFill(pos, fill.Qty, fill.Price, order.Side)
	sess.RealizedPnL = sess.RealizedPnL.Add(realized)

	lastDay := decimal.Zero
	if bar != nil {
		lastDay = c.lastDayClose(ctx, order.Symbol, now)
	}
	portfolio.UpdatePrices(pos, fill.Price, lastDay)

	if pos.Flat() {
		if err := c.store.DeletePosition(ctx, sess.ID, order.AccountID, order.Symbol); err != nil &&
			errs.KindOf(err) != errs.KindNotFound {
			return err
		}
	} else {
		if err := c.store.UpsertPosition(ctx, pos); err != nil {
			return err
		}
	}

	portfolio.ApplyAccountFill(acct, order.Side, fill.Qty, fill.Price)
	c.tracker.Record(order.AccountID, order.Symbol, order.Side, fill.Qty, now)
	acct.DayTradeCount = c.tracker.CountDayTrades(order.AccountID, now)
	if c.tracker.IsPatternDayTrader(order.AccountID, now) {
		acct.PatternDayTrader = true
	}

	positions, err := c.store.ListPositions(ctx, sess.ID, order.AccountID)
	if err != nil {
		return err
	}
	portfolio.Recalculate(acct, positions)
	if err := c.store.UpdateAccount(ctx, acct); err != nil {
		return err
	}
	if err := c.store.UpdateOrder(ctx, order); err != nil {
		return err
	}

	evType := events.EventOrderFilled
	if order.Status == models.OrderStatusPartiallyFilled {
		evType = events.EventOrderPartial
	}
	c.publishOrder(evType, sess.ID, order)
	c.logger.Debug("fill applied",
		"order_id", order.ID, "symbol", order.Symbol, "side", order.Side,
		"qty", fill.Qty.String(), "price", fill.Price.String())
	return nil
}

func (c *Controller) publishOrder(t events.EventType, sessionID uuid.UUID, order *models.Order) {
	c.bus.Publish(events.Event{
		Type:      t,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"order_id": order.ID.String(),
			"symbol":   order.Symbol,
			"status":   string(order.Status),
		},
	})
}

// Play starts wall-clock playback.
func (c *Controller) Play(ctx context.Context, ownerKey string, sessionID uuid.UUID) error {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	if err := c.clock.Play(sess, now); err != nil {
		return err
	}
	c.tickMu.Lock()
	c.lastTick[sessionID] = now
	c.tickMu.Unlock()
	return c.store.UpdateSession(ctx, sess)
}

// Pause stops wall-clock playback.
func (c *Controller) Pause(ctx context.Context, ownerKey string, sessionID uuid.UUID) error {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return err
	}
	c.clock.Pause(sess)
	c.tickMu.Lock()
	delete(c.lastTick, sessionID)
	c.tickMu.Unlock()
	return c.store.UpdateSession(ctx, sess)
}

// TickPlayback advances one playing session by the wall time elapsed since
// its last tick, then runs the matching batch on whatever time passed.
func (c *Controller) TickPlayback(ctx context.Context, sessionID uuid.UUID, wallNow time.Time) error {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Playback != models.PlaybackPlaying || sess.Status != models.SessionActive {
		return nil
	}
	c.tickMu.Lock()
	sess.LastTickWall = c.lastTick[sessionID]
	c.tickMu.Unlock()
	prev, next, err := c.clock.Tick(sess, wallNow)
	c.tickMu.Lock()
	c.lastTick[sessionID] = sess.LastTickWall
	c.tickMu.Unlock()
	if err != nil {
		if errs.KindOf(err) == errs.KindCompleted {
			sess.Playback = models.PlaybackPaused
			sess.Status = models.SessionCompleted
			return c.store.UpdateSession(ctx, sess)
		}
		return err
	}
	if next.Equal(prev) {
		return nil
	}

	if err := c.rolloverTradingDay(ctx, sess, prev, next); err != nil {
		return err
	}

	result := &AdvanceResult{PrevTime: prev, NewTime: next}
	if err := c.processPending(ctx, sess, result); err != nil {
		return err
	}
	if sess.AtEnd() {
		sess.Playback = models.PlaybackPaused
		sess.Status = models.SessionCompleted
	}
	if err := c.store.UpdateSession(ctx, sess); err != nil {
		return err
	}
	c.tracker.Purge(sess.SimNow)
	c.bus.Publish(events.Event{
		Type:      events.EventClockAdvanced,
		SessionID: sess.ID,
		Data: map[string]interface{}{
			"prev_time": prev,
			"new_time":  next,
		},
	})
	return nil
}

// RunPlayback drives wall-clock playback for every playing session until the
// context is canceled. Intended to run as a single background goroutine.
func (c *Controller) RunPlayback(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sessions, err := c.store.ListSessions(ctx, "")
			if err != nil {
				c.logger.Error("playback session scan failed", "error", err)
				continue
			}
			for _, s := range sessions {
				if s.Playback != models.PlaybackPlaying || s.Status != models.SessionActive {
					continue
				}
				if err := c.TickPlayback(ctx, s.ID, now); err != nil {
					c.logger.Error("playback tick failed", "session_id", s.ID, "error", err)
				}
			}
		}
	}
}

// SetSpeed changes the playback speed.
func (c *Controller) SetSpeed(ctx context.Context, ownerKey string, sessionID uuid.UUID, speed decimal.Decimal) error {
	l := c.lockSession(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := c.GetSession(ctx, ownerKey, sessionID)
	if err != nil {
		return err
	}
	if err := c.clock.SetSpeed(sess, speed); err != nil {
		return err
	}
	return c.store.UpdateSession(ctx, sess)
}
