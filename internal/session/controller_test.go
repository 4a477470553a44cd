package session

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/events"
	"market-replay-broker/internal/logging"
	"market-replay-broker/internal/models"
	"market-replay-broker/internal/store"
)

const testOwner = "test-key"

// 2024-03-04 09:30 ET, a Monday at the open.
var simStart = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func i64(n int64) *int64 {
	return &n
}

func newTestController(t *testing.T) (*Controller, *bars.MemoryBarStore) {
	t.Helper()
	barStore := bars.NewMemoryBarStore()
	return NewController(store.NewMemoryStore(), barStore, events.NewBus(), logging.Default()), barStore
}

// stdBar has a 20-point range, so adverse slippage is 2, and volume that
// caps a single fill at 10,000 shares.
func stdBar(symbol string, ts time.Time) *models.Bar {
	return &models.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      dec("100"),
		High:      dec("110"),
		Low:       dec("90"),
		Close:     dec("105"),
		Volume:    dec("1000000"),
	}
}

func newTestSession(t *testing.T, c *Controller, cash string) (*models.Session, *models.Account) {
	t.Helper()
	sess, acct, err := c.CreateSession(context.Background(), testOwner, CreateSessionRequest{
		Name:        "replay",
		SimStart:    simStart,
		SimEnd:      simStart.AddDate(0, 0, 4),
		InitialCash: decPtr(cash),
	})
	require.NoError(t, err)
	return sess, acct
}

func marketBuy(symbol, qty string) OrderRequest {
	return OrderRequest{
		Symbol: symbol, Qty: decPtr(qty),
		Side: models.SideBuy, Type: models.OrderTypeMarket, TimeInForce: models.TIFDay,
	}
}

func marketSell(symbol, qty string) OrderRequest {
	return OrderRequest{
		Symbol: symbol, Qty: decPtr(qty),
		Side: models.SideSell, Type: models.OrderTypeMarket, TimeInForce: models.TIFDay,
	}
}

func TestMarketOrderFillsImmediately(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("AAPL", "10"))
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQty.Equal(dec("10")))
	require.NotNil(t, order.FilledAvgPrice)
	// open 100 pushed up by 10% of the 20-point range
	assert.True(t, order.FilledAvgPrice.Equal(dec("102")), "got %s", order.FilledAvgPrice)

	acct, err = c.GetAccount(ctx, testOwner, sess.ID, acct.ID)
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(dec("98980")), "cash after 10 @ 102: got %s", acct.Cash)

	pos, err := c.GetPosition(ctx, testOwner, sess.ID, acct.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Qty.Equal(dec("10")))
	assert.True(t, pos.AvgEntryPrice.Equal(dec("102")))
}

func TestNotionalOrderSizesAtExecution(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, OrderRequest{
		Symbol: "AAPL", Notional: decPtr("10200"),
		Side: models.SideBuy, Type: models.OrderTypeMarket, TimeInForce: models.TIFDay,
	})
	require.NoError(t, err)

	// 10200 notional at the slipped price of 102 is exactly 100 shares
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	assert.True(t, order.Qty.Equal(dec("100")), "got %s", order.Qty)
	assert.True(t, order.FilledQty.Equal(dec("100")))
}

func TestLimitOrderFillsOnAdvance(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	// the next minute never trades down to the limit
	barStore.Add(models.ResolutionMinute, &models.Bar{
		Symbol: "AAPL", Timestamp: simStart.Add(time.Minute),
		Open: dec("100"), High: dec("104"), Low: dec("98"), Close: dec("101"), Volume: dec("1000000"),
	})
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart.Add(2*time.Minute)))
	sess, acct := newTestSession(t, c, "100000")

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, OrderRequest{
		Symbol: "AAPL", Qty: decPtr("10"), LimitPrice: decPtr("95"),
		Side: models.SideBuy, Type: models.OrderTypeLimit, TimeInForce: models.TIFDay,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, order.Status)

	res, err := c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{DurationMinutes: i64(1)})
	require.NoError(t, err)
	assert.Zero(t, res.FilledOrders, "limit should not fill above its price")

	res, err = c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{DurationMinutes: i64(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilledOrders)

	order, err = c.GetOrder(ctx, testOwner, sess.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	// limit 95 worsened by slippage but capped by the bar
	assert.True(t, order.FilledAvgPrice.Equal(dec("97")), "got %s", order.FilledAvgPrice)
}

func TestSellStopClosesPosition(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart.Add(time.Minute)))
	sess, acct := newTestSession(t, c, "100000")

	_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("AAPL", "10"))
	require.NoError(t, err)

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, OrderRequest{
		Symbol: "AAPL", Qty: decPtr("10"), StopPrice: decPtr("95"),
		Side: models.SideSell, Type: models.OrderTypeStop, TimeInForce: models.TIFGTC,
	})
	require.NoError(t, err)

	res, err := c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{DurationMinutes: i64(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilledOrders)

	order, err = c.GetOrder(ctx, testOwner, sess.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	// min(open, stop) = 95, pushed down by slippage
	assert.True(t, order.FilledAvgPrice.Equal(dec("93")), "got %s", order.FilledAvgPrice)

	_, err = c.GetPosition(ctx, testOwner, sess.ID, acct.ID, "AAPL")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "flat positions are removed")

	sess, err = c.GetSession(ctx, testOwner, sess.ID)
	require.NoError(t, err)
	// bought at 102, stopped out at 93
	assert.True(t, sess.RealizedPnL.Equal(dec("-90")), "got %s", sess.RealizedPnL)
}

func TestInsufficientBuyingPowerRejects(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "1000")

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("AAPL", "100"))
	require.Error(t, err)
	assert.Equal(t, models.OrderStatusRejected, order.Status)

	// the rejection is persisted for the order history
	order, err = c.GetOrder(ctx, testOwner, sess.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, order.Status)
	assert.NotNil(t, order.FailedAt)
}

func TestDuplicateClientOrderID(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	req := marketBuy("AAPL", "1")
	req.ClientOrderID = "my-order-1"
	_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, req)
	require.NoError(t, err)

	_, err = c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, req)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, OrderRequest{
		Symbol: "AAPL", Qty: decPtr("10"), LimitPrice: decPtr("50"),
		Side: models.SideBuy, Type: models.OrderTypeLimit, TimeInForce: models.TIFGTC,
	})
	require.NoError(t, err)

	canceled, err := c.CancelOrder(ctx, testOwner, sess.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, canceled.Status)
	assert.NotNil(t, canceled.CanceledAt)

	_, err = c.CancelOrder(ctx, testOwner, sess.ID, order.ID)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err), "terminal orders cannot be canceled")
}

func TestDayOrderExpiresNextSession(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, OrderRequest{
		Symbol: "AAPL", Qty: decPtr("10"), LimitPrice: decPtr("50"),
		Side: models.SideBuy, Type: models.OrderTypeLimit, TimeInForce: models.TIFDay,
	})
	require.NoError(t, err)

	next := simStart.AddDate(0, 0, 1)
	res, err := c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{TargetTime: &next})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExpiredOrders)

	order, err = c.GetOrder(ctx, testOwner, sess.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusExpired, order.Status)
	assert.NotNil(t, order.ExpiredAt)
}

func TestPdtRejection(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	symbols := []string{"AAPL", "MSFT", "TSLA", "NVDA"}
	for _, s := range symbols {
		barStore.Add(models.ResolutionMinute, stdBar(s, simStart))
	}
	sess, acct := newTestSession(t, c, "20000")

	// three same-day round trips below the equity minimum
	var closes []*models.Order
	for _, s := range symbols[:3] {
		_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy(s, "1"))
		require.NoError(t, err)
		sellOrder, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketSell(s, "1"))
		require.NoError(t, err)
		closes = append(closes, sellOrder)
	}
	assert.Empty(t, closes[1].Warnings)
	assert.NotEmpty(t, closes[2].Warnings, "the third day trade consumes the last allowance")

	// opening a fourth position is fine; closing it the same day is not
	_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("NVDA", "1"))
	require.NoError(t, err)
	order, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketSell("NVDA", "1"))
	assert.Equal(t, errs.KindPdtViolation, errs.KindOf(err))
	assert.Equal(t, models.OrderStatusRejected, order.Status)

	acct, err = c.GetAccount(ctx, testOwner, sess.ID, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, acct.DayTradeCount)
}

func TestAdvanceMarksIdleAccounts(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	// next minute gaps up hard
	barStore.Add(models.ResolutionMinute, &models.Bar{
		Symbol: "AAPL", Timestamp: simStart.Add(time.Minute),
		Open: dec("195"), High: dec("205"), Low: dec("190"), Close: dec("200"), Volume: dec("1000000"),
	})
	sess, acct := newTestSession(t, c, "100000")

	_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("AAPL", "10"))
	require.NoError(t, err)

	// no working orders remain; the position mark alone must move the account
	_, err = c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{DurationMinutes: i64(1)})
	require.NoError(t, err)

	pos, err := c.GetPosition(ctx, testOwner, sess.ID, acct.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.MarketValue.Equal(dec("2000")), "got %s", pos.MarketValue)

	acct, err = c.GetAccount(ctx, testOwner, sess.ID, acct.ID)
	require.NoError(t, err)
	assert.True(t, acct.LongMarketValue.Equal(pos.MarketValue), "got %s", acct.LongMarketValue)
	assert.True(t, acct.Equity.Equal(acct.Cash.Add(pos.MarketValue)), "got %s", acct.Equity)
}

func TestLastEquityRollsOverAtDayBoundary(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	barStore.Add(models.ResolutionMinute, &models.Bar{
		Symbol: "AAPL", Timestamp: simStart.Add(time.Minute),
		Open: dec("195"), High: dec("205"), Low: dec("190"), Close: dec("200"), Volume: dec("1000000"),
	})
	sess, acct := newTestSession(t, c, "100000")

	_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("AAPL", "10"))
	require.NoError(t, err)
	_, err = c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{DurationMinutes: i64(1)})
	require.NoError(t, err)

	acct, err = c.GetAccount(ctx, testOwner, sess.ID, acct.ID)
	require.NoError(t, err)
	assert.True(t, acct.LastEquity.Equal(dec("100000")), "still the funding equity: got %s", acct.LastEquity)
	assert.True(t, acct.Equity.Equal(dec("100980")), "got %s", acct.Equity)

	next := simStart.AddDate(0, 0, 1)
	_, err = c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{TargetTime: &next})
	require.NoError(t, err)

	acct, err = c.GetAccount(ctx, testOwner, sess.ID, acct.ID)
	require.NoError(t, err)
	assert.True(t, acct.LastEquity.Equal(dec("100980")), "got %s", acct.LastEquity)
}

func TestOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	_, err := c.GetSession(ctx, "other-key", sess.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "foreign sessions look nonexistent")

	_, err = c.SubmitOrder(ctx, "other-key", sess.ID, acct.ID, marketBuy("AAPL", "1"))
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	sessions, err := c.ListSessions(ctx, "other-key")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionCompletesAtEnd(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, _ := newTestSession(t, c, "100000")

	end := sess.SimEnd
	res, err := c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{TargetTime: &end})
	require.NoError(t, err)
	assert.True(t, res.NewTime.Equal(sess.SimEnd))

	sess, err = c.GetSession(ctx, testOwner, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)

	_, err = c.AdvanceTime(ctx, testOwner, sess.ID, AdvanceRequest{DurationMinutes: i64(1)})
	assert.Equal(t, errs.KindCompleted, errs.KindOf(err))
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	c, barStore := newTestController(t)
	barStore.Add(models.ResolutionMinute, stdBar("AAPL", simStart))
	sess, acct := newTestSession(t, c, "100000")

	_, err := c.SubmitOrder(ctx, testOwner, sess.ID, acct.ID, marketBuy("AAPL", "10"))
	require.NoError(t, err)

	require.NoError(t, c.DeleteSession(ctx, testOwner, sess.ID))
	_, err = c.GetSession(ctx, testOwner, sess.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	_, err = c.GetAccount(ctx, testOwner, sess.ID, acct.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}
