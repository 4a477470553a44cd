package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// testBar: open 100, high 110, low 90, close 105, volume 1,000,000.
// Range 20, so slippage is 2; participation cap is 10,000 shares.
func testBar() *models.Bar {
	return &models.Bar{
		Symbol:    "AAPL",
		Timestamp: time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC),
		Open:      dec("100"),
		High:      dec("110"),
		Low:       dec("90"),
		Close:     dec("105"),
		Volume:    dec("1000000"),
	}
}

func newOrder(typ models.OrderType, side models.OrderSide, qty string) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		Symbol:      "AAPL",
		Qty:         dec(qty),
		Type:        typ,
		Side:        side,
		TimeInForce: models.TIFGTC,
		Status:      models.OrderStatusAccepted,
		SubmittedAt: time.Date(2024, 3, 4, 14, 45, 0, 0, time.UTC),
	}
}

func TestCanFill(t *testing.T) {
	e := NewEngine()
	bar := testBar()

	cases := []struct {
		name  string
		typ   models.OrderType
		side  models.OrderSide
		limit string
		stop  string
		want  bool
	}{
		{"market always fills", models.OrderTypeMarket, models.SideBuy, "", "", true},
		{"buy limit above low", models.OrderTypeLimit, models.SideBuy, "95", "", true},
		{"buy limit below low", models.OrderTypeLimit, models.SideBuy, "89", "", false},
		{"sell limit below high", models.OrderTypeLimit, models.SideSell, "108", "", true},
		{"sell limit above high", models.OrderTypeLimit, models.SideSell, "111", "", false},
		{"buy stop within high", models.OrderTypeStop, models.SideBuy, "", "109", true},
		{"buy stop above high", models.OrderTypeStop, models.SideBuy, "", "111", false},
		{"sell stop within low", models.OrderTypeStop, models.SideSell, "", "91", true},
		{"sell stop below low", models.OrderTypeStop, models.SideSell, "", "89", false},
		{"buy stop limit both reachable", models.OrderTypeStopLimit, models.SideBuy, "95", "105", true},
		{"buy stop limit stop unreachable", models.OrderTypeStopLimit, models.SideBuy, "95", "115", false},
		{"sell stop limit both reachable", models.OrderTypeStopLimit, models.SideSell, "105", "95", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrder(tc.typ, tc.side, "10")
			if tc.limit != "" {
				o.LimitPrice = decPtr(tc.limit)
			}
			if tc.stop != "" {
				o.StopPrice = decPtr(tc.stop)
			}
			got, err := e.CanFill(o, bar)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanFillTrailingStop(t *testing.T) {
	e := NewEngine()
	o := newOrder(models.OrderTypeTrailingStop, models.SideSell, "10")
	o.TrailPrice = decPtr("5")
	_, err := e.CanFill(o, testBar())
	assert.Equal(t, errs.KindNotImplemented, errs.KindOf(err))
}

func TestExecutionPrice(t *testing.T) {
	e := NewEngine()
	bar := testBar()

	limit := newOrder(models.OrderTypeLimit, models.SideBuy, "10")
	limit.LimitPrice = decPtr("95")
	assert.True(t, e.ExecutionPrice(limit, bar).Equal(dec("95")))

	// gap through a buy stop executes at the open, not the stop
	buyStop := newOrder(models.OrderTypeStop, models.SideBuy, "10")
	buyStop.StopPrice = decPtr("98")
	assert.True(t, e.ExecutionPrice(buyStop, bar).Equal(dec("100")))

	buyStop.StopPrice = decPtr("104")
	assert.True(t, e.ExecutionPrice(buyStop, bar).Equal(dec("104")))

	sellStop := newOrder(models.OrderTypeStop, models.SideSell, "10")
	sellStop.StopPrice = decPtr("102")
	assert.True(t, e.ExecutionPrice(sellStop, bar).Equal(dec("100")))

	market := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	assert.True(t, e.ExecutionPrice(market, bar).Equal(dec("100")))
}

func TestMarketOrderSlippage(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	now := bar.Timestamp

	// buys pay up: open 100 + 10% of range 20 = 102
	buy := newOrder(models.OrderTypeMarket, models.SideBuy, "100")
	res, err := e.Match(buy, bar, now)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Fill.Price.Equal(dec("102")), "got %s", res.Fill.Price)
	assert.Equal(t, models.OrderStatusFilled, res.Status)

	// sells give up: 100 - 2 = 98
	sell := newOrder(models.OrderTypeMarket, models.SideSell, "100")
	res, err = e.Match(sell, bar, now)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Fill.Price.Equal(dec("98")), "got %s", res.Fill.Price)
}

func TestSlippageClampedToBar(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	now := bar.Timestamp

	// limit 109 + slippage 2 would leave the bar; clamp to high 110
	buy := newOrder(models.OrderTypeLimit, models.SideBuy, "10")
	buy.LimitPrice = decPtr("109")
	res, err := e.Match(buy, bar, now)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Fill.Price.Equal(dec("110")), "got %s", res.Fill.Price)
}

func TestZeroRangeBarNoSlippage(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	bar.Open, bar.High, bar.Low, bar.Close = dec("100"), dec("100"), dec("100"), dec("100")

	buy := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	res, err := e.Match(buy, bar, bar.Timestamp)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Fill.Price.Equal(dec("100")))
}

func TestParticipationCap(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	now := bar.Timestamp

	// 1% of 1,000,000 caps the fill at 10,000 shares
	big := newOrder(models.OrderTypeMarket, models.SideBuy, "25000")
	res, err := e.Match(big, bar, now)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Fill.Qty.Equal(dec("10000")))
	assert.True(t, res.Fill.Partial)
	assert.Equal(t, models.OrderStatusPartiallyFilled, res.Status)
}

func TestIOC(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	now := bar.Timestamp

	// partial fill then cancel the remainder
	o := newOrder(models.OrderTypeMarket, models.SideBuy, "25000")
	o.TimeInForce = models.TIFIOC
	res, err := e.Match(o, bar, now)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.True(t, res.Fill.Qty.Equal(dec("10000")))
	assert.Equal(t, models.OrderStatusCanceled, res.Status)

	// unfillable price cancels outright
	miss := newOrder(models.OrderTypeLimit, models.SideBuy, "10")
	miss.TimeInForce = models.TIFIOC
	miss.LimitPrice = decPtr("80")
	res, err = e.Match(miss, bar, now)
	require.NoError(t, err)
	assert.Nil(t, res.Fill)
	assert.Equal(t, models.OrderStatusCanceled, res.Status)
}

func TestFOK(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	now := bar.Timestamp

	// full quantity within the cap fills
	ok := newOrder(models.OrderTypeMarket, models.SideBuy, "5000")
	ok.TimeInForce = models.TIFFOK
	res, err := e.Match(ok, bar, now)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	assert.Equal(t, models.OrderStatusFilled, res.Status)

	// quantity over the cap rejects, no partial
	big := newOrder(models.OrderTypeMarket, models.SideBuy, "25000")
	big.TimeInForce = models.TIFFOK
	res, err = e.Match(big, bar, now)
	require.NoError(t, err)
	assert.Nil(t, res.Fill)
	assert.Equal(t, models.OrderStatusRejected, res.Status)
}

func TestExpiry(t *testing.T) {
	e := NewEngine()
	bar := testBar()

	t.Run("day order expires next trading day", func(t *testing.T) {
		o := newOrder(models.OrderTypeLimit, models.SideBuy, "10")
		o.TimeInForce = models.TIFDay
		o.LimitPrice = decPtr("95")

		res, err := e.Match(o, bar, o.SubmittedAt.Add(time.Hour))
		require.NoError(t, err)
		assert.NotNil(t, res.Fill, "same day should still match")

		res, err = e.Match(o, bar, o.SubmittedAt.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, res.Fill)
		assert.Equal(t, models.OrderStatusExpired, res.Status)
	})

	t.Run("gtc expires after ninety days", func(t *testing.T) {
		o := newOrder(models.OrderTypeLimit, models.SideBuy, "10")
		o.LimitPrice = decPtr("95")

		res, err := e.Match(o, bar, o.SubmittedAt.Add(89*24*time.Hour))
		require.NoError(t, err)
		assert.NotNil(t, res.Fill)

		res, err = e.Match(o, bar, o.SubmittedAt.Add(90*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusExpired, res.Status)
	})
}

func TestMatchAbsent(t *testing.T) {
	e := NewEngine()
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

	ioc := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	ioc.TimeInForce = models.TIFIOC
	assert.Equal(t, models.OrderStatusCanceled, e.MatchAbsent(ioc, now).Status)

	fok := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	fok.TimeInForce = models.TIFFOK
	assert.Equal(t, models.OrderStatusRejected, e.MatchAbsent(fok, now).Status)

	gtc := newOrder(models.OrderTypeLimit, models.SideBuy, "10")
	gtc.LimitPrice = decPtr("95")
	assert.Equal(t, models.OrderStatusAccepted, e.MatchAbsent(gtc, now).Status)
}

func TestNotionalOrderSizing(t *testing.T) {
	e := NewEngine()
	bar := testBar()

	o := newOrder(models.OrderTypeMarket, models.SideBuy, "0")
	o.Notional = decPtr("10200")
	res, err := e.Match(o, bar, bar.Timestamp)
	require.NoError(t, err)
	require.NotNil(t, res.Fill)
	// 10200 notional at the slipped price of 102 buys 100 shares
	assert.True(t, res.Fill.Qty.Equal(dec("100")), "got %s", res.Fill.Qty)
}

func TestProcessPendingOrdering(t *testing.T) {
	e := NewEngine()
	bar := testBar()
	now := bar.Timestamp

	early := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	early.SubmittedAt = now.Add(-2 * time.Hour)
	late := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	late.SubmittedAt = now.Add(-time.Hour)
	done := newOrder(models.OrderTypeMarket, models.SideBuy, "10")
	done.Status = models.OrderStatusFilled

	out := e.ProcessPending([]*models.Order{late, done, early}, map[string]*models.Bar{"AAPL": bar}, now)
	require.Len(t, out, 2, "terminal orders are skipped")
	assert.Equal(t, early.ID, out[0].Order.ID)
	assert.Equal(t, late.ID, out[1].Order.ID)
}
