package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"market-replay-broker/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyFillOpenAndAdd(t *testing.T) {
	p := &models.Position{Symbol: "AAPL"}

	realized := ApplyFill(p, dec("10"), dec("100"), models.SideBuy)
	assert.True(t, realized.IsZero())
	assert.True(t, p.Qty.Equal(dec("10")))
	assert.True(t, p.AvgEntryPrice.Equal(dec("100")))

	// adding averages the entry: (10*100 + 10*110) / 20 = 105
	realized = ApplyFill(p, dec("10"), dec("110"), models.SideBuy)
	assert.True(t, realized.IsZero())
	assert.True(t, p.Qty.Equal(dec("20")))
	assert.True(t, p.AvgEntryPrice.Equal(dec("105")))
}

func TestApplyFillReduceAndClose(t *testing.T) {
	p := &models.Position{Symbol: "AAPL", Qty: dec("20"), AvgEntryPrice: dec("100")}

	// selling half at 110 realizes 10 * (110-100) = 100
	realized := ApplyFill(p, dec("10"), dec("110"), models.SideSell)
	assert.True(t, realized.Equal(dec("100")))
	assert.True(t, p.Qty.Equal(dec("10")))
	assert.True(t, p.AvgEntryPrice.Equal(dec("100")), "reduce keeps the entry price")

	// closing the rest at 90 realizes 10 * (90-100) = -100
	realized = ApplyFill(p, dec("10"), dec("90"), models.SideSell)
	assert.True(t, realized.Equal(dec("-100")))
	assert.True(t, p.Qty.IsZero())
	assert.True(t, p.AvgEntryPrice.IsZero())
	assert.True(t, p.Flat())
}

func TestApplyFillFlip(t *testing.T) {
	p := &models.Position{Symbol: "AAPL", Qty: dec("10"), AvgEntryPrice: dec("100")}

	// selling 15 closes 10 and opens a 5-share short at the fill price
	realized := ApplyFill(p, dec("15"), dec("110"), models.SideSell)
	assert.True(t, realized.Equal(dec("100")))
	assert.True(t, p.Qty.Equal(dec("-5")))
	assert.True(t, p.AvgEntryPrice.Equal(dec("110")))
}

func TestApplyFillShort(t *testing.T) {
	p := &models.Position{Symbol: "AAPL"}

	ApplyFill(p, dec("10"), dec("100"), models.SideSell)
	assert.True(t, p.Qty.Equal(dec("-10")))
	assert.Equal(t, "short", p.Side())

	// covering at 90 profits the short: 10 * (100-90) = 100
	realized := ApplyFill(p, dec("10"), dec("90"), models.SideBuy)
	assert.True(t, realized.Equal(dec("100")))
	assert.True(t, p.Flat())
}

func TestUpdatePricesLong(t *testing.T) {
	p := &models.Position{Symbol: "AAPL", Qty: dec("10"), AvgEntryPrice: dec("100")}
	UpdatePrices(p, dec("110"), dec("105"))

	assert.True(t, p.CostBasis.Equal(dec("1000")))
	assert.True(t, p.MarketValue.Equal(dec("1100")))
	assert.True(t, p.UnrealizedPnL.Equal(dec("100")))
	assert.True(t, p.UnrealizedPnLPercent.Equal(dec("0.1")))
	assert.True(t, p.UnrealizedIntradayPnL.Equal(dec("50")))
}

func TestUpdatePricesShort(t *testing.T) {
	p := &models.Position{Symbol: "AAPL", Qty: dec("-10"), AvgEntryPrice: dec("100")}
	UpdatePrices(p, dec("90"), decimal.Zero)

	assert.True(t, p.MarketValue.Equal(dec("-900")), "short market value is negative")
	assert.True(t, p.UnrealizedPnL.Equal(dec("100")), "shorts profit as the price falls")
	assert.True(t, p.ChangeToday.IsZero(), "no prior close means no intraday change")
}
