package bars

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-replay-broker/internal/models"
)

func aggBar(ts time.Time, o, h, l, c, v string) *models.Bar {
	return &models.Bar{
		Symbol:    "AAPL",
		Timestamp: ts,
		Open:      decimal.RequireFromString(o),
		High:      decimal.RequireFromString(h),
		Low:       decimal.RequireFromString(l),
		Close:     decimal.RequireFromString(c),
		Volume:    decimal.RequireFromString(v),
	}
}

func TestAggregateFoldsMinuteBars(t *testing.T) {
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	var in []*models.Bar
	// seven minute bars: 14:30..14:36, so buckets 14:30 (5 bars) and 14:35 (2)
	in = append(in,
		aggBar(start, "100", "101", "99", "100.5", "1000"),
		aggBar(start.Add(1*time.Minute), "100.5", "103", "100", "102", "1500"),
		aggBar(start.Add(2*time.Minute), "102", "102.5", "98", "99", "2000"),
		aggBar(start.Add(3*time.Minute), "99", "100", "98.5", "99.5", "500"),
		aggBar(start.Add(4*time.Minute), "99.5", "101", "99", "101", "1000"),
		aggBar(start.Add(5*time.Minute), "101", "104", "101", "103", "3000"),
		aggBar(start.Add(6*time.Minute), "103", "103.5", "102", "102.5", "1000"),
	)

	out := Aggregate(in, 5*time.Minute)
	require.Len(t, out, 2)

	first := out[0]
	assert.True(t, first.Timestamp.Equal(start))
	assert.True(t, first.Open.Equal(decimal.RequireFromString("100")))
	assert.True(t, first.High.Equal(decimal.RequireFromString("103")))
	assert.True(t, first.Low.Equal(decimal.RequireFromString("98")))
	assert.True(t, first.Close.Equal(decimal.RequireFromString("101")))
	assert.True(t, first.Volume.Equal(decimal.RequireFromString("6000")))

	second := out[1]
	assert.True(t, second.Timestamp.Equal(start.Add(5*time.Minute)))
	assert.True(t, second.Open.Equal(decimal.RequireFromString("101")))
	assert.True(t, second.High.Equal(decimal.RequireFromString("104")))
	assert.True(t, second.Low.Equal(decimal.RequireFromString("101")))
	assert.True(t, second.Close.Equal(decimal.RequireFromString("102.5")))
	assert.True(t, second.Volume.Equal(decimal.RequireFromString("4000")))
}

func TestAggregateEmptyAndPassthrough(t *testing.T) {
	assert.Empty(t, Aggregate(nil, 5*time.Minute))

	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	in := []*models.Bar{aggBar(start, "100", "101", "99", "100", "1000")}
	out := Aggregate(in, 15*time.Minute)
	require.Len(t, out, 1)
	assert.True(t, out[0].Volume.Equal(decimal.RequireFromString("1000")))
}
