package bars

import (
	"time"

	"market-replay-broker/internal/models"
)

// Aggregate folds ascending bars into fixed windows: first open, last close,
// max high, min low, summed volume. Bars land in the window containing their
// timestamp. VWAP is re-weighted by volume when every constituent bar carries
// one; trade counts are summed under the same rule.
func Aggregate(in []*models.Bar, window time.Duration) []*models.Bar {
	if len(in) == 0 || window <= 0 {
		return in
	}

	var out []*models.Bar
	var cur *models.Bar
	var curBucket time.Time
	vwapOK := false

	for _, b := range in {
		bucket := b.Timestamp.Truncate(window)
		if cur == nil || !bucket.Equal(curBucket) {
			cp := *b
			cp.Timestamp = bucket
			cur = &cp
			curBucket = bucket
			vwapOK = b.VWAP != nil
			out = append(out, cur)
			continue
		}

		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close

		total := cur.Volume.Add(b.Volume)
		if vwapOK && b.VWAP != nil && total.IsPositive() {
			w := cur.VWAP.Mul(cur.Volume).Add(b.VWAP.Mul(b.Volume)).Div(total)
			cur.VWAP = &w
		} else {
			cur.VWAP = nil
			vwapOK = false
		}
		if cur.NTrades != nil && b.NTrades != nil {
			n := *cur.NTrades + *b.NTrades
			cur.NTrades = &n
		} else {
			cur.NTrades = nil
		}
		cur.Volume = total
	}
	return out
}
