package matching

import (
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/models"
)

// quoteSpreadRatio is the synthetic half-spread as a share of the bar range.
var quoteSpreadRatio = decimal.RequireFromString("0.0005")

// QuoteFromBar synthesizes a bid/ask around the bar close: close -/+
// 0.0005 * (high - low).
func QuoteFromBar(bar *models.Bar) models.Quote {
	half := quoteSpreadRatio.Mul(bar.Range())
	return models.Quote{
		Symbol:    bar.Symbol,
		BidPrice:  bar.Close.Sub(half),
		AskPrice:  bar.Close.Add(half),
		Timestamp: bar.Timestamp,
	}
}
