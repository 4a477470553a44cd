// Package bars serves recorded OHLCV data. The store is shared, read-only,
// and safe for concurrent reads; symbols are uppercased at the boundary.
package bars

import (
	"context"
	"strings"
	"time"

	"market-replay-broker/internal/models"
)

// BarStore answers point-in-time and range queries over recorded bars.
type BarStore interface {
	// GetBar returns the latest bar for the symbol at or before asOf.
	GetBar(ctx context.Context, symbol string, asOf time.Time, res models.Resolution) (*models.Bar, error)
	// GetBars returns bars in [start, end] ascending, at most limit (0 = no cap).
	GetBars(ctx context.Context, symbol string, start, end time.Time, res models.Resolution, limit int) ([]*models.Bar, error)
	// GetLatestBars resolves the latest minute bar at or before asOf for each
	// symbol. Symbols with no bar are absent from the result.
	GetLatestBars(ctx context.Context, symbols []string, asOf time.Time) (map[string]*models.Bar, error)
	// ListSymbols returns the distinct symbols with bar data.
	ListSymbols(ctx context.Context) ([]string, error)
}

// NormalizeSymbol uppercases and trims a client-supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
