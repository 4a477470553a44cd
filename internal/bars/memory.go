package bars

import (
	"context"
	"sort"
	"sync"
	"time"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// MemoryBarStore keeps bars in sorted per-symbol slices. Used by tests.
type MemoryBarStore struct {
	mu   sync.RWMutex
	data map[string]map[models.Resolution][]*models.Bar
}

// NewMemoryBarStore returns an empty store.
func NewMemoryBarStore() *MemoryBarStore {
	return &MemoryBarStore{data: make(map[string]map[models.Resolution][]*models.Bar)}
}

// Add inserts a bar, keeping the series sorted by timestamp.
func (m *MemoryBarStore) Add(res models.Resolution, bar *models.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol := NormalizeSymbol(bar.Symbol)
	if m.data[symbol] == nil {
		m.data[symbol] = make(map[models.Resolution][]*models.Bar)
	}
	series := append(m.data[symbol][res], bar)
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	m.data[symbol][res] = series
}

func (m *MemoryBarStore) GetBar(_ context.Context, symbol string, asOf time.Time, res models.Resolution) (*models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series := m.data[NormalizeSymbol(symbol)][res]
	for i := len(series) - 1; i >= 0; i-- {
		if !series[i].Timestamp.After(asOf) {
			cp := *series[i]
			return &cp, nil
		}
	}
	return nil, errs.E(errs.KindNotFound, "no bar for %s at or before %s", symbol, asOf.Format(time.RFC3339))
}

func (m *MemoryBarStore) GetBars(_ context.Context, symbol string, start, end time.Time, res models.Resolution, limit int) ([]*models.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Bar
	for _, b := range m.data[NormalizeSymbol(symbol)][res] {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		cp := *b
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryBarStore) GetLatestBars(ctx context.Context, symbols []string, asOf time.Time) (map[string]*models.Bar, error) {
	out := make(map[string]*models.Bar, len(symbols))
	for _, symbol := range symbols {
		symbol = NormalizeSymbol(symbol)
		bar, err := m.GetBar(ctx, symbol, asOf, models.ResolutionMinute)
		if err != nil {
			continue
		}
		out[symbol] = bar
	}
	return out, nil
}

func (m *MemoryBarStore) ListSymbols(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for symbol := range m.data {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out, nil
}
