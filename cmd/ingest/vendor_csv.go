package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/bars"
	"market-replay-broker/internal/models"
)

// Vendor fetches bars from a market data source. The CSV implementation
// reads local files so ingestion works offline; a network vendor satisfies
// the same interface.
type Vendor interface {
	FetchBars(ctx context.Context, symbol string, from, to time.Time) ([]*models.Bar, error)
}

// CSVVendor reads <SYMBOL>.csv files from a directory. Expected columns:
// timestamp (RFC 3339 or unix seconds), open, high, low, close, volume.
// A header row is skipped when the first field does not parse as a time.
type CSVVendor struct {
	dir string
}

// NewCSVVendor returns a vendor reading from dir.
func NewCSVVendor(dir string) *CSVVendor {
	return &CSVVendor{dir: dir}
}

func (v *CSVVendor) FetchBars(_ context.Context, symbol string, from, to time.Time) ([]*models.Bar, error) {
	path := filepath.Join(v.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vendor file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []*models.Bar
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		if len(record) < 6 {
			return nil, fmt.Errorf("%s line %d: expected 6 columns, got %d", path, line, len(record))
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				// header row
				continue
			}
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if ts.Before(from) || ts.After(to) {
			continue
		}

		bar := &models.Bar{Symbol: symbol, Timestamp: ts}
		fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		for i, dst := range fields {
			d, err := decimal.NewFromString(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %d: %w", path, line, i+2, err)
			}
			*dst = d
		}
		out = append(out, bar)
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// SymbolRow is one symbols-file entry.
type SymbolRow struct {
	Symbol   string
	Name     string
	Exchange string
}

// ReadSymbolsCSV reads symbol,name,exchange rows.
func ReadSymbolsCSV(path string) ([]SymbolRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []SymbolRow
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		if len(record) == 0 || record[0] == "" || (line == 1 && record[0] == "symbol") {
			continue
		}
		row := SymbolRow{Symbol: bars.NormalizeSymbol(record[0])}
		if len(record) > 1 {
			row.Name = record[1]
		}
		if len(record) > 2 {
			row.Exchange = record[2]
		}
		out = append(out, row)
	}
	return out, nil
}

// UpsertSymbols writes the symbol list, ignoring duplicates.
func UpsertSymbols(ctx context.Context, pool *pgxpool.Pool, symbols []SymbolRow) (int, error) {
	n := 0
	for _, s := range symbols {
		tag, err := pool.Exec(ctx, `
			INSERT INTO symbols (symbol, name, exchange)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, exchange = EXCLUDED.exchange`,
			s.Symbol, s.Name, s.Exchange)
		if err != nil {
			return n, err
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

// InsertBars batch-inserts bars, skipping rows already present.
func InsertBars(ctx context.Context, pool *pgxpool.Pool, res models.Resolution, barList []*models.Bar) (int, error) {
	batch := &pgx.Batch{}
	for _, b := range barList {
		batch.Queue(`
			INSERT INTO bars (symbol, resolution, ts, open, high, low, close, volume, vwap, n_trades)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (symbol, resolution, ts) DO NOTHING`,
			b.Symbol, res, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP, b.NTrades)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	n := 0
	for range barList {
		tag, err := results.Exec()
		if err != nil {
			return n, err
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}
