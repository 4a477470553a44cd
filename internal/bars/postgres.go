package bars

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// PostgresBarStore reads bars out of the ingestion tool's Postgres tables.
type PostgresBarStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBarStore connects to the bar database.
func NewPostgresBarStore(ctx context.Context, connString string) (*PostgresBarStore, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse bar store config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create bar store pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping bar store: %w", err)
	}
	return &PostgresBarStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresBarStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for the ingestion tool.
func (s *PostgresBarStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Migrate creates the bar tables. Called by the ingestion tool's init-db.
func (s *PostgresBarStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol VARCHAR(20) PRIMARY KEY,
			name TEXT,
			exchange VARCHAR(20),
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bars (
			symbol VARCHAR(20) NOT NULL,
			resolution VARCHAR(10) NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DECIMAL(28, 9) NOT NULL,
			high DECIMAL(28, 9) NOT NULL,
			low DECIMAL(28, 9) NOT NULL,
			close DECIMAL(28, 9) NOT NULL,
			volume DECIMAL(28, 9) NOT NULL,
			vwap DECIMAL(28, 9),
			n_trades BIGINT,
			PRIMARY KEY (symbol, resolution, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_symbol_ts ON bars(symbol, ts DESC)`,
	}
	for i, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("bar store migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

const barColumns = `symbol, ts, open, high, low, close, volume, vwap, n_trades`

func scanBar(row pgx.Row) (*models.Bar, error) {
	var b models.Bar
	err := row.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close,
		&b.Volume, &b.VWAP, &b.NTrades)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "no bar found")
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresBarStore) GetBar(ctx context.Context, symbol string, asOf time.Time, res models.Resolution) (*models.Bar, error) {
	return scanBar(s.pool.QueryRow(ctx, `
		SELECT `+barColumns+` FROM bars
		WHERE symbol = $1 AND resolution = $2 AND ts <= $3
		ORDER BY ts DESC LIMIT 1`,
		NormalizeSymbol(symbol), res, asOf))
}

func (s *PostgresBarStore) GetBars(ctx context.Context, symbol string, start, end time.Time, res models.Resolution, limit int) ([]*models.Bar, error) {
	q := `SELECT ` + barColumns + ` FROM bars
		WHERE symbol = $1 AND resolution = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts`
	args := []interface{}{NormalizeSymbol(symbol), res, start, end}
	if limit > 0 {
		q += ` LIMIT $5`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetLatestBars fans the per-symbol lookups out over the pool.
func (s *PostgresBarStore) GetLatestBars(ctx context.Context, symbols []string, asOf time.Time) (map[string]*models.Bar, error) {
	out := make(map[string]*models.Bar, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, symbol := range symbols {
		symbol := NormalizeSymbol(symbol)
		g.Go(func() error {
			bar, err := s.GetBar(gctx, symbol, asOf, models.ResolutionMinute)
			if err != nil {
				if errs.KindOf(err) == errs.KindNotFound {
					return nil
				}
				return err
			}
			mu.Lock()
			out[symbol] = bar
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresBarStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT symbol FROM symbols ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
