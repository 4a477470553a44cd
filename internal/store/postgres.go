package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// PostgresStore is the pgx-backed SessionStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres with the given connection string and
// runs migrations.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse session store config: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create session store pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping session store: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			owner_key TEXT NOT NULL,
			name TEXT,
			sim_start TIMESTAMPTZ NOT NULL,
			sim_end TIMESTAMPTZ NOT NULL,
			sim_now TIMESTAMPTZ NOT NULL,
			playback VARCHAR(20) NOT NULL,
			speed DECIMAL(28, 9) NOT NULL,
			initial_cash DECIMAL(28, 9) NOT NULL,
			realized_pnl DECIMAL(28, 9) NOT NULL DEFAULT 0,
			unrealized_pnl DECIMAL(28, 9) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_key)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			account_number VARCHAR(40) NOT NULL,
			cash DECIMAL(28, 9) NOT NULL,
			cash_withdrawable DECIMAL(28, 9) NOT NULL DEFAULT 0,
			buying_power DECIMAL(28, 9) NOT NULL DEFAULT 0,
			daytrading_buying_power DECIMAL(28, 9) NOT NULL DEFAULT 0,
			initial_margin DECIMAL(28, 9) NOT NULL DEFAULT 0,
			maintenance_margin DECIMAL(28, 9) NOT NULL DEFAULT 0,
			long_market_value DECIMAL(28, 9) NOT NULL DEFAULT 0,
			short_market_value DECIMAL(28, 9) NOT NULL DEFAULT 0,
			equity DECIMAL(28, 9) NOT NULL DEFAULT 0,
			last_equity DECIMAL(28, 9) NOT NULL DEFAULT 0,
			portfolio_value DECIMAL(28, 9) NOT NULL DEFAULT 0,
			pattern_day_trader BOOLEAN NOT NULL DEFAULT FALSE,
			daytrade_count INTEGER NOT NULL DEFAULT 0,
			trading_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			account_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_session ON accounts(session_id)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			client_order_id TEXT,
			symbol VARCHAR(20) NOT NULL,
			qty DECIMAL(28, 9) NOT NULL,
			notional DECIMAL(28, 9),
			order_type VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			time_in_force VARCHAR(10) NOT NULL,
			limit_price DECIMAL(28, 9),
			stop_price DECIMAL(28, 9),
			trail_price DECIMAL(28, 9),
			trail_percent DECIMAL(28, 9),
			extended_hours BOOLEAN NOT NULL DEFAULT FALSE,
			status VARCHAR(20) NOT NULL,
			filled_qty DECIMAL(28, 9) NOT NULL DEFAULT 0,
			filled_avg_price DECIMAL(28, 9),
			submitted_at TIMESTAMPTZ NOT NULL,
			filled_at TIMESTAMPTZ,
			expired_at TIMESTAMPTZ,
			canceled_at TIMESTAMPTZ,
			failed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_submitted_at ON orders(submitted_at)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			qty DECIMAL(28, 9) NOT NULL,
			avg_entry_price DECIMAL(28, 9) NOT NULL DEFAULT 0,
			current_price DECIMAL(28, 9) NOT NULL DEFAULT 0,
			lastday_price DECIMAL(28, 9) NOT NULL DEFAULT 0,
			market_value DECIMAL(28, 9) NOT NULL DEFAULT 0,
			cost_basis DECIMAL(28, 9) NOT NULL DEFAULT 0,
			unrealized_pl DECIMAL(28, 9) NOT NULL DEFAULT 0,
			unrealized_plpc DECIMAL(28, 9) NOT NULL DEFAULT 0,
			unrealized_intraday_pl DECIMAL(28, 9) NOT NULL DEFAULT 0,
			change_today DECIMAL(28, 9) NOT NULL DEFAULT 0,
			UNIQUE (account_id, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_session ON positions(session_id)`,
	}
	for i, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("session store migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func nullDec(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

func decPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, owner_key, name, sim_start, sim_end, sim_now,
			playback, speed, initial_cash, realized_pnl, unrealized_pnl, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sess.ID, sess.OwnerKey, sess.Name, sess.SimStart, sess.SimEnd, sess.SimNow,
		sess.Playback, sess.Speed, sess.InitialCash, sess.RealizedPnL, sess.UnrealizedPnL,
		sess.Status, sess.CreatedAt)
	return err
}

func (s *PostgresStore) scanSession(row pgx.Row) (*models.Session, error) {
	var sess models.Session
	err := row.Scan(&sess.ID, &sess.OwnerKey, &sess.Name, &sess.SimStart, &sess.SimEnd,
		&sess.SimNow, &sess.Playback, &sess.Speed, &sess.InitialCash, &sess.RealizedPnL,
		&sess.UnrealizedPnL, &sess.Status, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "session not found")
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

const sessionColumns = `id, owner_key, name, sim_start, sim_end, sim_now,
	playback, speed, initial_cash, realized_pnl, unrealized_pnl, status, created_at`

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

func (s *PostgresStore) ListSessions(ctx context.Context, ownerKey string) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ($1 = '' OR owner_key = $1) ORDER BY created_at`, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET sim_now = $2, playback = $3, speed = $4,
			realized_pnl = $5, unrealized_pnl = $6, status = $7
		WHERE id = $1`,
		sess.ID, sess.SimNow, sess.Playback, sess.Speed,
		sess.RealizedPnL, sess.UnrealizedPnL, sess.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "session %s not found", sess.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "session %s not found", id)
	}
	return nil
}

const accountColumns = `id, session_id, account_number, cash, cash_withdrawable,
	buying_power, daytrading_buying_power, initial_margin, maintenance_margin,
	long_market_value, short_market_value, equity, last_equity, portfolio_value,
	pattern_day_trader, daytrade_count, trading_blocked, account_blocked, created_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		a.ID, a.SessionID, a.Number, a.Cash, a.CashWithdrawable,
		a.BuyingPower, a.DayTradingBuyingPower, a.InitialMargin, a.MaintenanceMargin,
		a.LongMarketValue, a.ShortMarketValue, a.Equity, a.LastEquity, a.PortfolioValue,
		a.PatternDayTrader, a.DayTradeCount, a.TradingBlocked, a.AccountBlocked, a.CreatedAt)
	return err
}

func (s *PostgresStore) scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.SessionID, &a.Number, &a.Cash, &a.CashWithdrawable,
		&a.BuyingPower, &a.DayTradingBuyingPower, &a.InitialMargin, &a.MaintenanceMargin,
		&a.LongMarketValue, &a.ShortMarketValue, &a.Equity, &a.LastEquity, &a.PortfolioValue,
		&a.PatternDayTrader, &a.DayTradeCount, &a.TradingBlocked, &a.AccountBlocked, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "account not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, sessionID, accountID uuid.UUID) (*models.Account, error) {
	return s.scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE session_id = $1 AND id = $2`,
		sessionID, accountID))
}

func (s *PostgresStore) ListAccounts(ctx context.Context, sessionID uuid.UUID) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET cash = $3, cash_withdrawable = $4, buying_power = $5,
			daytrading_buying_power = $6, initial_margin = $7, maintenance_margin = $8,
			long_market_value = $9, short_market_value = $10, equity = $11,
			last_equity = $12, portfolio_value = $13, pattern_day_trader = $14,
			daytrade_count = $15, trading_blocked = $16, account_blocked = $17
		WHERE session_id = $1 AND id = $2`,
		a.SessionID, a.ID, a.Cash, a.CashWithdrawable, a.BuyingPower,
		a.DayTradingBuyingPower, a.InitialMargin, a.MaintenanceMargin,
		a.LongMarketValue, a.ShortMarketValue, a.Equity,
		a.LastEquity, a.PortfolioValue, a.PatternDayTrader,
		a.DayTradeCount, a.TradingBlocked, a.AccountBlocked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "account %s not found", a.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, sessionID, accountID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM accounts WHERE session_id = $1 AND id = $2`, sessionID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "account %s not found", accountID)
	}
	return nil
}

const orderColumns = `id, session_id, account_id, client_order_id, symbol, qty, notional,
	order_type, side, time_in_force, limit_price, stop_price, trail_price, trail_percent,
	extended_hours, status, filled_qty, filled_avg_price,
	submitted_at, filled_at, expired_at, canceled_at, failed_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		o.ID, o.SessionID, o.AccountID, o.ClientOrderID, o.Symbol, o.Qty, nullDec(o.Notional),
		o.Type, o.Side, o.TimeInForce, nullDec(o.LimitPrice), nullDec(o.StopPrice),
		nullDec(o.TrailPrice), nullDec(o.TrailPercent),
		o.ExtendedHours, o.Status, o.FilledQty, nullDec(o.FilledAvgPrice),
		o.SubmittedAt, o.FilledAt, o.ExpiredAt, o.CanceledAt, o.FailedAt)
	return err
}

func (s *PostgresStore) scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var notional, limitPrice, stopPrice, trailPrice, trailPercent, filledAvg decimal.NullDecimal
	err := row.Scan(&o.ID, &o.SessionID, &o.AccountID, &o.ClientOrderID, &o.Symbol, &o.Qty,
		&notional, &o.Type, &o.Side, &o.TimeInForce, &limitPrice, &stopPrice,
		&trailPrice, &trailPercent, &o.ExtendedHours, &o.Status, &o.FilledQty, &filledAvg,
		&o.SubmittedAt, &o.FilledAt, &o.ExpiredAt, &o.CanceledAt, &o.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	o.Notional = decPtr(notional)
	o.LimitPrice = decPtr(limitPrice)
	o.StopPrice = decPtr(stopPrice)
	o.TrailPrice = decPtr(trailPrice)
	o.TrailPercent = decPtr(trailPercent)
	o.FilledAvgPrice = decPtr(filledAvg)
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, sessionID, orderID uuid.UUID) (*models.Order, error) {
	return s.scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session_id = $1 AND id = $2`,
		sessionID, orderID))
}

func (s *PostgresStore) GetOrderByClientID(ctx context.Context, sessionID, accountID uuid.UUID, clientOrderID string) (*models.Order, error) {
	return s.scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE session_id = $1 AND account_id = $2 AND client_order_id = $3
		 ORDER BY submitted_at DESC LIMIT 1`,
		sessionID, accountID, clientOrderID))
}

func (s *PostgresStore) ListOrders(ctx context.Context, sessionID, accountID uuid.UUID, f OrderFilter) ([]*models.Order, error) {
	// Status, symbols, and time bounds are filtered in Go to keep the SQL
	// identical across filter shapes; sessions stay small by construction.
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE session_id = $1 AND ($2::uuid IS NULL OR account_id = $2)
		ORDER BY submitted_at, id`, sessionID, nilUUID(accountID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		if f.Matches(o) {
			out = append(out, o)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !f.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func nilUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $3, qty = $4, filled_qty = $5, filled_avg_price = $6,
			filled_at = $7, expired_at = $8, canceled_at = $9, failed_at = $10
		WHERE session_id = $1 AND id = $2`,
		o.SessionID, o.ID, o.Status, o.Qty, o.FilledQty, nullDec(o.FilledAvgPrice),
		o.FilledAt, o.ExpiredAt, o.CanceledAt, o.FailedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "order %s not found", o.ID)
	}
	return nil
}

const positionColumns = `id, session_id, account_id, symbol, qty, avg_entry_price,
	current_price, lastday_price, market_value, cost_basis, unrealized_pl,
	unrealized_plpc, unrealized_intraday_pl, change_today`

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *models.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (account_id, symbol) DO UPDATE SET
			qty = EXCLUDED.qty, avg_entry_price = EXCLUDED.avg_entry_price,
			current_price = EXCLUDED.current_price, lastday_price = EXCLUDED.lastday_price,
			market_value = EXCLUDED.market_value, cost_basis = EXCLUDED.cost_basis,
			unrealized_pl = EXCLUDED.unrealized_pl, unrealized_plpc = EXCLUDED.unrealized_plpc,
			unrealized_intraday_pl = EXCLUDED.unrealized_intraday_pl,
			change_today = EXCLUDED.change_today`,
		p.ID, p.SessionID, p.AccountID, p.Symbol, p.Qty, p.AvgEntryPrice,
		p.CurrentPrice, p.LastDayPrice, p.MarketValue, p.CostBasis, p.UnrealizedPnL,
		p.UnrealizedPnLPercent, p.UnrealizedIntradayPnL, p.ChangeToday)
	return err
}

func (s *PostgresStore) scanPosition(row pgx.Row) (*models.Position, error) {
	var p models.Position
	err := row.Scan(&p.ID, &p.SessionID, &p.AccountID, &p.Symbol, &p.Qty, &p.AvgEntryPrice,
		&p.CurrentPrice, &p.LastDayPrice, &p.MarketValue, &p.CostBasis, &p.UnrealizedPnL,
		&p.UnrealizedPnLPercent, &p.UnrealizedIntradayPnL, &p.ChangeToday)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "position not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, sessionID, accountID uuid.UUID, symbol string) (*models.Position, error) {
	return s.scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE session_id = $1 AND account_id = $2 AND symbol = $3`,
		sessionID, accountID, symbol))
}

func (s *PostgresStore) ListPositions(ctx context.Context, sessionID, accountID uuid.UUID) ([]*models.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE session_id = $1 AND ($2::uuid IS NULL OR account_id = $2)
		ORDER BY symbol`, sessionID, nilUUID(accountID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Position
	for rows.Next() {
		p, err := s.scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePosition(ctx context.Context, sessionID, accountID uuid.UUID, symbol string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE session_id = $1 AND account_id = $2 AND symbol = $3`,
		sessionID, accountID, symbol)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.E(errs.KindNotFound, "position in %s not found", symbol)
	}
	return nil
}
