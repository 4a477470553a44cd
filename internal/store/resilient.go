package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// ResilientStore wraps a SessionStore with bounded exponential-backoff
// retries and a circuit breaker. Domain errors (not found, conflict) pass
// through untouched; transient failures are retried and, once exhausted or
// while the breaker is open, surface as Unavailable.
type ResilientStore struct {
	inner       SessionStore
	breaker     *gobreaker.CircuitBreaker
	maxInterval time.Duration
	maxElapsed  time.Duration
}

// NewResilientStore wraps inner with the production retry policy.
func NewResilientStore(inner SessionStore) *ResilientStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "session-store",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &ResilientStore{
		inner:       inner,
		breaker:     breaker,
		maxInterval: 500 * time.Millisecond,
		maxElapsed:  5 * time.Second,
	}
}

func (r *ResilientStore) do(ctx context.Context, op func() error) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 50 * time.Millisecond
		policy.MaxInterval = r.maxInterval
		policy.MaxElapsedTime = r.maxElapsed

		return nil, backoff.Retry(func() error {
			err := op()
			if err == nil {
				return nil
			}
			if errs.KindOf(err) != errs.KindUnknown {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(policy, ctx))
	})
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errs.Wrap(errs.KindUnavailable, err, "session store circuit open")
	}
	return errs.Wrap(errs.KindUnavailable, err, "session store unavailable")
}

func (r *ResilientStore) CreateSession(ctx context.Context, s *models.Session) error {
	return r.do(ctx, func() error { return r.inner.CreateSession(ctx, s) })
}

func (r *ResilientStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var out *models.Session
	err := r.do(ctx, func() (e error) { out, e = r.inner.GetSession(ctx, id); return })
	return out, err
}

func (r *ResilientStore) ListSessions(ctx context.Context, ownerKey string) ([]*models.Session, error) {
	var out []*models.Session
	err := r.do(ctx, func() (e error) { out, e = r.inner.ListSessions(ctx, ownerKey); return })
	return out, err
}

func (r *ResilientStore) UpdateSession(ctx context.Context, s *models.Session) error {
	return r.do(ctx, func() error { return r.inner.UpdateSession(ctx, s) })
}

func (r *ResilientStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return r.do(ctx, func() error { return r.inner.DeleteSession(ctx, id) })
}

func (r *ResilientStore) CreateAccount(ctx context.Context, a *models.Account) error {
	return r.do(ctx, func() error { return r.inner.CreateAccount(ctx, a) })
}

func (r *ResilientStore) GetAccount(ctx context.Context, sessionID, accountID uuid.UUID) (*models.Account, error) {
	var out *models.Account
	err := r.do(ctx, func() (e error) { out, e = r.inner.GetAccount(ctx, sessionID, accountID); return })
	return out, err
}

func (r *ResilientStore) ListAccounts(ctx context.Context, sessionID uuid.UUID) ([]*models.Account, error) {
	var out []*models.Account
	err := r.do(ctx, func() (e error) { out, e = r.inner.ListAccounts(ctx, sessionID); return })
	return out, err
}

func (r *ResilientStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	return r.do(ctx, func() error { return r.inner.UpdateAccount(ctx, a) })
}

func (r *ResilientStore) DeleteAccount(ctx context.Context, sessionID, accountID uuid.UUID) error {
	return r.do(ctx, func() error { return r.inner.DeleteAccount(ctx, sessionID, accountID) })
}

func (r *ResilientStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return r.do(ctx, func() error { return r.inner.CreateOrder(ctx, o) })
}

func (r *ResilientStore) GetOrder(ctx context.Context, sessionID, orderID uuid.UUID) (*models.Order, error) {
	var out *models.Order
	err := r.do(ctx, func() (e error) { out, e = r.inner.GetOrder(ctx, sessionID, orderID); return })
	return out, err
}

func (r *ResilientStore) GetOrderByClientID(ctx context.Context, sessionID, accountID uuid.UUID, clientOrderID string) (*models.Order, error) {
	var out *models.Order
	err := r.do(ctx, func() (e error) {
		out, e = r.inner.GetOrderByClientID(ctx, sessionID, accountID, clientOrderID)
		return
	})
	return out, err
}

func (r *ResilientStore) ListOrders(ctx context.Context, sessionID, accountID uuid.UUID, f OrderFilter) ([]*models.Order, error) {
	var out []*models.Order
	err := r.do(ctx, func() (e error) { out, e = r.inner.ListOrders(ctx, sessionID, accountID, f); return })
	return out, err
}

func (r *ResilientStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	return r.do(ctx, func() error { return r.inner.UpdateOrder(ctx, o) })
}

func (r *ResilientStore) UpsertPosition(ctx context.Context, p *models.Position) error {
	return r.do(ctx, func() error { return r.inner.UpsertPosition(ctx, p) })
}

func (r *ResilientStore) GetPosition(ctx context.Context, sessionID, accountID uuid.UUID, symbol string) (*models.Position, error) {
	var out *models.Position
	err := r.do(ctx, func() (e error) { out, e = r.inner.GetPosition(ctx, sessionID, accountID, symbol); return })
	return out, err
}

func (r *ResilientStore) ListPositions(ctx context.Context, sessionID, accountID uuid.UUID) ([]*models.Position, error) {
	var out []*models.Position
	err := r.do(ctx, func() (e error) { out, e = r.inner.ListPositions(ctx, sessionID, accountID); return })
	return out, err
}

func (r *ResilientStore) DeletePosition(ctx context.Context, sessionID, accountID uuid.UUID, symbol string) error {
	return r.do(ctx, func() error { return r.inner.DeletePosition(ctx, sessionID, accountID, symbol) })
}
