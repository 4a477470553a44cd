// Package store persists sessions, accounts, orders, and positions. All
// records partition by session id; a session delete cascades to everything it
// owns. Implementations: Postgres (production), in-memory (tests and the
// USE_INMEMORY_COSMOS mode), and a retrying wrapper with a circuit breaker.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"market-replay-broker/internal/models"
)

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	Status    string // "open", "closed", "all" (default open)
	Symbols   []string
	After     *time.Time
	Until     *time.Time
	Limit     int
	Ascending bool
}

// Matches reports whether the order passes the filter, ignoring Limit.
func (f OrderFilter) Matches(o *models.Order) bool {
	switch f.Status {
	case "", "open":
		if o.Status.Terminal() {
			return false
		}
	case "closed":
		if !o.Status.Terminal() {
			return false
		}
	}
	if len(f.Symbols) > 0 {
		found := false
		for _, s := range f.Symbols {
			if s == o.Symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.After != nil && !o.SubmittedAt.After(*f.After) {
		return false
	}
	if f.Until != nil && !o.SubmittedAt.Before(*f.Until) {
		return false
	}
	return true
}

// SessionStore is the durable state contract the controller consumes.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context, ownerKey string) ([]*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	// DeleteSession cascades to the session's accounts, orders, and positions.
	DeleteSession(ctx context.Context, id uuid.UUID) error

	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, sessionID, accountID uuid.UUID) (*models.Account, error)
	ListAccounts(ctx context.Context, sessionID uuid.UUID) ([]*models.Account, error)
	UpdateAccount(ctx context.Context, a *models.Account) error
	DeleteAccount(ctx context.Context, sessionID, accountID uuid.UUID) error

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, sessionID, orderID uuid.UUID) (*models.Order, error)
	GetOrderByClientID(ctx context.Context, sessionID, accountID uuid.UUID, clientOrderID string) (*models.Order, error)
	ListOrders(ctx context.Context, sessionID, accountID uuid.UUID, f OrderFilter) ([]*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error

	UpsertPosition(ctx context.Context, p *models.Position) error
	GetPosition(ctx context.Context, sessionID, accountID uuid.UUID, symbol string) (*models.Position, error)
	ListPositions(ctx context.Context, sessionID, accountID uuid.UUID) ([]*models.Position, error)
	DeletePosition(ctx context.Context, sessionID, accountID uuid.UUID, symbol string) error
}
