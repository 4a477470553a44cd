package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// MemoryStore is a map-backed SessionStore. Used by tests and when
// USE_INMEMORY_COSMOS is set.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*models.Session
	accounts  map[uuid.UUID]map[uuid.UUID]*models.Account  // session -> account id
	orders    map[uuid.UUID]map[uuid.UUID]*models.Order    // session -> order id
	positions map[uuid.UUID]map[string]*models.Position    // session -> account/symbol key
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[uuid.UUID]*models.Session),
		accounts:  make(map[uuid.UUID]map[uuid.UUID]*models.Account),
		orders:    make(map[uuid.UUID]map[uuid.UUID]*models.Order),
		positions: make(map[uuid.UUID]map[string]*models.Position),
	}
}

func posKey(accountID uuid.UUID, symbol string) string {
	return accountID.String() + "/" + symbol
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.accounts[s.ID] = make(map[uuid.UUID]*models.Account)
	m.orders[s.ID] = make(map[uuid.UUID]*models.Order)
	m.positions[s.ID] = make(map[string]*models.Position)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, ownerKey string) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if ownerKey == "" || s.OwnerKey == ownerKey {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return errs.E(errs.KindNotFound, "session %s not found", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return errs.E(errs.KindNotFound, "session %s not found", id)
	}
	delete(m.sessions, id)
	delete(m.accounts, id)
	delete(m.orders, id)
	delete(m.positions, id)
	return nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	accts, ok := m.accounts[a.SessionID]
	if !ok {
		return errs.E(errs.KindNotFound, "session %s not found", a.SessionID)
	}
	cp := *a
	accts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, sessionID, accountID uuid.UUID) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[sessionID][accountID]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "account %s not found", accountID)
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAccounts(_ context.Context, sessionID uuid.UUID) ([]*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Account
	for _, a := range m.accounts[sessionID] {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.SessionID][a.ID]; !ok {
		return errs.E(errs.KindNotFound, "account %s not found", a.ID)
	}
	cp := *a
	m.accounts[a.SessionID][a.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteAccount(_ context.Context, sessionID, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[sessionID][accountID]; !ok {
		return errs.E(errs.KindNotFound, "account %s not found", accountID)
	}
	delete(m.accounts[sessionID], accountID)
	for id, o := range m.orders[sessionID] {
		if o.AccountID == accountID {
			delete(m.orders[sessionID], id)
		}
	}
	for key, p := range m.positions[sessionID] {
		if p.AccountID == accountID {
			delete(m.positions[sessionID], key)
		}
	}
	return nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ords, ok := m.orders[o.SessionID]
	if !ok {
		return errs.E(errs.KindNotFound, "session %s not found", o.SessionID)
	}
	cp := *o
	ords[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, sessionID, orderID uuid.UUID) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[sessionID][orderID]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "order %s not found", orderID)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) GetOrderByClientID(_ context.Context, sessionID, accountID uuid.UUID, clientOrderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders[sessionID] {
		if o.AccountID == accountID && o.ClientOrderID == clientOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, errs.E(errs.KindNotFound, "order with client_order_id %q not found", clientOrderID)
}

func (m *MemoryStore) ListOrders(_ context.Context, sessionID, accountID uuid.UUID, f OrderFilter) ([]*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Order
	for _, o := range m.orders[sessionID] {
		if accountID != uuid.Nil && o.AccountID != accountID {
			continue
		}
		if !f.Matches(o) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			if f.Ascending {
				return out[i].SubmittedAt.Before(out[j].SubmittedAt)
			}
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.SessionID][o.ID]; !ok {
		return errs.E(errs.KindNotFound, "order %s not found", o.ID)
	}
	cp := *o
	m.orders[o.SessionID][o.ID] = &cp
	return nil
}

func (m *MemoryStore) UpsertPosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	poss, ok := m.positions[p.SessionID]
	if !ok {
		return errs.E(errs.KindNotFound, "session %s not found", p.SessionID)
	}
	cp := *p
	poss[posKey(p.AccountID, p.Symbol)] = &cp
	return nil
}

func (m *MemoryStore) GetPosition(_ context.Context, sessionID, accountID uuid.UUID, symbol string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[sessionID][posKey(accountID, symbol)]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "position in %s not found", symbol)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPositions(_ context.Context, sessionID, accountID uuid.UUID) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Position
	for _, p := range m.positions[sessionID] {
		if accountID != uuid.Nil && p.AccountID != accountID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) DeletePosition(_ context.Context, sessionID, accountID uuid.UUID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := posKey(accountID, symbol)
	if _, ok := m.positions[sessionID][key]; !ok {
		return errs.E(errs.KindNotFound, "position in %s not found", symbol)
	}
	delete(m.positions[sessionID], key)
	return nil
}
