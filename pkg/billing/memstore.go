package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development. A single
// mutex held for the whole transaction stands in for the database's row
// locks: transactions on any subscription serialize, which is strictly
// stronger than the per-row ordering the contract requires. Rollback restores
// a snapshot taken at transaction start.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	subs map[uuid.UUID]*Subscription
	txns map[uuid.UUID]*Transaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			subs: make(map[uuid.UUID]*Subscription),
			txns: make(map[uuid.UUID]*Transaction),
		},
	}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return m.direct(func(s *memState) error { return s.createSubscription(sub) })
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var out *Subscription
	err := m.direct(func(s *memState) error {
		var err error
		out, err = s.getSubscription(id)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	var out *Subscription
	err := m.direct(func(s *memState) error {
		var err error
		out, err = s.getSubscriptionByExternalID(externalID)
		return err
	})
	return out, err
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, sub *Subscription, expected Status) error {
	return m.direct(func(s *memState) error { return s.updateSubscription(sub, expected) })
}

func (m *MemoryStore) HasUsedTrial(ctx context.Context, customerID string) (bool, error) {
	var used bool
	err := m.direct(func(s *memState) error {
		used = s.hasUsedTrial(customerID)
		return nil
	})
	return used, err
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	return m.direct(func(s *memState) error { return s.createTransaction(txn) })
}

func (m *MemoryStore) GetTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	var out *Transaction
	err := m.direct(func(s *memState) error {
		var err error
		out, err = s.getTransactionByExternalID(externalID)
		return err
	})
	return out, err
}

func (m *MemoryStore) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, expected, next TransactionStatus, occurredAt time.Time) error {
	return m.direct(func(s *memState) error { return s.updateTransactionStatus(id, expected, next, occurredAt) })
}

func (m *MemoryStore) LatestSettledTransaction(ctx context.Context, subscriptionID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := m.direct(func(s *memState) error {
		var err error
		out, err = s.latestSettledTransaction(subscriptionID)
		return err
	})
	return out, err
}

func (m *MemoryStore) FindSubscriptionsPastPeriodEnd(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	var out []*Subscription
	err := m.direct(func(s *memState) error {
		out = s.findDue(limit, func(sub *Subscription) bool {
			switch sub.Status {
			case StatusActive, StatusPending, StatusHalted:
				return sub.PastPeriodEnd(now)
			}
			return false
		})
		return nil
	})
	return out, err
}

func (m *MemoryStore) FindTrialSubscriptionsPastEnd(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	var out []*Subscription
	err := m.direct(func(s *memState) error {
		out = s.findDue(limit, func(sub *Subscription) bool {
			return sub.Status == StatusTrialActive && sub.PastTrialEnd(now)
		})
		return nil
	})
	return out, err
}

func (m *MemoryStore) direct(fn func(*memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// memTx is the transaction-bound view handed to WithinTx callbacks. The
// store's mutex is already held, so it operates on the live state directly.
type memTx struct {
	state *memState
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (t *memTx) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return t.state.createSubscription(sub)
}

func (t *memTx) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return t.state.getSubscription(id)
}

func (t *memTx) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	return t.state.getSubscriptionByExternalID(externalID)
}

func (t *memTx) UpdateSubscription(ctx context.Context, sub *Subscription, expected Status) error {
	return t.state.updateSubscription(sub, expected)
}

func (t *memTx) HasUsedTrial(ctx context.Context, customerID string) (bool, error) {
	return t.state.hasUsedTrial(customerID), nil
}

func (t *memTx) CreateTransaction(ctx context.Context, txn *Transaction) error {
	return t.state.createTransaction(txn)
}

func (t *memTx) GetTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	return t.state.getTransactionByExternalID(externalID)
}

func (t *memTx) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, expected, next TransactionStatus, occurredAt time.Time) error {
	return t.state.updateTransactionStatus(id, expected, next, occurredAt)
}

func (t *memTx) LatestSettledTransaction(ctx context.Context, subscriptionID uuid.UUID) (*Transaction, error) {
	return t.state.latestSettledTransaction(subscriptionID)
}

func (t *memTx) FindSubscriptionsPastPeriodEnd(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return t.state.findDue(limit, func(sub *Subscription) bool {
		switch sub.Status {
		case StatusActive, StatusPending, StatusHalted:
			return sub.PastPeriodEnd(now)
		}
		return false
	}), nil
}

func (t *memTx) FindTrialSubscriptionsPastEnd(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	return t.state.findDue(limit, func(sub *Subscription) bool {
		return sub.Status == StatusTrialActive && sub.PastTrialEnd(now)
	}), nil
}

func (s *memState) clone() *memState {
	cp := &memState{
		subs: make(map[uuid.UUID]*Subscription, len(s.subs)),
		txns: make(map[uuid.UUID]*Transaction, len(s.txns)),
	}
	for id, sub := range s.subs {
		cp.subs[id] = sub.clone()
	}
	for id, txn := range s.txns {
		cp.txns[id] = txn.clone()
	}
	return cp
}

func (s *memState) createSubscription(sub *Subscription) error {
	if _, exists := s.subs[sub.ID]; exists {
		return ErrConflict
	}
	if sub.HasUsedTrial && s.hasUsedTrial(sub.CustomerID) {
		return ErrTrialAlreadyUsed
	}
	if sub.ExternalSubscriptionID != "" {
		if _, err := s.getSubscriptionByExternalID(sub.ExternalSubscriptionID); err == nil {
			return ErrConflict
		}
	}
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *memState) getSubscription(id uuid.UUID) (*Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.clone(), nil
}

func (s *memState) getSubscriptionByExternalID(externalID string) (*Subscription, error) {
	if externalID == "" {
		return nil, ErrSubscriptionNotFound
	}
	for _, sub := range s.subs {
		if sub.ExternalSubscriptionID == externalID {
			return sub.clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *memState) updateSubscription(sub *Subscription, expected Status) error {
	stored, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.Status != expected {
		return ErrConflict
	}
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *memState) hasUsedTrial(customerID string) bool {
	for _, sub := range s.subs {
		if sub.CustomerID == customerID && sub.HasUsedTrial {
			return true
		}
	}
	return false
}

func (s *memState) createTransaction(txn *Transaction) error {
	if _, exists := s.txns[txn.ID]; exists {
		return ErrConflict
	}
	if txn.ExternalPaymentID != "" {
		if _, err := s.getTransactionByExternalID(txn.ExternalPaymentID); err == nil {
			return ErrConflict
		}
	}
	if _, ok := s.subs[txn.SubscriptionID]; !ok {
		return ErrSubscriptionNotFound
	}
	s.txns[txn.ID] = txn.clone()
	return nil
}

func (s *memState) getTransactionByExternalID(externalID string) (*Transaction, error) {
	if externalID == "" {
		return nil, ErrTransactionNotFound
	}
	for _, txn := range s.txns {
		if txn.ExternalPaymentID == externalID {
			return txn.clone(), nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *memState) updateTransactionStatus(id uuid.UUID, expected, next TransactionStatus, occurredAt time.Time) error {
	stored, ok := s.txns[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if stored.Status != expected {
		return ErrConflict
	}
	stored.Status = next
	stored.OccurredAt = occurredAt
	stored.UpdatedAt = occurredAt
	return nil
}

func (s *memState) latestSettledTransaction(subscriptionID uuid.UUID) (*Transaction, error) {
	var latest *Transaction
	for _, txn := range s.txns {
		if txn.SubscriptionID != subscriptionID {
			continue
		}
		switch txn.Status {
		case TxCaptured, TxFailed, TxRefunded:
		default:
			continue
		}
		if latest == nil || txn.OccurredAt.After(latest.OccurredAt) {
			latest = txn
		}
	}
	if latest == nil {
		return nil, ErrTransactionNotFound
	}
	return latest.clone(), nil
}

func (s *memState) findDue(limit int, due func(*Subscription) bool) []*Subscription {
	out := make([]*Subscription, 0)
	for _, sub := range s.subs {
		if due(sub) {
			out = append(out, sub.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
