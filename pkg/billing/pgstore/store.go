// Package pgstore implements billing.Store on PostgreSQL via pgx.
//
// Concurrency model: reads inside WithinTx take SELECT ... FOR UPDATE row
// locks, so two operations touching the same subscription are ordered by the
// database. Uniqueness rules the domain relies on live in the schema: a
// partial unique index allows at most one consumed trial per customer, and
// external gateway ids are unique wherever present.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewtube/billing/pkg/billing"
	"github.com/crewtube/billing/pkg/pg"
)

// Constraint names the store maps onto domain errors.
const (
	constraintTrialOnce         = "subscriptions_trial_once_per_customer"
	constraintExternalPaymentID = "transactions_external_payment_id_key"
)

// Store implements billing.Store over a pgx pool. The zero value is not
// usable; construct with New.
type Store struct {
	pool *pgxpool.Pool
	tx   pgx.Tx // non-nil when transaction-bound
}

// New creates a store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("pgstore: pool is required")
	}
	return &Store{pool: pool}
}

// WithinTx runs fn against a transaction-bound store. Nested calls reuse the
// surrounding transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx billing.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Store{pool: s.pool, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	return nil
}

const subscriptionColumns = `id, customer_id, COALESCE(external_subscription_id, ''), plan, status,
	current_period_start, current_period_end, is_trial, trial_start, trial_end,
	has_used_trial, failure_count, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	const q = `INSERT INTO subscriptions (
		id, customer_id, external_subscription_id, plan, status,
		current_period_start, current_period_end, is_trial, trial_start, trial_end,
		has_used_trial, failure_count, created_at, updated_at
	) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.exec(ctx, q,
		sub.ID, sub.CustomerID, sub.ExternalSubscriptionID, sub.Plan, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.IsTrial, sub.TrialStart, sub.TrialEnd,
		sub.HasUsedTrial, sub.FailureCount, sub.CreatedAt, sub.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case pg.IsUniqueViolation(err, constraintTrialOnce):
		return billing.ErrTrialAlreadyUsed
	case pg.IsUniqueViolation(err, ""):
		return billing.ErrConflict
	default:
		return errors.Join(billing.ErrRepositoryUnavailable, err)
	}
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1` + s.lockClause()
	return s.scanSubscription(s.queryRow(ctx, q, id))
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*billing.Subscription, error) {
	if externalID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_subscription_id = $1` + s.lockClause()
	return s.scanSubscription(s.queryRow(ctx, q, externalID))
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription, expected billing.Status) error {
	const q = `UPDATE subscriptions SET
		status = $1, external_subscription_id = NULLIF($2, ''),
		current_period_start = $3, current_period_end = $4,
		is_trial = $5, trial_start = $6, trial_end = $7,
		has_used_trial = $8, failure_count = $9, updated_at = $10
	WHERE id = $11 AND status = $12`

	tag, err := s.exec(ctx, q,
		sub.Status, sub.ExternalSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.IsTrial, sub.TrialStart, sub.TrialEnd,
		sub.HasUsedTrial, sub.FailureCount, sub.UpdatedAt,
		sub.ID, expected)
	if err != nil {
		return errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrConflict
	}
	return nil
}

func (s *Store) HasUsedTrial(ctx context.Context, customerID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE customer_id = $1 AND has_used_trial)`

	var used bool
	if err := s.queryRow(ctx, q, customerID).Scan(&used); err != nil {
		return false, errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	return used, nil
}

const transactionColumns = `id, COALESCE(external_payment_id, ''), subscription_id, customer_id,
	amount, currency, status, COALESCE(method, ''), COALESCE(description, ''),
	is_trial, occurred_at, created_at, updated_at`

func (s *Store) CreateTransaction(ctx context.Context, txn *billing.Transaction) error {
	const q = `INSERT INTO transactions (
		id, external_payment_id, subscription_id, customer_id,
		amount, currency, status, method, description,
		is_trial, occurred_at, created_at, updated_at
	) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, $13)`

	_, err := s.exec(ctx, q,
		txn.ID, txn.ExternalPaymentID, txn.SubscriptionID, txn.CustomerID,
		txn.Amount, txn.Currency, txn.Status, txn.Method, txn.Description,
		txn.IsTrial, txn.OccurredAt, txn.CreatedAt, txn.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case pg.IsUniqueViolation(err, constraintExternalPaymentID):
		// A concurrent delivery recorded the same gateway payment first;
		// the caller retries and finds the existing row.
		return billing.ErrConflict
	default:
		return errors.Join(billing.ErrRepositoryUnavailable, err)
	}
}

func (s *Store) GetTransactionByExternalID(ctx context.Context, externalID string) (*billing.Transaction, error) {
	if externalID == "" {
		return nil, billing.ErrTransactionNotFound
	}
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_payment_id = $1` + s.lockClause()
	return s.scanTransaction(s.queryRow(ctx, q, externalID))
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, expected, next billing.TransactionStatus, occurredAt time.Time) error {
	const q = `UPDATE transactions SET status = $1, occurred_at = $2, updated_at = $2
	WHERE id = $3 AND status = $4`

	tag, err := s.exec(ctx, q, next, occurredAt, id, expected)
	if err != nil {
		return errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrConflict
	}
	return nil
}

func (s *Store) LatestSettledTransaction(ctx context.Context, subscriptionID uuid.UUID) (*billing.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
	WHERE subscription_id = $1 AND status IN ('captured', 'failed', 'refunded')
	ORDER BY occurred_at DESC LIMIT 1`
	return s.scanTransaction(s.queryRow(ctx, q, subscriptionID))
}

func (s *Store) FindSubscriptionsPastPeriodEnd(ctx context.Context, now time.Time, limit int) ([]*billing.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
	WHERE status IN ('active', 'pending', 'halted') AND current_period_end < $1
	ORDER BY current_period_end LIMIT $2`
	return s.querySubscriptions(ctx, q, now, limit)
}

func (s *Store) FindTrialSubscriptionsPastEnd(ctx context.Context, now time.Time, limit int) ([]*billing.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
	WHERE status = 'trial_active' AND trial_end < $1
	ORDER BY trial_end LIMIT $2`
	return s.querySubscriptions(ctx, q, now, limit)
}

// lockClause returns FOR UPDATE inside a transaction so single-row reads
// serialize concurrent writers on the database side.
func (s *Store) lockClause() string {
	if s.tx != nil {
		return " FOR UPDATE"
	}
	return ""
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	if s.tx != nil {
		return s.tx.Exec(ctx, q, args...)
	}
	return s.pool.Exec(ctx, q, args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) pgx.Row {
	if s.tx != nil {
		return s.tx.QueryRow(ctx, q, args...)
	}
	return s.pool.QueryRow(ctx, q, args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (pgx.Rows, error) {
	if s.tx != nil {
		return s.tx.Query(ctx, q, args...)
	}
	return s.pool.Query(ctx, q, args...)
}

func (s *Store) querySubscriptions(ctx context.Context, q string, args ...any) ([]*billing.Subscription, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	defer rows.Close()

	var out []*billing.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	return out, nil
}

func (s *Store) scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.ID, &sub.CustomerID, &sub.ExternalSubscriptionID, &sub.Plan, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.IsTrial, &sub.TrialStart, &sub.TrialEnd,
		&sub.HasUsedTrial, &sub.FailureCount, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	return &sub, nil
}

func (s *Store) scanTransaction(row pgx.Row) (*billing.Transaction, error) {
	var txn billing.Transaction
	err := row.Scan(
		&txn.ID, &txn.ExternalPaymentID, &txn.SubscriptionID, &txn.CustomerID,
		&txn.Amount, &txn.Currency, &txn.Status, &txn.Method, &txn.Description,
		&txn.IsTrial, &txn.OccurredAt, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, billing.ErrTransactionNotFound
		}
		return nil, errors.Join(billing.ErrRepositoryUnavailable, err)
	}
	return &txn, nil
}
