package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the transactional repository for subscriptions and transactions.
//
// Implementations must guarantee:
//
//   - WithinTx runs fn against a transaction-bound Store and commits only if
//     fn returns nil; any error rolls the whole unit of work back.
//   - GetSubscription and GetSubscriptionByExternalID acquire a row lock when
//     called inside WithinTx, so concurrent operations on the same
//     subscription are ordered by the database, not by application locking.
//   - UpdateSubscription writes only when the stored status still equals
//     expected, returning ErrConflict otherwise.
//   - CreateSubscription enforces at most one row per customer with
//     HasUsedTrial set, returning ErrTrialAlreadyUsed on violation.
//   - External ids are unique; CreateTransaction returns ErrConflict when a
//     concurrent writer already recorded the same ExternalPaymentID.
type Store interface {
	// WithinTx executes fn inside one repository transaction. Nested calls
	// reuse the surrounding transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	// UpdateSubscription persists status, period, trial, and failure fields
	// with an optimistic precondition on the previously read status.
	UpdateSubscription(ctx context.Context, sub *Subscription, expected Status) error
	// HasUsedTrial reports whether any subscription row for the customer has
	// ever consumed the trial.
	HasUsedTrial(ctx context.Context, customerID string) (bool, error)

	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error)
	// UpdateTransactionStatus moves a transaction forward in the gateway
	// lifecycle with an optimistic precondition on the previously read status.
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, expected, next TransactionStatus, occurredAt time.Time) error
	// LatestSettledTransaction returns the most recent transaction for the
	// subscription whose status is captured, failed, or refunded, ordered by
	// occurrence time. Returns ErrTransactionNotFound when none exists.
	LatestSettledTransaction(ctx context.Context, subscriptionID uuid.UUID) (*Transaction, error)

	// FindSubscriptionsPastPeriodEnd selects paid subscriptions (active,
	// pending, halted) whose period end is at or before now.
	FindSubscriptionsPastPeriodEnd(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	// FindTrialSubscriptionsPastEnd selects trial-active subscriptions whose
	// trial end is at or before now.
	FindTrialSubscriptionsPastEnd(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}
