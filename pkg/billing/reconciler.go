package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/crewtube/billing/pkg/logger"
)

// ReconcileOutcome classifies the result of processing one gateway event.
type ReconcileOutcome string

const (
	// ReconcileApplied means the transaction was recorded and a subscription
	// transition was applied.
	ReconcileApplied ReconcileOutcome = "applied"
	// ReconcileRecorded means the transaction was recorded but the event does
	// not drive a subscription transition (e.g. an early-lifecycle status).
	ReconcileRecorded ReconcileOutcome = "recorded"
	// ReconcileNoop means the event was a duplicate delivery: same payment
	// id, same status. Nothing changed.
	ReconcileNoop ReconcileOutcome = "noop"
	// ReconcileDiscarded means the event arrived out of order and would have
	// moved the transaction backwards; it was dropped.
	ReconcileDiscarded ReconcileOutcome = "discarded"
)

// ReconcileResult reports what a reconcile run did. Events carries the domain
// events produced by any applied transition; the caller publishes them after
// the transaction commits.
type ReconcileResult struct {
	Outcome     ReconcileOutcome
	Transaction *Transaction
	Events      []Event
}

// Acknowledged reports whether the webhook may be acked to the gateway.
// Everything the reconciler handled, including duplicates and stale events,
// is acknowledged; errors are not, so the gateway redelivers.
func (r ReconcileResult) Acknowledged() bool {
	return r.Outcome != ""
}

// Reconciler consumes normalized gateway events, maps them onto transaction
// rows deduplicated by external payment id, and drives the subscription state
// machine. Each event is processed in one store transaction so a transaction
// row is never persisted without its subscription transition, and vice versa.
type Reconciler struct {
	store     Store
	lifecycle *Lifecycle
	clock     Clock
	ids       IDGenerator
	log       *slog.Logger
}

// NewReconciler wires a reconciler over the given store and state machine.
func NewReconciler(store Store, lifecycle *Lifecycle, clock Clock, ids IDGenerator, log *slog.Logger) *Reconciler {
	return &Reconciler{store: store, lifecycle: lifecycle, clock: clock, ids: ids, log: log}
}

// Reconcile processes one gateway event. Safe to call any number of times
// with the same event: duplicates resolve to ReconcileNoop with identical
// final state.
func (r *Reconciler) Reconcile(ctx context.Context, ev GatewayEvent) (ReconcileResult, error) {
	var res ReconcileResult
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		existing, err := tx.GetTransactionByExternalID(ctx, ev.ExternalPaymentID)
		switch {
		case err == nil:
			return r.reconcileExisting(ctx, tx, existing, ev, &res)
		case errors.Is(err, ErrTransactionNotFound):
			return r.reconcileNew(ctx, tx, ev, &res)
		default:
			return err
		}
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return res, nil
}

// reconcileExisting updates a previously seen transaction in place. The
// stored status only ever moves forward along the gateway lifecycle; anything
// else is a redelivery or an out-of-order arrival.
func (r *Reconciler) reconcileExisting(ctx context.Context, tx Store, existing *Transaction, ev GatewayEvent, res *ReconcileResult) error {
	if existing.Status == ev.Status {
		r.log.DebugContext(ctx, "duplicate gateway event",
			logger.TransactionID(existing.ID),
			logger.PaymentID(ev.ExternalPaymentID))
		*res = ReconcileResult{Outcome: ReconcileNoop, Transaction: existing}
		return nil
	}

	if !existing.Status.CanAdvance(ev.Status) || ev.OccurredAt.Before(existing.OccurredAt) {
		r.log.InfoContext(ctx, "stale gateway event discarded",
			logger.TransactionID(existing.ID),
			logger.PaymentID(ev.ExternalPaymentID),
			slog.String("stored_status", string(existing.Status)),
			slog.String("incoming_status", string(ev.Status)))
		*res = ReconcileResult{Outcome: ReconcileDiscarded, Transaction: existing}
		return nil
	}

	// Lock the owning subscription before touching either row so concurrent
	// deliveries for the same subscription serialize on the database.
	sub, err := tx.GetSubscription(ctx, existing.SubscriptionID)
	if err != nil {
		return err
	}

	prev := existing.Status
	if err := tx.UpdateTransactionStatus(ctx, existing.ID, prev, ev.Status, ev.OccurredAt); err != nil {
		return err
	}
	existing.Status = ev.Status
	existing.OccurredAt = ev.OccurredAt

	return r.drive(ctx, tx, sub, existing, res)
}

// reconcileNew records a first-seen gateway payment and drives the owning
// subscription.
func (r *Reconciler) reconcileNew(ctx context.Context, tx Store, ev GatewayEvent, res *ReconcileResult) error {
	sub, err := tx.GetSubscriptionByExternalID(ctx, ev.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			r.log.ErrorContext(ctx, "gateway event for unknown subscription, operator attention required",
				logger.PaymentID(ev.ExternalPaymentID),
				slog.String("external_subscription_id", ev.ExternalSubscriptionID))
			return errors.Join(ErrUnknownSubscription, err)
		}
		return err
	}

	now := r.clock.Now()
	txn := &Transaction{
		ID:                r.ids.NewID(),
		ExternalPaymentID: ev.ExternalPaymentID,
		SubscriptionID:    sub.ID,
		CustomerID:        sub.CustomerID,
		Amount:            ev.Amount,
		Currency:          ev.Currency,
		Status:            ev.Status,
		Method:            ev.Method,
		Description:       ev.Description,
		IsTrial:           sub.IsTrial,
		OccurredAt:        ev.OccurredAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		return err
	}

	return r.drive(ctx, tx, sub, txn, res)
}

// drive maps the transaction's settled status onto a state machine event and
// applies it to the locked subscription row.
func (r *Reconciler) drive(ctx context.Context, tx Store, sub *Subscription, txn *Transaction, res *ReconcileResult) error {
	kind, ok := r.machineEvent(sub, txn.Status)
	if !ok {
		*res = ReconcileResult{Outcome: ReconcileRecorded, Transaction: txn}
		return nil
	}

	at := txn.OccurredAt
	if at.IsZero() {
		at = r.clock.Now()
	}

	from := sub.Status
	event, err := r.lifecycle.Apply(sub, kind, at)
	if err != nil {
		r.log.ErrorContext(ctx, "illegal subscription transition",
			logger.SubscriptionID(sub.ID),
			logger.TransactionID(txn.ID),
			slog.String("status", string(from)),
			slog.String("event", string(kind)),
			logger.Error(err))
		return err
	}
	if err := tx.UpdateSubscription(ctx, sub, from); err != nil {
		return err
	}

	r.log.InfoContext(ctx, "gateway event reconciled",
		logger.SubscriptionID(sub.ID),
		logger.TransactionID(txn.ID),
		logger.PaymentID(txn.ExternalPaymentID),
		slog.String("event", string(kind)),
		slog.String("from", string(from)),
		slog.String("to", string(sub.Status)))

	*res = ReconcileResult{
		Outcome:     ReconcileApplied,
		Transaction: txn,
		Events:      []Event{event},
	}
	return nil
}

// machineEvent maps a gateway transaction status to a state machine event.
// Authorized drives the mandate-authentication transition only while the
// subscription is still CREATED; later authorizations are record-only, as are
// early-lifecycle statuses.
func (r *Reconciler) machineEvent(sub *Subscription, status TransactionStatus) (EventKind, bool) {
	switch status {
	case TxCaptured:
		return EventCaptureSucceeded, true
	case TxFailed:
		return EventCaptureFailed, true
	case TxRefunded:
		return EventRefundRecorded, true
	case TxAuthorized:
		if sub.Status == StatusCreated {
			return EventMandateAuthenticated, true
		}
	}
	return "", false
}
