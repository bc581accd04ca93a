package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrTrialAlreadyUsed is returned when a customer who already consumed
	// their one-time trial asks for another. Business rule violation,
	// surfaced to the caller and never retried.
	ErrTrialAlreadyUsed = errors.New("billing: trial already used for customer")

	// ErrUnknownSubscription is returned when a gateway event references a
	// subscription id we have no row for. Data-integrity gap requiring
	// operator reconciliation; the operation is aborted.
	ErrUnknownSubscription = errors.New("billing: no subscription for gateway subscription id")

	// ErrConflict signals an optimistic-concurrency collision: the row
	// changed between read and write. Callers retry with a fresh read.
	ErrConflict = errors.New("billing: subscription changed since read")

	// ErrTransientFailure is surfaced after bounded conflict retries are
	// exhausted.
	ErrTransientFailure = errors.New("billing: transient failure, retries exhausted")

	// ErrRepositoryUnavailable wraps infrastructure faults from the store.
	// The webhook is not acknowledged so the gateway redelivers.
	ErrRepositoryUnavailable = errors.New("billing: repository unavailable")

	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrTransactionNotFound  = errors.New("billing: transaction not found")

	// ErrUnsupportedGatewayEvent is returned by ingress adapters for webhook
	// types the engine does not consume.
	ErrUnsupportedGatewayEvent = errors.New("billing: unsupported gateway event type")
)

// InvalidTransitionError indicates an event that is not legal from the
// subscription's current status. It points at a gateway or ordering anomaly
// rather than a transient fault, so it is logged and not retried.
type InvalidTransitionError struct {
	From  Status
	Event EventKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("billing: no transition from status %q for event %q", e.From, e.Event)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}
