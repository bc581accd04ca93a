package billing

import "time"

// PlanType identifies the product plan a subscription is billed against.
type PlanType string

const (
	PlanBasic      PlanType = "basic"
	PlanPro        PlanType = "pro"
	PlanTrialBasic PlanType = "trial_basic"
)

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAuthenticated Status = "authenticated"
	StatusActive        Status = "active"
	StatusPending       Status = "pending"
	StatusHalted        Status = "halted"
	StatusCancelled     Status = "cancelled"
	StatusCompleted     Status = "completed"
	StatusExpired       Status = "expired"
	StatusTrialActive   Status = "trial_active"
	StatusTrialExpired  Status = "trial_expired"
)

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusExpired, StatusTrialExpired:
		return true
	}
	return false
}

// TransactionStatus represents the payment gateway's lifecycle for a single charge.
type TransactionStatus string

const (
	TxCreated    TransactionStatus = "created"
	TxAuthorized TransactionStatus = "authorized"
	TxCaptured   TransactionStatus = "captured"
	TxRefunded   TransactionStatus = "refunded"
	TxFailed     TransactionStatus = "failed"
)

// txRank orders transaction statuses along the gateway's forward-only
// lifecycle: created -> authorized -> captured -> refunded. Failed is a sink
// reachable from any non-final status.
var txRank = map[TransactionStatus]int{
	TxCreated:    0,
	TxAuthorized: 1,
	TxCaptured:   2,
	TxRefunded:   3,
}

// CanAdvance reports whether a stored transaction status may move to next.
func (s TransactionStatus) CanAdvance(next TransactionStatus) bool {
	if s == next {
		return false
	}
	if next == TxFailed {
		return s != TxRefunded && s != TxFailed
	}
	from, ok := txRank[s]
	if !ok {
		return false
	}
	to, ok := txRank[next]
	if !ok {
		return false
	}
	return to > from
}

// EventKind is a state machine input driving a subscription transition.
type EventKind string

const (
	EventMandateAuthenticated EventKind = "mandate_authenticated"
	EventCaptureSucceeded     EventKind = "capture_succeeded"
	EventCaptureFailed        EventKind = "capture_failed"
	EventRefundRecorded       EventKind = "refund_recorded"
	EventCancelRequested      EventKind = "cancel_requested"
	EventPeriodElapsed        EventKind = "period_elapsed"
	EventTrialElapsed         EventKind = "trial_elapsed"
)

// GatewayEvent is a normalized payment gateway webhook notification, already
// authenticated and parsed by the ingress layer. ExternalPaymentID is the
// idempotency key: redeliveries of the same gateway payment carry the same id.
type GatewayEvent struct {
	ExternalPaymentID      string
	ExternalSubscriptionID string
	Amount                 int64 // smallest currency unit
	Currency               string
	Status                 TransactionStatus
	Method                 string
	Description            string
	OccurredAt             time.Time
}
