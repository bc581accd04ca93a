package billing

import (
	"time"

	"github.com/google/uuid"
)

// Transaction records one gateway charge against a subscription.
// A subscription owns zero or more transactions; the transaction holds the
// foreign key. Rows are created on first sight of a gateway payment id and
// updated in place on later deliveries, never duplicated or deleted.
type Transaction struct {
	ID                uuid.UUID
	ExternalPaymentID string // gateway-assigned, the webhook dedup key
	SubscriptionID    uuid.UUID
	CustomerID        string
	Amount            int64 // smallest currency unit
	Currency          string
	Status            TransactionStatus
	Method            string
	Description       string
	IsTrial           bool // only set when the owning subscription is a trial
	OccurredAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t *Transaction) clone() *Transaction {
	cp := *t
	return &cp
}
