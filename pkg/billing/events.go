package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventName identifies a domain event emitted on a subscription transition.
type EventName string

const (
	EventNameTrialStarted   EventName = "subscription.trial_started"
	EventNameCreated        EventName = "subscription.created"
	EventNameAuthenticated  EventName = "subscription.authenticated"
	EventNameActivated      EventName = "subscription.activated"
	EventNamePaymentPending EventName = "subscription.payment_pending"
	EventNameHalted         EventName = "subscription.halted"
	EventNameCancelled      EventName = "subscription.cancelled"
	EventNameExpired        EventName = "subscription.expired"
	EventNameTrialExpired   EventName = "subscription.trial_expired"
)

// Event describes one applied subscription transition. Downstream consumers
// (notifications, UI refresh) subscribe to these; the engine itself never
// reads them back.
type Event struct {
	Name           EventName `json:"name"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	CustomerID     string    `json:"customer_id"`
	Plan           PlanType  `json:"plan"`
	From           Status    `json:"from,omitempty"`
	To             Status    `json:"to"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers domain events to downstream consumers. Publishing
// happens after the owning store transaction commits, so a failed publish
// never rolls back billing state.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// eventNameFor maps a destination status to its event name. Creation events
// (trial_started, created) are emitted directly by the service.
func eventNameFor(to Status) EventName {
	switch to {
	case StatusAuthenticated:
		return EventNameAuthenticated
	case StatusActive:
		return EventNameActivated
	case StatusPending:
		return EventNamePaymentPending
	case StatusHalted:
		return EventNameHalted
	case StatusCancelled:
		return EventNameCancelled
	case StatusExpired:
		return EventNameExpired
	case StatusTrialExpired:
		return EventNameTrialExpired
	default:
		return EventName("subscription." + string(to))
	}
}

func newEvent(sub *Subscription, from Status, at time.Time) Event {
	return Event{
		Name:           eventNameFor(sub.Status),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Plan:           sub.Plan,
		From:           from,
		To:             sub.Status,
		OccurredAt:     at,
	}
}
