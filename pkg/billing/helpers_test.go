package billing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewtube/billing/pkg/billing"
)

// fixedClock pins the time returned by the injected Clock; Advance moves it.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// eventRecorder captures published domain events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []billing.Event
}

func (r *eventRecorder) Publish(_ context.Context, event billing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Names() []billing.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]billing.EventName, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store billing.Store, clock billing.Clock, rec *eventRecorder) *billing.Service {
	opts := []billing.Option{
		billing.WithClock(clock),
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if rec != nil {
		opts = append(opts, billing.WithPublisher(rec))
	}
	return billing.NewService(store, billing.Config{}, opts...)
}

func newActiveSubscription(now time.Time) *billing.Subscription {
	return &billing.Subscription{
		ID:                     uuid.New(),
		CustomerID:             "cust-1",
		ExternalSubscriptionID: "ext-sub-1",
		Plan:                   billing.PlanBasic,
		Status:                 billing.StatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.Add(30 * 24 * time.Hour),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}
