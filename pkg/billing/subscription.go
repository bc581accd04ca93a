package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tracks a customer's plan, trial usage, and payment state.
// Rows are never deleted; terminal states are retained for audit.
type Subscription struct {
	ID                     uuid.UUID
	CustomerID             string
	ExternalSubscriptionID string // gateway-assigned, empty until the gateway reports one
	Plan                   PlanType
	Status                 Status
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	IsTrial                bool
	TrialStart             *time.Time
	TrialEnd               *time.Time
	HasUsedTrial           bool
	FailureCount           int // consecutive capture failures, reset on success
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsTrialing reports whether the subscription is currently in its trial window.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialActive
}

// PeriodContains reports whether t falls inside the current billing period.
// The period is half-open: [CurrentPeriodStart, CurrentPeriodEnd).
func (s *Subscription) PeriodContains(t time.Time) bool {
	return !t.Before(s.CurrentPeriodStart) && t.Before(s.CurrentPeriodEnd)
}

// PastPeriodEnd reports whether the billing period has elapsed at now.
func (s *Subscription) PastPeriodEnd(now time.Time) bool {
	return now.After(s.CurrentPeriodEnd)
}

// PastTrialEnd reports whether the trial window has elapsed at now.
// Always false for non-trial subscriptions.
func (s *Subscription) PastTrialEnd(now time.Time) bool {
	return s.TrialEnd != nil && now.After(*s.TrialEnd)
}

// clone returns a deep copy so stores can hand out rows without aliasing.
func (s *Subscription) clone() *Subscription {
	cp := *s
	if s.TrialStart != nil {
		t := *s.TrialStart
		cp.TrialStart = &t
	}
	if s.TrialEnd != nil {
		t := *s.TrialEnd
		cp.TrialEnd = &t
	}
	return &cp
}
