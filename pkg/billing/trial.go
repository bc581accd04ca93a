package billing

import (
	"context"
	"time"
)

// Trial eligibility reasons returned alongside the eligibility flag.
const (
	TrialReasonEligible    = "customer has not used a trial"
	TrialReasonAlreadyUsed = "customer already used their trial"
)

// TrialPolicy decides trial eligibility and creates trial subscriptions.
// A customer gets exactly one trial, ever: HasUsedTrial is set at creation
// time, not at trial end, so a cancelled trial cannot be restarted.
type TrialPolicy struct {
	store    Store
	clock    Clock
	ids      IDGenerator
	duration time.Duration
}

// NewTrialPolicy builds a trial policy over the given store.
func NewTrialPolicy(store Store, clock Clock, ids IDGenerator, duration time.Duration) *TrialPolicy {
	if duration <= 0 {
		duration = DefaultTrialDurationDays * 24 * time.Hour
	}
	return &TrialPolicy{store: store, clock: clock, ids: ids, duration: duration}
}

// Eligible reports whether the customer may still start a trial.
func (p *TrialPolicy) Eligible(ctx context.Context, customerID string) (bool, string, error) {
	used, err := p.store.HasUsedTrial(ctx, customerID)
	if err != nil {
		return false, "", err
	}
	if used {
		return false, TrialReasonAlreadyUsed, nil
	}
	return true, TrialReasonEligible, nil
}

// Start creates a TRIAL_ACTIVE subscription for the customer. The eligibility
// check and the insert run in one store transaction; the store's uniqueness
// guarantee on consumed trials closes the race between two concurrent signups,
// so the second caller always gets ErrTrialAlreadyUsed.
func (p *TrialPolicy) Start(ctx context.Context, customerID string, plan PlanType) (*Subscription, error) {
	now := p.clock.Now()
	trialEnd := now.Add(p.duration)

	sub := &Subscription{
		ID:                 p.ids.NewID(),
		CustomerID:         customerID,
		Plan:               plan,
		Status:             StatusTrialActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   trialEnd,
		IsTrial:            true,
		TrialStart:         &now,
		TrialEnd:           &trialEnd,
		HasUsedTrial:       true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := p.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		used, err := tx.HasUsedTrial(ctx, customerID)
		if err != nil {
			return err
		}
		if used {
			return ErrTrialAlreadyUsed
		}
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
