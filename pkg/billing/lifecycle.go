package billing

import "time"

// transitionSources maps each event to the statuses it may be fired from.
// Anything not listed here is an InvalidTransitionError: those indicate a
// gateway or ordering anomaly, not a transient fault, and are never retried.
var transitionSources = map[EventKind]map[Status]bool{
	EventMandateAuthenticated: {
		StatusCreated: true,
	},
	EventCaptureSucceeded: {
		StatusAuthenticated: true,
		StatusActive:        true,
		StatusPending:       true,
		StatusHalted:        true,
		StatusTrialActive:   true, // trial conversion
	},
	EventCaptureFailed: {
		StatusAuthenticated: true,
		StatusActive:        true,
		StatusPending:       true,
	},
	EventRefundRecorded: {
		StatusActive:  true,
		StatusPending: true,
	},
	EventCancelRequested: {
		StatusCreated:       true,
		StatusAuthenticated: true,
		StatusActive:        true,
		StatusPending:       true,
		StatusHalted:        true,
		StatusTrialActive:   true,
	},
	EventPeriodElapsed: {
		StatusActive:  true,
		StatusPending: true,
		StatusHalted:  true,
	},
	EventTrialElapsed: {
		StatusTrialActive: true,
	},
}

// Lifecycle owns the subscription state machine: which events are legal from
// which statuses, and how an applied event rewrites the row. It is pure
// in-memory logic; persistence and locking belong to the Store.
type Lifecycle struct {
	period             time.Duration
	failuresBeforeHalt int
}

// NewLifecycle builds the state machine from configuration. Zero values fall
// back to the defaults (30-day period, halt after 3 consecutive failures).
func NewLifecycle(cfg Config) *Lifecycle {
	l := &Lifecycle{
		period:             cfg.BillingPeriod,
		failuresBeforeHalt: cfg.FailuresBeforeHalt,
	}
	if l.period <= 0 {
		l.period = DefaultBillingPeriod
	}
	if l.failuresBeforeHalt <= 0 {
		l.failuresBeforeHalt = DefaultFailuresBeforeHalt
	}
	return l
}

// CanApply reports whether event is legal from the subscription's current status.
func (l *Lifecycle) CanApply(sub *Subscription, event EventKind) bool {
	srcs, ok := transitionSources[event]
	return ok && srcs[sub.Status]
}

// Apply mutates sub according to the transition table and returns the domain
// event describing the change. On an illegal event the subscription is left
// untouched and an InvalidTransitionError is returned.
//
// Capture success always lands in ACTIVE and advances the billing period from
// the capture time; a converted trial keeps IsTrial true for the historical
// record. Capture failure lands in PENDING until the consecutive-failure
// threshold is reached, then HALTED.
func (l *Lifecycle) Apply(sub *Subscription, event EventKind, at time.Time) (Event, error) {
	from := sub.Status
	if !l.CanApply(sub, event) {
		return Event{}, &InvalidTransitionError{From: from, Event: event}
	}

	switch event {
	case EventMandateAuthenticated:
		sub.Status = StatusAuthenticated

	case EventCaptureSucceeded:
		sub.Status = StatusActive
		sub.FailureCount = 0
		sub.CurrentPeriodStart = at
		end := at.Add(l.period)
		// Period ends never move backwards, even if the gateway reports a
		// capture with an early timestamp.
		if end.Before(sub.CurrentPeriodEnd) {
			end = sub.CurrentPeriodEnd
		}
		sub.CurrentPeriodEnd = end

	case EventCaptureFailed:
		sub.FailureCount++
		if sub.FailureCount >= l.failuresBeforeHalt {
			sub.Status = StatusHalted
		} else {
			sub.Status = StatusPending
		}

	case EventRefundRecorded, EventCancelRequested:
		sub.Status = StatusCancelled

	case EventPeriodElapsed:
		sub.Status = StatusExpired

	case EventTrialElapsed:
		sub.Status = StatusTrialExpired
	}

	sub.UpdatedAt = at
	return newEvent(sub, from, at), nil
}
