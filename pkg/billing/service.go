package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crewtube/billing/pkg/logger"
)

// Service is the engine facade: trial signup, paid signup, cancellation, and
// webhook reconciliation, each executed in one store transaction with bounded
// retry on optimistic-concurrency conflicts. Domain events are published only
// after the owning transaction commits.
type Service struct {
	store      Store
	cfg        Config
	lifecycle  *Lifecycle
	trial      *TrialPolicy
	reconciler *Reconciler
	publisher  Publisher
	clock      Clock
	ids        IDGenerator
	log        *slog.Logger
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithClock overrides the time source, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides the id source, mainly for tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithLogger sets the structured logger used for audit lines.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPublisher sets the domain event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewService wires the engine over the given store. Panics if store is nil to
// fail fast during initialization.
func NewService(store Store, cfg Config, opts ...Option) *Service {
	if store == nil {
		panic("billing: store is required")
	}

	s := &Service{
		store:     store,
		cfg:       cfg,
		publisher: PublisherFunc(func(context.Context, Event) error { return nil }),
		clock:     SystemClock(),
		ids:       UUIDGenerator(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.lifecycle = NewLifecycle(cfg)
	s.trial = NewTrialPolicy(store, s.clock, s.ids, cfg.TrialDuration())
	s.reconciler = NewReconciler(store, s.lifecycle, s.clock, s.ids, s.log)
	return s
}

// TrialEligibility reports whether the customer may start a trial and why.
func (s *Service) TrialEligibility(ctx context.Context, customerID string) (bool, string, error) {
	return s.trial.Eligible(ctx, customerID)
}

// StartTrial creates a TRIAL_ACTIVE subscription. Returns ErrTrialAlreadyUsed
// for a customer who ever consumed their trial, including concurrent signups.
func (s *Service) StartTrial(ctx context.Context, customerID string, plan PlanType) (*Subscription, error) {
	sub, err := s.trial.Start(ctx, customerID, plan)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "trial subscription started",
		logger.SubscriptionID(sub.ID),
		logger.CustomerID(customerID),
		slog.String("plan", string(plan)),
		slog.Time("trial_end", *sub.TrialEnd))

	s.publish(ctx, Event{
		Name:           EventNameTrialStarted,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Plan:           sub.Plan,
		To:             sub.Status,
		OccurredAt:     sub.CreatedAt,
	})
	return sub, nil
}

// StartPaidSubscription creates a CREATED subscription bound to a gateway
// mandate. The gateway's authentication webhook later moves it to
// AUTHENTICATED and the first capture to ACTIVE.
func (s *Service) StartPaidSubscription(ctx context.Context, customerID string, plan PlanType, externalSubscriptionID string) (*Subscription, error) {
	now := s.clock.Now()
	period := s.cfg.BillingPeriod
	if period <= 0 {
		period = DefaultBillingPeriod
	}

	sub := &Subscription{
		ID:                     s.ids.NewID(),
		CustomerID:             customerID,
		ExternalSubscriptionID: externalSubscriptionID,
		Plan:                   plan,
		Status:                 StatusCreated,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.Add(period),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "paid subscription created",
		logger.SubscriptionID(sub.ID),
		logger.CustomerID(customerID),
		slog.String("plan", string(plan)),
		slog.String("external_subscription_id", externalSubscriptionID))

	s.publish(ctx, Event{
		Name:           EventNameCreated,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Plan:           sub.Plan,
		To:             sub.Status,
		OccurredAt:     now,
	})
	return sub, nil
}

// Cancel applies the customer/admin cancellation to any non-terminal
// subscription.
func (s *Service) Cancel(ctx context.Context, subscriptionID uuid.UUID) error {
	return s.withConflictRetry(ctx, func(ctx context.Context) error {
		var event Event
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
			sub, err := tx.GetSubscription(ctx, subscriptionID)
			if err != nil {
				return err
			}
			from := sub.Status
			ev, err := s.lifecycle.Apply(sub, EventCancelRequested, s.clock.Now())
			if err != nil {
				s.log.ErrorContext(ctx, "cancel rejected",
					logger.SubscriptionID(subscriptionID),
					slog.String("status", string(from)),
					logger.Error(err))
				return err
			}
			if err := tx.UpdateSubscription(ctx, sub, from); err != nil {
				return err
			}
			event = ev
			return nil
		})
		if err != nil {
			return err
		}

		s.log.InfoContext(ctx, "subscription cancelled", logger.SubscriptionID(subscriptionID))
		s.publish(ctx, event)
		return nil
	})
}

// Reconcile processes one normalized gateway event, retrying bounded times on
// optimistic-concurrency conflicts.
func (s *Service) Reconcile(ctx context.Context, ev GatewayEvent) (ReconcileResult, error) {
	var res ReconcileResult
	err := s.withConflictRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.reconciler.Reconcile(ctx, ev)
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	for _, event := range res.Events {
		s.publish(ctx, event)
	}
	return res, nil
}

// GetSubscription loads a subscription by id.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// LatestPayment returns the most recent settled transaction for the
// subscription: the capture, failure, or refund that last drove its state.
// Returns ErrTransactionNotFound when no payment has settled yet.
func (s *Service) LatestPayment(ctx context.Context, subscriptionID uuid.UUID) (*Transaction, error) {
	return s.store.LatestSettledTransaction(ctx, subscriptionID)
}

// withConflictRetry re-runs fn with a fresh read after ErrConflict, up to the
// configured bound, then surfaces ErrTransientFailure.
func (s *Service) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := s.cfg.ConflictRetries
	if attempts <= 0 {
		attempts = DefaultConflictRetries
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		s.log.DebugContext(ctx, "optimistic conflict, retrying", logger.Attempt(i+1))
	}
	return errors.Join(ErrTransientFailure, err)
}

// publish delivers one domain event. Publish failures are logged, never
// propagated: billing state already committed.
func (s *Service) publish(ctx context.Context, event Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.WarnContext(ctx, "domain event publish failed",
			logger.SubscriptionID(event.SubscriptionID),
			slog.String("event", string(event.Name)),
			logger.Error(err))
	}
}
