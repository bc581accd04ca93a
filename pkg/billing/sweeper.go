package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/crewtube/billing/pkg/logger"
)

// Sweeper is the sole driver of time-based transitions: it periodically
// selects subscriptions whose billing period or trial window has elapsed and
// applies the corresponding expiry event, one row-transaction at a time.
//
// Multiple instances may run concurrently: each candidate is re-read under a
// row lock and re-checked before transitioning, so a double sweep is a no-op.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	batch    int
	log      *slog.Logger
}

// NewSweeper builds a sweeper over the service's store and state machine,
// taking interval and batch size from the service configuration.
func NewSweeper(svc *Service) *Sweeper {
	if svc == nil {
		panic("billing: service is required")
	}

	interval := svc.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	batch := svc.cfg.SweepBatchSize
	if batch <= 0 {
		batch = DefaultSweepBatchSize
	}

	return &Sweeper{svc: svc, interval: interval, batch: batch, log: svc.log}
}

// Run sweeps immediately, then on every interval tick until the context is
// cancelled. The return value is ctx.Err(), making Run suitable for errgroup.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.sweepAndLog(ctx)
		}
	}
}

func (w *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := w.Sweep(ctx, w.svc.clock.Now())
	if err != nil {
		w.log.ErrorContext(ctx, "sweep failed", logger.Error(err))
		return
	}
	if n > 0 {
		w.log.InfoContext(ctx, "sweep applied expiries", slog.Int("expired", n))
	}
}

// Sweep runs one pass at the given time and returns how many subscriptions
// it transitioned.
func (w *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := w.sweepPaid(ctx, now)
	if err != nil {
		return expired, err
	}

	trials, err := w.sweepTrials(ctx, now)
	return expired + trials, err
}

func (w *Sweeper) sweepPaid(ctx context.Context, now time.Time) (int, error) {
	candidates, err := w.svc.store.FindSubscriptionsPastPeriodEnd(ctx, now, w.batch)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, sub := range candidates {
		ok, err := w.expireOne(ctx, sub, EventPeriodElapsed, now, func(s *Subscription) bool {
			return s.PastPeriodEnd(now)
		})
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func (w *Sweeper) sweepTrials(ctx context.Context, now time.Time) (int, error) {
	candidates, err := w.svc.store.FindTrialSubscriptionsPastEnd(ctx, now, w.batch)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, sub := range candidates {
		ok, err := w.expireOne(ctx, sub, EventTrialElapsed, now, func(s *Subscription) bool {
			return s.PastTrialEnd(now)
		})
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// expireOne re-reads the candidate under a row lock and applies the expiry
// event only if it is still due. Rows already transitioned by a concurrent
// sweeper or a renewal capture are skipped silently, as are conflicts: the
// winning writer already decided the row's fate.
func (w *Sweeper) expireOne(ctx context.Context, candidate *Subscription, kind EventKind, now time.Time, stillDue func(*Subscription) bool) (bool, error) {
	var event Event
	applied := false

	err := w.svc.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		sub, err := tx.GetSubscription(ctx, candidate.ID)
		if err != nil {
			return err
		}
		if !w.svc.lifecycle.CanApply(sub, kind) || !stillDue(sub) {
			return nil
		}

		from := sub.Status
		ev, err := w.svc.lifecycle.Apply(sub, kind, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateSubscription(ctx, sub, from); err != nil {
			return err
		}

		event = ev
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	if !applied {
		return false, nil
	}

	w.log.InfoContext(ctx, "subscription expired by sweep",
		logger.SubscriptionID(candidate.ID),
		slog.String("event", string(kind)),
		slog.String("to", string(event.To)))
	w.svc.publish(ctx, event)
	return true, nil
}
