package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewtube/billing/pkg/billing"
)

func TestSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("expires a subscription past its period end", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		clock := newFixedClock(testTime)
		rec := &eventRecorder{}
		svc := newTestService(store, clock, rec)
		sweeper := billing.NewSweeper(svc)

		sub := newActiveSubscription(testTime)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		now := sub.CurrentPeriodEnd.Add(time.Second)
		n, err := sweeper.Sweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, got.Status)
		assert.Equal(t, []billing.EventName{billing.EventNameExpired}, rec.Names())

		// An immediate second sweep finds nothing to do.
		n, err = sweeper.Sweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Len(t, rec.Names(), 1)
	})

	t.Run("does not expire before the period end", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		clock := newFixedClock(testTime)
		svc := newTestService(store, clock, nil)
		sweeper := billing.NewSweeper(svc)

		sub := newActiveSubscription(testTime)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		n, err := sweeper.Sweep(ctx, sub.CurrentPeriodEnd.Add(-time.Second))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
	})

	t.Run("expires overdue pending and halted subscriptions", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		clock := newFixedClock(testTime)
		svc := newTestService(store, clock, nil)
		sweeper := billing.NewSweeper(svc)

		pending := newActiveSubscription(testTime)
		pending.Status = billing.StatusPending
		require.NoError(t, store.CreateSubscription(ctx, pending))

		halted := newActiveSubscription(testTime)
		halted.ExternalSubscriptionID = "ext-sub-2"
		halted.Status = billing.StatusHalted
		require.NoError(t, store.CreateSubscription(ctx, halted))

		n, err := sweeper.Sweep(ctx, pending.CurrentPeriodEnd.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, sub := range []*billing.Subscription{pending, halted} {
			got, err := svc.GetSubscription(ctx, sub.ID)
			require.NoError(t, err)
			assert.Equal(t, billing.StatusExpired, got.Status)
		}
	})

	t.Run("expires a trial past its end date", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		clock := newFixedClock(testTime)
		rec := &eventRecorder{}
		svc := newTestService(store, clock, rec)
		sweeper := billing.NewSweeper(svc)

		sub, err := svc.StartTrial(ctx, "cust-1", billing.PlanTrialBasic)
		require.NoError(t, err)

		n, err := sweeper.Sweep(ctx, sub.TrialEnd.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialExpired, got.Status)
		assert.Equal(t, []billing.EventName{
			billing.EventNameTrialStarted,
			billing.EventNameTrialExpired,
		}, rec.Names())
	})

	t.Run("renewed subscription is skipped", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		clock := newFixedClock(testTime)
		svc := newTestService(store, clock, nil)
		sweeper := billing.NewSweeper(svc)

		sub := newActiveSubscription(testTime)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		// A renewal capture lands right before the sweep runs.
		renewAt := sub.CurrentPeriodEnd.Add(-time.Minute)
		_, err := svc.Reconcile(ctx, capturedEvent("pay-renew", "ext-sub-1", renewAt))
		require.NoError(t, err)

		n, err := sweeper.Sweep(ctx, sub.CurrentPeriodEnd.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
	})

	t.Run("run stops on context cancellation", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		clock := newFixedClock(testTime)
		svc := newTestService(store, clock, nil)
		sweeper := billing.NewSweeper(svc)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- sweeper.Run(runCtx) }()

		cancel()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("sweeper did not stop")
		}
	})
}
