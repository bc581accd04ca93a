package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewtube/billing/pkg/billing"
)

func TestLifecycleApply(t *testing.T) {
	t.Parallel()

	lc := billing.NewLifecycle(billing.Config{})

	t.Run("mandate authentication moves created to authenticated", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusCreated

		ev, err := lc.Apply(sub, billing.EventMandateAuthenticated, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusAuthenticated, sub.Status)
		assert.Equal(t, billing.EventNameAuthenticated, ev.Name)
		assert.Equal(t, billing.StatusCreated, ev.From)
	})

	t.Run("capture success activates and advances the period", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusPending
		sub.FailureCount = 2

		at := testTime.Add(31 * 24 * time.Hour)
		ev, err := lc.Apply(sub, billing.EventCaptureSucceeded, at)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, 0, sub.FailureCount)
		assert.Equal(t, at, sub.CurrentPeriodStart)
		assert.Equal(t, at.Add(30*24*time.Hour), sub.CurrentPeriodEnd)
		assert.Equal(t, billing.EventNameActivated, ev.Name)
	})

	t.Run("period end never moves backwards", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		originalEnd := sub.CurrentPeriodEnd

		// A capture timestamped well before the current period end must not
		// shorten the customer's paid window.
		early := testTime.Add(-60 * 24 * time.Hour)
		_, err := lc.Apply(sub, billing.EventCaptureSucceeded, early)
		require.NoError(t, err)
		assert.Equal(t, originalEnd, sub.CurrentPeriodEnd)
		assert.Equal(t, early, sub.CurrentPeriodStart)
	})

	t.Run("trial conversion keeps the trial flag", func(t *testing.T) {
		t.Parallel()

		trialEnd := testTime.Add(14 * 24 * time.Hour)
		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusTrialActive
		sub.IsTrial = true
		sub.TrialStart = &testTime
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd

		at := testTime.Add(7 * 24 * time.Hour)
		_, err := lc.Apply(sub, billing.EventCaptureSucceeded, at)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.True(t, sub.IsTrial)
		assert.Equal(t, at, sub.CurrentPeriodStart)
	})

	t.Run("consecutive failures walk active to pending to halted", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)

		_, err := lc.Apply(sub, billing.EventCaptureFailed, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPending, sub.Status)
		assert.Equal(t, 1, sub.FailureCount)

		_, err = lc.Apply(sub, billing.EventCaptureFailed, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPending, sub.Status)
		assert.Equal(t, 2, sub.FailureCount)

		ev, err := lc.Apply(sub, billing.EventCaptureFailed, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusHalted, sub.Status)
		assert.Equal(t, 3, sub.FailureCount)
		assert.Equal(t, billing.EventNameHalted, ev.Name)
	})

	t.Run("capture success from halted resets the failure streak", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusHalted
		sub.FailureCount = 3

		_, err := lc.Apply(sub, billing.EventCaptureSucceeded, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, 0, sub.FailureCount)
	})

	t.Run("refund cancels", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		ev, err := lc.Apply(sub, billing.EventRefundRecorded, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCancelled, sub.Status)
		assert.Equal(t, billing.EventNameCancelled, ev.Name)
	})

	t.Run("period elapse expires", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		_, err := lc.Apply(sub, billing.EventPeriodElapsed, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, sub.Status)
		assert.True(t, sub.Status.IsTerminal())
	})

	t.Run("trial elapse expires the trial", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusTrialActive
		ev, err := lc.Apply(sub, billing.EventTrialElapsed, testTime)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialExpired, sub.Status)
		assert.Equal(t, billing.EventNameTrialExpired, ev.Name)
	})

	t.Run("illegal event leaves the subscription untouched", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusExpired
		before := *sub

		_, err := lc.Apply(sub, billing.EventCaptureSucceeded, testTime)
		require.Error(t, err)
		assert.True(t, billing.IsInvalidTransition(err))
		assert.Equal(t, before, *sub)
	})

	t.Run("capture failure from halted is illegal", func(t *testing.T) {
		t.Parallel()

		sub := newActiveSubscription(testTime)
		sub.Status = billing.StatusHalted

		_, err := lc.Apply(sub, billing.EventCaptureFailed, testTime)
		require.Error(t, err)
		assert.True(t, billing.IsInvalidTransition(err))
	})
}

func TestLifecycleCanApply(t *testing.T) {
	t.Parallel()

	lc := billing.NewLifecycle(billing.Config{})

	cases := []struct {
		status billing.Status
		event  billing.EventKind
		want   bool
	}{
		{billing.StatusCreated, billing.EventMandateAuthenticated, true},
		{billing.StatusActive, billing.EventMandateAuthenticated, false},
		{billing.StatusAuthenticated, billing.EventCaptureSucceeded, true},
		{billing.StatusCreated, billing.EventCaptureSucceeded, false},
		{billing.StatusTrialActive, billing.EventCaptureSucceeded, true},
		{billing.StatusHalted, billing.EventCaptureFailed, false},
		{billing.StatusTrialActive, billing.EventCancelRequested, true},
		{billing.StatusCancelled, billing.EventCancelRequested, false},
		{billing.StatusHalted, billing.EventPeriodElapsed, true},
		{billing.StatusTrialActive, billing.EventPeriodElapsed, false},
		{billing.StatusTrialActive, billing.EventTrialElapsed, true},
		{billing.StatusActive, billing.EventTrialElapsed, false},
	}

	for _, tc := range cases {
		sub := &billing.Subscription{Status: tc.status}
		assert.Equal(t, tc.want, lc.CanApply(sub, tc.event),
			"status %s event %s", tc.status, tc.event)
	}
}

func TestTransactionStatusCanAdvance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from billing.TransactionStatus
		to   billing.TransactionStatus
		want bool
	}{
		{billing.TxCreated, billing.TxAuthorized, true},
		{billing.TxCreated, billing.TxCaptured, true},
		{billing.TxAuthorized, billing.TxCaptured, true},
		{billing.TxCaptured, billing.TxRefunded, true},
		{billing.TxCaptured, billing.TxAuthorized, false},
		{billing.TxRefunded, billing.TxCaptured, false},
		{billing.TxCaptured, billing.TxCaptured, false},
		{billing.TxCreated, billing.TxFailed, true},
		{billing.TxCaptured, billing.TxFailed, true},
		{billing.TxRefunded, billing.TxFailed, false},
		{billing.TxFailed, billing.TxFailed, false},
		{billing.TxFailed, billing.TxCaptured, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanAdvance(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
