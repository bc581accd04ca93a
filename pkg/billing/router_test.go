package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewtube/billing/pkg/billing"
)

// stubParser returns a canned event or error, bypassing signature checks.
type stubParser struct {
	ev  billing.GatewayEvent
	err error
}

func (p stubParser) ParseWebhook(context.Context, []byte, string) (billing.GatewayEvent, error) {
	return p.ev, p.err
}

func postWebhook(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", strings.NewReader(body))
	req.Header.Set("Paddle-Signature", "ts=1;h1=ignored")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestWebhookRouter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("acks an applied event", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		svc := newTestService(store, newFixedClock(testTime), nil)

		sub := newActiveSubscription(testTime)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		handler := billing.Router(svc, stubParser{
			ev: capturedEvent("pay-1", "ext-sub-1", testTime.Add(time.Minute)),
		}, nil)

		rr := postWebhook(t, handler, `{}`)
		assert.Equal(t, http.StatusOK, rr.Code)

		got, err := svc.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
	})

	t.Run("acks a duplicate delivery", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		svc := newTestService(store, newFixedClock(testTime), nil)

		sub := newActiveSubscription(testTime)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		handler := billing.Router(svc, stubParser{
			ev: capturedEvent("pay-1", "ext-sub-1", testTime.Add(time.Minute)),
		}, nil)

		assert.Equal(t, http.StatusOK, postWebhook(t, handler, `{}`).Code)
		assert.Equal(t, http.StatusOK, postWebhook(t, handler, `{}`).Code)
	})

	t.Run("acks unsupported event types", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(billing.NewMemoryStore(), newFixedClock(testTime), nil)
		handler := billing.Router(svc, stubParser{err: billing.ErrUnsupportedGatewayEvent}, nil)

		assert.Equal(t, http.StatusOK, postWebhook(t, handler, `{}`).Code)
	})

	t.Run("rejects an invalid signature", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(billing.NewMemoryStore(), newFixedClock(testTime), nil)
		handler := billing.Router(svc, stubParser{err: billing.ErrWebhookVerificationFailed}, nil)

		assert.Equal(t, http.StatusUnauthorized, postWebhook(t, handler, `{}`).Code)
	})

	t.Run("does not ack an unknown subscription", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(billing.NewMemoryStore(), newFixedClock(testTime), nil)
		handler := billing.Router(svc, stubParser{
			ev: capturedEvent("pay-1", "ext-sub-missing", testTime),
		}, nil)

		assert.Equal(t, http.StatusInternalServerError, postWebhook(t, handler, `{}`).Code)
	})
}
