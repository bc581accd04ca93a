package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crewtube/billing/pkg/logger"
)

// maxWebhookBody bounds webhook payload size. Paddle deliveries are a few KB.
const maxWebhookBody = 1 << 20

// WebhookParser authenticates a raw webhook delivery and maps it to a
// normalized GatewayEvent.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (GatewayEvent, error)
}

// Router builds the webhook ingress. Deliveries are acknowledged with 2xx only
// once the reconciler has durably handled them; any other response makes the
// gateway redeliver.
func Router(svc *Service, parser WebhookParser, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/webhooks/paddle", handleWebhook(svc, parser, log))
	return r
}

func handleWebhook(svc *Service, parser WebhookParser, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}

		ev, err := parser.ParseWebhook(ctx, payload, r.Header.Get("Paddle-Signature"))
		switch {
		case errors.Is(err, ErrUnsupportedGatewayEvent):
			// Ack event types the engine does not consume so the gateway
			// stops redelivering them.
			w.WriteHeader(http.StatusOK)
			return
		case errors.Is(err, ErrWebhookVerificationFailed):
			log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		case err != nil:
			log.WarnContext(ctx, "webhook payload rejected", logger.Error(err))
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		if _, err := svc.Reconcile(ctx, ev); err != nil {
			log.ErrorContext(ctx, "webhook reconcile failed",
				logger.PaymentID(ev.ExternalPaymentID),
				logger.Error(err))
			http.Error(w, "reconcile failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
