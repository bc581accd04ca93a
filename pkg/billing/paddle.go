package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds webhook ingress configuration for Paddle.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"` // WebhookSecret signs webhook deliveries.
}

var ErrWebhookVerificationFailed = errors.New("billing: webhook signature verification failed")

// PaddleIngress verifies and normalizes Paddle webhook deliveries into
// GatewayEvents. It is the only gateway-specific code in the engine; the
// reconciler never sees a raw payload.
type PaddleIngress struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleIngress creates an ingress adapter with the given webhook secret.
func NewPaddleIngress(cfg PaddleConfig) (*PaddleIngress, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("billing: paddle webhook secret is required")
	}
	return &PaddleIngress{verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret)}, nil
}

// ParseWebhook verifies the payload signature and maps the delivery to a
// normalized GatewayEvent. Event types the engine does not consume return
// ErrUnsupportedGatewayEvent so the ingress can ack and drop them.
func (p *PaddleIngress) ParseWebhook(ctx context.Context, payload []byte, signature string) (GatewayEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return GatewayEvent{}, err
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return GatewayEvent{}, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return GatewayEvent{}, ErrWebhookVerificationFailed
	}

	var delivery struct {
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &delivery); err != nil {
		return GatewayEvent{}, err
	}

	status, ok := mapPaddleEventType(delivery.EventType, delivery.Data)
	if !ok {
		return GatewayEvent{}, ErrUnsupportedGatewayEvent
	}

	occurredAt, _ := time.Parse(time.RFC3339, delivery.OccurredAt)

	ev := GatewayEvent{
		Status:     status,
		OccurredAt: occurredAt,
	}

	if status == TxRefunded {
		// Refunds arrive as adjustment events referencing the original
		// transaction.
		ev.ExternalPaymentID = str(delivery.Data["transaction_id"])
		ev.ExternalSubscriptionID = str(delivery.Data["subscription_id"])
		return ev, nil
	}

	ev.ExternalPaymentID = str(delivery.Data["id"])
	ev.ExternalSubscriptionID = str(delivery.Data["subscription_id"])
	ev.Currency = str(delivery.Data["currency_code"])
	ev.Description = delivery.EventType

	if details, ok := delivery.Data["details"].(map[string]any); ok {
		if totals, ok := details["totals"].(map[string]any); ok {
			// Paddle reports totals as strings in the smallest currency unit.
			if total, err := strconv.ParseInt(str(totals["total"]), 10, 64); err == nil {
				ev.Amount = total
			}
		}
	}
	if payments, ok := delivery.Data["payments"].([]any); ok && len(payments) > 0 {
		if payment, ok := payments[0].(map[string]any); ok {
			if md, ok := payment["method_details"].(map[string]any); ok {
				ev.Method = str(md["type"])
			}
		}
	}

	return ev, nil
}

// mapPaddleEventType maps a Paddle event type onto the gateway transaction
// lifecycle the reconciler consumes.
func mapPaddleEventType(eventType string, data map[string]any) (TransactionStatus, bool) {
	switch eventType {
	case "transaction.created":
		return TxCreated, true
	case "transaction.ready", "transaction.billed":
		return TxAuthorized, true
	case "transaction.completed", "transaction.paid":
		return TxCaptured, true
	case "transaction.payment_failed", "transaction.past_due":
		return TxFailed, true
	case "adjustment.created", "adjustment.updated":
		if str(data["action"]) == "refund" && str(data["status"]) == "approved" {
			return TxRefunded, true
		}
	}
	return "", false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
