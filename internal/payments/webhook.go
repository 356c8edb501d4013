package payments

import "encoding/json"

const (
	EventRefundProcessed = "refund.processed"
	EventRefundFailed    = "refund.failed"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the subset of the gateway webhook payload the store reacts to.
type WebhookEvent struct {
	Event     string
	PaymentID string
	RefundID  string
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func ParseWebhook(body []byte) (WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookEvent{}, err
	}
	ev := WebhookEvent{
		Event:     p.Event,
		PaymentID: p.Payload.Payment.Entity.ID,
		RefundID:  p.Payload.Refund.Entity.ID,
	}
	if ev.PaymentID == "" {
		ev.PaymentID = p.Payload.Refund.Entity.PaymentID
	}
	return ev, nil
}
