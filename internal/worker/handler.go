// Package worker turns order events into customer notifications.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"

	"github.com/joao-fontenele/threadline/internal/domain"
)

type message struct {
	subject *template.Template
	body    *template.Template
}

func newMessage(subject, body string) message {
	return message{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

var messages = map[domain.EventType]message{
	domain.EventOrderPlaced: newMessage(
		"Order {{.OrderNumber}} confirmed",
		"Thanks for your order! We received payment of {{.TotalAmount.StringFixed 2}} for {{.ItemCount}} item(s) and will start on it shortly.",
	),
	domain.EventOrderCancelled: newMessage(
		"Order {{.OrderNumber}} cancelled",
		"Your order {{.OrderNumber}} has been cancelled.{{if .Reason}} Reason: {{.Reason}}.{{end}}{{if eq .PaymentStatus \"REFUND_REQUESTED\"}} A refund of {{.TotalAmount.StringFixed 2}} is on its way.{{end}}",
	),
	domain.EventOrderReturnRequested: newMessage(
		"Return requested for order {{.OrderNumber}}",
		"We received your return request for order {{.OrderNumber}}. We will be in touch with pickup details.",
	),
	domain.EventOrderStatusChanged: newMessage(
		"Order {{.OrderNumber}} is now {{.Status}}",
		"Your order {{.OrderNumber}} moved to {{.Status}}.{{if .Tracking}} Track it with {{.Carrier}} using {{.Tracking}}.{{end}}",
	),
	domain.EventOrderRefunded: newMessage(
		"Refund processed for order {{.OrderNumber}}",
		"Your refund of {{.TotalAmount.StringFixed 2}} for order {{.OrderNumber}} has been processed.",
	),
}

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimRight(emailServiceURL, "/"),
		httpClient:      client,
		logger:          logger,
	}
}

// Handle sends the email for one order event. Unknown event types and events without a
// recipient are skipped. Only transport failures are returned, so the message is retried.
func (h *NotificationHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed order event", "error", err, "event_type", eventType)
		return nil
	}
	if eventType == "" {
		eventType = string(event.Type)
	}

	msg, ok := messages[domain.EventType(eventType)]
	if !ok {
		h.logger.Info("skipping order event", "event_type", eventType, "order_id", event.OrderID)
		return nil
	}
	if event.Email == "" {
		h.logger.Info("order event has no recipient", "event_type", eventType, "order_id", event.OrderID)
		return nil
	}

	subject, err := render(msg.subject, event)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	body, err := render(msg.body, event)
	if err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	status, err := h.sendEmail(ctx, map[string]string{"to": event.Email, "subject": subject, "body": body})
	if err != nil {
		return fmt.Errorf("send %s email: %w", eventType, err)
	}
	if status >= 400 && status < 500 {
		h.logger.Error("email rejected", "status", status, "event_type", eventType, "order_id", event.OrderID)
		return nil
	}

	h.logger.Info("notification sent", "event_type", eventType, "order_id", event.OrderID, "order_number", event.OrderNumber)
	return nil
}

func render(t *template.Template, event domain.OrderEvent) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, event); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sendEmail returns the status of a 4xx reply; server errors are returned as errors.
func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return resp.StatusCode, nil
}
