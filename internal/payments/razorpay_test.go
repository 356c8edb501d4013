package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joao-fontenele/threadline/internal/domain"
)

func TestClient_CreateOrder(t *testing.T) {
	t.Run("posts amount in minor units with basic auth", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/orders" {
				t.Errorf("expected /orders, got %s", r.URL.Path)
			}
			user, pass, ok := r.BasicAuth()
			if !ok || user != "rzp_test_key" || pass != "secret" {
				t.Errorf("unexpected basic auth %q/%q", user, pass)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["amount"] != float64(108000) {
				t.Errorf("expected amount 108000, got %v", body["amount"])
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"order_Nx1","amount":108000,"currency":"INR","receipt":"rcpt-1","status":"created"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "rzp_test_key", "secret", "", server.Client())
		order, err := client.CreateOrder(context.Background(), 108000, "INR", "rcpt-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.ID != "order_Nx1" {
			t.Errorf("expected order_Nx1, got %s", order.ID)
		}
	})

	t.Run("maps gateway errors to upstream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount exceeds maximum"}}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "key", "secret", "", server.Client())
		_, err := client.CreateOrder(context.Background(), 1, "INR", "r")
		if !errors.Is(err, domain.ErrUpstream) {
			t.Fatalf("expected ErrUpstream, got %v", err)
		}
		if got := err.Error(); got != "create gateway order: downstream service failure: gateway returned status 400: amount exceeds maximum" {
			t.Errorf("unexpected message: %s", got)
		}
	})
}

func TestClient_Refund(t *testing.T) {
	t.Run("refunds against the payment id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/payments/pay_123/refund" {
				t.Errorf("expected /payments/pay_123/refund, got %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"id":"rfnd_1","payment_id":"pay_123","amount":5000,"status":"processed"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "key", "secret", "", server.Client())
		refund, err := client.Refund(context.Background(), "pay_123", 5000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if refund.ID != "rfnd_1" || refund.Amount != 5000 {
			t.Errorf("unexpected refund: %+v", refund)
		}
	})

	t.Run("unreachable gateway is upstream failure", func(t *testing.T) {
		client := NewClient("http://localhost:99999", "key", "secret", "", &http.Client{})
		_, err := client.Refund(context.Background(), "pay_123", 5000)
		if !errors.Is(err, domain.ErrUpstream) {
			t.Errorf("expected ErrUpstream, got %v", err)
		}
	})

	t.Run("missing payment id is a conflict", func(t *testing.T) {
		client := NewClient("http://unused", "key", "secret", "", &http.Client{})
		_, err := client.Refund(context.Background(), "", 5000)
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestClient_VerifyPaymentSignature(t *testing.T) {
	client := NewClient("", "key", "secret", "whsec", http.DefaultClient)
	valid := Sign("secret", []byte("order_1|pay_1"))

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		want      bool
	}{
		{name: "valid", orderID: "order_1", paymentID: "pay_1", signature: valid, want: true},
		{name: "tampered payment", orderID: "order_1", paymentID: "pay_2", signature: valid, want: false},
		{name: "wrong secret", orderID: "order_1", paymentID: "pay_1", signature: Sign("other", []byte("order_1|pay_1")), want: false},
		{name: "empty signature", orderID: "order_1", paymentID: "pay_1", signature: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.VerifyPaymentSignature(tt.orderID, tt.paymentID, tt.signature); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClient_VerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"refund.processed"}`)

	client := NewClient("", "key", "secret", "whsec", http.DefaultClient)
	if !client.VerifyWebhookSignature(body, Sign("whsec", body)) {
		t.Error("expected valid webhook signature")
	}
	if client.VerifyWebhookSignature(body, Sign("secret", body)) {
		t.Error("expected key secret to be rejected for webhooks")
	}

	unconfigured := NewClient("", "key", "secret", "", http.DefaultClient)
	if unconfigured.VerifyWebhookSignature(body, Sign("", body)) {
		t.Error("expected rejection without a webhook secret")
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_9","payment_id":"pay_9"}}}}`)

	ev, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Event != EventRefundProcessed {
		t.Errorf("expected %s, got %s", EventRefundProcessed, ev.Event)
	}
	if ev.PaymentID != "pay_9" || ev.RefundID != "rfnd_9" {
		t.Errorf("unexpected event: %+v", ev)
	}
}
