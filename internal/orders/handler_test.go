package orders

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joao-fontenele/threadline/internal/domain"
)

func newTestMux(f *fixture) *http.ServeMux {
	h := NewHandler(f.svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestHandler_Cancel(t *testing.T) {
	tests := []struct {
		name       string
		order      *domain.Order
		customer   string
		body       string
		wantStatus int
	}{
		{
			name:       "cancels within the window",
			order:      newOrder(domain.OrderStatusPending, domain.PaymentStatusPaid, time.Hour),
			customer:   customerID,
			body:       `{"reason":"ordered the wrong size"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "short reason",
			order:      newOrder(domain.OrderStatusPending, domain.PaymentStatusPaid, time.Hour),
			customer:   customerID,
			body:       `{"reason":"nope"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			order:      newOrder(domain.OrderStatusPending, domain.PaymentStatusPaid, time.Hour),
			customer:   customerID,
			body:       `{"reason":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "someone else's order",
			order:      newOrder(domain.OrderStatusPending, domain.PaymentStatusPaid, time.Hour),
			customer:   "intruder",
			body:       `{"reason":"ordered the wrong size"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already shipped",
			order:      newOrder(domain.OrderStatusShipped, domain.PaymentStatusPaid, time.Hour),
			customer:   customerID,
			body:       `{"reason":"ordered the wrong size"}`,
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(newFixture(tt.order))

			req := httptest.NewRequest(http.MethodPost, "/orders/ORD-260310-A1B2C3/cancel", strings.NewReader(tt.body))
			req.Header.Set(CustomerIDHeader, tt.customer)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}

			env := decodeEnvelope(t, rec)
			if env.Success != (tt.wantStatus == http.StatusOK) {
				t.Errorf("unexpected success flag %v", env.Success)
			}
			if !env.Success && env.Error == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestHandler_GetIncludesActions(t *testing.T) {
	mux := newTestMux(newFixture(newOrder(domain.OrderStatusDelivered, domain.PaymentStatusPaid, 5*24*time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/orders/ORD-260310-A1B2C3", nil)
	req.Header.Set(CustomerIDHeader, customerID)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var view struct {
		OrderNumber string `json:"order_number"`
		Actions     struct {
			CanCancel        bool `json:"can_cancel"`
			CanRequestReturn bool `json:"can_request_return"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &view); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if view.OrderNumber != "ORD-260310-A1B2C3" {
		t.Errorf("expected order number, got %q", view.OrderNumber)
	}
	if view.Actions.CanCancel {
		t.Error("expected delivered order to not be cancellable")
	}
	if !view.Actions.CanRequestReturn {
		t.Error("expected delivered order to allow a return")
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	t.Run("unknown status is a validation error", func(t *testing.T) {
		mux := newTestMux(newFixture(newOrder(domain.OrderStatusShipped, domain.PaymentStatusPaid, time.Hour)))

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/"+orderID+"/status", strings.NewReader(`{"status":"LOST"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("illegal transition is a conflict", func(t *testing.T) {
		mux := newTestMux(newFixture(newOrder(domain.OrderStatusDelivered, domain.PaymentStatusPaid, time.Hour)))

		req := httptest.NewRequest(http.MethodPatch, "/admin/orders/"+orderID+"/status", strings.NewReader(`{"status":"SHIPPED"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
	})
}

func TestHandler_RefundUpstreamFailure(t *testing.T) {
	f := newFixture(newOrder(domain.OrderStatusCancelled, domain.PaymentStatusRefundRequested, time.Hour))
	f.gateway.refundErr = domain.ErrUpstream
	mux := newTestMux(f)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/"+orderID+"/refund", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rec.Code)
	}
}

func TestHandler_PaymentWebhook(t *testing.T) {
	body := `{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1"}}}}`

	t.Run("rejects a bad signature", func(t *testing.T) {
		f := newFixture(newOrder(domain.OrderStatusCancelled, domain.PaymentStatusProcessing, time.Hour))
		f.gateway.webhookOK = false
		mux := newTestMux(f)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
		req.Header.Set("X-Razorpay-Signature", "deadbeef")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if got := f.store.snapshot(orderID).PaymentStatus; got != domain.PaymentStatusProcessing {
			t.Errorf("expected payment status unchanged, got %s", got)
		}
	})

	t.Run("applies a verified refund", func(t *testing.T) {
		f := newFixture(newOrder(domain.OrderStatusCancelled, domain.PaymentStatusProcessing, time.Hour))
		mux := newTestMux(f)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
		req.Header.Set("X-Razorpay-Signature", "signed")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := f.store.snapshot(orderID).PaymentStatus; got != domain.PaymentStatusRefunded {
			t.Errorf("expected REFUNDED, got %s", got)
		}
	})
}

func TestHandler_AdminExport(t *testing.T) {
	mux := newTestMux(newFixture(newOrder(domain.OrderStatusShipped, domain.PaymentStatusPaid, time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/export?status=SHIPPED", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("unexpected content type %s", ct)
	}

	wb, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	defer func() { _ = wb.Close() }()

	rows, err := wb.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one order, got %d rows", len(rows))
	}
	if rows[1][0] != "ORD-260310-A1B2C3" {
		t.Errorf("expected order number in first column, got %s", rows[1][0])
	}
	if rows[1][11] != "1080" {
		t.Errorf("expected total 1080, got %s", rows[1][11])
	}
}

func TestHandler_AdminListRejectsBadFilter(t *testing.T) {
	mux := newTestMux(newFixture())

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?limit=ten", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}
