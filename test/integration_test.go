//go:build integration

package test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/threadline/internal/catalog"
	"github.com/joao-fontenele/threadline/internal/checkout"
	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/imagehost"
	"github.com/joao-fontenele/threadline/internal/inventory"
	"github.com/joao-fontenele/threadline/internal/messaging"
	"github.com/joao-fontenele/threadline/internal/orders"
	"github.com/joao-fontenele/threadline/internal/payments"
	"github.com/joao-fontenele/threadline/internal/worker"
)

const (
	keySecret      = "it-key-secret"
	gatewayOrderID = "order_IT0001"
	paymentID      = "pay_IT0001"
)

type recordingServer struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingServer) record(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
}

func (s *recordingServer) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func fakeGateway(t *testing.T, rec *recordingServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/orders":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": gatewayOrderID, "amount": body["amount"], "currency": body["currency"],
				"receipt": body["receipt"], "status": "created",
			})
		case strings.HasSuffix(r.URL.Path, "/refund"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "rfnd_IT0001", "payment_id": paymentID, "amount": body["amount"], "status": "processed",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fakeImageHost(t *testing.T, rec *recordingServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.record(r.URL.Path + "/" + body["public_id"])
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func kurtaInput(name string, stock int) catalog.ProductInput {
	return catalog.ProductInput{
		Name:      name,
		Category:  "kurtas",
		BasePrice: decimal.NewFromInt(400),
		Images:    []catalog.ImageInput{{URL: "https://img.example.com/" + name + ".jpg", PublicID: "products/" + name}},
		Variants:  []catalog.VariantInput{{SKU: strings.ToUpper(name) + "-M", Size: "M", Stock: stock}},
	}
}

func TestCheckoutCancelRefundAndArchive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	rdb, stopRedis := SetupRedis(ctx, t)
	defer stopRedis()

	db, gdb := OpenStorefront(t, pg.ConnStr)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := config.DefaultPolicy()

	gatewayCalls, imageCalls := &recordingServer{}, &recordingServer{}
	gatewaySrv, imageSrv := fakeGateway(t, gatewayCalls), fakeImageHost(t, imageCalls)

	paymentClient := payments.NewClient(gatewaySrv.URL, "rzp_test_key", keySecret, "whsec", gatewaySrv.Client())
	catalogSvc := catalog.NewService(
		catalog.NewRepository(gdb),
		imagehost.NewClient(imageSrv.URL, "img-key", "products", imageSrv.Client()),
		logger,
	)

	product, err := catalogSvc.Create(ctx, kurtaInput("kurta", 5))
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
	variantID := product.Variants[0].ID.String()

	orderRepo := orders.NewOrderRepository(db)
	invRepo := inventory.NewRepository(db)
	checkoutSvc := checkout.NewService(checkout.Deps{
		Inventory: invRepo,
		Gateway:   paymentClient,
		Orders:    orderRepo,
		Sessions:  checkout.NewRedisSessionStore(rdb, 10*time.Second, 5*time.Second),
	}, policy, logger)
	ordersSvc := orders.NewService(orderRepo, paymentClient, policy, logger)

	session, err := checkoutSvc.StartSession(ctx, checkout.SessionRequest{
		CustomerID: "cust-it",
		Email:      "asha@example.com",
		Shipping:   domain.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"},
		Items:      []checkout.CartLine{{VariantID: variantID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("failed to start checkout: %v", err)
	}
	if session.Amount != 141600 {
		t.Fatalf("expected amount 141600, got %d", session.Amount)
	}

	confirm := checkout.ConfirmRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        payments.Sign(keySecret, []byte(gatewayOrderID+"|"+paymentID)),
	}

	t.Run("concurrent confirmations create one order and decrement stock once", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]string, 4)
		errs := make([]error, 4)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				order, err := checkoutSvc.Confirm(ctx, confirm)
				errs[i] = err
				if order != nil {
					ids[i] = order.ID
				}
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("confirm %d failed: %v", i, err)
			}
			if ids[i] != ids[0] {
				t.Fatalf("expected one order, got %s and %s", ids[0], ids[i])
			}
		}

		stock, err := invRepo.Lookup(ctx, []string{variantID})
		if err != nil {
			t.Fatalf("failed to look up stock: %v", err)
		}
		if stock[variantID].Stock != 2 {
			t.Errorf("expected stock 2, got %d", stock[variantID].Stock)
		}
	})

	order, err := orderRepo.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil || order == nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(1416)) {
		t.Fatalf("expected total 1416, got %s", order.TotalAmount)
	}

	t.Run("referenced product is archived instead of deleted", func(t *testing.T) {
		res, err := catalogSvc.Delete(ctx, product.ID.String())
		if err != nil {
			t.Fatalf("failed to delete product: %v", err)
		}
		catalogSvc.Drain()
		if !res.Archived {
			t.Fatal("expected product to be archived")
		}
		if imageCalls.count("/destroy") != 0 {
			t.Errorf("expected no image deletions, got %d", imageCalls.count("/destroy"))
		}
		if _, err := catalogSvc.GetBySlug(ctx, product.Slug); err == nil {
			t.Error("expected archived product to be hidden")
		}
	})

	t.Run("cancel moves payment to refund requested and restocks", func(t *testing.T) {
		cancelled, err := ordersSvc.Cancel(ctx, orders.CancelRequest{
			OrderNumber: order.OrderNumber,
			CustomerID:  "cust-it",
			Reason:      "ordered the wrong size",
		})
		if err != nil {
			t.Fatalf("failed to cancel: %v", err)
		}
		if cancelled.Status != domain.OrderStatusCancelled {
			t.Errorf("expected CANCELLED, got %s", cancelled.Status)
		}
		if cancelled.PaymentStatus != domain.PaymentStatusRefundRequested {
			t.Errorf("expected REFUND_REQUESTED, got %s", cancelled.PaymentStatus)
		}

		stock, err := invRepo.Lookup(ctx, []string{variantID})
		if err != nil {
			t.Fatalf("failed to look up stock: %v", err)
		}
		if stock[variantID].Stock != 5 {
			t.Errorf("expected stock 5, got %d", stock[variantID].Stock)
		}
	})

	t.Run("admin refund completes once", func(t *testing.T) {
		res, err := ordersSvc.Refund(ctx, order.ID)
		if err != nil {
			t.Fatalf("failed to refund: %v", err)
		}
		if res.Order.PaymentStatus != domain.PaymentStatusRefunded {
			t.Errorf("expected REFUNDED, got %s", res.Order.PaymentStatus)
		}

		if _, err := ordersSvc.Refund(ctx, order.ID); err == nil {
			t.Error("expected second refund to be rejected")
		}
		if gatewayCalls.count("/payments/") != 1 {
			t.Errorf("expected one gateway refund call, got %d", gatewayCalls.count("/payments/"))
		}
	})

	t.Run("unreferenced product is hard deleted and its images cleaned up", func(t *testing.T) {
		spare, err := catalogSvc.Create(ctx, kurtaInput("dupatta", 1))
		if err != nil {
			t.Fatalf("failed to create product: %v", err)
		}

		res, err := catalogSvc.Delete(ctx, spare.ID.String())
		if err != nil {
			t.Fatalf("failed to delete product: %v", err)
		}
		catalogSvc.Drain()

		if res.Archived {
			t.Fatal("expected hard delete")
		}
		if imageCalls.count("/destroy/products/dupatta") != 1 {
			t.Errorf("expected image cleanup for dupatta, got %v", imageCalls.paths)
		}
		if _, err := catalogSvc.Update(ctx, spare.ID.String(), kurtaInput("dupatta", 1)); err == nil {
			t.Error("expected deleted product to be gone")
		}
	})
}

func TestOrderEventsReachNotificationWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, stopKafka := SetupKafka(ctx, t)
	defer stopKafka()

	received := make(chan map[string]string, 1)
	emailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer emailSrv.Close()

	producer := messaging.NewProducer(brokers, messaging.OrderEventsTopic)
	defer func() { _ = producer.Close() }()

	order := &domain.Order{
		ID:            uuid.NewString(),
		OrderNumber:   "ORD-260310-ABC123",
		CustomerID:    "cust-it",
		Email:         "asha@example.com",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPaid,
		TotalAmount:   decimal.NewFromInt(1416),
	}
	if err := producer.PublishOrderEvent(ctx, domain.NewOrderEvent(domain.EventOrderPlaced, order, time.Now())); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, messaging.OrderEventsTopic, "it-worker",
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	handler := worker.NewNotificationHandler(emailSrv.URL, emailSrv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, handler.Handle) }()

	select {
	case email := <-received:
		if email["subject"] != "Order ORD-260310-ABC123 confirmed" {
			t.Errorf("unexpected subject %q", email["subject"])
		}
		if email["to"] != "asha@example.com" {
			t.Errorf("unexpected recipient %q", email["to"])
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for notification email")
	}
}
