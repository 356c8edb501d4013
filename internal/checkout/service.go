// Package checkout prices a cart against the catalog, opens a gateway order for it and,
// once the gateway confirms payment, turns the cached session into exactly one order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/payments"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

const maxLineQuantity = 20

type Inventory interface {
	Lookup(ctx context.Context, variantIDs []string) (map[string]domain.VariantStock, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (payments.GatewayOrder, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	KeyID() string
}

type OrderStore interface {
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	Create(ctx context.Context, order *domain.Order) error
}

type SessionStore interface {
	Save(ctx context.Context, sess Session, ttl time.Duration) error
	Load(ctx context.Context, gatewayOrderID string) (*Session, error)
	Delete(ctx context.Context, gatewayOrderID string) error
	Lock(ctx context.Context, gatewayOrderID string) (func(), error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

type Service struct {
	inventory Inventory
	gateway   Gateway
	orders    OrderStore
	sessions  SessionStore
	events    EventPublisher
	metrics   *telemetry.OrderMetrics
	policy    config.Policy
	logger    *slog.Logger
	now       func() time.Time
}

type Deps struct {
	Inventory Inventory
	Gateway   Gateway
	Orders    OrderStore
	Sessions  SessionStore
	Events    EventPublisher
	Metrics   *telemetry.OrderMetrics
}

func NewService(deps Deps, policy config.Policy, logger *slog.Logger) *Service {
	return &Service{
		inventory: deps.Inventory,
		gateway:   deps.Gateway,
		orders:    deps.Orders,
		sessions:  deps.Sessions,
		events:    deps.Events,
		metrics:   deps.Metrics,
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type CartLine struct {
	VariantID     string                `json:"variant_id"`
	Quantity      int                   `json:"quantity"`
	Customization *domain.Customization `json:"customization,omitempty"`
}

type SessionRequest struct {
	CustomerID   string          `json:"customer_id"`
	Email        string          `json:"email"`
	Shipping     domain.Address  `json:"shipping_address"`
	Billing      *domain.Address `json:"billing_address,omitempty"`
	Items        []CartLine      `json:"items"`
	DiscountCode string          `json:"discount_code,omitempty"`
}

type SessionResponse struct {
	GatewayOrderID string        `json:"gateway_order_id"`
	OrderNumber    string        `json:"order_number"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	KeyID          string        `json:"key_id"`
	Totals         domain.Totals `json:"totals"`
	ExpiresAt      time.Time     `json:"expires_at"`
}

func (r *SessionRequest) validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: a valid email is required", domain.ErrValidation)
	}
	if err := r.Shipping.Validate(); err != nil {
		return err
	}
	if r.Billing != nil {
		if err := r.Billing.Validate(); err != nil {
			return err
		}
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}
	for _, line := range r.Items {
		if _, err := uuid.Parse(line.VariantID); err != nil {
			return fmt.Errorf("%w: invalid variant id %q", domain.ErrValidation, line.VariantID)
		}
		if line.Quantity <= 0 || line.Quantity > maxLineQuantity {
			return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrValidation, maxLineQuantity)
		}
	}
	return nil
}

// StartSession prices the cart from the catalog, opens a gateway order for the total
// and caches the snapshot until the customer pays or the session expires.
func (s *Service) StartSession(ctx context.Context, req SessionRequest) (SessionResponse, error) {
	if err := req.validate(); err != nil {
		return SessionResponse{}, err
	}

	items, subtotal, err := s.price(ctx, req.Items)
	if err != nil {
		return SessionResponse{}, err
	}

	discount, ok := s.policy.DiscountFor(req.DiscountCode, subtotal)
	if !ok {
		return SessionResponse{}, fmt.Errorf("%w: unknown discount code %q", domain.ErrValidation, req.DiscountCode)
	}
	totals := domain.ComputeTotals(subtotal, s.policy.TaxFor(subtotal), s.policy.ShippingFor(subtotal), discount)

	now := s.now()
	orderNumber := NewOrderNumber(now)
	amount := domain.MinorUnits(totals.TotalAmount)

	gwOrder, err := s.gateway.CreateOrder(ctx, amount, s.policy.Currency, orderNumber)
	if err != nil {
		return SessionResponse{}, err
	}

	billing := req.Shipping
	if req.Billing != nil {
		billing = *req.Billing
	}

	sess := Session{
		GatewayOrderID: gwOrder.ID,
		OrderNumber:    orderNumber,
		CustomerID:     req.CustomerID,
		Email:          strings.TrimSpace(req.Email),
		Shipping:       req.Shipping,
		Billing:        billing,
		Items:          items,
		Totals:         totals,
		Currency:       s.policy.Currency,
		DiscountCode:   strings.ToUpper(strings.TrimSpace(req.DiscountCode)),
		CreatedAt:      now,
	}
	if err := s.sessions.Save(ctx, sess, s.policy.SessionTTL); err != nil {
		return SessionResponse{}, err
	}

	s.logger.Info("checkout session started",
		"gateway_order_id", gwOrder.ID, "order_number", orderNumber, "customer_id", req.CustomerID, "amount", amount)

	return SessionResponse{
		GatewayOrderID: gwOrder.ID,
		OrderNumber:    orderNumber,
		Amount:         amount,
		Currency:       s.policy.Currency,
		KeyID:          s.gateway.KeyID(),
		Totals:         totals,
		ExpiresAt:      now.Add(s.policy.SessionTTL),
	}, nil
}

func (s *Service) price(ctx context.Context, lines []CartLine) ([]domain.OrderItem, decimal.Decimal, error) {
	ids := make([]string, 0, len(lines))
	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		if _, seen := wanted[line.VariantID]; !seen {
			ids = append(ids, line.VariantID)
		}
		wanted[line.VariantID] += line.Quantity
	}

	variants, err := s.inventory.Lookup(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, err
	}

	for _, id := range ids {
		v, ok := variants[id]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: variant %s not found", domain.ErrNotFound, id)
		}
		if !v.Purchasable {
			return nil, decimal.Zero, fmt.Errorf("%w: %s is no longer available", domain.ErrConflict, v.ProductName)
		}
		if v.Stock < wanted[id] {
			return nil, decimal.Zero, fmt.Errorf("%w: only %d of %s left", domain.ErrConflict, v.Stock, v.ProductName)
		}
	}

	items := make([]domain.OrderItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		v := variants[line.VariantID]
		if line.Customization != nil && !v.IsCustomizable {
			return nil, decimal.Zero, fmt.Errorf("%w: %s cannot be customized", domain.ErrValidation, v.ProductName)
		}
		lineTotal := domain.LineTotal(v.Price, line.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:        v.ProductID,
			VariantID:        v.VariantID,
			ProductName:      v.ProductName,
			Size:             v.Size,
			Color:            v.Color,
			Quantity:         line.Quantity,
			UnitPrice:        v.Price,
			LineTotal:        lineTotal,
			ProductionStatus: domain.ProductionStatusPending,
			Customization:    line.Customization,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	return items, subtotal, nil
}

type ConfirmRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// Confirm verifies the gateway signature and persists the order. Repeated or concurrent
// confirmations of one gateway order all return the same single order.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*domain.Order, error) {
	req.GatewayOrderID = strings.TrimSpace(req.GatewayOrderID)
	req.GatewayPaymentID = strings.TrimSpace(req.GatewayPaymentID)
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, fmt.Errorf("%w: gateway order id, payment id and signature are required", domain.ErrValidation)
	}

	if !s.gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.logger.Warn("payment signature mismatch", "gateway_order_id", req.GatewayOrderID, "gateway_payment_id", req.GatewayPaymentID)
		return nil, fmt.Errorf("%w: signature does not match", domain.ErrVerification)
	}

	unlock, err := s.sessions.Lock(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.orders.GetByGatewayOrderID(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("payment already confirmed", "order_id", existing.ID, "gateway_order_id", req.GatewayOrderID)
		return existing, nil
	}

	sess, err := s.sessions.Load(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: checkout session expired", domain.ErrNotFound)
	}

	order := orderFromSession(sess, req.GatewayPaymentID, s.now())
	if !order.Totals().Valid() || !order.ItemsSubtotal().Equal(order.Subtotal) {
		return nil, fmt.Errorf("checkout session %s has inconsistent totals", sess.GatewayOrderID)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if isUniqueViolation(err) {
			if existing, gerr := s.orders.GetByGatewayOrderID(ctx, req.GatewayOrderID); gerr == nil && existing != nil {
				return existing, nil
			}
		}
		if isForeignKeyViolation(err) {
			s.logger.Error("paid checkout references a deleted product, payment needs a manual refund", "error", err,
				"gateway_order_id", req.GatewayOrderID, "gateway_payment_id", req.GatewayPaymentID)
			return nil, fmt.Errorf("%w: a product in this order is no longer available, payment %s will be refunded",
				domain.ErrConflict, req.GatewayPaymentID)
		}
		s.logger.Error("failed to persist paid order", "error", err,
			"gateway_order_id", req.GatewayOrderID, "gateway_payment_id", req.GatewayPaymentID)
		return nil, err
	}

	if err := s.sessions.Delete(ctx, req.GatewayOrderID); err != nil {
		s.logger.Warn("failed to drop checkout session", "error", err, "gateway_order_id", req.GatewayOrderID)
	}

	s.metrics.Placed(ctx)
	if s.events != nil {
		if err := s.events.PublishOrderEvent(ctx, domain.NewOrderEvent(domain.EventOrderPlaced, order, s.now())); err != nil {
			s.logger.Error("failed to publish order event", "error", err, "event_type", domain.EventOrderPlaced, "order_id", order.ID)
		}
	}

	s.logger.Info("order placed", "order_id", order.ID, "order_number", order.OrderNumber,
		"customer_id", order.CustomerID, "total", order.TotalAmount.String())
	return order, nil
}

func orderFromSession(sess *Session, paymentID string, now time.Time) *domain.Order {
	items := make([]domain.OrderItem, len(sess.Items))
	copy(items, sess.Items)

	return &domain.Order{
		ID:               uuid.NewString(),
		OrderNumber:      sess.OrderNumber,
		CustomerID:       sess.CustomerID,
		Email:            sess.Email,
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPaid,
		GatewayOrderID:   sess.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Subtotal:         sess.Totals.Subtotal,
		TaxAmount:        sess.Totals.TaxAmount,
		ShippingCost:     sess.Totals.ShippingCost,
		DiscountAmount:   sess.Totals.DiscountAmount,
		TotalAmount:      sess.Totals.TotalAmount,
		ShippingAddress:  sess.Shipping,
		BillingAddress:   sess.Billing,
		Items:            items,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewOrderNumber returns a customer-facing number such as ORD-260310-9F3A1C.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "ORD-" + now.UTC().Format("060102") + "-" + suffix
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
