// Package orders serves customer order actions, admin order management and payment
// webhooks.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/lifecycle"
	"github.com/joao-fontenele/threadline/internal/payments"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

// Store is the persistence the service needs. Guarded writes report false when the row
// was no longer in the expected state.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	GetByGatewayPaymentID(ctx context.Context, paymentID string) (*domain.Order, error)
	List(ctx context.Context, filter Filter) ([]domain.Order, error)
	ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	Cancel(ctx context.Context, id string, from []domain.OrderStatus, reason string, at time.Time) (bool, error)
	RequestReturn(ctx context.Context, id, reason string, at time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error)
	UpdateTracking(ctx context.Context, id string, from []domain.OrderStatus, t domain.Tracking) (bool, error)
	UpdateProduction(ctx context.Context, orderID, itemID string, from, to domain.ProductionStatus) (bool, error)
	SetPaymentStatus(ctx context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus) (bool, error)
}

type PaymentGateway interface {
	Refund(ctx context.Context, paymentID string, amountMinor int64) (payments.Refund, error)
	VerifyWebhookSignature(body []byte, signature string) bool
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// TrackableStatuses are the statuses in which carrier details may be set.
var TrackableStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
}

const storeCancellationReason = "cancelled by the store"

type Service struct {
	store    Store
	payments PaymentGateway
	events   EventPublisher
	metrics  *telemetry.OrderMetrics
	policy   config.Policy
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithEvents(events EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

func WithMetrics(m *telemetry.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, gateway PaymentGateway, policy config.Policy, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		payments: gateway,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OrderView is an order together with what its owner may do with it right now.
type OrderView struct {
	*domain.Order
	Actions lifecycle.Actions `json:"actions"`
}

type CancelRequest struct {
	OrderNumber string
	CustomerID  string
	Reason      string
}

type ReturnRequest struct {
	OrderNumber string
	CustomerID  string
	Reason      string
}

// ownedOrder hides orders of other customers behind not found.
func (s *Service) ownedOrder(ctx context.Context, number, customerID string) (*domain.Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}
	order, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if order == nil || order.CustomerID != customerID {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, number)
	}
	return order, nil
}

func (s *Service) orderByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return order, nil
}

func (s *Service) view(o *domain.Order) OrderView {
	return OrderView{Order: o, Actions: lifecycle.Eligibility(o, s.now(), s.policy.CancelWindow)}
}

func (s *Service) Get(ctx context.Context, number, customerID string) (OrderView, error) {
	order, err := s.ownedOrder(ctx, number, customerID)
	if err != nil {
		return OrderView{}, err
	}
	return s.view(order), nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID string) ([]OrderView, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}
	orders, err := s.store.ListForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, s.view(&orders[i]))
	}
	return views, nil
}

// Cancel cancels an order within the cancellation window. A paid order is left waiting
// for an admin refund; no money moves here.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*domain.Order, error) {
	reason, err := lifecycle.ValidateReason(req.Reason, s.policy.MinReasonLength)
	if err != nil {
		return nil, err
	}

	order, err := s.ownedOrder(ctx, req.OrderNumber, req.CustomerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if ok, _ := lifecycle.CanCancel(order.Status, order.CreatedAt, now, s.policy.CancelWindow); !ok {
		return nil, fmt.Errorf("%w: order %s can no longer be cancelled", domain.ErrConflict, order.OrderNumber)
	}

	updated, err := s.store.Cancel(ctx, order.ID, lifecycle.CancellableStatuses, reason, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: order %s changed while cancelling", domain.ErrConflict, order.OrderNumber)
	}

	order, err = s.orderByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.Cancelled(ctx)
	s.publish(ctx, domain.EventOrderCancelled, order, reason)
	s.logger.Info("order cancelled", "order_id", order.ID, "order_number", order.OrderNumber, "payment_status", order.PaymentStatus)
	return order, nil
}

func (s *Service) RequestReturn(ctx context.Context, req ReturnRequest) (*domain.Order, error) {
	reason, err := lifecycle.ValidateReason(req.Reason, s.policy.MinReasonLength)
	if err != nil {
		return nil, err
	}

	order, err := s.ownedOrder(ctx, req.OrderNumber, req.CustomerID)
	if err != nil {
		return nil, err
	}

	if !lifecycle.CanRequestReturn(order.Status) {
		return nil, fmt.Errorf("%w: only delivered orders can be returned", domain.ErrConflict)
	}

	updated, err := s.store.RequestReturn(ctx, order.ID, reason, s.now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: order %s changed while requesting a return", domain.ErrConflict, order.OrderNumber)
	}

	order, err = s.orderByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.ReturnRequested(ctx)
	s.publish(ctx, domain.EventOrderReturnRequested, order, reason)
	s.logger.Info("return requested", "order_id", order.ID, "order_number", order.OrderNumber)
	return order, nil
}

func (s *Service) AdminGet(ctx context.Context, id string) (*domain.Order, error) {
	return s.orderByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]domain.Order, error) {
	return s.store.List(ctx, filter)
}

// UpdateStatus moves an order along its lifecycle. The write only lands if the order is
// still in the status it was read in, so a concurrent customer cancel is never overwritten.
// REFUNDED is reached only through Refund or the gateway webhook, once money has moved.
func (s *Service) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	order, err := s.orderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if to == domain.OrderStatusRefunded {
		return nil, fmt.Errorf("%w: order %s becomes %s only when its refund completes",
			domain.ErrConflict, order.OrderNumber, domain.OrderStatusRefunded)
	}
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: cannot move order from %s to %s", domain.ErrConflict, from, to)
	}

	var updated bool
	if to == domain.OrderStatusCancelled {
		updated, err = s.store.Cancel(ctx, id, []domain.OrderStatus{from}, storeCancellationReason, s.now())
	} else {
		updated, err = s.store.TransitionStatus(ctx, id, from, to, s.now())
	}
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: order %s is no longer %s", domain.ErrConflict, order.OrderNumber, from)
	}

	order, err = s.orderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(ctx, string(to))
	if to == domain.OrderStatusCancelled {
		s.metrics.Cancelled(ctx)
		s.publish(ctx, domain.EventOrderCancelled, order, storeCancellationReason)
	} else {
		s.publish(ctx, domain.EventOrderStatusChanged, order, "")
	}
	s.logger.Info("order status updated", "order_id", order.ID, "from", from, "status", order.Status)
	return order, nil
}

func (s *Service) UpdateTracking(ctx context.Context, id string, t domain.Tracking) (*domain.Order, error) {
	t.Carrier = strings.TrimSpace(t.Carrier)
	t.TrackingNumber = strings.TrimSpace(t.TrackingNumber)
	if t.Carrier == "" || t.TrackingNumber == "" {
		return nil, fmt.Errorf("%w: carrier and tracking number are required", domain.ErrValidation)
	}

	order, err := s.orderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !containsStatus(TrackableStatuses, order.Status) {
		return nil, fmt.Errorf("%w: tracking cannot be set on a %s order", domain.ErrConflict, order.Status)
	}

	updated, err := s.store.UpdateTracking(ctx, id, TrackableStatuses, t)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: order %s changed while updating tracking", domain.ErrConflict, order.OrderNumber)
	}

	s.logger.Info("tracking updated", "order_id", id, "carrier", t.Carrier)
	return s.orderByID(ctx, id)
}

func (s *Service) UpdateProduction(ctx context.Context, orderID, itemID string, to domain.ProductionStatus) (*domain.Order, error) {
	order, err := s.orderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var item *domain.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		return nil, fmt.Errorf("%w: item %s on order %s", domain.ErrNotFound, itemID, order.OrderNumber)
	}

	if !item.ProductionStatus.CanAdvance(to) {
		return nil, fmt.Errorf("%w: production cannot move from %s to %s", domain.ErrConflict, item.ProductionStatus, to)
	}

	updated, err := s.store.UpdateProduction(ctx, orderID, itemID, item.ProductionStatus, to)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: item %s changed while updating production", domain.ErrConflict, itemID)
	}

	s.logger.Info("production status updated", "order_id", orderID, "item_id", itemID, "production_status", to)
	return s.orderByID(ctx, orderID)
}

type RefundResult struct {
	Order    *domain.Order `json:"order"`
	RefundID string        `json:"refund_id"`
}

// Refund returns the order total through the payment gateway. The payment is claimed as
// PROCESSING first so two admins cannot refund the same order twice; a gateway failure
// puts it back to REFUND_REQUESTED.
func (s *Service) Refund(ctx context.Context, id string) (RefundResult, error) {
	order, err := s.orderByID(ctx, id)
	if err != nil {
		return RefundResult{}, err
	}

	if order.PaymentStatus != domain.PaymentStatusRefundRequested {
		return RefundResult{}, fmt.Errorf("%w: refund requires payment status %s, order is %s",
			domain.ErrConflict, domain.PaymentStatusRefundRequested, order.PaymentStatus)
	}
	if order.GatewayPaymentID == "" {
		return RefundResult{}, fmt.Errorf("%w: order %s has no gateway payment", domain.ErrConflict, order.OrderNumber)
	}

	claimed, err := s.store.SetPaymentStatus(ctx, id,
		[]domain.PaymentStatus{domain.PaymentStatusRefundRequested}, domain.PaymentStatusProcessing)
	if err != nil {
		return RefundResult{}, err
	}
	if !claimed {
		return RefundResult{}, fmt.Errorf("%w: refund for order %s is already in progress", domain.ErrConflict, order.OrderNumber)
	}

	refund, err := s.payments.Refund(ctx, order.GatewayPaymentID, domain.MinorUnits(order.TotalAmount))
	if err != nil {
		if _, rerr := s.store.SetPaymentStatus(context.WithoutCancel(ctx), id,
			[]domain.PaymentStatus{domain.PaymentStatusProcessing}, domain.PaymentStatusRefundRequested); rerr != nil {
			s.logger.Error("failed to release refund claim", "error", rerr, "order_id", id)
		}
		s.metrics.Refund(ctx, "failed")
		s.logger.Error("refund failed", "error", err, "order_id", id, "order_number", order.OrderNumber)
		return RefundResult{}, err
	}

	if _, err := s.store.SetPaymentStatus(ctx, id,
		[]domain.PaymentStatus{domain.PaymentStatusProcessing}, domain.PaymentStatusRefunded); err != nil {
		s.logger.Error("refund issued but not recorded", "error", err, "order_id", id, "refund_id", refund.ID)
		return RefundResult{}, err
	}

	order, err = s.orderByID(ctx, id)
	if err != nil {
		return RefundResult{}, err
	}

	s.metrics.Refund(ctx, "succeeded")
	s.publish(ctx, domain.EventOrderRefunded, order, "")
	s.logger.Info("order refunded", "order_id", id, "order_number", order.OrderNumber, "refund_id", refund.ID)
	return RefundResult{Order: order, RefundID: refund.ID}, nil
}

// HandleWebhook applies a gateway notification whose signature has already been checked.
// Events for unknown payments and event types the store ignores are acknowledged.
func (s *Service) HandleWebhook(ctx context.Context, ev payments.WebhookEvent) error {
	switch ev.Event {
	case payments.EventRefundProcessed, payments.EventRefundFailed:
	default:
		s.logger.Info("webhook ignored", "event", ev.Event)
		return nil
	}

	order, err := s.store.GetByGatewayPaymentID(ctx, ev.PaymentID)
	if err != nil {
		return err
	}
	if order == nil {
		s.logger.Warn("webhook for unknown payment", "event", ev.Event, "payment_id", ev.PaymentID)
		return nil
	}

	if ev.Event == payments.EventRefundFailed {
		if _, err := s.store.SetPaymentStatus(ctx, order.ID,
			[]domain.PaymentStatus{domain.PaymentStatusProcessing}, domain.PaymentStatusRefundRequested); err != nil {
			return err
		}
		s.metrics.Refund(ctx, "failed")
		s.logger.Warn("gateway reported refund failure", "order_id", order.ID, "refund_id", ev.RefundID)
		return nil
	}

	updated, err := s.store.SetPaymentStatus(ctx, order.ID,
		[]domain.PaymentStatus{domain.PaymentStatusProcessing, domain.PaymentStatusRefundRequested},
		domain.PaymentStatusRefunded)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	order, err = s.orderByID(ctx, order.ID)
	if err != nil {
		return err
	}
	s.metrics.Refund(ctx, "succeeded")
	s.publish(ctx, domain.EventOrderRefunded, order, "")
	s.logger.Info("refund confirmed by gateway", "order_id", order.ID, "refund_id", ev.RefundID)
	return nil
}

// VerifyWebhook checks the gateway signature over the raw request body.
func (s *Service) VerifyWebhook(body []byte, signature string) error {
	if !s.payments.VerifyWebhookSignature(body, signature) {
		return fmt.Errorf("%w: invalid webhook signature", domain.ErrVerification)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, t domain.EventType, order *domain.Order, reason string) {
	if s.events == nil {
		return
	}
	event := domain.NewOrderEvent(t, order, s.now())
	event.Reason = reason
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "event_type", t, "order_id", order.ID)
	}
}

func containsStatus(list []domain.OrderStatus, s domain.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
