package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/payments"
)

// memStore keeps orders in memory and applies guarded writes the way the SQL does.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	restocked map[string]int
}

func newMemStore(orders ...*domain.Order) *memStore {
	s := &memStore{orders: map[string]*domain.Order{}, restocked: map[string]int{}}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return clone(o), nil
	}
	return nil, nil
}

func (s *memStore) find(match func(*domain.Order) bool) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if match(o) {
			return clone(o)
		}
	}
	return nil
}

func (s *memStore) GetByNumber(_ context.Context, number string) (*domain.Order, error) {
	return s.find(func(o *domain.Order) bool { return o.OrderNumber == number }), nil
}

func (s *memStore) GetByGatewayPaymentID(_ context.Context, paymentID string) (*domain.Order, error) {
	return s.find(func(o *domain.Order) bool { return o.GatewayPaymentID == paymentID }), nil
}

func (s *memStore) List(_ context.Context, f Filter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		out = append(out, *clone(o))
	}
	return out, nil
}

func (s *memStore) ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return s.List(ctx, Filter{CustomerID: customerID})
}

func inStatuses(s domain.OrderStatus, list []domain.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *memStore) Cancel(_ context.Context, id string, from []domain.OrderStatus, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || !inStatuses(o.Status, from) {
		return false, nil
	}
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &at
	o.CancellationReason = reason
	if o.PaymentStatus == domain.PaymentStatusPaid {
		o.PaymentStatus = domain.PaymentStatusRefundRequested
	}
	for _, item := range o.Items {
		s.restocked[item.VariantID] += item.Quantity
	}
	return true, nil
}

func (s *memStore) RequestReturn(_ context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != domain.OrderStatusDelivered {
		return false, nil
	}
	o.Status = domain.OrderStatusReturnRequested
	o.ReturnRequestedAt = &at
	o.ReturnReason = reason
	return true, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if to == domain.OrderStatusDelivered {
		o.ActualDeliveryAt = &at
	}
	if to == domain.OrderStatusReturned && o.PaymentStatus == domain.PaymentStatusPaid {
		o.PaymentStatus = domain.PaymentStatusRefundRequested
	}
	return true, nil
}

func (s *memStore) UpdateTracking(_ context.Context, id string, from []domain.OrderStatus, t domain.Tracking) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || !inStatuses(o.Status, from) {
		return false, nil
	}
	o.Carrier = t.Carrier
	o.TrackingNumber = t.TrackingNumber
	if t.EstimatedDeliveryAt != nil {
		o.EstimatedDeliveryAt = t.EstimatedDeliveryAt
	}
	return true, nil
}

func (s *memStore) UpdateProduction(_ context.Context, orderID, itemID string, from, to domain.ProductionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	for i := range o.Items {
		if o.Items[i].ID == itemID && o.Items[i].ProductionStatus == from {
			o.Items[i].ProductionStatus = to
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SetPaymentStatus(_ context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if o.PaymentStatus == f {
			matched = true
		}
	}
	if !matched {
		return false, nil
	}
	o.PaymentStatus = to
	if to == domain.PaymentStatusRefunded &&
		(o.Status == domain.OrderStatusReturned || o.Status == domain.OrderStatusReturnRequested) {
		o.Status = domain.OrderStatusRefunded
	}
	return true, nil
}

func (s *memStore) snapshot(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *clone(s.orders[id])
}

type fakeGateway struct {
	refundErr   error
	refunds     []int64
	webhookOK   bool
	lastPayment string
}

func (g *fakeGateway) Refund(_ context.Context, paymentID string, amountMinor int64) (payments.Refund, error) {
	g.lastPayment = paymentID
	if g.refundErr != nil {
		return payments.Refund{}, g.refundErr
	}
	g.refunds = append(g.refunds, amountMinor)
	return payments.Refund{ID: "rfnd_1", PaymentID: paymentID, Amount: amountMinor, Status: "processed"}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(_ []byte, signature string) bool {
	return g.webhookOK && signature != ""
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, e domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")
