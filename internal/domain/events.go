package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderPlaced          EventType = "order.placed"
	EventOrderCancelled       EventType = "order.cancelled"
	EventOrderReturnRequested EventType = "order.return_requested"
	EventOrderStatusChanged   EventType = "order.status_changed"
	EventOrderRefunded        EventType = "order.refunded"
)

type OrderEvent struct {
	Type          EventType       `json:"type"`
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    string          `json:"customer_id"`
	Email         string          `json:"email"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ItemCount     int             `json:"item_count"`
	Reason        string          `json:"reason,omitempty"`
	Carrier       string          `json:"carrier,omitempty"`
	Tracking      string          `json:"tracking_number,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewOrderEvent(t EventType, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		Email:         o.Email,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		ItemCount:     len(o.Items),
		Carrier:       o.Carrier,
		Tracking:      o.TrackingNumber,
		Timestamp:     at,
	}
}
