package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusConfirmed       OrderStatus = "CONFIRMED"
	OrderStatusProcessing      OrderStatus = "PROCESSING"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusDelivered       OrderStatus = "DELIVERED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusReturnRequested OrderStatus = "RETURN_REQUESTED"
	OrderStatusReturned        OrderStatus = "RETURNED"
	OrderStatusRefunded        OrderStatus = "REFUNDED"
)

// fulfillmentPath is the forward path an order walks when nothing goes wrong.
var fulfillmentPath = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
}

var sideExits = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusCancelled},
	OrderStatusConfirmed:       {OrderStatusCancelled},
	OrderStatusProcessing:      {OrderStatusCancelled},
	OrderStatusDelivered:       {OrderStatusReturnRequested},
	OrderStatusReturnRequested: {OrderStatusReturned, OrderStatusRefunded},
	OrderStatusReturned:        {OrderStatusRefunded},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturnRequested,
		OrderStatusReturned, OrderStatusRefunded:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, s)
}

func pathIndex(s OrderStatus) int {
	for i, p := range fulfillmentPath {
		if p == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether an order may move from one status to another.
// Moves along the fulfillment path only go forward; CANCELLED and REFUNDED are terminal.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	fi, ti := pathIndex(from), pathIndex(to)
	if fi >= 0 && ti >= 0 {
		return ti > fi
	}
	for _, exit := range sideExits[from] {
		if exit == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "PENDING"
	PaymentStatusPaid            PaymentStatus = "PAID"
	PaymentStatusFailed          PaymentStatus = "FAILED"
	PaymentStatusRefundRequested PaymentStatus = "REFUND_REQUESTED"
	PaymentStatusRefunded        PaymentStatus = "REFUNDED"
	PaymentStatusProcessing      PaymentStatus = "PROCESSING"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	switch status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusRefundRequested, PaymentStatusRefunded, PaymentStatusProcessing:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrValidation, s)
}

type ProductionStatus string

const (
	ProductionStatusPending    ProductionStatus = "PENDING"
	ProductionStatusInProgress ProductionStatus = "IN_PROGRESS"
	ProductionStatusCompleted  ProductionStatus = "COMPLETED"
)

func ParseProductionStatus(s string) (ProductionStatus, error) {
	status := ProductionStatus(s)
	switch status {
	case ProductionStatusPending, ProductionStatusInProgress, ProductionStatusCompleted:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown production status %q", ErrValidation, s)
}

func (s ProductionStatus) rank() int {
	switch s {
	case ProductionStatusPending:
		return 0
	case ProductionStatusInProgress:
		return 1
	case ProductionStatusCompleted:
		return 2
	}
	return -1
}

// CanAdvance reports whether production may move forward to the given stage.
func (s ProductionStatus) CanAdvance(to ProductionStatus) bool {
	return s.rank() >= 0 && to.rank() > s.rank()
}

// Address is a copy of the customer's address taken when the order is placed.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Validate() error {
	switch {
	case a.Name == "":
		return fmt.Errorf("%w: address name is required", ErrValidation)
	case a.Line1 == "":
		return fmt.Errorf("%w: address line1 is required", ErrValidation)
	case a.City == "":
		return fmt.Errorf("%w: address city is required", ErrValidation)
	case a.PostalCode == "":
		return fmt.Errorf("%w: address postal code is required", ErrValidation)
	}
	return nil
}

// Customization records the design a made-to-order item was produced from.
type Customization struct {
	DesignRef       string `json:"design_ref"`
	ThreadColor     string `json:"thread_color,omitempty"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
}

type OrderItem struct {
	ID               string           `json:"id"`
	ProductID        string           `json:"product_id"`
	VariantID        string           `json:"variant_id"`
	ProductName      string           `json:"product_name"`
	Size             string           `json:"size,omitempty"`
	Color            string           `json:"color,omitempty"`
	Quantity         int              `json:"quantity"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	LineTotal        decimal.Decimal  `json:"line_total"`
	ProductionStatus ProductionStatus `json:"production_status"`
	Customization    *Customization   `json:"customization,omitempty"`
}

type Order struct {
	ID                  string          `json:"id"`
	OrderNumber         string          `json:"order_number"`
	CustomerID          string          `json:"customer_id"`
	Email               string          `json:"email"`
	Status              OrderStatus     `json:"status"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	GatewayOrderID      string          `json:"gateway_order_id,omitempty"`
	GatewayPaymentID    string          `json:"gateway_payment_id,omitempty"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TaxAmount           decimal.Decimal `json:"tax_amount"`
	ShippingCost        decimal.Decimal `json:"shipping_cost"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	Carrier             string          `json:"carrier,omitempty"`
	TrackingNumber      string          `json:"tracking_number,omitempty"`
	EstimatedDeliveryAt *time.Time      `json:"estimated_delivery_at,omitempty"`
	ActualDeliveryAt    *time.Time      `json:"actual_delivery_at,omitempty"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason  string          `json:"cancellation_reason,omitempty"`
	ReturnRequestedAt   *time.Time      `json:"return_requested_at,omitempty"`
	ReturnReason        string          `json:"return_reason,omitempty"`
	ShippingAddress     Address         `json:"shipping_address"`
	BillingAddress      Address         `json:"billing_address"`
	Items               []OrderItem     `json:"items"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (o *Order) Totals() Totals {
	return Totals{
		Subtotal:       o.Subtotal,
		TaxAmount:      o.TaxAmount,
		ShippingCost:   o.ShippingCost,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
	}
}

// ItemsSubtotal sums the line totals of every item.
func (o *Order) ItemsSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal)
	}
	return sum
}

type Tracking struct {
	Carrier             string     `json:"carrier"`
	TrackingNumber      string     `json:"tracking_number"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at,omitempty"`
}
