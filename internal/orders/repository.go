package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/inventory"
)

const orderColumns = `
	id, order_number, customer_id, email, status, payment_status,
	gateway_order_id, gateway_payment_id,
	subtotal, tax_amount, shipping_cost, discount_amount, total_amount,
	carrier, tracking_number, estimated_delivery_at, actual_delivery_at,
	cancelled_at, cancellation_reason, return_requested_at, return_reason,
	shipping_address, billing_address, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its items and takes their stock, all in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, email, status, payment_status,
			gateway_order_id, gateway_payment_id,
			subtotal, tax_amount, shipping_cost, discount_amount, total_amount,
			shipping_address, billing_address, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, order.ID, order.OrderNumber, order.CustomerID, order.Email, order.Status, order.PaymentStatus,
		order.GatewayOrderID, order.GatewayPaymentID,
		order.Subtotal, order.TaxAmount, order.ShippingCost, order.DiscountAmount, order.TotalAmount,
		shipping, billing, order.CreatedAt)
	if err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New().String()

		var customization []byte
		if item.Customization != nil {
			if customization, err = json.Marshal(item.Customization); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, variant_id, product_name, size, color,
				quantity, unit_price, line_total, production_status, customization
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, item.ID, order.ID, item.ProductID, item.VariantID, item.ProductName, item.Size, item.Color,
			item.Quantity, item.UnitPrice, item.LineTotal, item.ProductionStatus, customization)
		if err != nil {
			return err
		}

		if err := inventory.Decrement(ctx, tx, item.VariantID, item.Quantity); err != nil {
			return fmt.Errorf("decrement stock for variant %s: %w", item.VariantID, err)
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, "id = $1", id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getOne(ctx, "order_number = $1", number)
}

func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return r.getOne(ctx, "gateway_order_id = $1", gatewayOrderID)
}

func (r *OrderRepository) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.getOne(ctx, "gateway_payment_id = $1", paymentID)
}

func (r *OrderRepository) getOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := r.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

type Filter struct {
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	CustomerID    string
	Limit         int
	Offset        int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (r *OrderRepository) List(ctx context.Context, filter Filter) ([]domain.Order, error) {
	filter = filter.normalized()

	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.PaymentStatus != "" {
		add("payment_status = $%d", filter.PaymentStatus)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, list); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(list))
	for _, o := range list {
		orders = append(orders, *o)
	}

	return orders, nil
}

func (r *OrderRepository) ListForCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.List(ctx, Filter{CustomerID: customerID, Limit: maxListLimit})
}

// loadItems fetches the items of every order in one query.
func (r *OrderRepository) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = []domain.OrderItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, variant_id, product_name, size, color,
		       quantity, unit_price, line_total, production_status, customization
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, id
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		var customization []byte
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.VariantID, &item.ProductName,
			&item.Size, &item.Color, &item.Quantity, &item.UnitPrice, &item.LineTotal,
			&item.ProductionStatus, &customization); err != nil {
			return err
		}
		if len(customization) > 0 {
			item.Customization = &domain.Customization{}
			if err := json.Unmarshal(customization, item.Customization); err != nil {
				return fmt.Errorf("decode customization of item %s: %w", item.ID, err)
			}
		}
		byID[orderID].Items = append(byID[orderID].Items, item)
	}

	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var shipping, billing []byte
	if err := s.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.Email, &o.Status, &o.PaymentStatus,
		&o.GatewayOrderID, &o.GatewayPaymentID,
		&o.Subtotal, &o.TaxAmount, &o.ShippingCost, &o.DiscountAmount, &o.TotalAmount,
		&o.Carrier, &o.TrackingNumber, &o.EstimatedDeliveryAt, &o.ActualDeliveryAt,
		&o.CancelledAt, &o.CancellationReason, &o.ReturnRequestedAt, &o.ReturnReason,
		&shipping, &billing, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	return &o, nil
}

// The guarded writes below only apply when the row is still in an expected state and
// report whether they did. A false result means another writer got there first.

// Cancel moves the order to CANCELLED when its status is still one of from. A PAID
// payment becomes REFUND_REQUESTED and the items' stock is returned.
func (r *OrderRepository) Cancel(ctx context.Context, id string, from []domain.OrderStatus, reason string, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    cancelled_at = $3,
		    cancellation_reason = $4,
		    payment_status = CASE WHEN payment_status = $5 THEN $6 ELSE payment_status END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($7)
	`, id, domain.OrderStatusCancelled, at, reason,
		domain.PaymentStatusPaid, domain.PaymentStatusRefundRequested, pq.Array(orderStatuses(from)))
	if err != nil {
		return false, err
	}

	if ok, err := affectedOne(result); err != nil || !ok {
		return false, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT variant_id, quantity FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return false, err
	}

	type line struct {
		variantID string
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.variantID, &l.quantity); err != nil {
			_ = rows.Close()
			return false, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return false, err
	}
	_ = rows.Close()

	for _, l := range lines {
		if err := inventory.Restock(ctx, tx, l.variantID, l.quantity); err != nil {
			return false, fmt.Errorf("restock variant %s: %w", l.variantID, err)
		}
	}

	return true, tx.Commit()
}

func (r *OrderRepository) RequestReturn(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, return_requested_at = $3, return_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, domain.OrderStatusReturnRequested, at, reason, domain.OrderStatusDelivered)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// TransitionStatus compares and sets the status. Entering DELIVERED stamps the delivery
// time; entering RETURNED asks for a refund of a PAID order.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	var deliveredAt *time.Time
	if to == domain.OrderStatusDelivered {
		deliveredAt = &at
	}
	requestRefund := to == domain.OrderStatusReturned

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    actual_delivery_at = COALESCE($4::timestamptz, actual_delivery_at),
		    payment_status = CASE WHEN $5::boolean AND payment_status = $6 THEN $7 ELSE payment_status END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, deliveredAt, requestRefund,
		domain.PaymentStatusPaid, domain.PaymentStatusRefundRequested)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *OrderRepository) UpdateTracking(ctx context.Context, id string, from []domain.OrderStatus, t domain.Tracking) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET carrier = $2, tracking_number = $3,
		    estimated_delivery_at = COALESCE($4::timestamptz, estimated_delivery_at),
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($5)
	`, id, t.Carrier, t.TrackingNumber, t.EstimatedDeliveryAt, pq.Array(orderStatuses(from)))
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *OrderRepository) UpdateProduction(ctx context.Context, orderID, itemID string, from, to domain.ProductionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET production_status = $4
		WHERE order_id = $1 AND id = $2 AND production_status = $3
	`, orderID, itemID, from, to)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

// SetPaymentStatus compares and sets the payment status. Reaching REFUNDED also closes
// out an order that was being returned.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    status = CASE WHEN $2 = $4 AND status IN ($5, $6) THEN $7 ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = ANY($3)
	`, id, to, pq.Array(paymentStatuses(from)), domain.PaymentStatusRefunded,
		domain.OrderStatusReturned, domain.OrderStatusReturnRequested, domain.OrderStatusRefunded)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func affectedOne(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func orderStatuses(in []domain.OrderStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func paymentStatuses(in []domain.PaymentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
