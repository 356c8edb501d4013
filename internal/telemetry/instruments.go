package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrderMetrics are the business counters for the order lifecycle.
type OrderMetrics struct {
	placed      metric.Int64Counter
	cancelled   metric.Int64Counter
	returns     metric.Int64Counter
	refunds     metric.Int64Counter
	transitions metric.Int64Counter
}

func NewOrderMetrics() (*OrderMetrics, error) {
	meter := otel.Meter("threadline/orders")

	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders persisted after payment verification"))
	if err != nil {
		return nil, err
	}
	cancelled, err := meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled by customers"))
	if err != nil {
		return nil, err
	}
	returns, err := meter.Int64Counter("orders.returns_requested",
		metric.WithDescription("Return requests accepted"))
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("orders.refunds",
		metric.WithDescription("Refund attempts by outcome"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Admin status transitions by target status"))
	if err != nil {
		return nil, err
	}

	return &OrderMetrics{
		placed:      placed,
		cancelled:   cancelled,
		returns:     returns,
		refunds:     refunds,
		transitions: transitions,
	}, nil
}

func (m *OrderMetrics) Placed(ctx context.Context) {
	if m != nil {
		m.placed.Add(ctx, 1)
	}
}

func (m *OrderMetrics) Cancelled(ctx context.Context) {
	if m != nil {
		m.cancelled.Add(ctx, 1)
	}
}

func (m *OrderMetrics) ReturnRequested(ctx context.Context) {
	if m != nil {
		m.returns.Add(ctx, 1)
	}
}

func (m *OrderMetrics) Refund(ctx context.Context, outcome string) {
	if m != nil {
		m.refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *OrderMetrics) Transition(ctx context.Context, to string) {
	if m != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to)))
	}
}
