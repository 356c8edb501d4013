package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	data := []byte(`
cancel_window_days: 3
min_reason_length: 15
tax_rate: 0.12
free_shipping_threshold: 1500
flat_shipping: 49
currency: inr
checkout_session_ttl: 45m
discounts:
  - code: welcome100
    kind: flat
    value: 100
  - code: FESTIVE10
    kind: percent
    value: 10
`)

	p, err := ParsePolicy(data)
	require.NoError(t, err)

	assert.Equal(t, 72*time.Hour, p.CancelWindow)
	assert.Equal(t, 15, p.MinReasonLength)
	assert.True(t, decimal.RequireFromString("0.12").Equal(p.TaxRate))
	assert.Equal(t, "INR", p.Currency)
	assert.Equal(t, 45*time.Minute, p.SessionTTL)

	d, ok := p.DiscountFor("Welcome100", decimal.NewFromInt(1000))
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(d))

	d, ok = p.DiscountFor("festive10", decimal.NewFromInt(1000))
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(d))

	_, ok = p.DiscountFor("NOPE", decimal.NewFromInt(1000))
	assert.False(t, ok)
}

func TestParsePolicy_RejectsUnknownDiscountKind(t *testing.T) {
	_, err := ParsePolicy([]byte("discounts:\n  - code: X\n    kind: bogo\n    value: 1\n"))
	assert.Error(t, err)
}

func TestParsePolicy_RejectsSubCentAmounts(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "flat shipping", yaml: "flat_shipping: 49.995\n"},
		{name: "free shipping threshold", yaml: "free_shipping_threshold: 999.001\n"},
		{name: "flat discount", yaml: "discounts:\n  - code: HALFPAISA\n    kind: flat\n    value: 0.005\n"},
		{name: "negative shipping", yaml: "flat_shipping: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}

	p, err := ParsePolicy([]byte("flat_shipping: 49.99\ndiscounts:\n  - code: PCT\n    kind: percent\n    value: 12.5\n"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("49.99").Equal(p.FlatShipping))
}

func TestDefaultPolicy_Charges(t *testing.T) {
	p := DefaultPolicy()

	assert.True(t, decimal.NewFromInt(180).Equal(p.TaxFor(decimal.NewFromInt(1000))))
	assert.True(t, p.ShippingFor(decimal.NewFromInt(1000)).IsZero())
	assert.True(t, decimal.NewFromInt(99).Equal(p.ShippingFor(decimal.NewFromInt(500))))

	d, ok := p.DiscountFor("", decimal.NewFromInt(1000))
	assert.True(t, ok)
	assert.True(t, d.IsZero())
}

func TestLoadPolicy_EmptyPathUsesDefaults(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().CancelWindow, p.CancelWindow)
}
