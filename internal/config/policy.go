package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type DiscountKind string

const (
	DiscountFlat    DiscountKind = "flat"
	DiscountPercent DiscountKind = "percent"
)

type Discount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// Apply returns the discount for the given subtotal.
func (d Discount) Apply(subtotal decimal.Decimal) decimal.Decimal {
	if d.Kind == DiscountPercent {
		return subtotal.Mul(d.Value).Div(decimal.NewFromInt(100)).Round(2)
	}
	return d.Value
}

// Policy holds the business rules a store operator may tune without a deploy.
type Policy struct {
	CancelWindow          time.Duration
	MinReasonLength       int
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
	Currency              string
	SessionTTL            time.Duration
	Discounts             map[string]Discount
}

func DefaultPolicy() Policy {
	return Policy{
		CancelWindow:          48 * time.Hour,
		MinReasonLength:       10,
		TaxRate:               decimal.RequireFromString("0.18"),
		FreeShippingThreshold: decimal.NewFromInt(999),
		FlatShipping:          decimal.NewFromInt(99),
		Currency:              "INR",
		SessionTTL:            30 * time.Minute,
		Discounts:             map[string]Discount{},
	}
}

type policyFile struct {
	CancelWindowDays      *int     `yaml:"cancel_window_days"`
	MinReasonLength       *int     `yaml:"min_reason_length"`
	TaxRate               *float64 `yaml:"tax_rate"`
	FreeShippingThreshold *float64 `yaml:"free_shipping_threshold"`
	FlatShipping          *float64 `yaml:"flat_shipping"`
	Currency              string   `yaml:"currency"`
	SessionTTL            string   `yaml:"checkout_session_ttl"`
	Discounts             []struct {
		Code  string  `yaml:"code"`
		Kind  string  `yaml:"kind"`
		Value float64 `yaml:"value"`
	} `yaml:"discounts"`
}

// LoadPolicy reads the YAML policy at path over the defaults. An empty path returns
// the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}

	if f.CancelWindowDays != nil {
		if *f.CancelWindowDays < 0 {
			return p, fmt.Errorf("cancel_window_days must not be negative")
		}
		p.CancelWindow = time.Duration(*f.CancelWindowDays) * 24 * time.Hour
	}
	if f.MinReasonLength != nil {
		p.MinReasonLength = *f.MinReasonLength
	}
	if f.TaxRate != nil {
		p.TaxRate = decimal.NewFromFloat(*f.TaxRate)
	}
	if f.FreeShippingThreshold != nil {
		amount, err := parseAmount("free_shipping_threshold", *f.FreeShippingThreshold)
		if err != nil {
			return p, err
		}
		p.FreeShippingThreshold = amount
	}
	if f.FlatShipping != nil {
		amount, err := parseAmount("flat_shipping", *f.FlatShipping)
		if err != nil {
			return p, err
		}
		p.FlatShipping = amount
	}
	if f.Currency != "" {
		p.Currency = strings.ToUpper(f.Currency)
	}
	if f.SessionTTL != "" {
		ttl, err := time.ParseDuration(f.SessionTTL)
		if err != nil {
			return p, fmt.Errorf("checkout_session_ttl: %w", err)
		}
		p.SessionTTL = ttl
	}
	for _, d := range f.Discounts {
		kind := DiscountKind(strings.ToLower(d.Kind))
		if kind != DiscountFlat && kind != DiscountPercent {
			return p, fmt.Errorf("discount %q: unknown kind %q", d.Code, d.Kind)
		}
		value := decimal.NewFromFloat(d.Value)
		if kind == DiscountFlat {
			amount, err := parseAmount(fmt.Sprintf("discount %q", d.Code), d.Value)
			if err != nil {
				return p, err
			}
			value = amount
		}
		p.Discounts[strings.ToUpper(d.Code)] = Discount{Kind: kind, Value: value}
	}

	return p, nil
}

// parseAmount accepts a non-negative money amount with at most two decimal places.
func parseAmount(field string, v float64) (decimal.Decimal, error) {
	amount := decimal.NewFromFloat(v)
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("%s must have at most two decimal places", field)
	}
	return amount, nil
}

// ShippingFor returns the shipping charge for a subtotal.
func (p Policy) ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.FlatShipping
}

func (p Policy) TaxFor(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.TaxRate).Round(2)
}

// DiscountFor looks up a discount code; unknown codes are reported as ok=false.
func (p Policy) DiscountFor(code string, subtotal decimal.Decimal) (decimal.Decimal, bool) {
	if code == "" {
		return decimal.Zero, true
	}
	d, ok := p.Discounts[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return decimal.Zero, false
	}
	return d.Apply(subtotal), true
}
