package domain

import "github.com/shopspring/decimal"

type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// ComputeTotals derives the order total from its parts rounded to two places, so the
// result always satisfies Valid. The discount is capped so the total never goes below zero.
func ComputeTotals(subtotal, tax, shipping, discount decimal.Decimal) Totals {
	subtotal, tax, shipping, discount = subtotal.Round(2), tax.Round(2), shipping.Round(2), discount.Round(2)

	gross := subtotal.Add(tax).Add(shipping)
	if discount.GreaterThan(gross) {
		discount = gross
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		ShippingCost:   shipping,
		DiscountAmount: discount,
		TotalAmount:    gross.Sub(discount),
	}
}

func (t Totals) Valid() bool {
	return t.Subtotal.Add(t.TaxAmount).Add(t.ShippingCost).Sub(t.DiscountAmount).Equal(t.TotalAmount)
}

func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// MinorUnits converts an amount to the smallest currency unit (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
