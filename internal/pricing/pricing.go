// Package pricing computes order totals. All amounts are decimals rounded to
// two places, half away from zero.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy holds the store-wide tax and shipping rules.
type Policy struct {
	TaxRate               decimal.Decimal `json:"tax_rate"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
	ShippingFee           decimal.Decimal `json:"shipping_fee"`
}

func DefaultPolicy() Policy {
	return Policy{
		TaxRate:               decimal.RequireFromString("0.08"),
		FreeShippingThreshold: decimal.RequireFromString("100.00"),
		ShippingFee:           decimal.RequireFromString("9.99"),
	}
}

// ParsePolicy builds a Policy from its textual form, as found in env vars and
// the settings table.
func ParsePolicy(taxRate, threshold, fee string) (Policy, error) {
	var (
		p   Policy
		err error
	)
	if p.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return Policy{}, fmt.Errorf("tax rate %q: %w", taxRate, err)
	}
	if p.FreeShippingThreshold, err = decimal.NewFromString(threshold); err != nil {
		return Policy{}, fmt.Errorf("free shipping threshold %q: %w", threshold, err)
	}
	if p.ShippingFee, err = decimal.NewFromString(fee); err != nil {
		return Policy{}, fmt.Errorf("shipping fee %q: %w", fee, err)
	}
	return p, p.Validate()
}

func (p Policy) Validate() error {
	switch {
	case p.TaxRate.IsNegative() || p.TaxRate.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("tax rate must be between 0 and 1, got %s", p.TaxRate)
	case p.FreeShippingThreshold.IsNegative():
		return fmt.Errorf("free shipping threshold must not be negative, got %s", p.FreeShippingThreshold)
	case p.ShippingFee.IsNegative():
		return fmt.Errorf("shipping fee must not be negative, got %s", p.ShippingFee)
	}
	return nil
}

type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

type Breakdown struct {
	LineTotals     []decimal.Decimal
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	Total          decimal.Decimal
}

// Price is pure: identical input always yields the identical Breakdown.
// Subtotal is the sum of the rounded line totals so the two always agree.
func Price(lines []Line, p Policy) Breakdown {
	b := Breakdown{
		LineTotals: make([]decimal.Decimal, len(lines)),
		Subtotal:   decimal.Zero,
	}
	for i, l := range lines {
		lt := Round2(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		b.LineTotals[i] = lt
		b.Subtotal = b.Subtotal.Add(lt)
	}
	b.Subtotal = Round2(b.Subtotal)
	b.TaxAmount = Round2(b.Subtotal.Mul(p.TaxRate))

	// the threshold is exclusive: exactly 100.00 still pays shipping
	if b.Subtotal.GreaterThan(p.FreeShippingThreshold) {
		b.ShippingAmount = Round2(decimal.Zero)
	} else {
		b.ShippingAmount = Round2(p.ShippingFee)
	}

	b.Total = Round2(b.Subtotal.Add(b.TaxAmount).Add(b.ShippingAmount))
	return b
}

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
