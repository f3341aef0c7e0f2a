// Package pricing computes order money figures from cart lines and a cafe's
// pricing configuration. All functions are pure and never round: rounding to
// display precision belongs to the presentation layer.
package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is a priced cart line used for subtotal computation.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Amount returns UnitPrice * Quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Config is the per-cafe pricing configuration.
type Config struct {
	TaxEnabled      bool
	TaxRate         decimal.Decimal // percent, e.g. 18 for 18%
	DeliveryEnabled bool
	DeliveryCharge  decimal.Decimal
}

// Subtotal returns the sum of unit price times quantity over all lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

// Tax returns amount * ratePercent / 100. The sign of amount propagates.
func Tax(amount, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(ratePercent).Div(hundred)
}

// Total returns subtotal + tax + deliveryCharge. A negative delivery charge
// is a promotional adjustment and is not clamped.
func Total(subtotal, tax, deliveryCharge decimal.Decimal) decimal.Decimal {
	return subtotal.Add(tax).Add(deliveryCharge)
}

// TaxFor applies the configured rate, or returns zero when tax is disabled.
func (c Config) TaxFor(amount decimal.Decimal) decimal.Decimal {
	if !c.TaxEnabled {
		return decimal.Zero
	}
	return Tax(amount, c.TaxRate)
}

// DeliveryFor returns the flat delivery charge for delivery orders when
// delivery is enabled, zero otherwise.
func (c Config) DeliveryFor(isDelivery bool) decimal.Decimal {
	if !isDelivery || !c.DeliveryEnabled {
		return decimal.Zero
	}
	return c.DeliveryCharge
}
