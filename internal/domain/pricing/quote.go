package pricing

import "github.com/shopspring/decimal"

// Quote is the full money breakdown of a cart. It is recomputed on every
// request and never persisted as is.
type Quote struct {
	Subtotal           decimal.Decimal
	DiscountAmount     decimal.Decimal
	DiscountedSubtotal decimal.Decimal
	Tax                decimal.Decimal
	DeliveryCharge     decimal.Decimal
	Total              decimal.Decimal
}

// NewQuote builds a Quote from a subtotal and an already computed discount.
// Tax is charged on the discounted subtotal.
func NewQuote(subtotal, discount decimal.Decimal, cfg Config, isDelivery bool) Quote {
	discounted := subtotal.Sub(discount)
	tax := cfg.TaxFor(discounted)
	delivery := cfg.DeliveryFor(isDelivery)

	return Quote{
		Subtotal:           subtotal,
		DiscountAmount:     discount,
		DiscountedSubtotal: discounted,
		Tax:                tax,
		DeliveryCharge:     delivery,
		Total:              Total(discounted, tax, delivery),
	}
}
