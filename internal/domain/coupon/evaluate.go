package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reason identifies why a coupon is not applicable.
type Reason string

const (
	ReasonInvalidCode  Reason = "INVALID_CODE"
	ReasonExpired      Reason = "EXPIRED"
	ReasonNotYetValid  Reason = "NOT_YET_VALID"
	ReasonExhausted    Reason = "EXHAUSTED"
	ReasonBelowMinimum Reason = "BELOW_MINIMUM"
)

// Message returns the short human readable form of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonInvalidCode:
		return "invalid"
	case ReasonExpired:
		return "expired"
	case ReasonNotYetValid:
		return "not yet valid"
	case ReasonExhausted:
		return "exhausted"
	case ReasonBelowMinimum:
		return "below minimum"
	default:
		return string(r)
	}
}

// IneligibleError reports a coupon that cannot be applied to the order.
type IneligibleError struct {
	Code   string
	Reason Reason
	// MinOrderValue is set for ReasonBelowMinimum.
	MinOrderValue decimal.Decimal
}

func (e *IneligibleError) Error() string {
	if e.Reason == ReasonBelowMinimum {
		return fmt.Sprintf("coupon %s: %s (minimum order %s)", e.Code, e.Reason.Message(), e.MinOrderValue.StringFixed(2))
	}
	return fmt.Sprintf("coupon %s: %s", e.Code, e.Reason.Message())
}

// Result is the outcome of a successful evaluation.
type Result struct {
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
}

// Evaluate decides whether c applies to an order with the given subtotal at
// time now and computes the discount. It has no side effects: calling it
// repeatedly with the same inputs yields the same output. A nil coupon is
// reported as ReasonInvalidCode for code.
func Evaluate(code string, c *Coupon, subtotal decimal.Decimal, now time.Time) (Result, error) {
	if c == nil || !c.IsActive {
		return Result{}, &IneligibleError{Code: code, Reason: ReasonInvalidCode}
	}
	if now.Before(c.ValidFrom) {
		return Result{}, &IneligibleError{Code: c.Code, Reason: ReasonNotYetValid}
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return Result{}, &IneligibleError{Code: c.Code, Reason: ReasonExpired}
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return Result{}, &IneligibleError{Code: c.Code, Reason: ReasonExhausted}
	}
	if subtotal.LessThan(c.MinOrderValue) {
		return Result{}, &IneligibleError{Code: c.Code, Reason: ReasonBelowMinimum, MinOrderValue: c.MinOrderValue}
	}

	amount, err := Discount(c, subtotal)
	if err != nil {
		return Result{}, err
	}
	return Result{Coupon: c, DiscountAmount: amount}, nil
}

// Discount computes the discount amount of an eligible coupon.
func Discount(c *Coupon, subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch c.DiscountType {
	case DiscountPercentage:
		amount := subtotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
		if c.MaxDiscount != nil {
			amount = decimal.Min(amount, *c.MaxDiscount)
		}
		return amount, nil
	case DiscountFixed:
		return decimal.Min(c.DiscountValue, subtotal), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported discount type: %q", c.DiscountType)
	}
}
