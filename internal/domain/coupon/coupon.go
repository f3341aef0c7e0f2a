package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped
	// by MaxDiscount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a fixed amount, never more than the subtotal.
	DiscountFixed DiscountType = "FIXED"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// ErrNotFound is returned by a Repository when no coupon matches the code.
var ErrNotFound = errors.New("coupon not found")

// Coupon is a cafe-scoped discount code.
type Coupon struct {
	ID            string
	CafeID        string
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinOrderValue decimal.Decimal
	// MaxDiscount caps PERCENTAGE discounts. Nil means uncapped.
	MaxDiscount *decimal.Decimal
	// UsageLimit is the number of orders that may redeem the coupon. Nil
	// means unlimited.
	UsageLimit *int
	UsedCount  int
	IsActive   bool
	ValidFrom  time.Time
	ValidUntil *time.Time
}

// CheckInvariants validates the coupon definition itself.
func (c *Coupon) CheckInvariants() error {
	if !c.DiscountType.Valid() {
		return errors.Errorf("unsupported discount type %q", c.DiscountType)
	}
	if c.DiscountValue.IsNegative() {
		return errors.New("discount value must not be negative")
	}
	if c.DiscountType == DiscountPercentage && c.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("percentage discount must not exceed 100")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return errors.New("usage limit must not be negative")
	}
	return nil
}

// Repository provides read access to coupons. Redemption happens inside the
// order write transaction, not here.
type Repository interface {
	FindByCode(ctx context.Context, cafeID, code string) (*Coupon, error)
}
