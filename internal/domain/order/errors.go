package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
)

// Kind classifies order placement failures.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindNotFound            Kind = "NOT_FOUND"
	KindItemsUnavailable    Kind = "ITEMS_UNAVAILABLE"
	KindCouponIneligible    Kind = "COUPON_INELIGIBLE"
	KindCalculationMismatch Kind = "CALCULATION_MISMATCH"
	KindTransactionFailure  Kind = "TRANSACTION_FAILURE"
)

// Sentinel errors reported by a Store.
var (
	// ErrDuplicateNumber means the generated order number is already taken.
	ErrDuplicateNumber = errors.New("duplicate order number")
	// ErrCouponExhausted means the conditional redemption matched no row.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	// ErrNotFound means the order does not exist for the cafe.
	ErrNotFound = errors.New("order not found")
)

// Error is a classified order failure. No partial state is persisted when
// one is returned.
type Error struct {
	Kind    Kind
	Message string
	// Fields names invalid input fields for KindValidation and the mismatched
	// figures for KindCalculationMismatch.
	Fields []string
	// Items lists offending menu item IDs for KindItemsUnavailable.
	Items []string
	// Reason is set for KindCouponIneligible.
	Reason coupon.Reason
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Items) > 0 {
		fmt.Fprintf(&b, " (items: %s)", strings.Join(e.Items, ", "))
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(e.Fields, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func couponError(err error) error {
	var ie *coupon.IneligibleError
	if errors.As(err, &ie) {
		return &Error{
			Kind:    KindCouponIneligible,
			Message: ie.Error(),
			Reason:  ie.Reason,
			Err:     err,
		}
	}
	return err
}
