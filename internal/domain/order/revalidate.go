package order

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/menu"
	"github.com/xenking/cafe-orders/internal/domain/pricing"
)

// Tolerance is the largest accepted absolute difference between a client
// figure and the server figure.
var Tolerance = decimal.NewFromInt(1)

// Approved is a submission that passed revalidation. Lines carry server
// prices and are what gets persisted.
type Approved struct {
	Lines  []Item
	Quote  pricing.Quote
	Coupon *coupon.Coupon
}

// Revalidator recomputes a submission's figures from server prices and
// rejects tampered or stale carts.
type Revalidator struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewRevalidator creates a Revalidator.
func NewRevalidator() *Revalidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Revalidator{validate: v, now: time.Now}
}

// Check validates the submission's structure: required fields per order type
// and payment method, a non-empty cart and positive quantities. It needs no
// store access.
func (r *Revalidator) Check(sub *Submission) error {
	if sub == nil {
		return &Error{Kind: KindValidation, Message: "empty submission"}
	}
	err := r.validate.Struct(sub)
	if err == nil {
		return nil
	}

	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	fields := make([]string, 0, len(vErrs))
	for _, fe := range vErrs {
		fields = append(fields, fieldPath(fe))
	}
	return &Error{
		Kind:    KindValidation,
		Message: validationMessage(vErrs[0]),
		Fields:  fields,
	}
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_if":
		return field + " is required when " + strings.Replace(fe.Param(), " ", " is ", 1)
	case "min":
		return field + " must contain at least " + fe.Param() + " entry"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "oneof":
		return field + " must be one of " + fe.Param()
	case "email":
		return field + " must be a valid email"
	default:
		return field + " is invalid"
	}
}

// Price resolves lines against the cafe's available items and computes the
// authoritative quote. A non-empty code is evaluated against the server
// subtotal; c is nil when no coupon matches code.
func (r *Revalidator) Price(
	lines []CartLine,
	items map[string]menu.Item,
	cfg pricing.Config,
	orderType Type,
	code string,
	c *coupon.Coupon,
) (*Approved, error) {
	resolved, err := resolve(lines, items)
	if err != nil {
		return nil, err
	}

	pl := make([]pricing.Line, len(resolved))
	for i, it := range resolved {
		pl[i] = pricing.Line{UnitPrice: it.Price, Quantity: it.Quantity}
	}
	subtotal := pricing.Subtotal(pl)

	discount := decimal.Zero
	var applied *coupon.Coupon
	if code = coupon.NormalizeCode(code); code != "" {
		res, err := coupon.Evaluate(code, c, subtotal, r.now())
		if err != nil {
			return nil, couponError(err)
		}
		discount = res.DiscountAmount
		applied = res.Coupon
	}

	return &Approved{
		Lines:  resolved,
		Quote:  pricing.NewQuote(subtotal, discount, cfg, orderType == TypeDelivery),
		Coupon: applied,
	}, nil
}

// Revalidate runs Check and Price, then compares the client's subtotal, tax,
// delivery charge and total with the server figures.
func (r *Revalidator) Revalidate(
	sub *Submission,
	items map[string]menu.Item,
	cfg pricing.Config,
	c *coupon.Coupon,
) (*Approved, error) {
	if err := r.Check(sub); err != nil {
		return nil, err
	}
	ap, err := r.Price(sub.Items, items, cfg, sub.OrderType, sub.CouponCode, c)
	if err != nil {
		return nil, err
	}
	if err := compare(sub, ap.Quote); err != nil {
		return nil, err
	}
	return ap, nil
}

func resolve(lines []CartLine, items map[string]menu.Item) ([]Item, error) {
	var (
		seen      = make(map[string]struct{}, len(lines))
		offending []string
		resolved  = make([]Item, 0, len(lines))
	)
	for _, l := range lines {
		if _, dup := seen[l.MenuItemID]; dup {
			offending = append(offending, l.MenuItemID)
			continue
		}
		seen[l.MenuItemID] = struct{}{}

		mi, ok := items[l.MenuItemID]
		if !ok || !mi.IsAvailable {
			offending = append(offending, l.MenuItemID)
			continue
		}
		qty := decimal.NewFromInt(int64(l.Quantity))
		resolved = append(resolved, Item{
			MenuItemID:     mi.ID,
			Name:           mi.Name,
			Price:          mi.Price,
			Quantity:       l.Quantity,
			Subtotal:       mi.Price.Mul(qty),
			IsVeg:          mi.IsVeg,
			Customizations: l.Customizations,
		})
	}
	if len(offending) > 0 {
		return nil, &Error{
			Kind:    KindItemsUnavailable,
			Message: "some items are unavailable",
			Items:   offending,
		}
	}
	return resolved, nil
}

func compare(sub *Submission, q pricing.Quote) error {
	checks := []struct {
		field  string
		client decimal.Decimal
		server decimal.Decimal
	}{
		{"subtotal", sub.Subtotal, q.Subtotal},
		{"tax", sub.Tax, q.Tax},
		{"deliveryCharge", sub.DeliveryCharge, q.DeliveryCharge},
		{"total", sub.Total, q.Total},
	}
	var mismatched []string
	for _, c := range checks {
		if c.client.Sub(c.server).Abs().GreaterThan(Tolerance) {
			mismatched = append(mismatched, c.field)
		}
	}
	if len(mismatched) > 0 {
		return &Error{
			Kind:    KindCalculationMismatch,
			Message: "order totals do not match, please refresh your cart",
			Fields:  mismatched,
		}
	}
	return nil
}
