package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
)

// Tx is the set of writes available inside a store transaction.
type Tx interface {
	// RedeemCoupon increments the coupon's usage count only while it stays
	// within the usage limit. It returns ErrCouponExhausted otherwise.
	RedeemCoupon(ctx context.Context, couponID string) error
	// UpsertCustomer creates or updates the customer keyed by cafe and phone,
	// adding one order and spent to its totals, and returns its ID.
	UpsertCustomer(ctx context.Context, c Customer, spent decimal.Decimal) (string, error)
	// InsertOrder returns ErrDuplicateNumber on an order number collision.
	InsertOrder(ctx context.Context, o *Order) error
	InsertOrderItems(ctx context.Context, orderID string, items []Item) error
}

// Store runs fn atomically: either every write in fn commits or none does.
type Store interface {
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

const defaultWriteAttempts = 3

// Writer persists approved orders.
type Writer struct {
	store       Store
	numbers     *NumberGenerator
	now         func() time.Time
	newID       func() string
	maxAttempts int
}

// NewWriter creates a Writer over store.
func NewWriter(store Store, numbers *NumberGenerator) *Writer {
	if numbers == nil {
		numbers = NewNumberGenerator(0)
	}
	return &Writer{
		store:       store,
		numbers:     numbers,
		now:         time.Now,
		newID:       uuid.NewString,
		maxAttempts: defaultWriteAttempts,
	}
}

// Write redeems the coupon, upserts the customer, and inserts the order with
// its items in one transaction. The whole transaction is retried with a new
// order number when the number collides.
func (w *Writer) Write(ctx context.Context, cafeID string, sub *Submission, ap *Approved) (*Order, error) {
	var lastErr error
	for range w.maxAttempts {
		o := w.build(cafeID, sub, ap)
		err := w.store.RunTx(ctx, func(ctx context.Context, tx Tx) error {
			return w.write(ctx, tx, sub, o)
		})
		switch {
		case err == nil:
			return o, nil
		case errors.Is(err, ErrDuplicateNumber):
			lastErr = err
			continue
		case errors.Is(err, ErrCouponExhausted):
			return nil, &Error{
				Kind:    KindCouponIneligible,
				Message: (&coupon.IneligibleError{Code: o.CouponCode, Reason: coupon.ReasonExhausted}).Error(),
				Reason:  coupon.ReasonExhausted,
				Err:     err,
			}
		default:
			return nil, &Error{Kind: KindTransactionFailure, Message: "order could not be saved", Err: err}
		}
	}
	return nil, &Error{
		Kind:    KindTransactionFailure,
		Message: "order could not be saved",
		Err:     errors.Wrapf(lastErr, "after %d attempts", w.maxAttempts),
	}
}

func (w *Writer) write(ctx context.Context, tx Tx, sub *Submission, o *Order) error {
	if o.CouponID != "" {
		if err := tx.RedeemCoupon(ctx, o.CouponID); err != nil {
			return errors.Wrap(err, "redeem coupon")
		}
	}

	customerID, err := tx.UpsertCustomer(ctx, Customer{
		CafeID: o.CafeID,
		Name:   sub.CustomerName,
		Phone:  sub.CustomerPhone,
		Email:  sub.CustomerEmail,
	}, o.Total)
	if err != nil {
		return errors.Wrap(err, "upsert customer")
	}
	o.CustomerID = customerID

	if err := tx.InsertOrder(ctx, o); err != nil {
		return errors.Wrap(err, "insert order")
	}
	if err := tx.InsertOrderItems(ctx, o.ID, o.Items); err != nil {
		return errors.Wrap(err, "insert order items")
	}
	return nil
}

func (w *Writer) build(cafeID string, sub *Submission, ap *Approved) *Order {
	o := &Order{
		ID:               w.newID(),
		CafeID:           cafeID,
		CustomerName:     sub.CustomerName,
		OrderNumber:      w.numbers.Next(),
		OrderType:        sub.OrderType,
		PaymentMethod:    sub.PaymentMethod,
		PaymentReference: sub.PaymentReference,
		Status:           StatusPending,
		Subtotal:         ap.Quote.Subtotal,
		Discount:         ap.Quote.DiscountAmount,
		Tax:              ap.Quote.Tax,
		DeliveryCharge:   ap.Quote.DeliveryCharge,
		Total:            ap.Quote.Total,
		Notes:            sub.Notes,
		CreatedAt:        w.now().UTC(),
	}
	switch sub.OrderType {
	case TypeDineIn:
		o.TableNumber = sub.TableNumber
	case TypeDelivery:
		o.DeliveryAddress = sub.DeliveryAddress
	}
	if ap.Coupon != nil {
		o.CouponID = ap.Coupon.ID
		o.CouponCode = ap.Coupon.Code
	}

	o.Items = make([]Item, len(ap.Lines))
	for i, l := range ap.Lines {
		l.ID = w.newID()
		l.OrderID = o.ID
		o.Items[i] = l
	}
	return o
}
