package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type is how the order is fulfilled.
type Type string

const (
	TypeDineIn   Type = "DINE_IN"
	TypeTakeaway Type = "TAKEAWAY"
	TypeDelivery Type = "DELIVERY"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "CASH"
	// PaymentOnline requires a payment reference.
	PaymentOnline PaymentMethod = "ONLINE"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOutForDelivery, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CartLine is a client-submitted line. Price and Name are advisory only.
type CartLine struct {
	MenuItemID     string          `json:"menuItemId" validate:"required"`
	Quantity       int             `json:"quantity" validate:"gt=0"`
	Price          decimal.Decimal `json:"price"`
	Name           string          `json:"name"`
	IsVeg          bool            `json:"isVeg"`
	Customizations []string        `json:"customizations,omitempty"`
}

// Submission is the untrusted checkout payload.
type Submission struct {
	Items            []CartLine    `json:"items" validate:"required,min=1,dive"`
	CustomerName     string        `json:"customerName" validate:"required"`
	CustomerPhone    string        `json:"customerPhone" validate:"required"`
	CustomerEmail    string        `json:"customerEmail,omitempty" validate:"omitempty,email"`
	OrderType        Type          `json:"orderType" validate:"required,oneof=DINE_IN TAKEAWAY DELIVERY"`
	TableNumber      string        `json:"tableNumber,omitempty" validate:"required_if=OrderType DINE_IN"`
	DeliveryAddress  string        `json:"deliveryAddress,omitempty" validate:"required_if=OrderType DELIVERY"`
	PaymentMethod    PaymentMethod `json:"paymentMethod" validate:"required,oneof=CASH ONLINE"`
	PaymentReference string        `json:"paymentReference,omitempty" validate:"required_if=PaymentMethod ONLINE"`
	CouponCode       string        `json:"couponCode,omitempty"`
	Notes            string        `json:"notes,omitempty"`

	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	DeliveryCharge decimal.Decimal `json:"deliveryCharge"`
	Total          decimal.Decimal `json:"total"`
}

// Customer identifies the buyer within a cafe. Phone is the natural key.
type Customer struct {
	ID     string
	CafeID string
	Name   string
	Phone  string
	Email  string
}

// Item is a persisted order line. Price is the server price at insert time.
type Item struct {
	ID             string
	OrderID        string
	MenuItemID     string
	Name           string
	Price          decimal.Decimal
	Quantity       int
	Subtotal       decimal.Decimal
	IsVeg          bool
	Customizations []string
}

// Order is the authoritative, persisted order.
type Order struct {
	ID               string
	CafeID           string
	CustomerID       string
	CustomerName     string
	OrderNumber      string
	OrderType        Type
	TableNumber      string
	DeliveryAddress  string
	PaymentMethod    PaymentMethod
	PaymentReference string
	Status           Status
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	Tax              decimal.Decimal
	DeliveryCharge   decimal.Decimal
	Total            decimal.Decimal
	CouponID         string
	CouponCode       string
	Notes            string
	Items            []Item
	CreatedAt        time.Time
}

// StatusChange is the result of a status transition.
type StatusChange struct {
	OrderID     string
	OrderNumber string
	Status      Status
}

// Repository provides order mutations outside the placement transaction.
type Repository interface {
	// UpdateStatus returns ErrNotFound when the order does not belong to cafeID.
	UpdateStatus(ctx context.Context, cafeID, orderID string, status Status) (*StatusChange, error)
}
