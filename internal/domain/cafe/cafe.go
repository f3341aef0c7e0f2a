package cafe

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/cafe-orders/internal/domain/pricing"
)

// ErrNotFound is returned when the cafe does not exist.
var ErrNotFound = errors.New("cafe not found")

// Cafe is a tenant: every menu item, coupon, order and event channel belongs to one.
type Cafe struct {
	ID      string
	Slug    string
	Name    string
	Pricing pricing.Config
}

// Repository provides cafe lookup.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Cafe, error)
}
