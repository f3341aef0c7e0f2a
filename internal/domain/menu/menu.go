package menu

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested menu item does not exist.
var ErrNotFound = errors.New("menu item not found")

// Item is a cafe's menu entry. Price is the authoritative unit price.
type Item struct {
	ID          string
	CafeID      string
	Name        string
	Price       decimal.Decimal
	IsVeg       bool
	IsAvailable bool
}

// Repository defines read operations for a cafe's menu.
type Repository interface {
	// FindItems returns the items of cafeID among ids. Items of other cafes are
	// never returned. With availableOnly set, unavailable items are skipped.
	FindItems(ctx context.Context, cafeID string, ids []string, availableOnly bool) ([]Item, error)
}

// Index maps items by ID.
func Index(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}
