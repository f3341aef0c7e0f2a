package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no active key matches the hash.
var ErrNotFound = errors.New("api key not found")

// Scopes granted to admin keys.
const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	// CafeID restricts the key to a single cafe. Empty means all cafes.
	CafeID string
	Scopes []string
}

// Allows reports whether the key may act on cafeID with scope.
func (k *APIKeyInfo) Allows(cafeID, scope string) bool {
	if k.CafeID != "" && k.CafeID != cafeID {
		return false
	}
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
