package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key authenticated for the request, if any.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// SecurityHandler authenticates admin requests via HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HashKey returns the hex HMAC-SHA256 of key under the pepper, the form
// stored in api_keys.key_hash.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves key to its stored record. The stored hash is
// compared in constant time.
func (s *SecurityHandler) Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

// Require returns a middleware admitting requests whose key grants scope on
// the {cafeID} of the route.
func (s *SecurityHandler) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := s.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Code: http.StatusUnauthorized, Message: "unauthorized"})
				return
			}
			if !info.Allows(chi.URLParam(r, "cafeID"), scope) {
				writeJSON(w, http.StatusForbidden, errorResponse{Code: http.StatusForbidden, Message: "forbidden"})
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
