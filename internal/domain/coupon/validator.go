package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Validator looks a coupon up and evaluates it against a subtotal.
type Validator interface {
	Validate(ctx context.Context, cafeID, code string, subtotal decimal.Decimal) (Result, error)
}

// RepoValidator implements Validator on top of a Repository. It never
// changes the coupon's usage count.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

var _ Validator = (*RepoValidator)(nil)

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate finds the coupon for cafeID and code and runs Evaluate on it.
// Unknown codes yield an *IneligibleError with ReasonInvalidCode.
func (v *RepoValidator) Validate(ctx context.Context, cafeID, code string, subtotal decimal.Decimal) (Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Result{}, &IneligibleError{Code: code, Reason: ReasonInvalidCode}
	}

	c, err := v.repo.FindByCode(ctx, cafeID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, &IneligibleError{Code: code, Reason: ReasonInvalidCode}
		}
		return Result{}, errors.Wrap(err, "lookup coupon")
	}

	return Evaluate(code, c, subtotal, v.now())
}
