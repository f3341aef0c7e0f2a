package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, cafe_id, code, discount_type, discount_value, min_order_value,
		max_discount, usage_limit, used_count, is_active, valid_from, valid_until
		FROM coupons WHERE cafe_id = $1 AND UPPER(code) = UPPER($2)`

	upsertCouponSQL = `INSERT INTO coupons (id, cafe_id, code, discount_type, discount_value,
		min_order_value, max_discount, usage_limit, is_active, valid_from, valid_until)
		VALUES ($1, $2, UPPER($3), $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (cafe_id, UPPER(code)) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_order_value = EXCLUDED.min_order_value,
			max_discount = EXCLUDED.max_discount,
			usage_limit = EXCLUDED.usage_limit,
			is_active = EXCLUDED.is_active,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon of the cafe by code, case-insensitively.
// Inactive coupons are returned too; evaluation rejects them.
func (r *CouponRepository) FindByCode(ctx context.Context, cafeID, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, cafeID, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// Upsert creates the coupon or updates its definition by cafe and code.
// The usage count of an existing coupon is kept.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if err := c.CheckInvariants(); err != nil {
		return errors.Wrapf(err, "coupon %q", c.Code)
	}
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.ID, c.CafeID, c.Code, string(c.DiscountType), c.DiscountValue,
		c.MinOrderValue, c.MaxDiscount, c.UsageLimit, c.IsActive, c.ValidFrom, c.ValidUntil,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		maxDiscount  *decimal.Decimal
		usageLimit   *int32
		usedCount    int32
		validUntil   *time.Time
	)
	err := row.Scan(
		&c.ID, &c.CafeID, &c.Code, &discountType, &c.DiscountValue, &c.MinOrderValue,
		&maxDiscount, &usageLimit, &usedCount, &c.IsActive, &c.ValidFrom, &validUntil,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.MaxDiscount = maxDiscount
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsedCount = int(usedCount)
	c.ValidUntil = validUntil
	return c, err
}
