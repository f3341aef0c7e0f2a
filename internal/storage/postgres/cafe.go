package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cafe-orders/internal/domain/cafe"
)

const (
	getCafeByIDSQL = `SELECT id, slug, name, tax_enabled, tax_rate, delivery_enabled, delivery_charge
		FROM cafes WHERE id = $1`

	upsertCafeSQL = `INSERT INTO cafes (id, slug, name, tax_enabled, tax_rate, delivery_enabled, delivery_charge)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			tax_enabled = EXCLUDED.tax_enabled,
			tax_rate = EXCLUDED.tax_rate,
			delivery_enabled = EXCLUDED.delivery_enabled,
			delivery_charge = EXCLUDED.delivery_charge`
)

var _ cafe.Repository = (*CafeRepository)(nil)

// CafeRepository implements cafe.Repository backed by PostgreSQL.
type CafeRepository struct {
	pool *pgxpool.Pool
}

// NewCafeRepository returns a CafeRepository that uses the given pool.
func NewCafeRepository(pool *pgxpool.Pool) *CafeRepository {
	return &CafeRepository{pool: pool}
}

// FindByID returns the cafe with its pricing configuration.
func (r *CafeRepository) FindByID(ctx context.Context, id string) (*cafe.Cafe, error) {
	var c cafe.Cafe
	err := r.pool.QueryRow(ctx, getCafeByIDSQL, id).Scan(
		&c.ID, &c.Slug, &c.Name,
		&c.Pricing.TaxEnabled, &c.Pricing.TaxRate,
		&c.Pricing.DeliveryEnabled, &c.Pricing.DeliveryCharge,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cafe.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cafe %q", id)
	}
	return &c, nil
}

const taxRateScale = 4

// Upsert creates the cafe or replaces its name and pricing configuration.
func (r *CafeRepository) Upsert(ctx context.Context, c *cafe.Cafe) error {
	if c.Pricing.TaxRate.IsNegative() {
		return errors.Errorf("cafe %q: tax rate must not be negative", c.ID)
	}
	// tax_rate keeps four decimal places, which keeps order amounts exact.
	if r := c.Pricing.TaxRate; !r.Equal(r.Truncate(taxRateScale)) {
		return errors.Errorf("cafe %q: tax rate %s has more than %d decimal places", c.ID, r, taxRateScale)
	}
	_, err := r.pool.Exec(ctx, upsertCafeSQL,
		c.ID, c.Slug, c.Name,
		c.Pricing.TaxEnabled, c.Pricing.TaxRate,
		c.Pricing.DeliveryEnabled, c.Pricing.DeliveryCharge,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert cafe %q", c.ID)
	}
	return nil
}
