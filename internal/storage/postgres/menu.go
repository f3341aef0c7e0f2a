package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/cafe-orders/internal/domain/menu"
)

const (
	findMenuItemsSQL = `SELECT id, cafe_id, name, price, is_veg, is_available
		FROM menu_items
		WHERE cafe_id = $1 AND id = ANY($2) AND (NOT $3 OR is_available)`

	upsertMenuItemSQL = `INSERT INTO menu_items (id, cafe_id, name, price, is_veg, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			is_veg = EXCLUDED.is_veg,
			is_available = EXCLUDED.is_available
		WHERE menu_items.cafe_id = EXCLUDED.cafe_id`
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// FindItems returns the cafe's items among ids in a single query.
func (r *MenuRepository) FindItems(ctx context.Context, cafeID string, ids []string, availableOnly bool) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, findMenuItemsSQL, cafeID, ids, availableOnly)
	if err != nil {
		return nil, errors.Wrapf(err, "find menu items of cafe %q", cafeID)
	}
	items, err := pgx.CollectRows(rows, scanMenuItem)
	if err != nil {
		return nil, errors.Wrapf(err, "find menu items of cafe %q", cafeID)
	}
	return items, nil
}

// UpsertItems creates or updates items in one batch. An existing item of
// another cafe is left untouched.
func (r *MenuRepository) UpsertItems(ctx context.Context, items []menu.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		if it.Price.IsNegative() {
			return errors.Errorf("menu item %q: price must not be negative", it.ID)
		}
		batch.Queue(upsertMenuItemSQL, it.ID, it.CafeID, it.Name, it.Price, it.IsVeg, it.IsAvailable)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert menu items")
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (menu.Item, error) {
	var it menu.Item
	err := row.Scan(&it.ID, &it.CafeID, &it.Name, &it.Price, &it.IsVeg, &it.IsAvailable)
	return it, err
}
