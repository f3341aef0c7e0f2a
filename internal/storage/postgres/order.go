package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/order"
)

const (
	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND is_active AND (usage_limit IS NULL OR used_count < usage_limit)`

	upsertCustomerSQL = `INSERT INTO customers (id, cafe_id, phone, name, email, order_count, total_spent)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 1, $6)
		ON CONFLICT (cafe_id, phone) DO UPDATE SET
			name = EXCLUDED.name,
			email = COALESCE(EXCLUDED.email, customers.email),
			order_count = customers.order_count + 1,
			total_spent = customers.total_spent + EXCLUDED.total_spent,
			updated_at = now()
		RETURNING id`

	insertOrderSQL = `INSERT INTO orders (id, cafe_id, customer_id, order_number, order_type,
		table_number, delivery_address, payment_method, payment_reference, status,
		subtotal, discount, tax, delivery_charge, total, coupon_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10,
		$11, $12, $13, $14, $15, NULLIF($16, ''), NULLIF($17, ''), $18)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, menu_item_id, name, price,
		quantity, subtotal, is_veg, customizations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE cafe_id = $1 AND id = $2
		RETURNING id, order_number, status`

	uniqueViolation      = "23505"
	orderNumberUniqueKey = "orders_order_number_key"
)

var (
	_ order.Store      = (*OrderStore)(nil)
	_ order.Tx         = (*orderTx)(nil)
	_ order.Repository = (*OrderStore)(nil)
)

// OrderStore runs the order write transaction and status updates.
type OrderStore struct {
	pool  *pgxpool.Pool
	newID func() string
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool, newID: uuid.NewString}
}

// RunTx runs fn in a READ COMMITTED transaction. The coupon redemption
// row lock serialises concurrent redeemers of one coupon.
func (s *OrderStore) RunTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{tx: tx, newID: s.newID})
	})
}

// UpdateStatus sets the status of an order of the cafe.
func (s *OrderStore) UpdateStatus(ctx context.Context, cafeID, orderID string, status order.Status) (*order.StatusChange, error) {
	var (
		ch     order.StatusChange
		stored string
	)
	err := s.pool.QueryRow(ctx, updateOrderStatusSQL, cafeID, orderID, string(status)).
		Scan(&ch.OrderID, &ch.OrderNumber, &stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "update status of order %q", orderID)
	}
	ch.Status = order.Status(stored)
	return &ch, nil
}

type orderTx struct {
	tx    pgx.Tx
	newID func() string
}

func (t *orderTx) RedeemCoupon(ctx context.Context, couponID string) error {
	tag, err := t.tx.Exec(ctx, redeemCouponSQL, couponID)
	if err != nil {
		return errors.Wrapf(err, "redeem coupon %q", couponID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrCouponExhausted
	}
	return nil
}

func (t *orderTx) UpsertCustomer(ctx context.Context, c order.Customer, spent decimal.Decimal) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, upsertCustomerSQL,
		t.newID(), c.CafeID, c.Phone, c.Name, c.Email, spent,
	).Scan(&id)
	if err != nil {
		return "", errors.Wrapf(err, "upsert customer %q", c.Phone)
	}
	return id, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.CafeID, o.CustomerID, o.OrderNumber, string(o.OrderType),
		o.TableNumber, o.DeliveryAddress, string(o.PaymentMethod), o.PaymentReference, string(o.Status),
		o.Subtotal, o.Discount, o.Tax, o.DeliveryCharge, o.Total,
		o.CouponID, o.Notes, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == orderNumberUniqueKey {
			return order.ErrDuplicateNumber
		}
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

func (t *orderTx) InsertOrderItems(ctx context.Context, orderID string, items []order.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		customizations, err := json.Marshal(nonNil(it.Customizations))
		if err != nil {
			return errors.Wrap(err, "marshal customizations")
		}
		batch.Queue(insertOrderItemSQL,
			it.ID, orderID, it.MenuItemID, it.Name, it.Price,
			it.Quantity, it.Subtotal, it.IsVeg, customizations,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "insert items of order %q", orderID)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
