package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/order"
)

// Orders is an order.Repository.
type Orders struct {
	db *sql.DB
}

var _ order.Repository = (*Orders)(nil)

func NewOrders(db *sql.DB) *Orders { return &Orders{db: db} }

func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (user_id, status, shipping_address, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.UserID, o.Status, o.ShippingAddress, o.TotalAmount, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	orderID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	items := make([]order.Line, len(o.Items))

	for i, l := range o.Items {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		if l.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("order item id: %w", err)
		}

		items[i] = l
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}

	o.ID, o.Items = orderID, items

	return nil
}

const orderColumns = `o.id, o.user_id, o.status, o.shipping_address, o.total_amount, o.created_at, o.updated_at`

func (r *Orders) Get(ctx context.Context, id int64) (order.Order, error) {
	list, err := r.query(ctx, `WHERE o.id = ? AND o.is_deleted = FALSE`, id)
	if err != nil {
		return order.Order{}, err
	}

	if len(list) == 0 {
		return order.Order{}, notFound("order", id)
	}

	return list[0], nil
}

func (r *Orders) List(ctx context.Context) ([]order.Order, error) {
	return r.query(ctx, `WHERE o.is_deleted = FALSE`)
}

func (r *Orders) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	return r.query(ctx, `WHERE o.user_id = ? AND o.is_deleted = FALSE`, userID)
}

// query loads the orders matching where, which refers to the orders table as o, and then
// their lines with a second query over the same filter.
func (r *Orders) query(ctx context.Context, where string, args ...any) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders o `+where+` ORDER BY o.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	out := make([]order.Order, 0)
	index := make(map[int64]int)

	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.ShippingAddress, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		o.Items = []order.Line{}
		index[o.ID] = len(out)
		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	if len(out) == 0 {
		return out, nil
	}

	lines, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.order_id, i.product_id, i.product_name, i.quantity, i.unit_price, i.subtotal
		FROM order_items i JOIN orders o ON o.id = i.order_id
		`+where+` ORDER BY i.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		var (
			l       order.Line
			orderID int64
		)

		if err := lines.Scan(&l.ID, &orderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}

		if i, ok := index[orderID]; ok {
			out[i].Items = append(out[i].Items, l)
		}
	}

	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return out, nil
}

func (r *Orders) UpdateStatus(ctx context.Context, id int64, from, to order.Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND is_deleted = FALSE`,
		to, at, id, from,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if err := rowsGone(res, "order", id); err == nil {
		return nil
	}

	// Nothing matched: the order is gone or its status moved on.
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	return fmt.Errorf("order %d status is %s: %w", id, cur.Status, berr.ErrConflict)
}

func (r *Orders) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET is_deleted = TRUE WHERE id = ? AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	return rowsGone(res, "order", id)
}
