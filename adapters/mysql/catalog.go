package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-api-bus/catalog"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Catalog is a catalog.Repository.
type Catalog struct {
	db *sql.DB
}

var _ catalog.Repository = (*Catalog)(nil)

func NewCatalog(db *sql.DB) *Catalog { return &Catalog{db: db} }

func (c *Catalog) CreateProduct(ctx context.Context, p *catalog.Product) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO products (name, description, price, discount_price, discount_start, discount_end,
			stock, category, image_url, is_available, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Price, nullDecimal(p.DiscountPrice), p.DiscountStart, p.DiscountEnd,
		p.Stock, p.Category, p.ImageURL, p.IsAvailable, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("product id: %w", err)
	}

	if err := writeTags(ctx, tx, id, p.Tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit product: %w", err)
	}

	p.ID = id

	return nil
}

const productColumns = `p.id, p.name, p.description, p.price, p.discount_price, p.discount_start, p.discount_end,
	p.stock, p.category, p.image_url, p.is_available, p.created_at,
	COALESCE(AVG(r.rating), 0), COUNT(r.id)`

func (c *Catalog) Product(ctx context.Context, id int64) (catalog.Product, error) {
	list, err := c.query(ctx, `WHERE p.id = ? AND p.is_deleted = FALSE`, id)
	if err != nil {
		return catalog.Product{}, err
	}

	if len(list) == 0 {
		return catalog.Product{}, notFound("product", id)
	}

	return list[0], nil
}

func (c *Catalog) Products(ctx context.Context, f catalog.Filter) ([]catalog.Product, error) {
	if f.Category != "" {
		return c.query(ctx, `WHERE p.is_deleted = FALSE AND LOWER(p.category) = LOWER(?)`, f.Category)
	}

	return c.query(ctx, `WHERE p.is_deleted = FALSE`)
}

func (c *Catalog) query(ctx context.Context, where string, args ...any) ([]catalog.Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p LEFT JOIN reviews r ON r.product_id = p.id
		`+where+`
		GROUP BY p.id ORDER BY p.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	out := make([]catalog.Product, 0)
	index := make(map[int64]int)

	for rows.Next() {
		var (
			p        catalog.Product
			discount decimal.NullDecimal
			start    sql.NullTime
			end      sql.NullTime
			image    sql.NullString
		)

		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &discount, &start, &end,
			&p.Stock, &p.Category, &image, &p.IsAvailable, &p.CreatedAt, &p.AverageRating, &p.ReviewCount); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}

		if discount.Valid {
			p.DiscountPrice = &discount.Decimal
		}

		if start.Valid {
			p.DiscountStart = &start.Time
		}

		if end.Valid {
			p.DiscountEnd = &end.Time
		}

		if image.Valid {
			p.ImageURL = &image.String
		}

		p.Tags = []string{}
		index[p.ID] = len(out)
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	if len(out) == 0 {
		return out, nil
	}

	tags, err := c.db.QueryContext(ctx, `
		SELECT t.product_id, t.tag FROM product_tags t JOIN products p ON p.id = t.product_id
		`+where+` ORDER BY t.product_id, t.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer tags.Close()

	for tags.Next() {
		var (
			id  int64
			tag string
		)

		if err := tags.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}

		if i, ok := index[id]; ok {
			out[i].Tags = append(out[i].Tags, tag)
		}
	}

	if err := tags.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}

	return out, nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, p catalog.Product) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE products SET name = ?, description = ?, price = ?, discount_price = ?, discount_start = ?,
			discount_end = ?, stock = ?, category = ?, image_url = ?, is_available = ?
		WHERE id = ? AND is_deleted = FALSE`,
		p.Name, p.Description, p.Price, nullDecimal(p.DiscountPrice), p.DiscountStart,
		p.DiscountEnd, p.Stock, p.Category, p.ImageURL, p.IsAvailable, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	if err := rowsGone(res, "product", p.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM product_tags WHERE product_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}

	if err := writeTags(ctx, tx, p.ID, p.Tags); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit product: %w", err)
	}

	return nil
}

// AdjustStock applies delta with a single guarded UPDATE and reads the result back in the
// same transaction.
func (c *Catalog) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + ?
		WHERE id = ? AND is_deleted = FALSE AND stock + ? >= 0`,
		delta, id, delta,
	)
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	if err := rowsGone(res, "product", id); err != nil {
		var stock int

		err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ? AND is_deleted = FALSE`, id).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("product", id)
		}

		if err != nil {
			return 0, fmt.Errorf("read stock: %w", err)
		}

		return 0, fmt.Errorf("product %d stock %d delta %d: %w", id, stock, delta, catalog.ErrInsufficientStock)
	}

	var stock int
	if err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, id).Scan(&stock); err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit stock: %w", err)
	}

	return stock, nil
}

func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `UPDATE products SET is_deleted = TRUE WHERE id = ? AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	return rowsGone(res, "product", id)
}

const reviewColumns = `id, product_id, user_id, user_name, rating, comment, is_verified_purchase, created_at`

func (c *Catalog) Reviews(ctx context.Context, productID int64) ([]catalog.Review, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	out := make([]catalog.Review, 0)

	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}

	return out, nil
}

func (c *Catalog) Review(ctx context.Context, productID, reviewID int64) (catalog.Review, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ? AND product_id = ?`, reviewID, productID)

	r, err := scanReview(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Review{}, notFound("review", reviewID)
		}

		return catalog.Review{}, err
	}

	return r, nil
}

func (c *Catalog) CreateReview(ctx context.Context, r *catalog.Review) error {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO reviews (product_id, user_id, user_name, rating, comment, is_verified_purchase, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ? FROM products WHERE id = ? AND is_deleted = FALSE`,
		r.ProductID, r.UserID, r.UserName, r.Rating, r.Comment, r.IsVerifiedPurchase, r.CreatedAt, r.ProductID,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	if err := rowsGone(res, "product", r.ProductID); err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("review id: %w", err)
	}

	r.ID = id

	return nil
}

func (c *Catalog) UpdateReview(ctx context.Context, r catalog.Review) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE reviews SET rating = ?, comment = ? WHERE id = ? AND product_id = ?`,
		r.Rating, r.Comment, r.ID, r.ProductID,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}

	return rowsGone(res, "review", r.ID)
}

func (c *Catalog) DeleteReview(ctx context.Context, productID, reviewID int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM reviews WHERE id = ? AND product_id = ?`, reviewID, productID)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}

	return rowsGone(res, "review", reviewID)
}

type scanner interface{ Scan(dest ...any) error }

func scanReview(s scanner) (catalog.Review, error) {
	var r catalog.Review
	if err := s.Scan(&r.ID, &r.ProductID, &r.UserID, &r.UserName, &r.Rating, &r.Comment, &r.IsVerifiedPurchase, &r.CreatedAt); err != nil {
		return catalog.Review{}, fmt.Errorf("scan review: %w", err)
	}

	return r, nil
}

func writeTags(ctx context.Context, tx *sql.Tx, productID int64, tags []string) error {
	for i, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO product_tags (product_id, tag, position) VALUES (?, ?, ?)`, productID, tag, i); err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("product %d tag %q: %w", productID, tag, berr.ErrConflict)
			}

			return fmt.Errorf("insert tag: %w", err)
		}
	}

	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}

	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
