// Package catalog owns products, their stock, discounts, tags and reviews.
package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entity. AverageRating and ReviewCount are derived from reviews
// by the repository on read.
type Product struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discountPrice"`
	DiscountStart *time.Time       `json:"discountStartDate"`
	DiscountEnd   *time.Time       `json:"discountEndDate"`
	HasDiscount   bool             `json:"hasDiscount"`
	Stock         int              `json:"stock"`
	Category      string           `json:"category"`
	ImageURL      *string          `json:"imageUrl"`
	IsAvailable   bool             `json:"isAvailable"`
	Tags          []string         `json:"tags"`
	AverageRating float64          `json:"averageRating"`
	ReviewCount   int              `json:"reviewCount"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// DiscountActive reports whether a discount price applies at now. Open window bounds
// are unbounded.
func (p Product) DiscountActive(now time.Time) bool {
	if p.DiscountPrice == nil {
		return false
	}

	if p.DiscountStart != nil && now.Before(*p.DiscountStart) {
		return false
	}

	if p.DiscountEnd != nil && now.After(*p.DiscountEnd) {
		return false
	}

	return true
}

// Review is a product review.
type Review struct {
	ID                 int64     `json:"id"`
	ProductID          int64     `json:"productId"`
	UserID             int64     `json:"userId"`
	UserName           string    `json:"userName"`
	Rating             int       `json:"rating"`
	Comment            string    `json:"comment"`
	IsVerifiedPurchase bool      `json:"isVerifiedPurchase"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Filter narrows product listings. The zero value lists every live product.
type Filter struct {
	Category string
}

// Repository persists products and reviews. Missing rows are reported with errors
// wrapping contract/errors.ErrNotFound; soft-deleted products count as missing.
type Repository interface {
	CreateProduct(ctx context.Context, p *Product) error
	Product(ctx context.Context, id int64) (Product, error)
	Products(ctx context.Context, f Filter) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) error
	// AdjustStock adds delta to the stock atomically and returns the new stock. It fails
	// with ErrInsufficientStock, leaving the row untouched, when the result would be negative.
	AdjustStock(ctx context.Context, id int64, delta int) (int, error)
	DeleteProduct(ctx context.Context, id int64) error

	Reviews(ctx context.Context, productID int64) ([]Review, error)
	Review(ctx context.Context, productID, reviewID int64) (Review, error)
	CreateReview(ctx context.Context, r *Review) error
	UpdateReview(ctx context.Context, r Review) error
	DeleteReview(ctx context.Context, productID, reviewID int64) error
}
