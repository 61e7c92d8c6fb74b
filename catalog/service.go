package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// ErrInsufficientStock is returned by Repository.AdjustStock when stock would drop below zero.
var ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", berr.ErrValidation)

// ProductInput creates a product.
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	ImageURL    *string         `json:"imageUrl"`
	Tags        []string        `json:"tags"`
}

// ProductUpdate changes the non-nil fields of a product.
type ProductUpdate struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Category    *string          `json:"category"`
	ImageURL    *string          `json:"imageUrl"`
	IsAvailable *bool            `json:"isAvailable"`
	Tags        []string         `json:"tags"`
}

// DiscountInput replaces the discount of a product. A nil price clears it.
type DiscountInput struct {
	DiscountPrice *decimal.Decimal `json:"discountPrice"`
	DiscountStart *time.Time       `json:"discountStartDate"`
	DiscountEnd   *time.Time       `json:"discountEndDate"`
}

// ReviewInput creates a review.
type ReviewInput struct {
	UserID             int64  `json:"userId"`
	UserName           string `json:"userName"`
	Rating             int    `json:"rating"`
	Comment            string `json:"comment"`
	IsVerifiedPurchase bool   `json:"isVerifiedPurchase"`
}

// ReviewUpdate changes the non-nil fields of a review.
type ReviewUpdate struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment"`
}

// Service runs the catalog use cases.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the catalog service. A nil logger falls back to slog.Default.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetClock replaces time.Now; it is meant for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) view(p Product) Product {
	p.HasDiscount = p.DiscountActive(s.now())
	if p.Tags == nil {
		p.Tags = []string{}
	}

	return p
}

// List returns live products matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	ps, err := s.repo.Products(ctx, f)
	if err != nil {
		return nil, err
	}

	for i := range ps {
		ps[i] = s.view(ps[i])
	}

	return ps, nil
}

// Get returns one live product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	p, err := s.repo.Product(ctx, id)
	if err != nil {
		return Product{}, productNotFound(id, err)
	}

	return s.view(p), nil
}

// Create adds a product. New products are available.
func (s *Service) Create(ctx context.Context, in ProductInput) (Product, error) {
	p := Product{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Category:    strings.TrimSpace(in.Category),
		ImageURL:    in.ImageURL,
		IsAvailable: true,
		Tags:        normalizeTags(in.Tags),
		CreatedAt:   s.now().UTC(),
	}

	if err := validateProduct(p); err != nil {
		return Product{}, err
	}

	if err := s.repo.CreateProduct(ctx, &p); err != nil {
		return Product{}, fmt.Errorf("create product: %w", err)
	}

	return s.view(p), nil
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id int64, in ProductUpdate) (Product, error) {
	p, err := s.repo.Product(ctx, id)
	if err != nil {
		return Product{}, productNotFound(id, err)
	}

	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}

	if in.Description != nil {
		p.Description = *in.Description
	}

	if in.Price != nil {
		p.Price = *in.Price
	}

	if in.Stock != nil {
		p.Stock = *in.Stock
	}

	if in.Category != nil {
		p.Category = strings.TrimSpace(*in.Category)
	}

	if in.ImageURL != nil {
		p.ImageURL = in.ImageURL
	}

	if in.IsAvailable != nil {
		p.IsAvailable = *in.IsAvailable
	}

	if in.Tags != nil {
		p.Tags = normalizeTags(in.Tags)
	}

	if err := validateProduct(p); err != nil {
		return Product{}, err
	}

	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return Product{}, productNotFound(id, err)
	}

	return s.view(p), nil
}

// AdjustStock adds delta to the product stock. Stock never drops below zero.
func (s *Service) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	stock, err := s.repo.AdjustStock(ctx, id, delta)
	switch {
	case err == nil:
		s.logger.Info("stock adjusted", "product_id", id, "delta", delta, "stock", stock)
		return stock, nil
	case errors.Is(err, ErrInsufficientStock):
		return 0, berr.Newf(berr.ErrValidation, "Insufficient stock for product %d: adjustment %d", id, delta)
	default:
		return 0, productNotFound(id, err)
	}
}

// Delete soft-deletes a product.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return productNotFound(id, err)
	}

	return nil
}

// SetDiscount replaces the discount of a product.
func (s *Service) SetDiscount(ctx context.Context, id int64, in DiscountInput) (Product, error) {
	if in.DiscountPrice != nil && in.DiscountPrice.IsNegative() {
		return Product{}, berr.Newf(berr.ErrValidation, "Discount price must not be negative")
	}

	if in.DiscountStart != nil && in.DiscountEnd != nil && in.DiscountEnd.Before(*in.DiscountStart) {
		return Product{}, berr.Newf(berr.ErrValidation, "Discount end date must not precede start date")
	}

	p, err := s.repo.Product(ctx, id)
	if err != nil {
		return Product{}, productNotFound(id, err)
	}

	if in.DiscountPrice != nil && in.DiscountPrice.GreaterThanOrEqual(p.Price) {
		return Product{}, berr.Newf(berr.ErrValidation, "Discount price must be lower than the price")
	}

	p.DiscountPrice, p.DiscountStart, p.DiscountEnd = in.DiscountPrice, in.DiscountStart, in.DiscountEnd

	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return Product{}, productNotFound(id, err)
	}

	return s.view(p), nil
}

// AddTags merges tags into the product tag set.
func (s *Service) AddTags(ctx context.Context, id int64, tags []string) (Product, error) {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return Product{}, berr.Newf(berr.ErrValidation, "At least one tag is required")
	}

	p, err := s.repo.Product(ctx, id)
	if err != nil {
		return Product{}, productNotFound(id, err)
	}

	p.Tags = normalizeTags(append(p.Tags, tags...))

	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return Product{}, productNotFound(id, err)
	}

	return s.view(p), nil
}

// Reviews lists the reviews of a live product.
func (s *Service) Reviews(ctx context.Context, productID int64) ([]Review, error) {
	if _, err := s.repo.Product(ctx, productID); err != nil {
		return nil, productNotFound(productID, err)
	}

	return s.repo.Reviews(ctx, productID)
}

// AddReview creates a review on a live product.
func (s *Service) AddReview(ctx context.Context, productID int64, in ReviewInput) (Review, error) {
	if in.UserID <= 0 {
		return Review{}, berr.Newf(berr.ErrValidation, "Invalid user ID")
	}

	if err := validateRating(in.Rating); err != nil {
		return Review{}, err
	}

	if _, err := s.repo.Product(ctx, productID); err != nil {
		return Review{}, productNotFound(productID, err)
	}

	r := Review{
		ProductID:          productID,
		UserID:             in.UserID,
		UserName:           strings.TrimSpace(in.UserName),
		Rating:             in.Rating,
		Comment:            in.Comment,
		IsVerifiedPurchase: in.IsVerifiedPurchase,
		CreatedAt:          s.now().UTC(),
	}

	if err := s.repo.CreateReview(ctx, &r); err != nil {
		return Review{}, fmt.Errorf("create review: %w", err)
	}

	return r, nil
}

// UpdateReview changes rating and/or comment of a review.
func (s *Service) UpdateReview(ctx context.Context, productID, reviewID int64, in ReviewUpdate) (Review, error) {
	r, err := s.repo.Review(ctx, productID, reviewID)
	if err != nil {
		return Review{}, reviewNotFound(reviewID, err)
	}

	if in.Rating != nil {
		if err := validateRating(*in.Rating); err != nil {
			return Review{}, err
		}

		r.Rating = *in.Rating
	}

	if in.Comment != nil {
		r.Comment = *in.Comment
	}

	if err := s.repo.UpdateReview(ctx, r); err != nil {
		return Review{}, reviewNotFound(reviewID, err)
	}

	return r, nil
}

// DeleteReview removes a review.
func (s *Service) DeleteReview(ctx context.Context, productID, reviewID int64) error {
	if err := s.repo.DeleteReview(ctx, productID, reviewID); err != nil {
		return reviewNotFound(reviewID, err)
	}

	return nil
}

func validateProduct(p Product) error {
	switch {
	case p.Name == "":
		return berr.Newf(berr.ErrValidation, "Product name is required")
	case p.Price.IsNegative():
		return berr.Newf(berr.ErrValidation, "Price must not be negative")
	case p.Stock < 0:
		return berr.Newf(berr.ErrValidation, "Stock must not be negative")
	}

	return nil
}

func validateRating(r int) error {
	if r < 1 || r > 5 {
		return berr.Newf(berr.ErrValidation, "Rating must be between 1 and 5")
	}

	return nil
}

// normalizeTags trims, lower-cases, de-duplicates and sorts tags.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))

	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}

		if _, dup := seen[t]; dup {
			continue
		}

		seen[t] = struct{}{}
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}

func productNotFound(id int64, err error) error {
	if errors.Is(err, berr.ErrNotFound) {
		return berr.Newf(berr.ErrNotFound, "Product with ID %d not found", id)
	}

	return err
}

func reviewNotFound(id int64, err error) error {
	if errors.Is(err, berr.ErrNotFound) {
		return berr.Newf(berr.ErrNotFound, "Review with ID %d not found", id)
	}

	return err
}
