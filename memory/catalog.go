package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/next-trace/scg-api-bus/catalog"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Catalog is an in-memory catalog.Repository.
type Catalog struct {
	mu         sync.RWMutex
	products   map[int64]catalog.Product
	deleted    map[int64]bool
	reviews    map[int64]catalog.Review
	nextID     int64
	nextReview int64
}

var _ catalog.Repository = (*Catalog)(nil)

// NewCatalog creates an empty repository.
func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[int64]catalog.Product),
		deleted:  make(map[int64]bool),
		reviews:  make(map[int64]catalog.Review),
	}
}

// Put stores p under p.ID as is, for seeding fixtures.
func (c *Catalog) Put(p catalog.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products[p.ID] = cloneProduct(p)
	delete(c.deleted, p.ID)

	if p.ID > c.nextID {
		c.nextID = p.ID
	}
}

func (c *Catalog) CreateProduct(_ context.Context, p *catalog.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	p.ID = c.nextID
	c.products[p.ID] = cloneProduct(*p)

	return nil
}

func (c *Catalog) Product(_ context.Context, id int64) (catalog.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, err := c.live(id)
	if err != nil {
		return catalog.Product{}, err
	}

	return c.withRatings(p), nil
}

func (c *Catalog) Products(_ context.Context, f catalog.Filter) ([]catalog.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]catalog.Product, 0, len(c.products))

	for id, p := range c.products {
		if c.deleted[id] {
			continue
		}

		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}

		out = append(out, c.withRatings(p))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (c *Catalog) UpdateProduct(_ context.Context, p catalog.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, err := c.live(p.ID)
	if err != nil {
		return err
	}

	p.CreatedAt = old.CreatedAt
	c.products[p.ID] = cloneProduct(p)

	return nil
}

func (c *Catalog) AdjustStock(_ context.Context, id int64, delta int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.live(id)
	if err != nil {
		return 0, err
	}

	if p.Stock+delta < 0 {
		return 0, fmt.Errorf("product %d stock %d delta %d: %w", id, p.Stock, delta, catalog.ErrInsufficientStock)
	}

	p.Stock += delta
	c.products[id] = p

	return p.Stock, nil
}

func (c *Catalog) DeleteProduct(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.live(id); err != nil {
		return err
	}

	c.deleted[id] = true

	return nil
}

func (c *Catalog) Reviews(_ context.Context, productID int64) ([]catalog.Review, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]catalog.Review, 0)

	for _, r := range c.reviews {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (c *Catalog) Review(_ context.Context, productID, reviewID int64) (catalog.Review, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.reviews[reviewID]
	if !ok || r.ProductID != productID {
		return catalog.Review{}, fmt.Errorf("review %d: %w", reviewID, berr.ErrNotFound)
	}

	return r, nil
}

func (c *Catalog) CreateReview(_ context.Context, r *catalog.Review) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.live(r.ProductID); err != nil {
		return err
	}

	c.nextReview++
	r.ID = c.nextReview
	c.reviews[r.ID] = *r

	return nil
}

func (c *Catalog) UpdateReview(_ context.Context, r catalog.Review) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.reviews[r.ID]
	if !ok || old.ProductID != r.ProductID {
		return fmt.Errorf("review %d: %w", r.ID, berr.ErrNotFound)
	}

	c.reviews[r.ID] = r

	return nil
}

func (c *Catalog) DeleteReview(_ context.Context, productID, reviewID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reviews[reviewID]
	if !ok || r.ProductID != productID {
		return fmt.Errorf("review %d: %w", reviewID, berr.ErrNotFound)
	}

	delete(c.reviews, reviewID)

	return nil
}

// live returns a copy of a non-deleted product. Callers hold c.mu.
func (c *Catalog) live(id int64) (catalog.Product, error) {
	p, ok := c.products[id]
	if !ok || c.deleted[id] {
		return catalog.Product{}, fmt.Errorf("product %d: %w", id, berr.ErrNotFound)
	}

	return cloneProduct(p), nil
}

// withRatings fills the derived review aggregates. Callers hold c.mu.
func (c *Catalog) withRatings(p catalog.Product) catalog.Product {
	var sum, n int

	for _, r := range c.reviews {
		if r.ProductID == p.ID {
			sum += r.Rating
			n++
		}
	}

	p.ReviewCount = n
	p.AverageRating = 0

	if n > 0 {
		p.AverageRating = float64(sum) / float64(n)
	}

	return cloneProduct(p)
}

func cloneProduct(p catalog.Product) catalog.Product {
	p.Tags = append([]string(nil), p.Tags...)
	return p
}
