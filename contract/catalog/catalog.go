// Package catalog is the contract between the order orchestrator and the catalog service.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProductSnapshot is the view of a product fetched fresh for every order attempt.
// It is never cached or persisted by its consumers.
type ProductSnapshot struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsAvailable bool            `json:"isAvailable"`
}

// StockAdjustment changes a product's stock by Delta. Key makes the adjustment idempotent
// on the catalog side.
type StockAdjustment struct {
	ProductID int64
	Delta     int
	Key       string
}

// Client is the remote catalog as seen by other services.
// Product returns an error wrapping errors.ErrNotFound when the product does not exist,
// and errors.ErrUpstream when the catalog could not be reached.
type Client interface {
	Product(ctx context.Context, id int64) (ProductSnapshot, error)
	AdjustStock(ctx context.Context, adj StockAdjustment) error
}
