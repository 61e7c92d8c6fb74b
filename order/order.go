// Package order owns the order aggregate, its status machine and the creation workflow.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// transitions lists the allowed edges of the status machine.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}

	return "", false
}

// CanTransition reports whether the status machine allows s → to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}

	return false
}

// Line is one order line. ProductName and UnitPrice are snapshotted at creation time.
type Line struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subTotal"`
}

// Order is the aggregate persisted by the order service.
type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"userId"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shippingAddress"`
	Items           []Line          `json:"orderItems"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Total is the sum of line subtotals.
func Total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal)
	}

	return sum
}

// Repository persists orders. Implementations report missing orders with errors wrapping
// contract/errors.ErrNotFound and lost status races with ErrConflict.
type Repository interface {
	// Create stores the order and its lines atomically and assigns their ids.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context) ([]Order, error)
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	// UpdateStatus moves the order from → to only if its current status is from.
	UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error
	// Delete marks the order deleted; deleted orders are invisible to reads.
	Delete(ctx context.Context, id int64) error
}
