package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event topics published by the order service.
const (
	TopicCreated       = "order.created"
	TopicStatusUpdated = "order.status.updated"
)

// CreatedItem is the line summary carried by Created.
type CreatedItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// Created is published after an order has been committed.
type Created struct {
	EventID     string          `json:"eventId"`
	OrderID     int64           `json:"orderId"`
	UserID      int64           `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []CreatedItem   `json:"orderItems"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

func (Created) Topic() string { return TopicCreated }

// StatusUpdated is published after a status transition has been committed.
type StatusUpdated struct {
	EventID    string    `json:"eventId"`
	OrderID    int64     `json:"orderId"`
	OldStatus  Status    `json:"oldStatus"`
	NewStatus  Status    `json:"newStatus"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (StatusUpdated) Topic() string { return TopicStatusUpdated }

func newCreated(o Order) Created {
	items := make([]CreatedItem, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, CreatedItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	return Created{
		EventID:     uuid.NewString(),
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount,
		Items:       items,
		OccurredAt:  o.CreatedAt,
	}
}
