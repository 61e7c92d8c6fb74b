package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	cbus "github.com/next-trace/scg-api-bus/contract/bus"
	"github.com/next-trace/scg-api-bus/contract/catalog"
	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Default remote call budgets.
const (
	DefaultLookupTimeout = 3 * time.Second
	DefaultAdjustTimeout = 3 * time.Second
)

// DefaultRetryQueue receives deferred stock adjustments.
const DefaultRetryQueue = "api.catalog.request"

// ItemInput is one requested line.
type ItemInput struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// CreateInput is the order creation request.
type CreateInput struct {
	UserID          int64       `json:"userId"`
	ShippingAddress string      `json:"shippingAddress"`
	Items           []ItemInput `json:"orderItems"`
}

// Service runs the order use cases.
type Service struct {
	repo    Repository
	catalog catalog.Client

	events     cbus.EventPublisher
	retry      cbus.JobEnqueuer
	retryQueue string
	retryReply string

	lookupTimeout time.Duration
	adjustTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes Created and StatusUpdated through p.
func WithEvents(p cbus.EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithStockRetry enqueues failed stock adjustments as deferred requests on queue.
// An empty queue selects DefaultRetryQueue.
func WithStockRetry(e cbus.JobEnqueuer, queue string) Option {
	return func(s *Service) {
		if queue == "" {
			queue = DefaultRetryQueue
		}

		s.retry, s.retryQueue = e, queue
	}
}

// WithRetryReplies sends the catalog's answers to enqueued stock adjustments to replyTo.
func WithRetryReplies(replyTo string) Option { return func(s *Service) { s.retryReply = replyTo } }

// WithTimeouts overrides the per-call budgets of product lookup and stock adjustment.
func WithTimeouts(lookup, adjust time.Duration) Option {
	return func(s *Service) {
		if lookup > 0 {
			s.lookupTimeout = lookup
		}

		if adjust > 0 {
			s.adjustTimeout = adjust
		}
	}
}

// WithLogger sets the logger. A nil logger falls back to slog.Default.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService constructs the order service.
func NewService(repo Repository, products catalog.Client, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		catalog:       products,
		lookupTimeout: DefaultLookupTimeout,
		adjustTimeout: DefaultAdjustTimeout,
		now:           time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Create validates every line against fresh catalog snapshots, persists the order in one
// transaction and then performs the post-commit side effects. Nothing after the commit can
// fail the call.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if err := in.validate(); err != nil {
		return Order{}, err
	}

	lines := make([]Line, 0, len(in.Items))

	// Lines naming the same product share one decrement, so stock is checked against the sum.
	requested := make(map[int64]int, len(in.Items))

	for _, it := range in.Items {
		snap, err := s.lookup(ctx, it.ProductID)
		if err != nil {
			return Order{}, err
		}

		requested[it.ProductID] += it.Quantity
		want := requested[it.ProductID]

		if !snap.IsAvailable {
			return Order{}, berr.Newf(berr.ErrValidation,
				"Product '%s' is not available: requested %d, available %d", snap.Name, want, snap.Stock)
		}

		if snap.Stock < want {
			return Order{}, berr.Newf(berr.ErrValidation,
				"Product '%s' has insufficient stock: requested %d, available %d", snap.Name, want, snap.Stock)
		}

		lines = append(lines, Line{
			ProductID:   it.ProductID,
			ProductName: snap.Name,
			Quantity:    it.Quantity,
			UnitPrice:   snap.UnitPrice,
			Subtotal:    snap.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
	}

	now := s.now().UTC()
	o := Order{
		UserID:          in.UserID,
		Status:          StatusPending,
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		Items:           lines,
		TotalAmount:     Total(lines),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, &o); err != nil {
		return Order{}, fmt.Errorf("persist order: %w", err)
	}

	// The order is committed; the caller must get it back even if ctx is cancelled now.
	after := context.WithoutCancel(ctx)

	for _, adj := range stockAdjustments(o) {
		s.decrementStock(after, o.ID, adj)
	}

	s.publish(after, newCreated(o), "order_id", o.ID)

	s.logger.Info("order created",
		"order_id", o.ID, "user_id", o.UserID, "total", o.TotalAmount.String(),
		"correlation_id", cbus.CorrelationID(ctx))

	return o, nil
}

func (in CreateInput) validate() error {
	if in.UserID <= 0 {
		return berr.Newf(berr.ErrValidation, "Invalid user ID")
	}

	if len(in.Items) == 0 {
		return berr.Newf(berr.ErrValidation, "Order must contain at least one item")
	}

	for i, it := range in.Items {
		if it.ProductID <= 0 {
			return berr.Newf(berr.ErrValidation, "Invalid product ID in item %d", i+1)
		}

		if it.Quantity <= 0 {
			return berr.Newf(berr.ErrValidation, "Quantity for product %d must be positive", it.ProductID)
		}
	}

	return nil
}

func (s *Service) lookup(ctx context.Context, productID int64) (catalog.ProductSnapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	snap, err := s.catalog.Product(cctx, productID)
	switch {
	case err == nil:
		return snap, nil
	case errors.Is(err, berr.ErrNotFound):
		return catalog.ProductSnapshot{}, berr.Newf(berr.ErrValidation, "Product with ID %d not found", productID)
	default:
		s.logger.Error("product lookup failed", "product_id", productID, "err", err)
		return catalog.ProductSnapshot{}, berr.Newf(berr.ErrUpstream, "Catalog lookup for product %d failed", productID)
	}
}

// StockKey is the idempotency key of the stock decrement for one order line.
func StockKey(orderID, productID int64) string {
	return fmt.Sprintf("order-%d-product-%d", orderID, productID)
}

// stockAdjustments folds the order lines into one decrement per product, in line order.
func stockAdjustments(o Order) []catalog.StockAdjustment {
	var out []catalog.StockAdjustment

	idx := make(map[int64]int, len(o.Items))

	for _, l := range o.Items {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Delta -= l.Quantity
			continue
		}

		idx[l.ProductID] = len(out)
		out = append(out, catalog.StockAdjustment{
			ProductID: l.ProductID,
			Delta:     -l.Quantity,
			Key:       StockKey(o.ID, l.ProductID),
		})
	}

	return out
}

func (s *Service) decrementStock(ctx context.Context, orderID int64, adj catalog.StockAdjustment) {
	cctx, cancel := context.WithTimeout(ctx, s.adjustTimeout)
	err := s.catalog.AdjustStock(cctx, adj)
	cancel()

	if err == nil {
		return
	}

	s.logger.Warn("stock decrement failed", "order_id", orderID, "product_id", adj.ProductID, "delta", adj.Delta, "err", err)

	if s.retry == nil {
		return
	}

	if err := s.retry.EnqueueCommand(ctx, stockCommand(adj), cbus.QueueOptions{Queue: s.retryQueue, ReplyTo: s.retryReply}); err != nil {
		s.logger.Error("stock decrement retry not enqueued", "order_id", orderID, "product_id", adj.ProductID, "err", err)
	}
}

// stockCommand is the deferred PATCH request equivalent to adj.
func stockCommand(adj catalog.StockAdjustment) cbus.Command {
	body, _ := json.Marshal(adj.Delta)

	return cbus.Command{
		Method:         http.MethodPatch,
		Path:           fmt.Sprintf("/api/products/%d/stock", adj.ProductID),
		Body:           body,
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: adj.Key,
	}
}

func (s *Service) publish(ctx context.Context, e cbus.IntegrationEvent, attrs ...any) {
	if s.events == nil {
		return
	}

	if err := s.events.PublishIntegration(ctx, e, cbus.PublishOptions{}); err != nil {
		s.logger.Warn("event publish failed", append(attrs, "topic", e.Topic(), "err", err)...)
	}
}

// Get returns a live order.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, notFound(id, err)
	}

	return o, nil
}

// List returns all live orders.
func (s *Service) List(ctx context.Context) ([]Order, error) { return s.repo.List(ctx) }

// ListByUser returns the live orders of one user.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// UpdateStatus applies a guarded status transition.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string) (Order, error) {
	to, ok := ParseStatus(status)
	if !ok {
		return Order{}, berr.Newf(berr.ErrValidation, "Invalid order status '%s'", status)
	}

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, notFound(id, err)
	}

	from := o.Status
	if !from.CanTransition(to) {
		return Order{}, berr.Newf(berr.ErrConflict, "Cannot change order status from %s to %s", from, to)
	}

	now := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, from, to, now); err != nil {
		if errors.Is(err, berr.ErrConflict) {
			return Order{}, berr.Newf(berr.ErrConflict, "Order %d was modified concurrently", id)
		}

		return Order{}, notFound(id, err)
	}

	o.Status, o.UpdatedAt = to, now

	s.publish(context.WithoutCancel(ctx), StatusUpdated{
		EventID:    uuid.NewString(),
		OrderID:    id,
		OldStatus:  from,
		NewStatus:  to,
		OccurredAt: now,
	}, "order_id", id)

	return o, nil
}

// Delete soft-deletes an order.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(id, err)
	}

	return nil
}

func notFound(id int64, err error) error {
	if errors.Is(err, berr.ErrNotFound) {
		return berr.Newf(berr.ErrNotFound, "Order with ID %d not found", id)
	}

	return err
}
