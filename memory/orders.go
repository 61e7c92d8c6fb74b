package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/order"
)

// Orders is an in-memory order.Repository.
type Orders struct {
	mu       sync.RWMutex
	rows     map[int64]order.Order
	deleted  map[int64]bool
	nextID   int64
	nextLine int64
}

var _ order.Repository = (*Orders)(nil)

// NewOrders creates an empty repository.
func NewOrders() *Orders {
	return &Orders{rows: make(map[int64]order.Order), deleted: make(map[int64]bool)}
}

func (r *Orders) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	o.ID = r.nextID

	items := make([]order.Line, len(o.Items))
	for i, l := range o.Items {
		r.nextLine++
		l.ID = r.nextLine
		items[i] = l
	}

	o.Items = items
	r.rows[o.ID] = cloneOrder(*o)

	return nil
}

func (r *Orders) Get(_ context.Context, id int64) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.rows[id]
	if !ok || r.deleted[id] {
		return order.Order{}, fmt.Errorf("order %d: %w", id, berr.ErrNotFound)
	}

	return cloneOrder(o), nil
}

func (r *Orders) List(context.Context) ([]order.Order, error) {
	return r.filter(func(order.Order) bool { return true }), nil
}

func (r *Orders) ListByUser(_ context.Context, userID int64) ([]order.Order, error) {
	return r.filter(func(o order.Order) bool { return o.UserID == userID }), nil
}

func (r *Orders) filter(keep func(order.Order) bool) []order.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]order.Order, 0, len(r.rows))

	for id, o := range r.rows {
		if !r.deleted[id] && keep(o) {
			out = append(out, cloneOrder(o))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (r *Orders) UpdateStatus(_ context.Context, id int64, from, to order.Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.rows[id]
	if !ok || r.deleted[id] {
		return fmt.Errorf("order %d: %w", id, berr.ErrNotFound)
	}

	if o.Status != from {
		return fmt.Errorf("order %d status is %s: %w", id, o.Status, berr.ErrConflict)
	}

	o.Status, o.UpdatedAt = to, at
	r.rows[id] = o

	return nil
}

func (r *Orders) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok || r.deleted[id] {
		return fmt.Errorf("order %d: %w", id, berr.ErrNotFound)
	}

	r.deleted[id] = true

	return nil
}

// Count returns the number of stored orders, deleted ones included.
func (r *Orders) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rows)
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.Line(nil), o.Items...)
	return o
}
