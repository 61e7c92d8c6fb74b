package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/identity"
)

// Users is an in-memory identity.Repository.
type Users struct {
	mu      sync.RWMutex
	rows    map[int64]identity.User
	deleted map[int64]bool
	nextID  int64
}

var _ identity.Repository = (*Users)(nil)

// NewUsers creates an empty repository.
func NewUsers() *Users {
	return &Users{rows: make(map[int64]identity.User), deleted: make(map[int64]bool)}
}

func (r *Users) CreateUser(_ context.Context, u *identity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.unique(*u); err != nil {
		return err
	}

	r.nextID++
	u.ID = r.nextID
	r.rows[u.ID] = *u

	return nil
}

func (r *Users) User(_ context.Context, id int64) (identity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.rows[id]
	if !ok || r.deleted[id] {
		return identity.User{}, fmt.Errorf("user %d: %w", id, berr.ErrNotFound)
	}

	return u, nil
}

func (r *Users) Users(context.Context) ([]identity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]identity.User, 0, len(r.rows))

	for id, u := range r.rows {
		if !r.deleted[id] {
			out = append(out, u)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *Users) UpdateUser(_ context.Context, u identity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[u.ID]; !ok || r.deleted[u.ID] {
		return fmt.Errorf("user %d: %w", u.ID, berr.ErrNotFound)
	}

	if err := r.unique(u); err != nil {
		return err
	}

	r.rows[u.ID] = u

	return nil
}

func (r *Users) DeleteUser(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok || r.deleted[id] {
		return fmt.Errorf("user %d: %w", id, berr.ErrNotFound)
	}

	r.deleted[id] = true

	return nil
}

// unique rejects username or email collisions with other users, deleted ones included.
func (r *Users) unique(u identity.User) error {
	for id, other := range r.rows {
		if id == u.ID {
			continue
		}

		if strings.EqualFold(other.Username, u.Username) || strings.EqualFold(other.Email, u.Email) {
			return fmt.Errorf("user %q: %w", u.Username, berr.ErrConflict)
		}
	}

	return nil
}
