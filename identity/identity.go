// Package identity owns user profiles. Credentials and token issuance are handled elsewhere.
package identity

import (
	"context"
	"time"
)

// Role is a user's authorization role.
type Role string

const (
	RoleCustomer Role = "Customer"
	RoleAdmin    Role = "Admin"
	RoleManager  Role = "Manager"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleManager:
		return true
	default:
		return false
	}
}

// User is a user profile.
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	PhoneNumber *string   `json:"phoneNumber"`
	IsActive    bool      `json:"isActive"`
	Role        Role      `json:"role"`
	AvatarURL   *string   `json:"avatarUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Repository persists users. Missing or soft-deleted users are reported with errors
// wrapping contract/errors.ErrNotFound; username or email collisions with ErrConflict.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	User(ctx context.Context, id int64) (User, error)
	Users(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id int64) error
}
