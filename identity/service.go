package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// UserInput creates a user.
type UserInput struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	PhoneNumber *string `json:"phoneNumber"`
	Role        *Role   `json:"role"`
	AvatarURL   *string `json:"avatarUrl"`
}

// UserUpdate changes the non-nil fields of a user.
type UserUpdate struct {
	Email       *string `json:"email"`
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	PhoneNumber *string `json:"phoneNumber"`
	IsActive    *bool   `json:"isActive"`
	Role        *Role   `json:"role"`
	AvatarURL   *string `json:"avatarUrl"`
}

// Service runs the identity use cases.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the identity service. A nil logger falls back to slog.Default.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{repo: repo, logger: logger, now: time.Now}
}

// List returns live users.
func (s *Service) List(ctx context.Context) ([]User, error) { return s.repo.Users(ctx) }

// Get returns a live user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	u, err := s.repo.User(ctx, id)
	if err != nil {
		return User{}, userNotFound(id, err)
	}

	return u, nil
}

// Create registers a user profile. Users start active with the Customer role unless a role is given.
func (s *Service) Create(ctx context.Context, in UserInput) (User, error) {
	u := User{
		Username:    strings.TrimSpace(in.Username),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		PhoneNumber: in.PhoneNumber,
		IsActive:    true,
		Role:        RoleCustomer,
		AvatarURL:   in.AvatarURL,
		CreatedAt:   s.now().UTC(),
	}

	if in.Role != nil {
		u.Role = *in.Role
	}

	if u.Username == "" {
		return User{}, berr.Newf(berr.ErrValidation, "Username is required")
	}

	if err := validate(u); err != nil {
		return User{}, err
	}

	if err := s.repo.CreateUser(ctx, &u); err != nil {
		return User{}, conflict(err)
	}

	s.logger.Info("user created", "user_id", u.ID)

	return u, nil
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id int64, in UserUpdate) (User, error) {
	u, err := s.repo.User(ctx, id)
	if err != nil {
		return User{}, userNotFound(id, err)
	}

	if in.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}

	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}

	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}

	if in.PhoneNumber != nil {
		u.PhoneNumber = in.PhoneNumber
	}

	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}

	if in.Role != nil {
		u.Role = *in.Role
	}

	if in.AvatarURL != nil {
		u.AvatarURL = in.AvatarURL
	}

	if err := validate(u); err != nil {
		return User{}, err
	}

	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return User{}, userNotFound(id, conflict(err))
	}

	return u, nil
}

// Delete soft-deletes a user.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return userNotFound(id, err)
	}

	return nil
}

func validate(u User) error {
	if _, err := mail.ParseAddress(u.Email); err != nil || !strings.Contains(u.Email, "@") {
		return berr.Newf(berr.ErrValidation, "Invalid email address")
	}

	if !u.Role.Valid() {
		return berr.Newf(berr.ErrValidation, "Invalid role '%s'", u.Role)
	}

	return nil
}

func userNotFound(id int64, err error) error {
	if errors.Is(err, berr.ErrNotFound) {
		return berr.Newf(berr.ErrNotFound, "User with ID %d not found", id)
	}

	return err
}

func conflict(err error) error {
	if errors.Is(err, berr.ErrConflict) {
		return berr.Newf(berr.ErrConflict, "Username or email already exists")
	}

	return err
}
