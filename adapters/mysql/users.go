package mysql

import (
	"context"
	"database/sql"
	"fmt"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
	"github.com/next-trace/scg-api-bus/identity"
)

// Users is an identity.Repository. Username and email uniqueness is enforced by the
// table's unique keys, deleted users included.
type Users struct {
	db *sql.DB
}

var _ identity.Repository = (*Users)(nil)

func NewUsers(db *sql.DB) *Users { return &Users{db: db} }

func (r *Users) CreateUser(ctx context.Context, u *identity.User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, phone_number, is_active, role, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, u.PhoneNumber, u.IsActive, u.Role, u.AvatarURL, u.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("user %q: %w", u.Username, berr.ErrConflict)
		}

		return fmt.Errorf("insert user: %w", err)
	}

	if u.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("user id: %w", err)
	}

	return nil
}

const userColumns = `id, username, email, first_name, last_name, phone_number, is_active, role, avatar_url, created_at`

func (r *Users) User(ctx context.Context, id int64) (identity.User, error) {
	list, err := r.query(ctx, `WHERE id = ? AND is_deleted = FALSE`, id)
	if err != nil {
		return identity.User{}, err
	}

	if len(list) == 0 {
		return identity.User{}, notFound("user", id)
	}

	return list[0], nil
}

func (r *Users) Users(ctx context.Context) ([]identity.User, error) {
	return r.query(ctx, `WHERE is_deleted = FALSE`)
}

func (r *Users) query(ctx context.Context, where string, args ...any) ([]identity.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]identity.User, 0)

	for rows.Next() {
		var (
			u      identity.User
			phone  sql.NullString
			avatar sql.NullString
		)

		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &phone, &u.IsActive, &u.Role, &avatar, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}

		if phone.Valid {
			u.PhoneNumber = &phone.String
		}

		if avatar.Valid {
			u.AvatarURL = &avatar.String
		}

		out = append(out, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return out, nil
}

func (r *Users) UpdateUser(ctx context.Context, u identity.User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET username = ?, email = ?, first_name = ?, last_name = ?, phone_number = ?,
			is_active = ?, role = ?, avatar_url = ?
		WHERE id = ? AND is_deleted = FALSE`,
		u.Username, u.Email, u.FirstName, u.LastName, u.PhoneNumber, u.IsActive, u.Role, u.AvatarURL, u.ID,
	)
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("user %q: %w", u.Username, berr.ErrConflict)
		}

		return fmt.Errorf("update user: %w", err)
	}

	return rowsGone(res, "user", u.ID)
}

func (r *Users) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_deleted = TRUE WHERE id = ? AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	return rowsGone(res, "user", id)
}
