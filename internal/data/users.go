package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// User is an operator account on the admin surface.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserModel struct {
	DB DBTX
}

func (m UserModel) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (username, password_hash, first_name, last_name, is_admin)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRowContext(ctx, query,
		u.Username, u.PasswordHash, u.FirstName, u.LastName, u.IsAdmin,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

func (m UserModel) GetByID(ctx context.Context, id int64) (*User, error) {
	return m.get(ctx, `WHERE id = $1`, id)
}

func (m UserModel) GetByUsername(ctx context.Context, username string) (*User, error) {
	return m.get(ctx, `WHERE username = $1`, username)
}

func (m UserModel) get(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, username, password_hash, first_name, last_name, is_admin,
		       COALESCE(profile_image, ''), created_at, updated_at
		FROM users ` + where

	var u User
	err := m.DB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.IsAdmin, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (m UserModel) List(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, username, password_hash, first_name, last_name, is_admin,
		       COALESCE(profile_image, ''), created_at, updated_at
		FROM users ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
			&u.IsAdmin, &u.ProfileImage, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, &u)
	}
	return items, rows.Err()
}

func (m UserModel) SetProfileImage(ctx context.Context, id int64, key string) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE users SET profile_image = $1, updated_at = NOW() WHERE id = $2`, key, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m UserModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
