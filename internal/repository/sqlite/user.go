package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// CreateUser inserts a user document. The id is the identity provider's uid,
// so it is never generated here.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		return apperror.ValidationFailed("id", "user id is required")
	}

	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, profile_image_url, locality, province, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Name,
		u.Email,
		nullString(u.ProfileImageURL),
		nullString(u.Locality),
		nullString(u.Province),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", u.ID)
		}
		return fmt.Errorf("sqlite: creating user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser retrieves a user by id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	var (
		u                         model.User
		image, locality, province sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, profile_image_url, locality, province
		 FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &image, &locality, &province)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	u.ProfileImageURL = stringPtr(image)
	u.Locality = stringPtr(locality)
	u.Province = stringPtr(province)
	return &u, nil
}

// UpdateUser overwrites the user document.
func (db *DB) UpdateUser(ctx context.Context, u *model.User) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET name = ?, email = ?, profile_image_url = ?, locality = ?, province = ?, updated_at = ?
		 WHERE id = ?`,
		u.Name,
		u.Email,
		nullString(u.ProfileImageURL),
		nullString(u.Locality),
		nullString(u.Province),
		time.Now().UTC(),
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", u.ID, err)
	}
	return expectOne(result, "user", u.ID)
}

// DeleteUser removes the user document.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	return expectOne(result, "user", id)
}

// expectOne turns "no rows affected" into apperror.NotFound.
func expectOne(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
