package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
)

var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `uid, email, password_hash, provider, subject, display_name, photo_url, token_generation, created_at`

// CreateAccount inserts an identity provider account.
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.UID == "" {
		a.UID = xid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UID,
		emptyToNull(a.Email),
		a.PasswordHash,
		a.Provider,
		emptyToNull(a.Subject),
		a.DisplayName,
		a.PhotoURL,
		a.TokenGeneration,
		a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", a.Email)
		}
		return fmt.Errorf("sqlite: creating account: %w", err)
	}
	return nil
}

func (db *DB) GetAccountByID(ctx context.Context, uid string) (*model.Account, error) {
	return db.getAccount(ctx, uid, `WHERE uid = ?`, uid)
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return db.getAccount(ctx, email, `WHERE email = ?`, email)
}

func (db *DB) GetAccountBySubject(ctx context.Context, provider, subject string) (*model.Account, error) {
	return db.getAccount(ctx, provider+":"+subject, `WHERE provider = ? AND subject = ?`, provider, subject)
}

func (db *DB) getAccount(ctx context.Context, key, where string, args ...any) (*model.Account, error) {
	var (
		a              model.Account
		email, subject sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts `+where, args...,
	).Scan(
		&a.UID,
		&email,
		&a.PasswordHash,
		&a.Provider,
		&subject,
		&a.DisplayName,
		&a.PhotoURL,
		&a.TokenGeneration,
		&a.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", key)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", key, err)
	}
	a.Email = email.String
	a.Subject = subject.String
	return &a, nil
}

func (db *DB) UpdatePasswordHash(ctx context.Context, uid, hash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ? WHERE uid = ?`, hash, uid)
	if err != nil {
		return fmt.Errorf("sqlite: updating password of %s: %w", uid, err)
	}
	return expectOne(result, "account", uid)
}

// BumpTokenGeneration increments the generation in one statement, so two
// concurrent sign-outs both count.
func (db *DB) BumpTokenGeneration(ctx context.Context, uid string) (int, error) {
	var gen int
	err := db.conn.QueryRowContext(ctx,
		`UPDATE accounts SET token_generation = token_generation + 1
		 WHERE uid = ?
		 RETURNING token_generation`,
		uid,
	).Scan(&gen)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("account", uid)
		}
		return 0, fmt.Errorf("sqlite: bumping token generation of %s: %w", uid, err)
	}
	return gen, nil
}

func (db *DB) DeleteAccount(ctx context.Context, uid string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM accounts WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("sqlite: deleting account %s: %w", uid, err)
	}
	return expectOne(result, "account", uid)
}
