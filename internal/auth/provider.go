package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
)

// MinPasswordLength is the shortest password LocalProvider accepts on sign-up.
const MinPasswordLength = 6

// Provider errors. The service layer maps them onto the closed auth taxonomy
// in apperror.
var (
	ErrInvalidEmail     = errors.New("auth: invalid email")
	ErrWrongPassword    = errors.New("auth: wrong password")
	ErrUserNotFound     = errors.New("auth: user not found")
	ErrEmailInUse       = errors.New("auth: email already in use")
	ErrWeakPassword     = errors.New("auth: password is too weak")
	ErrTokenRevoked     = errors.New("auth: token has been revoked")
	ErrProviderMismatch = errors.New("auth: account uses a different sign-in method")
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Identity is a signed-in account as the provider reports it.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	Provider    string
	IDToken     string
}

// Credential is what a federated sign-in flow hands to the provider after the
// OAuth exchange.
type Credential struct {
	Provider   string // model.ProviderGoogle or model.ProviderApple
	Subject    string
	Email      string
	Name       string
	PictureURL string
}

// LocalProvider is the email/password identity provider backed by the
// account repository. It also accepts federated credentials, creating an
// account on first use.
type LocalProvider struct {
	accounts    repository.AccountRepository
	passwords   *PasswordService
	idTokens    *TokenService
	resetTokens *TokenService
	mailer      Mailer
	resetURL    string
	logger      *slog.Logger
}

// LocalProviderConfig groups the dependencies of a LocalProvider.
type LocalProviderConfig struct {
	Accounts    repository.AccountRepository
	Passwords   *PasswordService
	IDTokens    *TokenService
	ResetTokens *TokenService
	Mailer      Mailer
	// ResetURL is the page that completes a reset; the token is appended as
	// the "token" query parameter.
	ResetURL string
	Logger   *slog.Logger
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(cfg LocalProviderConfig) *LocalProvider {
	return &LocalProvider{
		accounts:    cfg.Accounts,
		passwords:   cfg.Passwords,
		idTokens:    cfg.IDTokens,
		resetTokens: cfg.ResetTokens,
		mailer:      cfg.Mailer,
		resetURL:    cfg.ResetURL,
		logger:      cfg.Logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignIn authenticates an email/password account.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if !ValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	acc, err := p.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: looking up account: %w", err)
	}
	if acc.Provider != model.ProviderPassword {
		return nil, ErrProviderMismatch
	}

	if err := p.passwords.Verify(acc.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, ErrWrongPassword
		}
		return nil, err
	}

	return p.identity(acc)
}

// SignUp creates an email/password account and signs it in.
func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if !ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	acc := &model.Account{
		Email:        email,
		PasswordHash: hash,
		Provider:     model.ProviderPassword,
	}
	if err := p.accounts.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("auth: creating account: %w", err)
	}

	p.logger.Info("account created", slog.String("uid", acc.UID), slog.String("provider", acc.Provider))
	return p.identity(acc)
}

// SignInWithCredential signs in a federated account, creating it the first
// time the (provider, subject) pair is seen.
func (p *LocalProvider) SignInWithCredential(ctx context.Context, cred Credential) (*Identity, error) {
	if cred.Provider == "" || cred.Subject == "" {
		return nil, errors.New("auth: credential is missing provider or subject")
	}

	acc, err := p.accounts.GetAccountBySubject(ctx, cred.Provider, cred.Subject)
	if err == nil {
		return p.identity(acc)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("auth: looking up federated account: %w", err)
	}

	acc = &model.Account{
		Email:       normalizeEmail(cred.Email),
		Provider:    cred.Provider,
		Subject:     cred.Subject,
		DisplayName: cred.Name,
		PhotoURL:    cred.PictureURL,
	}
	if err := p.accounts.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("auth: creating federated account: %w", err)
	}

	p.logger.Info("account created", slog.String("uid", acc.UID), slog.String("provider", acc.Provider))
	return p.identity(acc)
}

// Verify checks an ID token against the account's current token generation.
func (p *LocalProvider) Verify(ctx context.Context, idToken string) (*Identity, error) {
	c, err := p.idTokens.Parse(idToken)
	if err != nil {
		return nil, err
	}

	acc, err := p.account(ctx, c.Subject)
	if err != nil {
		return nil, err
	}
	if c.Generation != acc.TokenGeneration {
		return nil, ErrTokenRevoked
	}

	return &Identity{
		UID:         acc.UID,
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		PhotoURL:    acc.PhotoURL,
		Provider:    acc.Provider,
		IDToken:     idToken,
	}, nil
}

// Reauthenticate confirms the password of a password account.
func (p *LocalProvider) Reauthenticate(ctx context.Context, uid, password string) error {
	acc, err := p.account(ctx, uid)
	if err != nil {
		return err
	}
	if acc.Provider != model.ProviderPassword {
		return ErrProviderMismatch
	}
	if err := p.passwords.Verify(acc.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return ErrWrongPassword
		}
		return err
	}
	return nil
}

// SignOut revokes every ID token issued to uid so far, on every device of
// the account. Devices notice on their next Verify.
func (p *LocalProvider) SignOut(ctx context.Context, uid string) error {
	if _, err := p.accounts.BumpTokenGeneration(ctx, uid); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("auth: revoking tokens: %w", err)
	}
	return nil
}

// Delete removes the account record.
func (p *LocalProvider) Delete(ctx context.Context, uid string) error {
	if err := p.accounts.DeleteAccount(ctx, uid); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("auth: deleting account: %w", err)
	}
	p.logger.Info("account deleted", slog.String("uid", uid))
	return nil
}

// SendPasswordReset mails a reset link to the owner of email.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}

	acc, err := p.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("auth: looking up account: %w", err)
	}
	if acc.Provider != model.ProviderPassword {
		return ErrProviderMismatch
	}

	token, err := p.resetTokens.Issue(acc.UID, acc.TokenGeneration)
	if err != nil {
		return err
	}

	link := p.resetURL + "?token=" + token
	if err := p.mailer.SendPasswordReset(ctx, acc.Email, link); err != nil {
		return fmt.Errorf("auth: sending reset email: %w", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a mailed reset token.
// The token generation is bumped, which both consumes the reset token and
// signs the account out everywhere.
func (p *LocalProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	c, err := p.resetTokens.Parse(token)
	if err != nil {
		return err
	}
	acc, err := p.account(ctx, c.Subject)
	if err != nil {
		return err
	}
	if c.Generation != acc.TokenGeneration {
		return ErrTokenRevoked
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	hash, err := p.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := p.accounts.UpdatePasswordHash(ctx, acc.UID, hash); err != nil {
		return fmt.Errorf("auth: updating password: %w", err)
	}
	if _, err := p.accounts.BumpTokenGeneration(ctx, acc.UID); err != nil {
		return fmt.Errorf("auth: revoking tokens: %w", err)
	}
	return nil
}

func (p *LocalProvider) account(ctx context.Context, uid string) (*model.Account, error) {
	acc, err := p.accounts.GetAccountByID(ctx, uid)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: looking up account: %w", err)
	}
	return acc, nil
}

func (p *LocalProvider) identity(acc *model.Account) (*Identity, error) {
	token, err := p.idTokens.Issue(acc.UID, acc.TokenGeneration)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UID:         acc.UID,
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		PhotoURL:    acc.PhotoURL,
		Provider:    acc.Provider,
		IDToken:     token,
	}, nil
}
