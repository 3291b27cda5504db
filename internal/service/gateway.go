// Package service holds the managers of one device session: the Auth
// Gateway, the Skill Catalog Manager, the Chat Manager and the profile
// flows built on top of them.
//
// Managers never speak HTTP. They receive the device's Session Store and
// their collaborators through their constructors and return apperror values
// the handler layer maps to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/auth"
	"github.com/tinkapp/tink/internal/media"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/realtime"
	"github.com/tinkapp/tink/internal/repository"
	"github.com/tinkapp/tink/internal/session"
)

// IdentityProvider is the identity backend the gateway wraps.
// *auth.LocalProvider implements it.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*auth.Identity, error)
	SignUp(ctx context.Context, email, password string) (*auth.Identity, error)
	SignInWithCredential(ctx context.Context, cred auth.Credential) (*auth.Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	Verify(ctx context.Context, idToken string) (*auth.Identity, error)
	Reauthenticate(ctx context.Context, uid, password string) error
	SignOut(ctx context.Context, uid string) error
	Delete(ctx context.Context, uid string) error
}

// AuthGateway runs the authentication flows of one device and publishes
// its AuthState.
type AuthGateway struct {
	provider IdentityProvider
	users    repository.UserRepository
	media    media.Host
	session  *session.Store
	logger   *slog.Logger

	mu       sync.Mutex
	state    model.AuthState
	identity *auth.Identity
	states   *realtime.Feed[model.AuthState]

	// onUserChange runs synchronously whenever the session user is cleared
	// or replaced by a different user.
	onUserChange []func()
}

// NewAuthGateway creates a gateway in the Undefined state. Call Start to
// resolve it.
func NewAuthGateway(
	provider IdentityProvider,
	users repository.UserRepository,
	host media.Host,
	store *session.Store,
	logger *slog.Logger,
) *AuthGateway {
	return &AuthGateway{
		provider: provider,
		users:    users,
		media:    host,
		session:  store,
		logger:   logger,
		state:    model.AuthUndefined,
		states:   realtime.NewFeed[model.AuthState](),
	}
}

// Start restores the device's sign-in from the persisted ID token. It is
// the first provider answer, so the state always leaves Undefined here.
func (g *AuthGateway) Start(ctx context.Context) error {
	token := g.session.Token()
	if token == "" {
		if _, ok := g.session.User(); ok {
			// A user without a credential cannot be verified.
			if err := g.session.SetUser(ctx, nil); err != nil {
				return err
			}
		}
		g.setState(model.AuthNotAuthenticated, nil)
		return nil
	}

	id, err := g.provider.Verify(ctx, token)
	if err != nil {
		g.logger.Info("stored credential rejected, signing out device",
			slog.String("namespace", g.session.Namespace()),
			slog.String("error", err.Error()),
		)
		if err := g.clearSession(ctx); err != nil {
			return err
		}
		g.setState(model.AuthNotAuthenticated, nil)
		return nil
	}

	if u, ok := g.session.User(); !ok || u.ID != id.UID {
		if err := g.loadUser(ctx, id); err != nil {
			return err
		}
	}
	g.setState(model.AuthAuthenticated, id)
	return nil
}

// OnUserChange registers fn to run every time the session user is cleared
// or replaced by another user. fn runs on the caller's goroutine, after the
// Session Store has changed and before the new AuthState is published, so
// per-user caches are gone by the time the next request sees the new user.
// Register hooks before the gateway is shared.
func (g *AuthGateway) OnUserChange(fn func()) {
	g.onUserChange = append(g.onUserChange, fn)
}

// Refresh re-checks the credential of a signed-in device. Sign-out revokes
// every token of the account, so a token revoked from another device (or by
// a password reset or account deletion) signs this device out too. Other
// provider failures leave the session alone.
func (g *AuthGateway) Refresh(ctx context.Context) error {
	if g.State() != model.AuthAuthenticated {
		return nil
	}
	token := g.session.Token()
	if token == "" {
		return nil
	}

	_, err := g.provider.Verify(ctx, token)
	if err == nil {
		return nil
	}
	if !isRevocation(err) {
		g.logger.Warn("credential check failed",
			slog.String("namespace", g.session.Namespace()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	// A sign-in may have replaced the token while Verify ran.
	if g.session.Token() != token {
		return nil
	}

	g.logger.Info("credential revoked elsewhere, signing out device",
		slog.String("namespace", g.session.Namespace()),
	)
	if err := g.clearSession(ctx); err != nil {
		return err
	}
	g.setState(model.AuthNotAuthenticated, nil)
	return nil
}

// State returns the current AuthState.
func (g *AuthGateway) State() model.AuthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ObserveAuthState returns a stream of AuthState values. The current state
// is delivered first.
func (g *AuthGateway) ObserveAuthState() *realtime.Subscription[model.AuthState] {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub := g.states.Subscribe()
	sub.Send(g.state)
	return sub
}

// Identity returns the signed-in identity.
func (g *AuthGateway) Identity() (auth.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.identity == nil {
		return auth.Identity{}, false
	}
	return *g.identity, true
}

// NeedsReauthentication reports whether destructive operations must be
// preceded by Reauthenticate. Only password accounts need it.
func (g *AuthGateway) NeedsReauthentication() bool {
	id, ok := g.Identity()
	return ok && id.Provider == model.ProviderPassword
}

// SignIn authenticates with email and password. Blank input fails locally
// without reaching the provider.
func (g *AuthGateway) SignIn(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" {
		return apperror.NewAuthError(apperror.KindEmptyEmail)
	}
	if strings.TrimSpace(password) == "" {
		return apperror.NewAuthError(apperror.KindEmptyPassword)
	}

	id, err := g.provider.SignIn(ctx, email, password)
	if err != nil {
		return mapAuthError(err)
	}
	return g.complete(ctx, id)
}

// SignUp creates a password account. A mismatch between the two passwords is
// reported before the empty-field check, and both before the provider call.
func (g *AuthGateway) SignUp(ctx context.Context, email, password, passwordRepeat string) error {
	if password != passwordRepeat {
		return apperror.NewAuthError(apperror.KindPasswordMismatch)
	}
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" || strings.TrimSpace(passwordRepeat) == "" {
		return apperror.NewAuthError(apperror.KindEmptyField)
	}

	id, err := g.provider.SignUp(ctx, email, password)
	if err != nil {
		return mapAuthError(err)
	}

	g.logger.Info("user signed up", slog.String("uid", id.UID))
	return g.complete(ctx, id)
}

// ResetPassword asks the provider to mail a reset link.
func (g *AuthGateway) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperror.NewAuthError(apperror.KindEmptyEmail)
	}
	if !auth.ValidEmail(email) {
		return apperror.NewAuthError(apperror.KindInvalidFormat)
	}

	if err := g.provider.SendPasswordReset(ctx, email); err != nil {
		return apperror.CustomAuthError(providerMessage(err), err)
	}
	return nil
}

// ConfirmPasswordReset completes a reset with the token from the mailed
// link. It does not sign the device in.
func (g *AuthGateway) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return apperror.NewAuthError(apperror.KindEmptyField)
	}
	if err := g.provider.ConfirmPasswordReset(ctx, token, newPassword); err != nil {
		return apperror.CustomAuthError(providerMessage(err), err)
	}
	return nil
}

// FederatedSignIn signs in with a credential obtained from Google or Apple.
func (g *AuthGateway) FederatedSignIn(ctx context.Context, cred auth.Credential) error {
	id, err := g.provider.SignInWithCredential(ctx, cred)
	if err != nil {
		return mapAuthError(err)
	}
	return g.complete(ctx, id)
}

// SignOut clears the Session Store first, then invalidates the remote
// session. The device is signed out locally even if the remote call fails.
func (g *AuthGateway) SignOut(ctx context.Context) error {
	if err := g.clearSession(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	id := g.identity
	g.mu.Unlock()

	var remoteErr error
	if id != nil {
		if err := g.provider.SignOut(ctx, id.UID); err != nil {
			remoteErr = apperror.Remote("sign out", err)
			g.logger.Warn("remote sign-out failed",
				slog.String("uid", id.UID),
				slog.String("error", err.Error()),
			)
		}
	}

	g.setState(model.AuthNotAuthenticated, nil)
	return remoteErr
}

// Reauthenticate confirms the password before a destructive operation.
// Google and Apple accounts skip the check.
func (g *AuthGateway) Reauthenticate(ctx context.Context, password string) error {
	id, ok := g.Identity()
	if !ok {
		return apperror.Unauthenticated("confirm your password")
	}
	if id.Provider != model.ProviderPassword {
		return nil
	}
	if password == "" {
		return apperror.NewAuthError(apperror.KindEmptyPassword)
	}

	if err := g.provider.Reauthenticate(ctx, id.UID, password); err != nil {
		return mapAuthError(err)
	}
	return nil
}

// DeleteAccount deletes the profile image keyed by the user's id, then the
// identity record, and signs the device out. User and skill documents are
// left to the caller.
func (g *AuthGateway) DeleteAccount(ctx context.Context) error {
	id, ok := g.Identity()
	if !ok {
		return apperror.Unauthenticated("delete your account")
	}

	if err := g.media.Delete(ctx, media.ProfileImageID(id.UID)); err != nil {
		return apperror.Remote("delete your profile image", err)
	}
	if err := g.provider.Delete(ctx, id.UID); err != nil {
		return mapAuthError(err)
	}

	g.logger.Info("account deleted", slog.String("uid", id.UID))

	if err := g.clearSession(ctx); err != nil {
		return err
	}
	g.setState(model.AuthNotAuthenticated, nil)
	return nil
}

// Close ends every auth-state subscription.
func (g *AuthGateway) Close() {
	g.states.Close()
}

// complete finishes a successful sign-in: loads (or creates) the user
// document, persists credential and user, then flips the state.
func (g *AuthGateway) complete(ctx context.Context, id *auth.Identity) error {
	prev, hadUser := g.session.User()
	if err := g.loadUser(ctx, id); err != nil {
		return err
	}
	if hadUser && prev.ID != id.UID {
		g.userChanged()
	}
	if err := g.session.SetToken(ctx, id.IDToken); err != nil {
		return err
	}
	g.setState(model.AuthAuthenticated, id)
	return nil
}

// loadUser copies the user document into the Session Store, creating the
// document on the first sign-in of an account.
func (g *AuthGateway) loadUser(ctx context.Context, id *auth.Identity) error {
	u, err := g.users.GetUser(ctx, id.UID)
	if errors.Is(err, apperror.ErrNotFound) {
		u = &model.User{
			ID:              id.UID,
			Name:            defaultName(id.DisplayName, id.Email),
			Email:           id.Email,
			ProfileImageURL: model.StringPtr(id.PhotoURL),
		}
		if err := g.users.CreateUser(ctx, u); err != nil && !errors.Is(err, apperror.ErrConflict) {
			return apperror.Remote("create your profile", err)
		}
	} else if err != nil {
		return apperror.Remote("load your profile", err)
	}

	return g.session.SetUser(ctx, u)
}

func (g *AuthGateway) clearSession(ctx context.Context) error {
	_, hadUser := g.session.User()
	if err := g.session.SetUser(ctx, nil); err != nil {
		return err
	}
	if hadUser {
		g.userChanged()
	}
	return g.session.SetToken(ctx, "")
}

func (g *AuthGateway) userChanged() {
	for _, fn := range g.onUserChange {
		fn()
	}
}

// isRevocation reports whether err means the credential itself is no longer
// valid, as opposed to the provider being unreachable.
func isRevocation(err error) bool {
	return errors.Is(err, auth.ErrTokenRevoked) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrUserNotFound)
}

func (g *AuthGateway) setState(state model.AuthState, id *auth.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.identity = id
	if g.state == state {
		return
	}
	g.state = state
	g.states.Publish(state)
}

// defaultName is the provider display name, else the local part of the
// email.
func defaultName(displayName, email string) string {
	if displayName != "" {
		return displayName
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

// mapAuthError maps provider errors onto the closed authentication
// taxonomy, falling back to Custom with the provider's message.
func mapAuthError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		return &apperror.AuthError{Kind: apperror.KindInvalidEmail, Message: apperror.ErrInvalidEmail.Message, Err: err}
	case errors.Is(err, auth.ErrWrongPassword):
		return &apperror.AuthError{Kind: apperror.KindWrongPassword, Message: apperror.ErrWrongPassword.Message, Err: err}
	case errors.Is(err, auth.ErrUserNotFound):
		return &apperror.AuthError{Kind: apperror.KindUserNotFound, Message: apperror.ErrUserNotFound.Message, Err: err}
	case isNetworkError(err):
		return &apperror.AuthError{Kind: apperror.KindNetwork, Message: apperror.ErrNetwork.Message, Err: err}
	case errors.Is(err, auth.ErrEmailInUse),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrProviderMismatch),
		errors.Is(err, auth.ErrTokenRevoked),
		errors.Is(err, auth.ErrTokenExpired):
		return apperror.CustomAuthError(providerMessage(err), err)
	}
	return &apperror.AuthError{Kind: apperror.KindUnknown, Message: apperror.ErrUnknownAuth.Message, Err: err}
}

// providerMessage is the user-facing text for a provider error.
func providerMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		return "the email address is not valid"
	case errors.Is(err, auth.ErrUserNotFound):
		return "no account exists for this email"
	case errors.Is(err, auth.ErrEmailInUse):
		return "an account already exists for this email"
	case errors.Is(err, auth.ErrWeakPassword):
		return fmt.Sprintf("the password must be at least %d characters", auth.MinPasswordLength)
	case errors.Is(err, auth.ErrProviderMismatch):
		return "this account signs in with a different method"
	case errors.Is(err, auth.ErrTokenRevoked), errors.Is(err, auth.ErrTokenExpired):
		return "the link or session has expired, please start again"
	case isNetworkError(err):
		return "network error, check your connection"
	}
	return "something went wrong, please try again"
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
