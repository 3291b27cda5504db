package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/tinkapp/tink/internal/auth"
	"github.com/tinkapp/tink/internal/model"
)

// AuthHandler exposes the Auth Gateway of the calling device.
//
// Email/password flows are JSON endpoints. Google and Apple use the OAuth
// redirect flow: the login route sends the browser to the provider, the
// callback exchanges the code for a credential and hands it to the gateway.
type AuthHandler struct {
	scopes     Scopes
	federation *auth.Federation
	streamer   *Streamer
	secure     bool
	logger     *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	scopes Scopes,
	federation *auth.Federation,
	streamer *Streamer,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		scopes:     scopes,
		federation: federation,
		streamer:   streamer,
		secure:     secureCookie,
		logger:     logger,
	}
}

// StateResponse reports the device's AuthState and signed-in user.
type StateResponse struct {
	State model.AuthState `json:"state"`
	User  *model.User     `json:"user"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	PasswordRepeat string `json:"passwordRepeat"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// HandleState returns the current AuthState.
//
// HTTP: GET /api/auth/state
func (h *AuthHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stateOf(s.Auth.State(), s.Session.User))
}

// HandleStateStream streams every AuthState change, starting with the
// current one.
//
// HTTP: GET /api/auth/state/ws (WebSocket)
func (h *AuthHandler) HandleStateStream(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	release := s.Hold()
	defer release()

	sub := s.Auth.ObserveAuthState()
	stream(h.streamer, w, r, sub, func(state model.AuthState) any {
		return stateOf(state, s.Session.User)
	})
}

// HandleSignIn signs the device in with email and password.
//
// HTTP: POST /api/auth/signin
// REQUEST BODY: {"email": "...", "password": "..."}
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Auth.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(s.Auth.State(), s.Session.User))
}

// HandleSignUp creates a password account and signs the device in.
//
// HTTP: POST /api/auth/signup
// REQUEST BODY: {"email": "...", "password": "...", "passwordRepeat": "..."}
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Auth.SignUp(r.Context(), req.Email, req.Password, req.PasswordRepeat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateOf(s.Auth.State(), s.Session.User))
}

// HandleResetPassword mails a reset link.
//
// HTTP: POST /api/auth/reset
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Auth.ResetPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleConfirmReset sets a new password with the token from the link.
//
// HTTP: POST /api/auth/reset/confirm
func (h *AuthHandler) HandleConfirmReset(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Auth.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSignOut signs the device out.
//
// HTTP: POST /api/auth/signout
//
// The session is cleared before the provider is called, so a failing remote
// sign-out still leaves the device signed out. That failure is logged by the
// gateway and not reported as an error here.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	if err := s.Auth.SignOut(r.Context()); err != nil {
		if _, signedIn := s.Session.User(); signedIn {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, stateOf(s.Auth.State(), s.Session.User))
}

// HandleReauthenticate confirms the password before a destructive action.
//
// HTTP: POST /api/auth/reauthenticate
func (h *AuthHandler) HandleReauthenticate(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.Auth.Reauthenticate(r.Context(), req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFederatedLogin redirects the browser to Google or Apple.
//
// HTTP: GET /api/auth/{provider}/login
//
// A random state goes into a short-lived HttpOnly cookie; the callback only
// proceeds when the provider echoes the same value back (CSRF check).
func (h *AuthHandler) HandleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	state := xid.New().String()

	url, err := h.federation.AuthURL(provider, state)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "sign-in with " + provider + " is not available",
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: sameSite(h.secure),
	})
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// HandleFederatedCallback completes a Google or Apple sign-in.
//
// HTTP: GET or POST /api/auth/{provider}/callback?code=...&state=...
//
// Apple answers with a form POST, Google with a query string; FormValue
// reads both.
func (h *AuthHandler) HandleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie", slog.String("provider", provider))
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.FormValue("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch", slog.String("provider", provider))
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.FormValue("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("provider", provider),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}

	cred, err := h.federation.Exchange(r.Context(), provider, code)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownProvider) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("auth callback: code exchange failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	if err := s.Auth.FederatedSignIn(r.Context(), cred); err != nil {
		h.logger.Error("auth callback: federated sign-in failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/?auth=ok", http.StatusSeeOther)
}

func stateOf(state model.AuthState, user func() (model.User, bool)) StateResponse {
	resp := StateResponse{State: state}
	if u, ok := user(); ok {
		resp.User = &u
	}
	return resp
}
