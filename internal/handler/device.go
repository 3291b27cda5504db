// Package handler contains the HTTP handlers of the marketplace API.
//
// Handlers are glue: they parse the request, find the device scope it
// belongs to, call one manager method and write the result. Business rules
// live in the service package.
//
// Every route except POST /api/devices runs behind auth.RequireDevice, so a
// handler can always read the device id from the request context and ask the
// Scopes for that device's managers.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/tinkapp/tink/internal/auth"
	"github.com/tinkapp/tink/internal/scope"
)

// Scopes resolves a device id to its scope. *scope.Registry implements it.
type Scopes interface {
	Get(ctx context.Context, deviceID string) (*scope.Scope, error)
}

// deviceScope returns the scope of the device that sent r. On failure it has
// already written the response.
func deviceScope(scopes Scopes, logger *slog.Logger, w http.ResponseWriter, r *http.Request) (*scope.Scope, bool) {
	deviceID, ok := auth.DeviceIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "a valid device token is required",
		})
		return nil, false
	}

	s, err := scopes.Get(r.Context(), deviceID)
	if err != nil {
		logger.Error("opening device scope failed",
			slog.String("deviceID", deviceID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return nil, false
	}
	return s, true
}

// sameSite picks the SameSite mode of our cookies. Apple posts its callback
// cross-site, which only carries SameSite=None cookies, and browsers only
// accept None on Secure cookies.
func sameSite(secure bool) http.SameSite {
	if secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// DeviceHandler registers devices.
type DeviceHandler struct {
	tokens *auth.TokenService
	ttl    time.Duration
	secure bool
	logger *slog.Logger
}

// NewDeviceHandler creates a DeviceHandler. ttl is the device token lifetime
// and also the cookie's max age.
func NewDeviceHandler(tokens *auth.TokenService, ttl time.Duration, secureCookie bool, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{tokens: tokens, ttl: ttl, secure: secureCookie, logger: logger}
}

// DeviceResponse is the body of POST /api/devices.
type DeviceResponse struct {
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

// HandleRegister issues a token for a new device.
//
// HTTP: POST /api/devices
//
// The token is returned in the body for native clients (sent back as
// "Authorization: Bearer ...") and set as the device cookie for browsers.
// A device keeps its Session Store across restarts for as long as it keeps
// the token.
func (h *DeviceHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	deviceID := xid.New().String()

	token, err := h.tokens.Generate(deviceID)
	if err != nil {
		h.logger.Error("issuing device token failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.DeviceCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: sameSite(h.secure),
	})

	h.logger.Info("device registered", slog.String("deviceID", deviceID))
	writeJSON(w, http.StatusCreated, DeviceResponse{DeviceID: deviceID, Token: token})
}
