package handler

import (
	"log/slog"
	"net/http"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/session"
)

// SessionHandler exposes the Session Store of the calling device.
type SessionHandler struct {
	scopes   Scopes
	streamer *Streamer
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(scopes Scopes, streamer *Streamer, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{scopes: scopes, streamer: streamer, logger: logger}
}

// SessionResponse is the device's session: the signed-in user, or null,
// plus its preferences.
type SessionResponse struct {
	User     *model.User `json:"user"`
	DarkMode bool        `json:"darkMode"`
}

type preferencesRequest struct {
	DarkMode *bool `json:"darkMode"`
}

// HandleGet returns the session.
//
// HTTP: GET /api/session
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionOf(s.Session))
}

// HandleStream pushes the session after every change.
//
// HTTP: GET /api/session/ws (WebSocket)
func (h *SessionHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	release := s.Hold()
	defer release()

	sub := s.Session.Subscribe()
	stream(h.streamer, w, r, sub, func(c session.Change) any {
		return SessionResponse{User: c.User, DarkMode: c.DarkMode}
	})
}

// HandlePreferences updates the device preferences.
//
// HTTP: PUT /api/session/preferences
// REQUEST BODY: {"darkMode": true}
func (h *SessionHandler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req preferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DarkMode == nil {
		writeError(w, apperror.ValidationFailed("darkMode", "darkMode is required"))
		return
	}

	if err := s.Session.SetDarkMode(r.Context(), *req.DarkMode); err != nil {
		h.logger.Error("saving preferences failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionOf(s.Session))
}

func sessionOf(store *session.Store) SessionResponse {
	resp := SessionResponse{DarkMode: store.DarkMode()}
	if u, ok := store.User(); ok {
		resp.User = &u
	}
	return resp
}
