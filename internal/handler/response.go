package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError so the API has one
// body shape for successes and one for failures:
//
//	{"error": "validation_error", "message": "name is required", "field": "name"}
//
// Clients switch on "error" and show "message" to the user as-is; the
// service layer already words it for people.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinkapp/tink/internal/apperror"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Input field at fault, if any
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set afterwards is dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// The status line is already out; logging is all that is left.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// The service layer returns apperror values and knows nothing about HTTP.
// errors.Is walks the wrap chain, so a sentinel buried under
// fmt.Errorf("...: %w") still selects the right status.
func writeError(w http.ResponseWriter, err error) {
	var authErr *apperror.AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, authStatus(authErr.Kind), ErrorResponse{
			Error:   authErr.Kind.String(),
			Message: authErr.Error(),
		})
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest // 400
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthenticated):
			status = http.StatusUnauthorized // 401
			errorType = "unauthenticated"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound // 404
			errorType = "not_found"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden // 403
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict // 409
			errorType = "conflict"
		case errors.Is(err, apperror.ErrRemote):
			status = http.StatusBadGateway // 502
			errorType = "remote_error"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	// Unknown error: never leak the raw text, it may carry SQL or paths.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// authStatus is the HTTP status of an authentication failure kind.
func authStatus(kind apperror.AuthKind) int {
	switch kind {
	case apperror.KindEmptyEmail,
		apperror.KindEmptyPassword,
		apperror.KindEmptyField,
		apperror.KindInvalidEmail,
		apperror.KindInvalidFormat,
		apperror.KindPasswordMismatch,
		apperror.KindCustom:
		return http.StatusBadRequest
	case apperror.KindWrongPassword:
		return http.StatusUnauthorized
	case apperror.KindUserNotFound:
		return http.StatusNotFound
	case apperror.KindNetwork:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}
