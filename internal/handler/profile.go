package handler

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
)

// maxImageBytes bounds profile image uploads.
const maxImageBytes = 5 << 20

// ProfileHandler runs the profile edits and account deletion of the
// signed-in user.
type ProfileHandler struct {
	scopes Scopes
	logger *slog.Logger
}

// NewProfileHandler creates a ProfileHandler.
func NewProfileHandler(scopes Scopes, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{scopes: scopes, logger: logger}
}

// profileRequest is a partial update: absent fields are left alone.
type profileRequest struct {
	Name     *string `json:"name"`
	Locality *string `json:"locality"`
	Province *string `json:"province"`
}

// HandleUpdate edits name and location.
//
// HTTP: PUT /api/profile
// REQUEST BODY: {"name": "Juan P.", "locality": "Sevilla", "province": "Sevilla"}
//
// A name change is propagated to every skill the user owns.
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == nil && req.Locality == nil && req.Province == nil {
		writeError(w, apperror.ValidationFailed("body", "nothing to update"))
		return
	}

	var (
		user *model.User
		err  error
	)
	if req.Name != nil {
		if user, err = s.Profile.Rename(r.Context(), *req.Name); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Locality != nil || req.Province != nil {
		if user, err = s.Profile.UpdateLocation(r.Context(), req.Locality, req.Province); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, user)
}

// HandleUploadImage replaces the profile image.
//
// HTTP: PUT /api/profile/image
//
// Accepts a multipart form with an "image" file, or the raw image as the
// body. Only content sniffed as an image is forwarded to the media host.
func (h *ProfileHandler) HandleUploadImage(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, apperror.ValidationFailed("image", "an image file is required"))
			return
		}
		defer file.Close()
		body = file
	}

	img := bufio.NewReaderSize(body, 512)
	head, _ := img.Peek(512)
	if len(head) == 0 || !strings.HasPrefix(http.DetectContentType(head), "image/") {
		writeError(w, apperror.ValidationFailed("image", "the upload is not an image"))
		return
	}

	user, err := s.Profile.UploadImage(r.Context(), img)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleDeleteAccount deletes the signed-in account with its skills and
// profile image.
//
// HTTP: DELETE /api/account
// REQUEST BODY: {"password": "..."} (ignored for Google and Apple accounts)
func (h *ProfileHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}

	var req passwordRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.Profile.DeleteAccount(r.Context(), req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
