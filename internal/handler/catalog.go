package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/scope"
	"github.com/tinkapp/tink/internal/service"
)

// CatalogHandler exposes the Skill Catalog Manager of the calling device.
//
// Listing reads the manager's cache and only hits the store when the cache
// is empty or invalidated, or when the client asks with ?refresh=true. This
// keeps the manager's semantics visible: a deleted skill leaves "mine" at
// once but stays in the full list until the next sync.
type CatalogHandler struct {
	scopes Scopes
	logger *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(scopes Scopes, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{scopes: scopes, logger: logger}
}

// skillRequest is the body of create and update. Price is the bare amount,
// PriceUnit one of "hour", "session" or "fixed".
type skillRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	PriceUnit   string `json:"priceUnit"`
	CategoryID  string `json:"categoryId"`
	IsOnline    *bool  `json:"isOnline"`
}

// HandleCategories lists the categories.
//
// HTTP: GET /api/categories
func (h *CatalogHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	if err := s.Catalog.FetchCategories(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Catalog.Categories())
}

// HandleList lists the catalog through the consumer filter.
//
// HTTP: GET /api/skills?category=<id>&presence=online|in_person&q=<text>&refresh=true
//
// Without a session the catalog cannot sync and the list is empty.
func (h *CatalogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	presence, valid := service.ParsePresence(q.Get("presence"))
	if !valid {
		writeError(w, apperror.ValidationFailed("presence", "presence must be online or in_person"))
		return
	}

	if err := h.sync(r, s); err != nil {
		writeError(w, err)
		return
	}

	filter := service.Filter{
		CategoryID: q.Get("category"),
		Presence:   presence,
		Text:       q.Get("q"),
	}
	writeJSON(w, http.StatusOK, s.Catalog.Filtered(filter))
}

// HandleMine lists the skills of the signed-in user.
//
// HTTP: GET /api/skills/mine
func (h *CatalogHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	if _, signedIn := s.Session.User(); !signedIn {
		writeError(w, apperror.Unauthenticated("see your skills"))
		return
	}
	if err := h.sync(r, s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Catalog.MySkills())
}

// HandleCreate publishes a skill.
//
// HTTP: POST /api/skills
// REQUEST BODY: {"name": "...", "description": "...", "price": "20",
// "priceUnit": "hour", "categoryId": "...", "isOnline": true}
func (h *CatalogHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req skillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	unit, cat, err := h.resolve(r, s, req)
	if err != nil {
		writeError(w, err)
		return
	}

	skill, err := s.Catalog.CreateSkill(r.Context(), service.NewSkill{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    cat,
		IsOnline:    req.IsOnline,
		PriceUnit:   unit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, skill)
}

// HandleUpdate overwrites a skill of the signed-in user.
//
// HTTP: PUT /api/skills/{id}
//
// The device's catalog cache is dropped; the next listing re-syncs.
func (h *CatalogHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req skillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.Description == "" || req.Price == "" {
		writeError(w, apperror.ValidationFailed("body", "name, description and price are required"))
		return
	}

	unit, cat, err := h.resolve(r, s, req)
	if err != nil {
		writeError(w, err)
		return
	}

	skill := model.Skill{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		Description: req.Description,
		Price:       model.FormatPrice(req.Price, unit),
		Category:    cat,
		IsOnline:    req.IsOnline,
	}
	if err := s.Catalog.UpdateSkill(r.Context(), skill); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes a skill of the signed-in user.
//
// HTTP: DELETE /api/skills/{id}
func (h *CatalogHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	if err := s.Catalog.DeleteSkill(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sync refreshes the cache when it is stale or the client asked for it.
func (h *CatalogHandler) sync(r *http.Request, s *scope.Scope) error {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if s.Catalog.Synced() && !refresh {
		return nil
	}
	return s.Catalog.SyncSkills(r.Context())
}

// resolve parses the price unit and looks the category up in the device's
// category cache.
func (h *CatalogHandler) resolve(r *http.Request, s *scope.Scope, req skillRequest) (model.PriceUnit, model.Category, error) {
	unit, ok := model.ParsePriceUnit(req.PriceUnit)
	if !ok {
		return "", model.Category{}, apperror.ValidationFailed("priceUnit", "priceUnit must be hour, session or fixed")
	}
	if req.CategoryID == "" {
		return "", model.Category{}, apperror.ValidationFailed("categoryId", "category is required")
	}

	if err := s.Catalog.FetchCategories(r.Context()); err != nil {
		return "", model.Category{}, err
	}
	for _, c := range s.Catalog.Categories() {
		if c.ID == req.CategoryID {
			return unit, c, nil
		}
	}
	return "", model.Category{}, apperror.ValidationFailed("categoryId", "unknown category")
}
