package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
	"github.com/tinkapp/tink/internal/session"
)

// NewSkill is the input of CatalogManager.CreateSkill. Price is the bare
// amount; the unit suffix is added from PriceUnit.
type NewSkill struct {
	Name        string
	Description string
	Price       string
	Category    model.Category
	IsOnline    *bool
	PriceUnit   model.PriceUnit
}

// CatalogManager keeps the device's view of the skill catalog: the category
// list, every skill, and the skills of the signed-in user.
//
// The caches are plain snapshots. UpdateSkill drops them instead of patching
// them, and DeleteSkill only touches "mine", so callers re-sync to see a
// consistent view.
//
// The skill caches belong to one user. owner records whose they are, and a
// write that finishes after the session user changed is discarded, so a
// sync started by the previous user never lands in the next user's view.
type CatalogManager struct {
	skills     repository.SkillRepository
	categories repository.CategoryRepository
	session    *session.Store
	logger     *slog.Logger

	mu         sync.RWMutex
	cats       []model.Category
	catsLoaded bool
	all        []model.Skill
	mine       []model.Skill
	synced     bool
	owner      string

	// loadMu serializes FetchCategories so concurrent callers load once.
	loadMu sync.Mutex
}

// NewCatalogManager creates a manager with empty caches.
func NewCatalogManager(
	skills repository.SkillRepository,
	categories repository.CategoryRepository,
	store *session.Store,
	logger *slog.Logger,
) *CatalogManager {
	return &CatalogManager{
		skills:     skills,
		categories: categories,
		session:    store,
		logger:     logger,
	}
}

// FetchCategories loads the categories once. Later calls are no-ops for the
// life of the manager.
func (m *CatalogManager) FetchCategories(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.RLock()
	loaded := m.catsLoaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	cats, err := m.categories.ListCategories(ctx)
	if err != nil {
		return apperror.Remote("load categories", err)
	}

	m.mu.Lock()
	m.cats = cats
	m.catsLoaded = true
	m.mu.Unlock()
	return nil
}

// Categories returns the cached categories.
func (m *CatalogManager) Categories() []model.Category {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Category(nil), m.cats...)
}

// SyncSkills reloads the catalog and partitions it into all skills and the
// session user's skills. Without a session it does nothing.
func (m *CatalogManager) SyncSkills(ctx context.Context) error {
	user, ok := m.session.User()
	if !ok {
		return nil
	}

	all, err := m.skills.ListSkills(ctx)
	if err != nil {
		return apperror.Remote("load skills", err)
	}

	mine := make([]model.Skill, 0)
	for _, s := range all {
		if s.User.ID == user.ID {
			mine = append(mine, s)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sessionIs(user.ID) {
		m.logger.Debug("discarding skill sync of previous user", slog.String("uid", user.ID))
		return nil
	}
	m.all = all
	m.mine = mine
	m.synced = true
	m.owner = user.ID
	return nil
}

// AllSkills returns the cached catalog.
func (m *CatalogManager) AllSkills() []model.Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Skill(nil), m.all...)
}

// MySkills returns the cached skills of the session user.
func (m *CatalogManager) MySkills() []model.Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.owner == "" || !m.sessionIs(m.owner) {
		return nil
	}
	return append([]model.Skill(nil), m.mine...)
}

// Synced reports whether the caches hold a sync that has not been
// invalidated since.
func (m *CatalogManager) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// Filtered applies f to the cached catalog.
func (m *CatalogManager) Filtered(f Filter) []model.Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f.Apply(m.all)
}

// CreateSkill publishes a skill owned by the session user and appends it to
// both caches.
func (m *CatalogManager) CreateSkill(ctx context.Context, in NewSkill) (*model.Skill, error) {
	user, ok := m.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("publish a skill")
	}

	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	amount := strings.TrimSpace(in.Price)
	switch {
	case name == "":
		return nil, apperror.ValidationFailed("name", "name is required")
	case description == "":
		return nil, apperror.ValidationFailed("description", "description is required")
	case amount == "":
		return nil, apperror.ValidationFailed("price", "price is required")
	}

	s := &model.Skill{
		Name:        name,
		Description: description,
		Price:       model.FormatPrice(amount, in.PriceUnit),
		Category:    in.Category,
		User:        user,
		IsOnline:    in.IsOnline,
	}
	if err := m.skills.CreateSkill(ctx, s); err != nil {
		return nil, apperror.Remote("publish the skill", err)
	}

	m.mu.Lock()
	if m.sessionIs(user.ID) && (m.owner == "" || m.owner == user.ID) {
		m.all = append(m.all, *s)
		m.mine = append(m.mine, *s)
		m.owner = user.ID
	}
	m.mu.Unlock()

	m.logger.Info("skill created", slog.String("skillID", s.ID), slog.String("uid", user.ID))
	return s, nil
}

// UpdateSkill overwrites a skill of the session user and invalidates the
// caches.
func (m *CatalogManager) UpdateSkill(ctx context.Context, s model.Skill) error {
	user, ok := m.session.User()
	if !ok {
		return apperror.Unauthenticated("edit a skill")
	}
	if err := m.checkOwner(ctx, s.ID, user.ID); err != nil {
		return err
	}

	s.User = user
	if err := m.skills.UpdateSkill(ctx, &s); err != nil {
		return apperror.Remote("save the skill", err)
	}

	m.invalidate()
	return nil
}

// DeleteSkill removes a skill of the session user and drops it from "mine".
// "All" keeps it until the next SyncSkills.
func (m *CatalogManager) DeleteSkill(ctx context.Context, id string) error {
	user, ok := m.session.User()
	if !ok {
		return apperror.Unauthenticated("delete a skill")
	}
	if err := m.checkOwner(ctx, id, user.ID); err != nil {
		return err
	}

	if err := m.skills.DeleteSkill(ctx, id); err != nil {
		return apperror.Remote("delete the skill", err)
	}

	m.mu.Lock()
	kept := m.mine[:0:0]
	for _, s := range m.mine {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.mine = kept
	m.mu.Unlock()
	return nil
}

// PropagateName writes name into the owner snapshot of every skill the
// session user owns. Individual failures are logged and skipped; the
// number of patched skills is returned.
func (m *CatalogManager) PropagateName(ctx context.Context, name string) (int, error) {
	return m.propagate(ctx, "name", func(owner *model.User) { owner.Name = name })
}

// PropagateImageURL is PropagateName for the profile image.
func (m *CatalogManager) PropagateImageURL(ctx context.Context, url string) (int, error) {
	return m.propagate(ctx, "image", func(owner *model.User) { owner.ProfileImageURL = model.StringPtr(url) })
}

// propagate rewrites the owner snapshot embedded in each skill document.
//
// FAN-OUT SEMANTICS:
// Skills carry a copy of their owner (name and image) so catalog reads need
// no join. Changing the profile therefore touches every owned skill, one
// document at a time, with no transaction around the batch. A failed patch
// is logged and skipped: the profile change itself already succeeded and a
// stale snapshot only affects how the skill is displayed. The next profile
// change rewrites every snapshot again, which repairs skipped ones.
func (m *CatalogManager) propagate(ctx context.Context, field string, patch func(*model.User)) (int, error) {
	user, ok := m.session.User()
	if !ok {
		return 0, apperror.Unauthenticated("update your skills")
	}

	owned, err := m.skills.ListSkillsByOwner(ctx, user.ID)
	if err != nil {
		return 0, apperror.Remote("update your skills", err)
	}

	patched := 0
	for _, s := range owned {
		owner := s.User
		patch(&owner)
		if err := m.skills.PatchSkillOwner(ctx, s.ID, owner); err != nil {
			m.logger.Warn("fan-out patch failed",
				slog.String("skillID", s.ID),
				slog.String("field", field),
				slog.String("error", err.Error()),
			)
			continue
		}
		patched++
	}
	return patched, nil
}

// Reset drops the skill caches. Categories stay loaded.
func (m *CatalogManager) Reset() {
	m.invalidate()
}

func (m *CatalogManager) invalidate() {
	m.mu.Lock()
	m.all = nil
	m.mine = nil
	m.synced = false
	m.owner = ""
	m.mu.Unlock()
}

// sessionIs reports whether uid is still the session user.
func (m *CatalogManager) sessionIs(uid string) bool {
	u, ok := m.session.User()
	return ok && u.ID == uid
}

func (m *CatalogManager) checkOwner(ctx context.Context, skillID, uid string) error {
	stored, err := m.skills.GetSkill(ctx, skillID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return apperror.Remote("load the skill", err)
	}
	if stored.User.ID != uid {
		return apperror.Forbidden("you can only change your own skills")
	}
	return nil
}
