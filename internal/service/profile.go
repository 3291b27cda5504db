package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/media"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
	"github.com/tinkapp/tink/internal/session"
)

// ProfileService runs the profile edits of the session user. Every edit
// writes the user document, then the Session Store, then fans out to the
// skills that embed the user.
type ProfileService struct {
	users   repository.UserRepository
	skills  repository.SkillRepository
	media   media.Host
	session *session.Store
	catalog *CatalogManager
	gateway *AuthGateway
	logger  *slog.Logger
}

// NewProfileService creates a ProfileService.
func NewProfileService(
	users repository.UserRepository,
	skills repository.SkillRepository,
	host media.Host,
	store *session.Store,
	catalog *CatalogManager,
	gateway *AuthGateway,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		users:   users,
		skills:  skills,
		media:   host,
		session: store,
		catalog: catalog,
		gateway: gateway,
		logger:  logger,
	}
}

// Rename changes the display name.
func (p *ProfileService) Rename(ctx context.Context, name string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}

	u, err := p.save(ctx, "update your name", func(u *model.User) { u.Name = name })
	if err != nil {
		return nil, err
	}
	if _, err := p.catalog.PropagateName(ctx, name); err != nil {
		p.logFanOut("name", u.ID, err)
	}
	return u, nil
}

// UploadImage replaces the profile image. The media host keys the image by
// the user id, so the new upload overwrites the previous one.
func (p *ProfileService) UploadImage(ctx context.Context, r io.Reader) (*model.User, error) {
	user, ok := p.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("change your picture")
	}

	url, err := p.media.Upload(ctx, media.ProfileImageID(user.ID), r)
	if err != nil {
		return nil, apperror.Remote("upload your picture", err)
	}

	u, err := p.save(ctx, "save your picture", func(u *model.User) { u.ProfileImageURL = model.StringPtr(url) })
	if err != nil {
		return nil, err
	}
	if _, err := p.catalog.PropagateImageURL(ctx, url); err != nil {
		p.logFanOut("image", u.ID, err)
	}
	return u, nil
}

// UpdateLocation sets locality and province. A nil argument leaves that
// field as it is; an empty string clears it.
func (p *ProfileService) UpdateLocation(ctx context.Context, locality, province *string) (*model.User, error) {
	return p.save(ctx, "update your location", func(u *model.User) {
		if locality != nil {
			u.Locality = model.StringPtr(strings.TrimSpace(*locality))
		}
		if province != nil {
			u.Province = model.StringPtr(strings.TrimSpace(*province))
		}
	})
}

// DeleteAccount confirms the password, deletes the account through the
// gateway, then removes the user's skills and user document.
//
// ORDERING:
// The identity goes first. If the profile image or the identity record
// cannot be deleted, the call fails with every document still in place and
// the device still signed in, so the user can retry. Once the identity is
// gone nobody can sign in as this user again, and leftover documents are
// only orphans: their cleanup is best-effort and failures are logged.
func (p *ProfileService) DeleteAccount(ctx context.Context, password string) error {
	user, ok := p.session.User()
	if !ok {
		return apperror.Unauthenticated("delete your account")
	}
	if err := p.gateway.Reauthenticate(ctx, password); err != nil {
		return err
	}

	if err := p.gateway.DeleteAccount(ctx); err != nil {
		return err
	}

	owned, err := p.skills.ListSkillsByOwner(ctx, user.ID)
	if err != nil {
		p.logger.Warn("listing skills for account deletion failed",
			slog.String("uid", user.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, s := range owned {
		if err := p.skills.DeleteSkill(ctx, s.ID); err != nil {
			p.logger.Warn("deleting skill failed",
				slog.String("uid", user.ID),
				slog.String("skillID", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := p.users.DeleteUser(ctx, user.ID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		p.logger.Warn("deleting user document failed",
			slog.String("uid", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// save applies edit to the stored user document and mirrors the result into
// the Session Store.
func (p *ProfileService) save(ctx context.Context, action string, edit func(*model.User)) (*model.User, error) {
	user, ok := p.session.User()
	if !ok {
		return nil, apperror.Unauthenticated(action)
	}

	u, err := p.users.GetUser(ctx, user.ID)
	if err != nil {
		return nil, apperror.Remote(action, err)
	}
	edit(u)
	if err := p.users.UpdateUser(ctx, u); err != nil {
		return nil, apperror.Remote(action, err)
	}
	if err := p.session.SetUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *ProfileService) logFanOut(field, uid string, err error) {
	p.logger.Warn("propagating profile change failed",
		slog.String("field", field),
		slog.String("uid", uid),
		slog.String("error", err.Error()),
	)
}
