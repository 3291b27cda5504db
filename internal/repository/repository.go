// Package repository declares the Remote Document Store: the collections the
// marketplace reads and writes, as consumer-side interfaces. The sqlite
// subpackage implements all of them on one database.
package repository

import (
	"context"

	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/realtime"
)

// UserRepository is the users collection, keyed by the identity provider uid.
type UserRepository interface {
	// CreateUser inserts u. It fails with apperror.ErrConflict if u.ID exists.
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	// UpdateUser overwrites every field of the user document.
	UpdateUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id string) error
}

// SkillRepository is the skills collection.
type SkillRepository interface {
	// CreateSkill assigns s.ID and inserts s with its embedded snapshots.
	CreateSkill(ctx context.Context, s *model.Skill) error
	GetSkill(ctx context.Context, id string) (*model.Skill, error)
	ListSkills(ctx context.Context) ([]model.Skill, error)
	ListSkillsByOwner(ctx context.Context, uid string) ([]model.Skill, error)
	// UpdateSkill overwrites the whole document; last write wins.
	UpdateSkill(ctx context.Context, s *model.Skill) error
	// PatchSkillOwner overwrites only the embedded user snapshot of one skill.
	PatchSkillOwner(ctx context.Context, skillID string, owner model.User) error
	DeleteSkill(ctx context.Context, id string) error
}

// CategoryRepository is the categories reference collection.
type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	UpsertCategory(ctx context.Context, c *model.Category) error
}

// ChatRepository is the chats collection with its messages.
type ChatRepository interface {
	// CreateChat inserts a chat with no messages. It fails with
	// apperror.ErrConflict when a chat for the same pair already exists.
	CreateChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	// FindChatBetween returns the chat whose participants are exactly a and b,
	// in either order, or apperror.ErrNotFound.
	FindChatBetween(ctx context.Context, a, b string) (*model.Chat, error)
	// ListChatsFor returns every chat uid participates in.
	ListChatsFor(ctx context.Context, uid string) ([]model.Chat, error)
	// AppendMessage adds m to the end of the chat without rewriting the
	// existing messages.
	AppendMessage(ctx context.Context, chatID string, m model.Message) error
}

// ChatFeed publishes change notifications for chats.
type ChatFeed interface {
	// WatchChat fires after every write to chat id.
	WatchChat(id string) *realtime.Subscription[realtime.Event]
	// WatchUserChats fires after every write to a chat uid participates in.
	WatchUserChats(uid string) *realtime.Subscription[realtime.Event]
}

// AccountRepository is the identity provider's own account table.
type AccountRepository interface {
	// CreateAccount assigns a.UID when empty and inserts a. A duplicate email
	// or federated subject fails with apperror.ErrConflict.
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccountByID(ctx context.Context, uid string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountBySubject(ctx context.Context, provider, subject string) (*model.Account, error)
	UpdatePasswordHash(ctx context.Context, uid, hash string) error
	// BumpTokenGeneration increments the token generation and returns it.
	BumpTokenGeneration(ctx context.Context, uid string) (int, error)
	DeleteAccount(ctx context.Context, uid string) error
}
