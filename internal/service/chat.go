package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/realtime"
	"github.com/tinkapp/tink/internal/repository"
	"github.com/tinkapp/tink/internal/session"
)

// stopper is any live observation the manager has handed out.
type stopper interface {
	Stop()
}

// ChatManager creates chats, sends messages and runs live chat and message
// observations for the session user.
//
// Every Observe call returns a handle the caller must Stop. StopAll stops
// whatever is still running, e.g. on sign-out.
type ChatManager struct {
	chats   repository.ChatRepository
	feed    repository.ChatFeed
	session *session.Store
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	list  []model.Chat
	live  map[stopper]struct{}
	ended bool
}

// NewChatManager creates a ChatManager.
func NewChatManager(
	chats repository.ChatRepository,
	feed repository.ChatFeed,
	store *session.Store,
	logger *slog.Logger,
) *ChatManager {
	return &ChatManager{
		chats:   chats,
		feed:    feed,
		session: store,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		live:    make(map[stopper]struct{}),
	}
}

// ListChats loads the chats of the session user into the manager.
func (m *ChatManager) ListChats(ctx context.Context) ([]model.Chat, error) {
	user, ok := m.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("see your chats")
	}
	return m.reloadChats(ctx, user.ID)
}

// Chats returns the last loaded chat list.
func (m *ChatManager) Chats() []model.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Chat(nil), m.list...)
}

// ObserveChats streams the session user's chat list: once immediately, then
// after every change to any of their chats. Each emission also refreshes
// the manager's list.
func (m *ChatManager) ObserveChats(ctx context.Context) (*realtime.Subscription[[]model.Chat], error) {
	user, ok := m.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("see your chats")
	}

	src := m.feed.WatchUserChats(user.ID)
	return observe(m, ctx, user.ID, src, func(ctx context.Context) ([]model.Chat, error) {
		return m.reloadChats(ctx, user.ID)
	})
}

// CreateChat returns the chat between the session user and other, creating
// it only if none exists. A concurrent creation from the other device loses
// on the store's unique pair and is answered with the winner's chat.
func (m *ChatManager) CreateChat(ctx context.Context, other string) (*model.Chat, error) {
	user, ok := m.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("start a chat")
	}
	if other == "" || other == user.ID {
		return nil, apperror.ValidationFailed("user", "choose another user to chat with")
	}

	existing, err := m.chats.FindChatBetween(ctx, user.ID, other)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Remote("start the chat", err)
	}

	c := &model.Chat{Users: []string{user.ID, other}, Messages: []model.Message{}}
	if err := m.chats.CreateChat(ctx, c); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			existing, ferr := m.chats.FindChatBetween(ctx, user.ID, other)
			if ferr != nil {
				return nil, apperror.Remote("start the chat", ferr)
			}
			return existing, nil
		}
		return nil, apperror.Remote("start the chat", err)
	}

	m.logger.Info("chat created", slog.String("chatID", c.ID), slog.String("uid", user.ID))
	return c, nil
}

// SendMessage appends a message to chatID. Empty text is the caller's to
// reject.
func (m *ChatManager) SendMessage(ctx context.Context, text, chatID, senderID string) (*model.Message, error) {
	user, ok := m.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("send messages")
	}
	if senderID != user.ID {
		return nil, apperror.Forbidden("you can only send messages as yourself")
	}
	if err := m.checkParticipant(ctx, chatID, user.ID); err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:        m.newID(),
		Text:      text,
		SenderID:  senderID,
		Timestamp: m.now().UTC(),
		Received:  false,
	}
	if err := m.chats.AppendMessage(ctx, chatID, msg); err != nil {
		return nil, apperror.Remote("send the message", err)
	}
	return &msg, nil
}

// ObserveMessages streams the full message list of one chat: once
// immediately, then after every change to the chat.
func (m *ChatManager) ObserveMessages(ctx context.Context, chatID string) (*realtime.Subscription[[]model.Message], error) {
	user, ok := m.session.User()
	if !ok {
		return nil, apperror.Unauthenticated("read messages")
	}
	if err := m.checkParticipant(ctx, chatID, user.ID); err != nil {
		return nil, err
	}

	src := m.feed.WatchChat(chatID)
	return observe(m, ctx, user.ID, src, func(ctx context.Context) ([]model.Message, error) {
		c, err := m.chats.GetChat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return c.Messages, nil
	})
}

// Live returns the number of running observations.
func (m *ChatManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// StopAll stops every running observation and forgets the chat list.
func (m *ChatManager) StopAll() {
	m.mu.Lock()
	running := make([]stopper, 0, len(m.live))
	for s := range m.live {
		running = append(running, s)
	}
	m.list = nil
	m.mu.Unlock()

	for _, s := range running {
		s.Stop()
	}
}

// Close stops every observation and refuses new ones.
func (m *ChatManager) Close() {
	m.mu.Lock()
	m.ended = true
	m.mu.Unlock()
	m.StopAll()
}

func (m *ChatManager) reloadChats(ctx context.Context, uid string) ([]model.Chat, error) {
	chats, err := m.chats.ListChatsFor(ctx, uid)
	if err != nil {
		return nil, apperror.Remote("load your chats", err)
	}
	m.mu.Lock()
	if m.sessionIs(uid) {
		m.list = chats
	}
	m.mu.Unlock()
	return chats, nil
}

// sessionIs reports whether uid is still the session user.
func (m *ChatManager) sessionIs(uid string) bool {
	u, ok := m.session.User()
	return ok && u.ID == uid
}

func (m *ChatManager) checkParticipant(ctx context.Context, chatID, uid string) error {
	c, err := m.chats.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return apperror.Remote("open the chat", err)
	}
	if !c.Has(uid) {
		return apperror.Forbidden("you are not part of this chat")
	}
	return nil
}

func (m *ChatManager) track(s stopper) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return false
	}
	m.live[s] = struct{}{}
	return true
}

func (m *ChatManager) untrack(s stopper) {
	m.mu.Lock()
	delete(m.live, s)
	m.mu.Unlock()
}

// observe turns a change-notification subscription into a snapshot stream:
// load once, then re-load after every event until the returned handle is
// stopped. Load failures are logged and the stream keeps running. An
// observation opened for uid is refused if uid stopped being the session
// user before it was tracked, since StopAll would have missed it.
func observe[T any](
	m *ChatManager,
	ctx context.Context,
	uid string,
	src *realtime.Subscription[realtime.Event],
	load func(context.Context) (T, error),
) (*realtime.Subscription[T], error) {
	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var out *realtime.Subscription[T]
	out = realtime.NewSubscription[T](func() {
		cancel()
		src.Stop()
		m.untrack(out)
	})
	if !m.track(out) || !m.sessionIs(uid) {
		out.Stop()
		return nil, apperror.Unauthenticated("observe chats")
	}

	first, err := load(loopCtx)
	if err != nil {
		out.Stop()
		return nil, apperror.Remote("load the chat", err)
	}
	out.Send(first)

	go func() {
		for {
			select {
			case <-out.Done():
				return
			case _, ok := <-src.C():
				if !ok {
					out.Stop()
					return
				}
				v, err := load(loopCtx)
				if err != nil {
					if loopCtx.Err() == nil {
						m.logger.Warn("reloading observed chat failed", slog.String("error", err.Error()))
					}
					continue
				}
				out.Send(v)
			}
		}
	}()

	return out, nil
}
