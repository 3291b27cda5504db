package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/realtime"
	"github.com/tinkapp/tink/internal/repository"
)

var (
	_ repository.ChatRepository = (*DB)(nil)
	_ repository.ChatFeed       = (*DB)(nil)
)

// ChatTopic is the bus topic for writes to one chat.
func ChatTopic(chatID string) string { return "chat/" + chatID }

// UserChatsTopic is the bus topic for writes to any chat of uid.
func UserChatsTopic(uid string) string { return "user-chats/" + uid }

// CreateChat inserts a chat between the two users in c.Users. The pair is
// stored sorted; a second chat for the same pair is rejected with
// apperror.ErrConflict by the UNIQUE constraint.
//
// ONE CHAT PER PAIR:
// Two devices can open a chat between the same users at the same moment.
// Both miss in FindChatBetween and both insert. Sorting the pair makes
// (a, b) and (b, a) the same row key, so the UNIQUE(user_a, user_b) index
// lets exactly one insert win. The loser gets ErrConflict and the Chat
// Manager answers it with the winner's chat, so both callers end up in
// the same conversation.
func (db *DB) CreateChat(ctx context.Context, c *model.Chat) error {
	if len(c.Users) != 2 || c.Users[0] == "" || c.Users[1] == "" || c.Users[0] == c.Users[1] {
		return apperror.ValidationFailed("users", "a chat needs exactly two different participants")
	}

	pair := model.Pair(c.Users[0], c.Users[1])
	if c.ID == "" {
		c.ID = xid.New().String()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO chats (id, user_a, user_b, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, pair[0], pair[1], time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("chat", pair[0]+","+pair[1])
		}
		return fmt.Errorf("sqlite: creating chat: %w", err)
	}

	c.Users = []string{pair[0], pair[1]}
	c.Messages = []model.Message{}
	db.bus.Publish(ChatTopic(c.ID), UserChatsTopic(pair[0]), UserChatsTopic(pair[1]))
	return nil
}

// GetChat returns the chat with its messages in timestamp order.
func (db *DB) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	return db.getChat(ctx, id, `SELECT id, user_a, user_b FROM chats WHERE id = ?`, id)
}

// FindChatBetween returns the chat of the unordered pair {a, b}.
func (db *DB) FindChatBetween(ctx context.Context, a, b string) (*model.Chat, error) {
	pair := model.Pair(a, b)
	return db.getChat(ctx, pair[0]+","+pair[1],
		`SELECT id, user_a, user_b FROM chats WHERE user_a = ? AND user_b = ?`,
		pair[0], pair[1])
}

func (db *DB) getChat(ctx context.Context, key, query string, args ...any) (*model.Chat, error) {
	var c model.Chat
	var a, b string
	err := db.conn.QueryRowContext(ctx, query, args...).Scan(&c.ID, &a, &b)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("chat", key)
		}
		return nil, fmt.Errorf("sqlite: getting chat: %w", err)
	}
	c.Users = []string{a, b}

	messages, err := db.messagesWhere(ctx, `chat_id = ?`, c.ID)
	if err != nil {
		return nil, err
	}
	c.Messages = messages[c.ID]
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
	return &c, nil
}

// ListChatsFor returns every chat uid participates in, oldest first.
func (db *DB) ListChatsFor(ctx context.Context, uid string) ([]model.Chat, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_a, user_b FROM chats
		 WHERE user_a = ? OR user_b = ?
		 ORDER BY created_at, id`,
		uid, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing chats for %s: %w", uid, err)
	}

	chats := []model.Chat{}
	for rows.Next() {
		var c model.Chat
		var a, b string
		if err := rows.Scan(&c.ID, &a, &b); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning chat: %w", err)
		}
		c.Users = []string{a, b}
		chats = append(chats, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("sqlite: iterating chats: %w", err)
	}

	// Rows are closed before the second query: an in-memory database has a
	// single connection.
	messages, err := db.messagesWhere(ctx,
		`chat_id IN (SELECT id FROM chats WHERE user_a = ? OR user_b = ?)`, uid, uid)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		chats[i].Messages = messages[chats[i].ID]
		if chats[i].Messages == nil {
			chats[i].Messages = []model.Message{}
		}
	}
	return chats, nil
}

// AppendMessage inserts one message row. Existing messages are never read
// or rewritten.
func (db *DB) AppendMessage(ctx context.Context, chatID string, m model.Message) error {
	var a, b string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_a, user_b FROM chats WHERE id = ?`, chatID,
	).Scan(&a, &b)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("chat", chatID)
		}
		return fmt.Errorf("sqlite: looking up chat %s: %w", chatID, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, text, sender_id, ts, received)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, chatID, m.Text, m.SenderID, m.Timestamp.UnixNano(), m.Received,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("message", m.ID)
		}
		return fmt.Errorf("sqlite: appending message to chat %s: %w", chatID, err)
	}

	db.bus.Publish(ChatTopic(chatID), UserChatsTopic(a), UserChatsTopic(b))
	return nil
}

// WatchChat subscribes to writes to one chat.
func (db *DB) WatchChat(id string) *realtime.Subscription[realtime.Event] {
	return db.bus.Subscribe(ChatTopic(id))
}

// WatchUserChats subscribes to writes to any chat of uid.
func (db *DB) WatchUserChats(uid string) *realtime.Subscription[realtime.Event] {
	return db.bus.Subscribe(UserChatsTopic(uid))
}

// messagesWhere loads messages matching where, grouped by chat id and
// ordered by timestamp, then insertion order.
func (db *DB) messagesWhere(ctx context.Context, where string, args ...any) (map[string][]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT chat_id, id, text, sender_id, ts, received
		 FROM messages WHERE `+where+`
		 ORDER BY ts, rowid`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Message)
	for rows.Next() {
		var (
			chatID string
			m      model.Message
			ts     int64
		)
		if err := rows.Scan(&chatID, &m.ID, &m.Text, &m.SenderID, &ts, &m.Received); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		out[chatID] = append(out[chatID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating messages: %w", err)
	}
	return out, nil
}
