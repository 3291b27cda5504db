package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
)

// ChatHandler exposes the Chat Manager of the calling device.
//
// The two WebSocket routes hold a live observation for as long as the
// connection is open and stop it when the client disconnects.
type ChatHandler struct {
	scopes   Scopes
	streamer *Streamer
	logger   *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(scopes Scopes, streamer *Streamer, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{scopes: scopes, streamer: streamer, logger: logger}
}

type createChatRequest struct {
	UserID string `json:"userId"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// HandleList returns the chats of the signed-in user.
//
// HTTP: GET /api/chats
func (h *ChatHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	chats, err := s.Chats.ListChats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// HandleListStream pushes the chat list on every change to any of the
// user's chats.
//
// HTTP: GET /api/chats/ws (WebSocket)
func (h *ChatHandler) HandleListStream(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	release := s.Hold()
	defer release()

	sub, err := s.Chats.ObserveChats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	stream(h.streamer, w, r, sub, func(chats []model.Chat) any { return chats })
}

// HandleCreate opens the chat with another user, or returns the existing
// one.
//
// HTTP: POST /api/chats
// REQUEST BODY: {"userId": "..."}
func (h *ChatHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	chat, err := s.Chats.CreateChat(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// HandleSend appends a message from the signed-in user.
//
// HTTP: POST /api/chats/{id}/messages
// REQUEST BODY: {"text": "..."}
//
// Blank text is rejected here; the manager itself accepts any text.
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, apperror.ValidationFailed("text", "message is empty"))
		return
	}

	user, signedIn := s.Session.User()
	if !signedIn {
		writeError(w, apperror.Unauthenticated("send messages"))
		return
	}

	msg, err := s.Chats.SendMessage(r.Context(), req.Text, chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleMessagesStream pushes the full message list of one chat on every
// change.
//
// HTTP: GET /api/chats/{id}/ws (WebSocket)
func (h *ChatHandler) HandleMessagesStream(w http.ResponseWriter, r *http.Request) {
	s, ok := deviceScope(h.scopes, h.logger, w, r)
	if !ok {
		return
	}
	release := s.Hold()
	defer release()

	sub, err := s.Chats.ObserveMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	stream(h.streamer, w, r, sub, func(msgs []model.Message) any { return msgs })
}
