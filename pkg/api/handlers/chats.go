package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"emberline/pkg/auth"
	"emberline/pkg/logger"
	"emberline/pkg/models"
	"emberline/pkg/store"
	"emberline/pkg/telemetry"
	"emberline/pkg/utils"
	"emberline/pkg/visibility"
)

// createChat creates or fetches the 1:1 chat between the caller and the
// given user. Chats come into existence lazily on first contact.
func (a *API) createChat(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	chat, created, err := store.EnsureChat(caller, body.UserID)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	_ = utils.JSONWrite(w, status, chat)
}

func (a *API) listChats(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	chats, err := store.ListChatsFor(caller)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Chats []models.Chat `json:"chats"`
	}{Chats: chats})
}

// listVisibleMessages returns the caller-specific view of a chat: hidden
// messages and messages past the retention window are excluded, and replies
// carry their parent digests.
func (a *API) listVisibleMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["id"]
	chat, err := store.GetChat(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "unknown chat")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !chat.HasParticipant(caller) {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}
	msgs, err := store.ListChatMessages(chatID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	vis := visibility.Visible(msgs, caller, time.Now())
	if err := a.Linker.AttachAll(vis); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range vis {
		vis[i].SenderName = a.Linker.UserName(vis[i].Sender)
	}
	logger.Debug("messages_list", "chat", chatID, "viewer", caller, "count", len(vis))
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Chat     string           `json:"chat"`
		Messages []models.Message `json:"messages"`
	}{Chat: chatID, Messages: vis})
}

// hideChatMessages soft-deletes the whole chat for the caller only. Nothing
// is destroyed: other viewers keep seeing the messages until retention.
func (a *API) hideChatMessages(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserIDFromContext(r.Context())
	chatID := mux.Vars(r)["id"]
	chat, err := store.GetChat(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "unknown chat")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !chat.HasParticipant(caller) {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this chat")
		return
	}
	n, err := store.HideAllMessages(chatID, caller)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.MessagesHidden.Add(float64(n))
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"hidden": n})
}
