package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"emberline/pkg/auth"
	"emberline/pkg/logger"
	"emberline/pkg/store"
	"emberline/pkg/telemetry"
	"emberline/pkg/utils"
	"emberline/pkg/validation"
)

// createMessage is the persistence path: validate, store with the sender
// seeded into the read set, arm the deferred deletion, then fan the
// materialized message out to the room with the sender excluded.
func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	sender := auth.UserIDFromContext(r.Context())
	var body struct {
		Chat     string `json:"chat"`
		Content  string `json:"content"`
		Receiver string `json:"receiver,omitempty"`
		ReplyTo  string `json:"reply_to,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateContent(body.Content); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// the lock keeps room fan-out in store commit order for concurrent sends
	a.sendMu.Lock()
	m, err := store.CreateMessage(body.Chat, sender, body.Receiver, body.Content, body.ReplyTo)
	if err != nil {
		a.sendMu.Unlock()
		if errors.Is(err, store.ErrValidation) {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.Sched.Arm(m); err != nil {
		// the startup sweep will re-arm from createdAt; log and continue
		logger.Error("expiry_arm_failed", "msg", m.ID, "error", err)
	}
	m.SenderName = a.Linker.UserName(m.Sender)
	if err := a.Linker.Attach(&m); err != nil {
		logger.Warn("reply_link_failed", "msg", m.ID, "error", err)
	}
	a.Hub.BroadcastExcludingUser(m.Chat, "receiveMessage", m, sender)
	a.sendMu.Unlock()

	telemetry.MessagesCreated.Inc()
	logger.Info("message_created", "chat", m.Chat, "msg", m.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

// markRead is the HTTP variant of the message-read realtime event.
func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	viewer := auth.UserIDFromContext(r.Context())
	msgID := mux.Vars(r)["id"]
	if err := a.Gateway.Receipts().MarkRead(msgID, viewer); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
