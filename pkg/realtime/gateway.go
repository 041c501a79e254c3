package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"emberline/pkg/auth"
	"emberline/pkg/logger"
	"emberline/pkg/models"
	"emberline/pkg/store"
	"emberline/pkg/utils"
)

// Gateway authenticates each realtime connection and routes its events.
type Gateway struct {
	hub      *Hub
	receipts *Receipts
	secrets  []string
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, secrets, allowedOrigins []string) *Gateway {
	return &Gateway{
		hub:      hub,
		receipts: NewReceipts(hub),
		secrets:  secrets,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				if o == "" {
					return true
				}
				for _, a := range allowedOrigins {
					if a == "*" || a == o {
						return true
					}
				}
				return false
			},
		},
	}
}

// Receipts exposes the read-receipt tracker for the HTTP surface.
func (g *Gateway) Receipts() *Receipts { return g.receipts }

// HandleWS is the handshake: verify the caller-supplied signed token, resolve
// it to an existing user, then bind the upgraded connection to that identity
// for its lifetime. Missing or unverifiable proof rejects the handshake
// before the upgrade.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	tok := auth.BearerToken(r)
	if tok == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing token")
		return
	}
	userID, err := auth.VerifyToken(tok, g.secrets)
	if err != nil {
		utils.JSONError(w, http.StatusUnauthorized, "invalid token")
		logger.Warn("ws_auth_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	user, err := store.GetUser(userID)
	if err != nil {
		utils.JSONError(w, http.StatusUnauthorized, "unknown user")
		logger.Warn("ws_auth_unknown_user", "user", userID)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &Client{
		ID:     uuid.NewString(),
		UserID: user.ID,
		Name:   user.Name,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		hub:    g.hub,
		gw:     g,
	}
	g.hub.register(c)
	go c.writePump()
	c.readPump()
}

type typingPayload struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (g *Gateway) dispatch(c *Client, ev Envelope) {
	switch ev.Event {
	case "joinChat":
		var chatID string
		if err := json.Unmarshal(ev.Data, &chatID); err != nil || chatID == "" {
			c.sendEvent("error", errorPayload{Message: "joinChat requires a chat id"})
			return
		}
		g.join(c, chatID)

	case "sendMessage":
		// relay path: the message was persisted through the HTTP create;
		// here we only fan it out to the room, sender excluded. The relay
		// still verifies the connection against the chat record so a
		// connection cannot inject frames into rooms it has no part in,
		// or under someone else's identity.
		var m models.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil || m.Chat == "" {
			c.sendEvent("error", errorPayload{Message: "sendMessage requires a message with a chat"})
			return
		}
		if m.Sender != "" && m.Sender != c.UserID {
			logger.Warn("relay_sender_mismatch", "chat", m.Chat, "user", c.UserID, "claimed", m.Sender)
			c.sendEvent("error", errorPayload{Message: "sender does not match this connection"})
			return
		}
		chat, err := store.GetChat(m.Chat)
		if err != nil || !chat.HasParticipant(c.UserID) {
			logger.Warn("relay_rejected", "chat", m.Chat, "user", c.UserID)
			c.sendEvent("error", errorPayload{Message: "not a participant of this chat"})
			return
		}
		g.hub.Broadcast(m.Chat, "receiveMessage", m, c)

	case "message-read":
		var msgID string
		if err := json.Unmarshal(ev.Data, &msgID); err != nil || msgID == "" {
			c.sendEvent("error", errorPayload{Message: "message-read requires a message id"})
			return
		}
		if err := g.receipts.MarkRead(msgID, c.UserID); err != nil {
			logger.Error("receipt_failed", "msg", msgID, "user", c.UserID, "error", err)
		}

	case "typing":
		var p typingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.ChatID == "" {
			return
		}
		// presence events are not self-excluded; clients filter on name
		g.hub.Broadcast(p.ChatID, "userTyping", p, nil)

	case "stopTyping":
		var p typingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.ChatID == "" {
			logger.Warn("stop_typing_missing_chat", "conn", c.ID)
			return
		}
		g.hub.Broadcast(p.ChatID, "userStopTyping", typingPayload{ChatID: p.ChatID}, nil)

	default:
		logger.Debug("unknown_event", "event", ev.Event, "conn", c.ID)
	}
}

// join admits the connection to a room only after verifying participant
// membership against the chat record. Any authenticated connection used to be
// able to join any room; that gap is closed here.
func (g *Gateway) join(c *Client, chatID string) {
	chat, err := store.GetChat(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.sendEvent("error", errorPayload{Message: "unknown chat"})
			return
		}
		logger.Error("join_chat_lookup_failed", "chat", chatID, "error", err)
		c.sendEvent("error", errorPayload{Message: "internal error"})
		return
	}
	if !chat.HasParticipant(c.UserID) {
		logger.Warn("join_rejected", "chat", chatID, "user", c.UserID)
		c.sendEvent("error", errorPayload{Message: "not a participant of this chat"})
		return
	}
	g.hub.Join(chatID, c)
}
