// Package realtime carries the websocket surface: the connection gateway,
// the room broadcaster and the read-receipt tracker. Delivery is best-effort
// while connected; there is no queue or retry, and a reconnecting client is
// expected to re-fetch state through the visibility query.
package realtime

import (
	"encoding/json"
	"sync"

	"emberline/pkg/logger"
	"emberline/pkg/telemetry"
)

// Envelope is the wire frame for every realtime event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub maintains chat-id → set-of-connections membership and fans events out
// to a room. A user may appear in a room through several connections.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	telemetry.OpenConnections.Inc()
	logger.Info("connection_registered", "conn", c.ID, "user", c.UserID)
}

// unregister removes the connection from every room and signals its
// writePump to exit. The send channel is never closed: a broadcast that
// snapshotted this member before removal must not panic, it just drops.
// Safe to call once per connection.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for chatID, members := range h.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, chatID)
				telemetry.ActiveRooms.Dec()
			}
		}
	}
	close(c.done)
	h.mu.Unlock()
	telemetry.OpenConnections.Dec()
	logger.Info("connection_unregistered", "conn", c.ID, "user", c.UserID)
}

// Join adds the connection to the room's membership set. Joining twice is a
// no-op; membership authorization happens in the gateway before this point.
func (h *Hub) Join(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[chatID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[chatID] = members
		telemetry.ActiveRooms.Inc()
	}
	members[c] = struct{}{}
	logger.Debug("room_joined", "chat", chatID, "user", c.UserID, "conn", c.ID)
}

// Leave removes the connection from the room; absent membership is a no-op.
func (h *Hub) Leave(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, chatID)
		telemetry.ActiveRooms.Dec()
	}
}

// RoomSize returns the number of connections currently joined to the room.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// BroadcastExcludingUser delivers to every member connection not bound to
// userID. The create path uses it so a sender's own devices are not echoed
// the message they just sent.
func (h *Hub) BroadcastExcludingUser(chatID, event string, payload any, userID string) {
	h.broadcast(chatID, event, payload, func(c *Client) bool { return c.UserID == userID })
}

// Broadcast delivers an event to every member of the room except the
// optionally excluded connection. A member whose send buffer is full is
// silently skipped; emission never blocks the caller.
func (h *Hub) Broadcast(chatID, event string, payload any, exclude *Client) {
	h.broadcast(chatID, event, payload, func(c *Client) bool { return c == exclude })
}

func (h *Hub) broadcast(chatID, event string, payload any, excluded func(*Client) bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("broadcast_marshal_failed", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		logger.Error("broadcast_marshal_failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	members := h.rooms[chatID]
	snapshot := make([]*Client, 0, len(members))
	for c := range members {
		if excluded != nil && excluded(c) {
			continue
		}
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		select {
		case <-c.done:
			// disconnected after the snapshot; silently skipped
			telemetry.BroadcastDropped.Inc()
		case c.send <- frame:
			telemetry.BroadcastEvents.Inc()
		default:
			telemetry.BroadcastDropped.Inc()
			logger.Warn("broadcast_dropped", "event", event, "chat", chatID, "conn", c.ID)
		}
	}
	logger.Debug("broadcast", "event", event, "chat", chatID, "delivered", len(snapshot))
}
