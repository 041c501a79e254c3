package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"emberline/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	// sendBuffer bounds per-connection fan-out; overflow drops the event.
	sendBuffer = 64
)

// Client is one authenticated realtime connection bound to a verified
// (userID, displayName) pair for its lifetime. A user may hold several
// clients at once (multi-device).
type Client struct {
	ID     string
	UserID string
	Name   string

	conn *websocket.Conn
	send chan []byte
	// done is closed by the hub on unregister; send stays open so fan-out
	// racing a disconnect never hits a closed channel.
	done chan struct{}
	hub  *Hub
	gw   *Gateway
}

// readPump consumes client frames until the connection drops, dispatching
// each envelope to the gateway. It owns unregistration.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("connection_read_error", "conn", c.ID, "error", err)
			}
			return
		}
		var ev Envelope
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Debug("connection_bad_frame", "conn", c.ID, "error", err)
			continue
		}
		c.gw.dispatch(c, ev)
	}
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with pings. It exits when the hub closes the channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// sendEvent queues a frame for this connection only (errors, acks).
func (c *Client) sendEvent(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- frame:
	default:
	}
}
