package realtime

import (
	"errors"

	"emberline/pkg/logger"
	"emberline/pkg/store"
	"emberline/pkg/telemetry"
)

// Receipts idempotently records that a viewer observed a message and tells
// the room once. The store serializes the set union per message, so the same
// read arriving concurrently from two devices yields a single broadcast.
type Receipts struct {
	hub *Hub
}

func NewReceipts(hub *Hub) *Receipts { return &Receipts{hub: hub} }

// ReadNotice is the message-read-by payload.
type ReadNotice struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MarkRead adds viewer to the message's read set. Only when the viewer was
// newly added and is not the sender does the chat room get a
// message-read-by notification. A receipt for an already-deleted message is
// a no-op.
func (t *Receipts) MarkRead(messageID, viewer string) error {
	m, err := store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Debug("receipt_for_missing_message", "msg", messageID, "viewer", viewer)
			return nil
		}
		return err
	}
	added, err := store.AddReader(messageID, viewer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !added || viewer == m.Sender {
		return nil
	}
	telemetry.ReadReceipts.Inc()
	t.hub.Broadcast(m.Chat, "message-read-by", ReadNotice{MessageID: messageID, UserID: viewer}, nil)
	return nil
}
