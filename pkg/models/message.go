package models

import "time"

// RetentionExpiring is the only retention mode currently issued: the message
// is deleted RetentionWindow after creation. The field is re-checked at fire
// time so a future mode change cancels the pending deletion.
const RetentionExpiring = "24h"

// RetentionWindow is the span after creation during which a message is
// eligible to appear to any non-hiding viewer.
const RetentionWindow = 24 * time.Hour

type Message struct {
	ID       string `json:"id"`
	Chat     string `json:"chat"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver,omitempty"`
	// Content is either inline text or an opaque attachment reference
	// (currently an /uploads/ path returned by the upload endpoint).
	Content string `json:"content"`
	// ReplyTo references another message in the same chat.
	ReplyTo string `json:"reply_to,omitempty"`
	// ReadBy holds viewer ids that have observed this message; the sender is
	// a member from creation onward. Members are only ever added.
	ReadBy []string `json:"read_by"`
	// HiddenFor holds viewer ids for whom this message is soft-deleted.
	HiddenFor []string `json:"hidden_for,omitempty"`
	// CreatedTS is assigned at persistence (ns) and never changes.
	CreatedTS int64  `json:"created_ts"`
	Retention string `json:"retention"`

	// SenderName and Reply are populated at materialization time for
	// delivery; they are not authoritative stored state.
	SenderName string        `json:"sender_name,omitempty"`
	Reply      *ReplySummary `json:"reply,omitempty"`
}

// ReplySummary is the embedded parent digest attached to replies at read time.
type ReplySummary struct {
	ID      string `json:"id,omitempty"`
	Sender  string `json:"sender"`
	Preview string `json:"preview"`
}

// ReadByViewer reports whether viewer is already in the read set.
func (m *Message) ReadByViewer(viewer string) bool {
	for _, id := range m.ReadBy {
		if id == viewer {
			return true
		}
	}
	return false
}

// HiddenFrom reports whether the message is soft-deleted for viewer.
func (m *Message) HiddenFrom(viewer string) bool {
	for _, id := range m.HiddenFor {
		if id == viewer {
			return true
		}
	}
	return false
}

// IsAttachment reports whether Content denotes a stored attachment rather
// than inline text.
func (m *Message) IsAttachment() bool {
	return len(m.Content) > len(attachmentPrefix) && m.Content[:len(attachmentPrefix)] == attachmentPrefix
}

const attachmentPrefix = "/uploads/"
