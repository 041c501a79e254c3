// Package reply resolves reply-to references into embedded parent summaries
// at materialization time. Parents are expected to disappear through
// retention, so resolution degrades to placeholders instead of failing.
package reply

import (
	"errors"

	"emberline/pkg/models"
	"emberline/pkg/store"
)

// PreviewAttachment replaces attachment references in parent previews so raw
// storage paths never leak into reply digests.
const PreviewAttachment = "[attachment]"

// PreviewUnavailable stands in for a parent that no longer exists.
const PreviewUnavailable = "[original message unavailable]"

// previewMax bounds the inline text preview length in runes.
const previewMax = 80

// Linker resolves parents through pluggable lookups so tests can run without
// an opened store.
type Linker struct {
	// GetMessage returns the parent message; store.ErrNotFound means deleted.
	GetMessage func(id string) (models.Message, error)
	// UserName resolves a user id to a display name; empty on failure.
	UserName func(id string) string
}

// NewLinker returns a Linker backed by the message store.
func NewLinker() *Linker {
	return &Linker{
		GetMessage: store.GetMessage,
		UserName: func(id string) string {
			u, err := store.GetUser(id)
			if err != nil {
				return ""
			}
			return u.Name
		},
	}
}

// Attach fills m.Reply when m references a parent. A missing parent yields an
// unavailable placeholder; lookup failures other than not-found propagate.
func (l *Linker) Attach(m *models.Message) error {
	if m.ReplyTo == "" {
		return nil
	}
	parent, err := l.GetMessage(m.ReplyTo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.Reply = &models.ReplySummary{ID: m.ReplyTo, Preview: PreviewUnavailable}
			return nil
		}
		return err
	}
	m.Reply = &models.ReplySummary{
		ID:      parent.ID,
		Sender:  l.UserName(parent.Sender),
		Preview: Preview(parent),
	}
	return nil
}

// AttachAll decorates every reply in msgs in place.
func (l *Linker) AttachAll(msgs []models.Message) error {
	for i := range msgs {
		if err := l.Attach(&msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Preview returns the short content digest for a parent message.
func Preview(parent models.Message) string {
	if parent.IsAttachment() {
		return PreviewAttachment
	}
	r := []rune(parent.Content)
	if len(r) > previewMax {
		return string(r[:previewMax]) + "…"
	}
	return parent.Content
}
