package store

import (
	"errors"
	"testing"

	"emberline/pkg/models"
	"emberline/pkg/utils"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func seedUser(t *testing.T, name, email string) models.User {
	t.Helper()
	u := models.User{ID: utils.GenUserID(), Name: name, Email: email, CreatedTS: 1}
	if err := SaveUser(u); err != nil {
		t.Fatalf("SaveUser %s: %v", name, err)
	}
	return u
}

func seedChat(t *testing.T) (models.Chat, models.User, models.User) {
	t.Helper()
	a := seedUser(t, "alice", "alice@example.com")
	b := seedUser(t, "bob", "bob@example.com")
	c, created, err := EnsureChat(a.ID, b.ID)
	if err != nil {
		t.Fatalf("EnsureChat: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh chat")
	}
	return c, a, b
}

func TestUserEmailLookup(t *testing.T) {
	openTestDB(t)
	u := seedUser(t, "alice", "Alice@Example.com")

	got, err := GetUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("email lookup returned %s, want %s", got.ID, u.ID)
	}
	if _, err := GetUserByEmail("nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown email: got %v, want ErrNotFound", err)
	}
}

func TestEnsureChatIsPairStable(t *testing.T) {
	openTestDB(t)
	c, a, b := seedChat(t)

	// same pair in reverse order resolves to the same chat
	c2, created, err := EnsureChat(b.ID, a.ID)
	if err != nil {
		t.Fatalf("EnsureChat reversed: %v", err)
	}
	if created {
		t.Fatalf("reversed pair created a second chat")
	}
	if c2.ID != c.ID {
		t.Fatalf("reversed pair resolved to %s, want %s", c2.ID, c.ID)
	}
}

func TestEnsureChatRejectsUnknownAndSelf(t *testing.T) {
	openTestDB(t)
	a := seedUser(t, "alice", "alice@example.com")

	if _, _, err := EnsureChat(a.ID, "usr-missing"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown participant: got %v, want ErrValidation", err)
	}
	if _, _, err := EnsureChat(a.ID, a.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("self chat: got %v, want ErrValidation", err)
	}
}

func TestCreateMessageSeedsReadBy(t *testing.T) {
	openTestDB(t)
	c, a, b := seedChat(t)

	m, err := CreateMessage(c.ID, a.ID, "", "hello", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.Receiver != b.ID {
		t.Fatalf("receiver defaulted to %s, want %s", m.Receiver, b.ID)
	}
	if len(m.ReadBy) != 1 || m.ReadBy[0] != a.ID {
		t.Fatalf("readBy seeded as %v, want [%s]", m.ReadBy, a.ID)
	}
	if m.Retention != models.RetentionExpiring {
		t.Fatalf("retention mode %q, want %q", m.Retention, models.RetentionExpiring)
	}

	got, err := GetChat(c.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.LatestMessage != m.ID {
		t.Fatalf("chat latestMessage %s, want %s", got.LatestMessage, m.ID)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	openTestDB(t)
	c, a, _ := seedChat(t)
	outsider := seedUser(t, "eve", "eve@example.com")

	if _, err := CreateMessage("chat-missing", a.ID, "", "hi", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown chat: got %v, want ErrValidation", err)
	}
	if _, err := CreateMessage(c.ID, outsider.ID, "", "hi", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("non-participant sender: got %v, want ErrValidation", err)
	}
	if _, err := CreateMessage(c.ID, a.ID, "", "hi", "msg-missing"); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing reply parent: got %v, want ErrValidation", err)
	}
}

func TestCreateMessageRejectsCrossChatReply(t *testing.T) {
	openTestDB(t)
	c, a, _ := seedChat(t)
	eve := seedUser(t, "eve", "eve@example.com")
	other, _, err := EnsureChat(a.ID, eve.ID)
	if err != nil {
		t.Fatalf("EnsureChat: %v", err)
	}
	parent, err := CreateMessage(other.ID, a.ID, "", "elsewhere", "")
	if err != nil {
		t.Fatalf("CreateMessage parent: %v", err)
	}
	if _, err := CreateMessage(c.ID, a.ID, "", "reply", parent.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("cross-chat reply: got %v, want ErrValidation", err)
	}
}

func TestAddReaderIdempotent(t *testing.T) {
	openTestDB(t)
	c, a, b := seedChat(t)
	m, err := CreateMessage(c.ID, a.ID, "", "hello", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	added, err := AddReader(m.ID, b.ID)
	if err != nil {
		t.Fatalf("AddReader: %v", err)
	}
	if !added {
		t.Fatalf("first AddReader reported not-added")
	}
	added, err = AddReader(m.ID, b.ID)
	if err != nil {
		t.Fatalf("AddReader second: %v", err)
	}
	if added {
		t.Fatalf("duplicate AddReader reported added")
	}

	got, err := GetMessage(m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(got.ReadBy) != 2 {
		t.Fatalf("readBy %v, want sender plus one reader", got.ReadBy)
	}
	if _, err := AddReader("msg-missing", b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent message: got %v, want ErrNotFound", err)
	}
}

func TestHideAllMessagesPerViewer(t *testing.T) {
	openTestDB(t)
	c, a, b := seedChat(t)
	for i := 0; i < 3; i++ {
		if _, err := CreateMessage(c.ID, a.ID, "", "hello", ""); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	n, err := HideAllMessages(c.ID, a.ID)
	if err != nil {
		t.Fatalf("HideAllMessages: %v", err)
	}
	if n != 3 {
		t.Fatalf("hidden %d, want 3", n)
	}
	// already hidden for a, so a second pass touches nothing
	n, err = HideAllMessages(c.ID, a.ID)
	if err != nil {
		t.Fatalf("HideAllMessages repeat: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat hid %d, want 0", n)
	}

	msgs, err := ListChatMessages(c.ID)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	for _, m := range msgs {
		if !m.HiddenFrom(a.ID) {
			t.Fatalf("message %s not hidden from %s", m.ID, a.ID)
		}
		if m.HiddenFrom(b.ID) {
			t.Fatalf("message %s hidden from the other participant", m.ID)
		}
	}
}

func TestDeleteMessageAbsent(t *testing.T) {
	openTestDB(t)
	c, a, _ := seedChat(t)
	m, err := CreateMessage(c.ID, a.ID, "", "hello", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := DeleteMessage(m.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if err := DeleteMessage(m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
	if _, err := GetMessage(m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted message still resolvable: %v", err)
	}
}

func TestListChatsForOrdering(t *testing.T) {
	openTestDB(t)
	c, a, _ := seedChat(t)
	eve := seedUser(t, "eve", "eve@example.com")
	c2, _, err := EnsureChat(a.ID, eve.ID)
	if err != nil {
		t.Fatalf("EnsureChat: %v", err)
	}
	// activity in c2 makes it the most recent for a
	if _, err := CreateMessage(c2.ID, a.ID, "", "ping", ""); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	chats, err := ListChatsFor(a.ID)
	if err != nil {
		t.Fatalf("ListChatsFor: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("chats for a: %d, want 2", len(chats))
	}
	if chats[0].ID != c2.ID || chats[1].ID != c.ID {
		t.Fatalf("chat order %s,%s, want %s,%s", chats[0].ID, chats[1].ID, c2.ID, c.ID)
	}
	chats, err = ListChatsFor(eve.ID)
	if err != nil {
		t.Fatalf("ListChatsFor eve: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != c2.ID {
		t.Fatalf("chats for eve: %v", chats)
	}
}
