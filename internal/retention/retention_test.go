package retention

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"emberline/pkg/models"
	"emberline/pkg/store"
	"emberline/pkg/utils"
)

type recordingNotifier struct {
	mu    sync.Mutex
	fired []string
}

func (n *recordingNotifier) MessageDeleted(chatID, messageID string) {
	n.mu.Lock()
	n.fired = append(n.fired, messageID)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.fired)
}

func setupStore(t *testing.T) (models.Chat, models.User) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	a := models.User{ID: utils.GenUserID(), Name: "alice", Email: "alice@example.com"}
	b := models.User{ID: utils.GenUserID(), Name: "bob", Email: "bob@example.com"}
	for _, u := range []models.User{a, b} {
		if err := store.SaveUser(u); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
	}
	chat, _, err := store.EnsureChat(a.ID, b.ID)
	if err != nil {
		t.Fatalf("EnsureChat: %v", err)
	}
	return chat, a
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestArmFireDeletesAndNotifies(t *testing.T) {
	chat, a := setupStore(t)
	notif := &recordingNotifier{}
	s := New(notif, WithWindow(50*time.Millisecond))

	m, err := store.CreateMessage(chat.ID, a.ID, "", "vanishes", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := s.Arm(m); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return notif.count() == 1 })
	if _, err := store.GetMessage(m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired message still present: %v", err)
	}
	// the index entry is consumed with the fire
	if _, err := store.GetKey(expiryKey(m.CreatedTS+s.window.Nanoseconds(), m.ID)); err == nil {
		t.Fatalf("expiry entry survived the fire")
	}
}

func TestFireSkipsModeChangedMessage(t *testing.T) {
	chat, a := setupStore(t)
	notif := &recordingNotifier{}
	s := New(notif, WithWindow(time.Hour))

	m, err := store.CreateMessage(chat.ID, a.ID, "", "keep me", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	// flip the persisted mode after arming, as an admin hold would
	recordKey, err := store.GetKey("msg:" + m.ID)
	if err != nil {
		t.Fatalf("resolve record key: %v", err)
	}
	m.Retention = "hold"
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.SaveKey(recordKey, b); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}

	s.fire(m.CreatedTS, m.ID, chat.ID)
	if notif.count() != 0 {
		t.Fatalf("fire notified despite the hold")
	}
	if _, err := store.GetMessage(m.ID); err != nil {
		t.Fatalf("held message deleted: %v", err)
	}

	// absent message is a silent no-op too
	s.fire(time.Now().UnixNano(), "msg-gone", chat.ID)
	if notif.count() != 0 {
		t.Fatalf("fire notified for an absent message")
	}
}

func TestSweepRearmsAfterRestart(t *testing.T) {
	chat, a := setupStore(t)
	notif := &recordingNotifier{}
	s := New(notif, WithWindow(50*time.Millisecond))

	// message persisted but never armed, as after a crash before Arm
	m, err := store.CreateMessage(chat.ID, a.ID, "", "orphaned", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Start runs the recovery sweep before the firing loop
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return notif.count() == 1 })
	if _, err := store.GetMessage(m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("orphaned message survived restart: %v", err)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	chat, a := setupStore(t)
	s := New(&recordingNotifier{}, WithWindow(time.Hour))

	m, err := store.CreateMessage(chat.ID, a.ID, "", "steady", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := s.Arm(m); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep repeat: %v", err)
	}
	// exactly one entry for the message
	fireAt := m.CreatedTS + s.window.Nanoseconds()
	if _, err := store.GetKey(expiryKey(fireAt, m.ID)); err != nil {
		t.Fatalf("expiry entry missing after sweeps: %v", err)
	}
}

func TestStartRejectsInvalidCron(t *testing.T) {
	setupStore(t)
	s := New(&recordingNotifier{}, WithSweepCron("not a cron"))
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("invalid cron accepted")
	}
}

func TestParseExpiryKey(t *testing.T) {
	fireAt := time.Now().UnixNano()
	key := expiryKey(fireAt, "msg-abc")
	got, msgID, err := parseExpiryKey(key)
	if err != nil {
		t.Fatalf("parseExpiryKey: %v", err)
	}
	if got != fireAt || msgID != "msg-abc" {
		t.Fatalf("parsed (%d,%s), want (%d,msg-abc)", got, msgID, fireAt)
	}
	if _, _, err := parseExpiryKey("expiry:garbage"); err == nil {
		t.Fatalf("malformed key parsed")
	}
}

func TestOrderingByFireTime(t *testing.T) {
	chat, a := setupStore(t)
	s := New(&recordingNotifier{}, WithWindow(time.Hour))

	first, err := store.CreateMessage(chat.ID, a.ID, "", "first", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	second, err := store.CreateMessage(chat.ID, a.ID, "", "second", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	for _, m := range []models.Message{second, first} {
		if err := s.Arm(m); err != nil {
			t.Fatalf("Arm: %v", err)
		}
	}
	_, msgID, _, ok, err := s.nextEntry()
	if err != nil || !ok {
		t.Fatalf("nextEntry: ok=%v err=%v", ok, err)
	}
	if msgID != first.ID {
		t.Fatalf("next entry %s, want the earlier %s", msgID, first.ID)
	}
}
