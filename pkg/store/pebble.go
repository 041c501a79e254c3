package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"emberline/pkg/logger"
	"emberline/pkg/models"
	"emberline/pkg/utils"
)

// ErrNotFound reports that the targeted record is absent. Callers treat it as
// a no-op for operations that may legitimately race deletion.
var ErrNotFound = errors.New("not found")

// ErrValidation reports a request that referenced an unresolvable entity or
// carried malformed fields; the caller may retry with corrected input.
var ErrValidation = errors.New("validation failed")

var db *pebble.DB

// dbPath remembers the opened path for metrics.
var dbPath string

// mu serializes read-modify-write mutations (set unions, chat metadata
// updates) so concurrent writers from different connections never lose an
// update. Plain inserts under fresh keys do not need it.
var mu sync.Mutex

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Path returns the opened database path, or empty when closed.
func Path() string { return dbPath }

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// --- users ---

// SaveUser stores a user record and its email lookup index.
func SaveUser(u models.User) error {
	if db == nil {
		return notOpened()
	}
	if u.ID == "" || u.Email == "" {
		return fmt.Errorf("%w: user id and email required", ErrValidation)
	}
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := db.Set([]byte("user:"+u.ID+":meta"), b, pebble.Sync); err != nil {
		logger.Error("save_user_failed", "user", u.ID, "error", err)
		return err
	}
	if err := db.Set([]byte("user:email:"+strings.ToLower(u.Email)), []byte(u.ID), pebble.Sync); err != nil {
		return err
	}
	logger.Info("user_saved", "user", u.ID)
	return nil
}

// GetUser returns the user record for the given id.
func GetUser(id string) (models.User, error) {
	var u models.User
	if db == nil {
		return u, notOpened()
	}
	v, closer, err := db.Get([]byte("user:" + id + ":meta"))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return u, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return u, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &u); err != nil {
		return u, fmt.Errorf("invalid stored user: %w", err)
	}
	return u, nil
}

// GetUserByEmail resolves a user through the email index.
func GetUserByEmail(email string) (models.User, error) {
	if db == nil {
		return models.User{}, notOpened()
	}
	v, closer, err := db.Get([]byte("user:email:" + strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.User{}, fmt.Errorf("user email %s: %w", email, ErrNotFound)
		}
		return models.User{}, err
	}
	id := string(v)
	closer.Close()
	return GetUser(id)
}

// --- chats ---

// pairKey builds the order-independent lookup key for a 1:1 chat.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat:pair:" + a + "|" + b
}

// EnsureChat returns the 1:1 chat between the two users, creating it lazily
// on first contact. The second return reports whether a chat was created.
// Both users must resolve to existing records.
func EnsureChat(userA, userB string) (models.Chat, bool, error) {
	var c models.Chat
	if db == nil {
		return c, false, notOpened()
	}
	if userA == "" || userB == "" || userA == userB {
		return c, false, fmt.Errorf("%w: a chat needs two distinct participants", ErrValidation)
	}
	for _, id := range []string{userA, userB} {
		if _, err := GetUser(id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return c, false, fmt.Errorf("%w: unknown participant %s", ErrValidation, id)
			}
			return c, false, err
		}
	}

	mu.Lock()
	defer mu.Unlock()
	pk := []byte(pairKey(userA, userB))
	if v, closer, err := db.Get(pk); err == nil {
		id := string(v)
		closer.Close()
		c, gerr := getChat(id)
		return c, false, gerr
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return c, false, err
	}

	now := time.Now().UTC().UnixNano()
	c = models.Chat{
		ID:        utils.GenChatID(),
		Users:     []string{userA, userB},
		CreatedTS: now,
		UpdatedTS: now,
	}
	if err := saveChat(c); err != nil {
		return c, false, err
	}
	if err := db.Set(pk, []byte(c.ID), pebble.Sync); err != nil {
		return c, false, err
	}
	logger.Info("chat_created", "chat", c.ID)
	return c, true, nil
}

func saveChat(c models.Chat) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	return db.Set([]byte("chat:"+c.ID+":meta"), b, pebble.Sync)
}

func getChat(id string) (models.Chat, error) {
	var c models.Chat
	v, closer, err := db.Get([]byte("chat:" + id + ":meta"))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return c, fmt.Errorf("chat %s: %w", id, ErrNotFound)
		}
		return c, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid stored chat: %w", err)
	}
	return c, nil
}

// GetChat returns the chat record for the given id.
func GetChat(id string) (models.Chat, error) {
	if db == nil {
		return models.Chat{}, notOpened()
	}
	return getChat(id)
}

// ListChatsFor returns all chats the user participates in, most recently
// updated first.
func ListChatsFor(userID string) ([]models.Chat, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("chat:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Chat
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var c models.Chat
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			continue
		}
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out, nil
}

// --- messages ---

// msgKey builds the chat-scoped, time-sortable key for a message.
// Format: chat:<chatID>:msg:<unix_nano_padded>-<seq>
func msgKey(chatID string, ts int64, s uint64) string {
	return fmt.Sprintf("chat:%s:msg:%020d-%06d", chatID, ts, s)
}

// CreateMessage validates and persists a new message. The receiver defaults
// to the other chat participant when empty. The returned message carries the
// assigned id, timestamp and seeded read set (sender included).
func CreateMessage(chatID, sender, receiver, content, replyTo string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	if chatID == "" || content == "" {
		return m, fmt.Errorf("%w: chat and content required", ErrValidation)
	}
	chat, err := getChat(chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return m, fmt.Errorf("%w: unknown chat %s", ErrValidation, chatID)
		}
		return m, err
	}
	if !chat.HasParticipant(sender) {
		return m, fmt.Errorf("%w: sender %s is not a participant of %s", ErrValidation, sender, chatID)
	}
	if receiver == "" {
		receiver = chat.OtherParticipant(sender)
	}
	if _, err := GetUser(receiver); err != nil {
		if errors.Is(err, ErrNotFound) {
			return m, fmt.Errorf("%w: unknown receiver %s", ErrValidation, receiver)
		}
		return m, err
	}
	if replyTo != "" {
		parent, err := GetMessage(replyTo)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return m, fmt.Errorf("%w: reply parent %s not found", ErrValidation, replyTo)
			}
			return m, err
		}
		if parent.Chat != chatID {
			return m, fmt.Errorf("%w: reply parent belongs to another chat", ErrValidation)
		}
	}

	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	m = models.Message{
		ID:        utils.GenMessageID(),
		Chat:      chatID,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		ReplyTo:   replyTo,
		ReadBy:    []string{sender},
		CreatedTS: ts,
		Retention: models.RetentionExpiring,
	}
	key := msgKey(chatID, ts, s)

	mu.Lock()
	defer mu.Unlock()
	if err := writeMessage(key, m); err != nil {
		logger.Error("save_message_failed", "chat", chatID, "key", key, "error", err)
		return m, err
	}
	// index by message id for by-id lookup and mutation
	if err := db.Set([]byte("msg:"+m.ID), []byte(key), pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "msg", m.ID, "error", err)
		return m, err
	}
	// bump chat recency
	chat.LatestMessage = m.ID
	chat.UpdatedTS = ts
	if err := saveChat(chat); err != nil {
		return m, err
	}
	logger.Info("message_saved", "chat", chatID, "msg", m.ID)
	return m, nil
}

func writeMessage(key string, m models.Message) error {
	// strip delivery-time decorations before persisting
	m.SenderName = ""
	m.Reply = nil
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return db.Set([]byte(key), b, pebble.Sync)
}

// resolveMessage returns the chat-scoped key and decoded record for an id.
func resolveMessage(id string) (string, models.Message, error) {
	var m models.Message
	v, closer, err := db.Get([]byte("msg:" + id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", m, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return "", m, err
	}
	key := string(v)
	closer.Close()
	rv, rcloser, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", m, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return "", m, err
	}
	defer rcloser.Close()
	if err := json.Unmarshal(rv, &m); err != nil {
		return "", m, fmt.Errorf("invalid stored message: %w", err)
	}
	return key, m, nil
}

// GetMessage returns the message with the given id.
func GetMessage(id string) (models.Message, error) {
	if db == nil {
		return models.Message{}, notOpened()
	}
	_, m, err := resolveMessage(id)
	return m, err
}

// ListChatMessages returns all messages for a chat in creation order.
func ListChatMessages(chatID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("chat:" + chatID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_message", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// AddReader adds viewer to the message's read set. The first return reports
// whether the viewer was newly added, letting callers decide whether to
// notify. Applying the same viewer twice yields the same state as once.
func AddReader(id, viewer string) (bool, error) {
	return mutateSet(id, viewer, func(m *models.Message) *[]string { return &m.ReadBy })
}

// AddHidden adds viewer to the message's hidden set (per-viewer soft delete).
func AddHidden(id, viewer string) (bool, error) {
	return mutateSet(id, viewer, func(m *models.Message) *[]string { return &m.HiddenFor })
}

// mutateSet performs an idempotent, atomic set-union on one of the message's
// viewer sets. The package mutex makes the read-modify-write safe against
// concurrent writers from different connections.
func mutateSet(id, viewer string, pick func(*models.Message) *[]string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	if viewer == "" {
		return false, fmt.Errorf("%w: viewer required", ErrValidation)
	}
	mu.Lock()
	defer mu.Unlock()
	key, m, err := resolveMessage(id)
	if err != nil {
		return false, err
	}
	set := pick(&m)
	for _, v := range *set {
		if v == viewer {
			return false, nil
		}
	}
	*set = append(*set, viewer)
	if err := writeMessage(key, m); err != nil {
		return false, err
	}
	return true, nil
}

// HideAllMessages adds viewer to HiddenFor of every message currently in the
// chat and returns how many were newly hidden. Other viewers are unaffected.
func HideAllMessages(chatID, viewer string) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	if viewer == "" {
		return 0, fmt.Errorf("%w: viewer required", ErrValidation)
	}
	mu.Lock()
	defer mu.Unlock()
	prefix := []byte("chat:" + chatID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	hidden := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.HiddenFrom(viewer) {
			continue
		}
		m.HiddenFor = append(m.HiddenFor, viewer)
		if err := writeMessage(string(iter.Key()), m); err != nil {
			return hidden, err
		}
		hidden++
	}
	if err := iter.Error(); err != nil {
		return hidden, err
	}
	logger.Info("chat_hidden", "chat", chatID, "viewer", viewer, "count", hidden)
	return hidden, nil
}

// DeleteMessage removes the message permanently. Deleting an already absent
// message returns ErrNotFound so callers can treat duplicate fires as no-ops.
func DeleteMessage(id string) error {
	if db == nil {
		return notOpened()
	}
	mu.Lock()
	defer mu.Unlock()
	key, _, err := resolveMessage(id)
	if err != nil {
		return err
	}
	if err := db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("delete_message_failed", "msg", id, "error", err)
		return err
	}
	if err := db.Delete([]byte("msg:"+id), pebble.Sync); err != nil {
		return err
	}
	logger.Info("message_deleted", "msg", id)
	return nil
}

// --- raw helpers (used by the retention index and admin tooling) ---

// GetKey returns the raw value for the given key.
func GetKey(key string) (string, error) {
	if db == nil {
		return "", notOpened()
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SaveKey stores an arbitrary key/value pair. Callers should choose a safe
// namespace (e.g. "expiry:").
func SaveKey(key string, value []byte) error {
	if db == nil {
		return notOpened()
	}
	return db.Set([]byte(key), value, pebble.Sync)
}

// DeleteKey removes a raw key; absent keys are not an error.
func DeleteKey(key string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// DBIter returns a raw Pebble iterator for low-level operations. Caller must
// close the iterator when done.
func DBIter() (*pebble.Iterator, error) {
	if db == nil {
		return nil, notOpened()
	}
	return db.NewIter(&pebble.IterOptions{})
}
