// Package retention enforces the fixed expiry window: every created message
// is armed for deletion at createdAt + window, and firing is irreversible
// and global. The pending set is a time-ordered pebble index, not in-process
// timers, so a restart re-arms everything from persisted state instead of
// silently dropping deletions.
package retention

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"emberline/pkg/logger"
	"emberline/pkg/models"
	"emberline/pkg/store"
	"emberline/pkg/telemetry"
)

// expiryPrefix namespaces the time-ordered index. Key format:
// expiry:<unix_nano_padded>:<messageID> → chatID.
const expiryPrefix = "expiry:"

// idleRescan bounds how long the loop sleeps when the index is empty, as a
// backstop against a missed wake signal.
const idleRescan = time.Minute

// Notifier receives the deletion event for fan-out to the chat room.
type Notifier interface {
	MessageDeleted(chatID, messageID string)
}

// Scheduler owns the Armed → Fired/Cancelled lifecycle of expiry entries.
type Scheduler struct {
	notify    Notifier
	window    time.Duration
	now       func() time.Time
	wake      chan struct{}
	sweepCron string
}

type Option func(*Scheduler)

// WithWindow overrides the retention window (tests use short windows).
func WithWindow(d time.Duration) Option {
	return func(s *Scheduler) { s.window = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSweepCron enables the periodic index rebuild at the given cron expression.
func WithSweepCron(expr string) Option {
	return func(s *Scheduler) { s.sweepCron = expr }
}

func New(n Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		notify: n,
		window: models.RetentionWindow,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func expiryKey(fireAt int64, msgID string) string {
	return fmt.Sprintf("%s%020d:%s", expiryPrefix, fireAt, msgID)
}

// Arm persists a deferred deletion for the message. Messages in a
// non-expiring mode (none exist today, but the state machine supports it)
// are not armed.
func (s *Scheduler) Arm(m models.Message) error {
	if m.Retention != models.RetentionExpiring {
		return nil
	}
	fireAt := m.CreatedTS + s.window.Nanoseconds()
	if err := store.SaveKey(expiryKey(fireAt, m.ID), []byte(m.Chat)); err != nil {
		return fmt.Errorf("arm expiry for %s: %w", m.ID, err)
	}
	telemetry.RetentionPending.Inc()
	s.poke()
	logger.Debug("expiry_armed", "msg", m.ID, "fire_at", fireAt)
	return nil
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start re-arms from persisted state, then runs the firing loop and, when
// configured, the cron-driven sweep. It returns after launching background
// goroutines; cancel ctx to stop them.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.sweepCron != "" && !gronx.IsValid(s.sweepCron) {
		logger.Error("retention_invalid_cron", "cron", s.sweepCron)
		return fmt.Errorf("invalid retention sweep cron expression: %s", s.sweepCron)
	}
	if err := s.Sweep(); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	}
	go s.run(ctx)
	if s.sweepCron != "" {
		go s.sweepLoop(ctx)
	}
	logger.Info("retention_scheduler_started", "window", s.window.String(), "sweep_cron", s.sweepCron)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		fireAt, msgID, chatID, ok, err := s.nextEntry()
		if err != nil {
			logger.Error("retention_scan_failed", "error", err)
			ok = false
		}
		if !ok {
			select {
			case <-s.wake:
			case <-time.After(idleRescan):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Duration(fireAt - s.now().UnixNano())
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.wake:
				// an earlier entry may have been armed; rescan
				continue
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
		}
		s.fire(fireAt, msgID, chatID)
	}
}

// nextEntry returns the earliest pending expiry entry.
func (s *Scheduler) nextEntry() (int64, string, string, bool, error) {
	iter, err := store.DBIter()
	if err != nil {
		return 0, "", "", false, err
	}
	defer iter.Close()
	prefix := []byte(expiryPrefix)
	if !iter.SeekGE(prefix) || !bytes.HasPrefix(iter.Key(), prefix) {
		return 0, "", "", false, iter.Error()
	}
	fireAt, msgID, perr := parseExpiryKey(string(iter.Key()))
	if perr != nil {
		// unparseable entry would wedge the loop; drop it
		logger.Error("retention_bad_entry", "key", string(iter.Key()), "error", perr)
		_ = store.DeleteKey(string(iter.Key()))
		return 0, "", "", false, nil
	}
	chatID := string(iter.Value())
	return fireAt, msgID, chatID, true, iter.Error()
}

func parseExpiryKey(key string) (int64, string, error) {
	rest := strings.TrimPrefix(key, expiryPrefix)
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return 0, "", fmt.Errorf("malformed expiry key %q", key)
	}
	fireAt, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed expiry timestamp in %q: %w", key, err)
	}
	return fireAt, rest[i+1:], nil
}

// fire resolves one due entry. The message's current retention mode is
// re-checked so a mode change between arming and firing cancels the
// deletion; an absent message means it was already removed by other means.
func (s *Scheduler) fire(fireAt int64, msgID, chatID string) {
	entry := expiryKey(fireAt, msgID)
	defer func() {
		_ = store.DeleteKey(entry)
		telemetry.RetentionPending.Dec()
	}()

	m, err := store.GetMessage(msgID)
	if err != nil {
		logger.Debug("expiry_noop_missing", "msg", msgID)
		return
	}
	if m.Retention != models.RetentionExpiring {
		logger.Info("expiry_cancelled", "msg", msgID, "retention", m.Retention)
		return
	}
	if err := store.DeleteMessage(msgID); err != nil {
		logger.Debug("expiry_delete_noop", "msg", msgID, "error", err)
		return
	}
	telemetry.MessagesDeleted.Inc()
	logger.Info("message_expired", "msg", msgID, "chat", chatID)
	if s.notify != nil {
		s.notify.MessageDeleted(chatID, msgID)
	}
}

// Sweep rebuilds the expiry index from persisted messages: any stored
// expiring message without an index entry is re-armed from its createdAt.
// Run at startup and on the sweep cron; it makes lost entries self-healing.
func (s *Scheduler) Sweep() error {
	iter, err := store.DBIter()
	if err != nil {
		return err
	}
	defer iter.Close()
	rearmed := 0
	prefix := []byte("msg:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		msgID := strings.TrimPrefix(string(iter.Key()), "msg:")
		m, err := store.GetMessage(msgID)
		if err != nil {
			continue
		}
		if m.Retention != models.RetentionExpiring {
			continue
		}
		fireAt := m.CreatedTS + s.window.Nanoseconds()
		if _, err := store.GetKey(expiryKey(fireAt, m.ID)); err == nil {
			continue
		}
		if err := store.SaveKey(expiryKey(fireAt, m.ID), []byte(m.Chat)); err != nil {
			return err
		}
		telemetry.RetentionPending.Inc()
		rearmed++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if rearmed > 0 {
		logger.Info("retention_rearmed", "count", rearmed)
		s.poke()
	}
	return nil
}

// sweepLoop runs Sweep on the configured cron expression, computing each
// next tick with gronx.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	for {
		now := s.now().UTC()
		next, err := gronx.NextTickAfter(s.sweepCron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", s.sweepCron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
			if err := s.Sweep(); err != nil {
				logger.Error("retention_sweep_error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
