package messaging

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyTracked is returned when a message id is tracked twice.
var ErrAlreadyTracked = errors.New("message already tracked")

// TimeProvider abstracts time for deterministic expiry tests.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the wall clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// StatusCallback is called once per applied transition, outside the tracker lock.
type StatusCallback func(messageID string, status DeliveryStatus)

// TrackerConfig controls tracker windows and bounds.
type TrackerConfig struct {
	AckWindow    time.Duration
	Retention    time.Duration
	MaxSeenIDs   int
	TimeProvider TimeProvider
}

// DefaultTrackerConfig returns the limits package defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		AckWindow:    limits.AckWindow,
		Retention:    limits.DeliveryRetention,
		MaxSeenIDs:   limits.MaxTrackedAcks,
		TimeProvider: DefaultTimeProvider{},
	}
}

type trackedMessage struct {
	status    DeliveryStatus
	expected  int
	ackers    map[transport.PeerID]struct{}
	createdAt time.Time
	sentAt    time.Time
	closed    bool
}

type transition struct {
	id     string
	status DeliveryStatus
}

// Tracker correlates acks and read receipts with outgoing messages and
// drives each message through its delivery states. All methods are safe for
// concurrent use.
type Tracker struct {
	mu       sync.Mutex
	cfg      TrackerConfig
	messages map[string]*trackedMessage
	seen     map[string]struct{}
	seenFIFO []string
	callback StatusCallback
}

// NewTracker creates a tracker. Zero fields in cfg take defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.AckWindow <= 0 {
		cfg.AckWindow = def.AckWindow
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxSeenIDs <= 0 {
		cfg.MaxSeenIDs = def.MaxSeenIDs
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = def.TimeProvider
	}
	return &Tracker{
		cfg:      cfg,
		messages: make(map[string]*trackedMessage),
		seen:     make(map[string]struct{}),
	}
}

// OnStatusChange sets the transition callback.
func (t *Tracker) OnStatusChange(callback StatusCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = callback
}

// Track starts tracking a message in the Sending state. expected is the
// number of distinct recipients whose acks complete delivery; values below
// one are treated as one.
func (t *Tracker) Track(messageID string, expected int) error {
	if expected < 1 {
		expected = 1
	}

	t.mu.Lock()
	if _, exists := t.messages[messageID]; exists {
		t.mu.Unlock()
		return ErrAlreadyTracked
	}
	t.messages[messageID] = &trackedMessage{
		expected:  expected,
		ackers:    make(map[transport.PeerID]struct{}),
		createdAt: t.cfg.TimeProvider.Now(),
	}
	tr, ok := t.applyLocked(messageID, Sending{})
	t.mu.Unlock()

	t.notify(tr, ok)
	return nil
}

// MarkSent records that every frame was handed to the transport.
func (t *Tracker) MarkSent(messageID string) {
	t.mu.Lock()
	if msg, ok := t.messages[messageID]; ok {
		msg.sentAt = t.cfg.TimeProvider.Now()
	}
	tr, ok := t.applyLocked(messageID, Sent{})
	t.mu.Unlock()

	t.notify(tr, ok)
}

// MarkFailed records a transport failure.
func (t *Tracker) MarkFailed(messageID, reason string) {
	t.mu.Lock()
	tr, ok := t.applyLocked(messageID, Failed{Reason: reason})
	t.mu.Unlock()

	t.notify(tr, ok)
}

// HandleAck applies a delivery ack. Acks for unknown messages, repeated ack
// ids, repeated ackers and acks that arrive after a group's window closed are
// ignored. It reports whether a transition was applied.
func (t *Tracker) HandleAck(ack *DeliveryAck) bool {
	t.mu.Lock()
	msg, exists := t.messages[ack.OriginalMessageID]
	if !exists || !t.markSeenLocked("ack:"+ack.AckID) {
		t.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":   "Tracker.HandleAck",
			"message_id": ack.OriginalMessageID,
			"ack_id":     ack.AckID,
			"known":      exists,
		}).Debug("Ignoring ack")
		return false
	}

	if _, dup := msg.ackers[ack.RecipientID]; dup || msg.closed {
		t.mu.Unlock()
		return false
	}
	msg.ackers[ack.RecipientID] = struct{}{}

	var next DeliveryStatus
	if reached := len(msg.ackers); reached >= msg.expected {
		next = Delivered{To: ack.RecipientNickname, At: ack.Timestamp}
	} else {
		next = PartiallyDelivered{Reached: reached, Total: msg.expected}
	}
	tr, ok := t.applyLocked(ack.OriginalMessageID, next)
	t.mu.Unlock()

	t.notify(tr, ok)
	return ok
}

// HandleReadReceipt applies a read receipt. Unknown messages and repeated
// receipt ids are ignored.
func (t *Tracker) HandleReadReceipt(receipt *ReadReceipt) bool {
	t.mu.Lock()
	if _, exists := t.messages[receipt.OriginalMessageID]; !exists || !t.markSeenLocked("read:"+receipt.ReceiptID) {
		t.mu.Unlock()
		return false
	}
	tr, ok := t.applyLocked(receipt.OriginalMessageID, Read{By: receipt.ReaderNickname, At: receipt.Timestamp})
	t.mu.Unlock()

	t.notify(tr, ok)
	return ok
}

// Status returns the current status of a message.
func (t *Tracker) Status(messageID string) (DeliveryStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.messages[messageID]
	if !ok {
		return nil, false
	}
	return msg.status, true
}

// Snapshot returns the current status of every tracked message.
func (t *Tracker) Snapshot() map[string]DeliveryStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]DeliveryStatus, len(t.messages))
	for id, msg := range t.messages {
		out[id] = msg.status
	}
	return out
}

// Sweep closes ack windows of group sends and forgets messages older than
// the retention window. It returns the number of messages forgotten.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.TimeProvider.Now()
	removed := 0
	for id, msg := range t.messages {
		if now.Sub(msg.createdAt) >= t.cfg.Retention {
			delete(t.messages, id)
			removed++
			continue
		}
		if !msg.closed && msg.expected > 1 && !msg.sentAt.IsZero() && now.Sub(msg.sentAt) >= t.cfg.AckWindow {
			msg.closed = true
		}
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Tracker.Sweep",
			"removed":  removed,
			"tracked":  len(t.messages),
		}).Debug("Pruned delivery state")
	}
	return removed
}

func (t *Tracker) applyLocked(messageID string, next DeliveryStatus) (transition, bool) {
	msg, ok := t.messages[messageID]
	if !ok || !canTransition(msg.status, next) {
		return transition{}, false
	}
	msg.status = next
	return transition{id: messageID, status: next}, true
}

func (t *Tracker) notify(tr transition, applied bool) {
	if !applied {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Tracker.notify",
		"message_id": tr.id,
		"status":     tr.status.Kind(),
	}).Debug("Delivery status changed")

	t.mu.Lock()
	callback := t.callback
	t.mu.Unlock()

	if callback != nil {
		callback(tr.id, tr.status)
	}
}

// markSeenLocked records an ack or receipt id and reports whether it is new.
func (t *Tracker) markSeenLocked(id string) bool {
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	t.seenFIFO = append(t.seenFIFO, id)
	if len(t.seenFIFO) > t.cfg.MaxSeenIDs {
		oldest := t.seenFIFO[0]
		t.seenFIFO = t.seenFIFO[1:]
		delete(t.seen, oldest)
	}
	return true
}
