package fragment

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

// TimeProvider abstracts time for deterministic expiry tests.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the wall clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

var (
	// ErrTooManySets is returned when a new set would exceed the per-sender
	// reassembly cap.
	ErrTooManySets = errors.New("too many pending fragment sets")

	// ErrSizeOverflow is returned when received data exceeds the declared size.
	ErrSizeOverflow = errors.New("fragment data exceeds declared size")
)

// Status is the outcome of handing one fragment to the reassembler.
type Status uint8

const (
	// StatusPending means the set is still missing pieces.
	StatusPending Status = iota
	// StatusComplete means the set was joined and decoded.
	StatusComplete
	// StatusFailed means the end fragment arrived while pieces were missing,
	// or the joined bytes did not form a valid frame.
	StatusFailed
)

// String returns a log-friendly status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Key identifies a set.
type Key struct {
	Sender transport.PeerID
	ID     ID
}

// String returns "sender/fragmentID" in hex.
func (k Key) String() string {
	return fmt.Sprintf("%s/%x", k.Sender, k.ID[:])
}

// Result is returned by Handle.
type Result struct {
	Status Status
	Key    Key
	// Packet is the reassembled original packet when Status is StatusComplete.
	Packet *transport.Packet
	// Frame is the raw reassembled frame when Status is StatusComplete.
	Frame []byte
	// Received and Total describe progress of the set.
	Received int
	Total    int
	// Reason explains StatusFailed.
	Reason string
	// Evicted is the oldest set, dropped unreported to make room for this
	// one when the global cap was reached.
	Evicted *Failure
}

// Failure describes a set dropped by Sweep before it completed.
type Failure struct {
	Key          Key
	OriginalType transport.PacketType
	Received     int
	Total        int
	Reason       string
}

type fragmentSet struct {
	header    Header
	chunks    map[uint16][]byte
	bytes     int
	createdAt time.Time
	reported  bool
}

// Config controls reassembly bounds.
type Config struct {
	Retention    time.Duration
	MaxSets      int
	MaxPerSender int
	TimeProvider TimeProvider
}

// DefaultConfig returns the limits package defaults.
func DefaultConfig() Config {
	return Config{
		Retention:    limits.FragmentRetention,
		MaxSets:      limits.MaxPendingFragmentSets,
		MaxPerSender: limits.MaxFragmentSetsPerSender,
		TimeProvider: DefaultTimeProvider{},
	}
}

// Reassembler buffers fragment sets keyed by sender and fragment id. All
// methods are safe for concurrent use.
type Reassembler struct {
	mu        sync.Mutex
	cfg       Config
	sets      map[Key]*fragmentSet
	perSender map[transport.PeerID]int
}

// NewReassembler creates a reassembler. Zero fields in cfg take defaults.
func NewReassembler(cfg Config) *Reassembler {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxSets <= 0 {
		cfg.MaxSets = def.MaxSets
	}
	if cfg.MaxPerSender <= 0 {
		cfg.MaxPerSender = def.MaxPerSender
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = def.TimeProvider
	}
	return &Reassembler{
		cfg:       cfg,
		sets:      make(map[Key]*fragmentSet),
		perSender: make(map[transport.PeerID]int),
	}
}

// Handle stores one fragment. Re-storing an index overwrites it. The set
// completes as soon as every index has been seen, in any order. An end
// fragment that arrives with gaps reports StatusFailed once; the set stays
// buffered until expiry so late pieces can still complete it.
//
// Errors are returned for fragments that must be dropped without touching
// any set: malformed headers, headers that disagree with the set, and sets
// that would exceed the per-sender cap. When the global cap is reached the
// oldest set is evicted instead, so one flood of sender ids cannot block
// reassembly for everyone.
func (r *Reassembler) Handle(p *transport.Packet) (Result, error) {
	if !p.Type.IsFragment() {
		return Result{}, ErrNotFragment
	}
	h, data, err := DecodePayload(p.Payload)
	if err != nil {
		return Result{}, err
	}

	key := Key{Sender: p.Sender(), ID: h.FragmentID}

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Failure
	set, exists := r.sets[key]
	if !exists {
		if err := limits.ValidateReassembly(int(h.Total), int(h.TotalSize)); err != nil {
			return Result{}, err
		}
		if r.perSender[key.Sender] >= r.cfg.MaxPerSender {
			return Result{}, fmt.Errorf("%w: sender %s", ErrTooManySets, key.Sender)
		}
		if len(r.sets) >= r.cfg.MaxSets {
			evicted = r.evictOldestLocked()
		}
		set = &fragmentSet{
			header:    h,
			chunks:    make(map[uint16][]byte, h.Total),
			createdAt: r.cfg.TimeProvider.Now(),
		}
		r.sets[key] = set
		r.perSender[key.Sender]++
	} else if set.header.Total != h.Total || set.header.TotalSize != h.TotalSize || set.header.OriginalType != h.OriginalType {
		return Result{}, fmt.Errorf("%w: set %s", ErrHeaderMismatch, key)
	}

	if old, ok := set.chunks[h.Index]; ok {
		set.bytes -= len(old)
	}
	if set.bytes+len(data) > int(set.header.TotalSize) {
		r.removeLocked(key)
		return Result{Status: StatusFailed, Key: key, Total: int(h.Total), Reason: ErrSizeOverflow.Error(), Evicted: evicted},
			fmt.Errorf("%w: set %s", ErrSizeOverflow, key)
	}
	set.chunks[h.Index] = append([]byte(nil), data...)
	set.bytes += len(data)

	result := Result{Key: key, Received: len(set.chunks), Total: int(h.Total), Evicted: evicted}

	if len(set.chunks) == int(h.Total) {
		return r.completeLocked(key, set, result), nil
	}

	if p.Type == transport.PacketFragmentEnd && !set.reported {
		set.reported = true
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("end fragment received with %d of %d pieces", len(set.chunks), h.Total)

		logrus.WithFields(logrus.Fields{
			"function": "Reassembler.Handle",
			"set":      key.String(),
			"received": len(set.chunks),
			"total":    h.Total,
		}).Warn("Fragment set incomplete at end fragment")

		return result, nil
	}

	result.Status = StatusPending
	return result, nil
}

func (r *Reassembler) completeLocked(key Key, set *fragmentSet, result Result) Result {
	r.removeLocked(key)

	indices := make([]int, 0, len(set.chunks))
	for idx := range set.chunks {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)

	frame := make([]byte, 0, set.header.TotalSize)
	for _, idx := range indices {
		frame = append(frame, set.chunks[uint16(idx)]...)
	}

	if len(frame) != int(set.header.TotalSize) {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("reassembled %d bytes, declared %d", len(frame), set.header.TotalSize)
		return result
	}

	pkt, err := transport.Decode(frame)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("reassembled frame invalid: %v", err)
		return result
	}
	if pkt.Type != set.header.OriginalType {
		result.Status = StatusFailed
		result.Reason = fmt.Sprintf("reassembled type %s, declared %s", pkt.Type, set.header.OriginalType)
		return result
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Reassembler.Handle",
		"set":       key.String(),
		"type":      pkt.Type.String(),
		"fragments": set.header.Total,
		"size":      len(frame),
	}).Debug("Fragment set reassembled")

	result.Status = StatusComplete
	result.Packet = pkt
	result.Frame = frame
	return result
}

// evictOldestLocked drops the oldest set and returns its failure, or nil when
// its failure was already reported.
func (r *Reassembler) evictOldestLocked() *Failure {
	var (
		oldestKey Key
		oldest    *fragmentSet
	)
	for key, set := range r.sets {
		if oldest == nil || set.createdAt.Before(oldest.createdAt) {
			oldestKey, oldest = key, set
		}
	}
	if oldest == nil {
		return nil
	}
	r.removeLocked(oldestKey)

	logrus.WithFields(logrus.Fields{
		"function": "Reassembler.Handle",
		"set":      oldestKey.String(),
		"received": len(oldest.chunks),
		"total":    oldest.header.Total,
	}).Warn("Evicted oldest fragment set at capacity")

	if oldest.reported {
		return nil
	}
	return &Failure{
		Key:          oldestKey,
		OriginalType: oldest.header.OriginalType,
		Received:     len(oldest.chunks),
		Total:        int(oldest.header.Total),
		Reason:       "evicted",
	}
}

func (r *Reassembler) removeLocked(key Key) {
	if _, ok := r.sets[key]; !ok {
		return
	}
	delete(r.sets, key)
	r.perSender[key.Sender]--
	if r.perSender[key.Sender] <= 0 {
		delete(r.perSender, key.Sender)
	}
}

// Sweep removes sets older than the retention window regardless of state and
// returns those whose failure has not been reported yet.
func (r *Reassembler) Sweep() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.TimeProvider.Now()
	var failures []Failure
	for key, set := range r.sets {
		if now.Sub(set.createdAt) < r.cfg.Retention {
			continue
		}
		if !set.reported {
			failures = append(failures, Failure{
				Key:          key,
				OriginalType: set.header.OriginalType,
				Received:     len(set.chunks),
				Total:        int(set.header.Total),
				Reason:       "expired",
			})
		}
		r.removeLocked(key)
	}

	if len(failures) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Reassembler.Sweep",
			"expired":  len(failures),
			"pending":  len(r.sets),
		}).Info("Expired incomplete fragment sets")
	}

	return failures
}

// Pending returns the number of sets currently buffered.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}
