// Package limits provides centralized size limits and retention windows for the
// mesh protocol. This ensures consistent validation across the codec, the
// fragmenter and the stateful stores that face untrusted input.
package limits

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PeerIDSize is the exact length of sender and recipient identifiers.
	PeerIDSize = 8

	// DefaultMaxFrameSize is the transport frame limit used when a transport does
	// not report its own. It matches a typical negotiated BLE ATT MTU.
	DefaultMaxFrameSize = 512

	// MinFrameSize is the smallest frame limit the fragmenter accepts. Below this
	// the fragment header leaves no room for data.
	MinFrameSize = 64

	// MaxPayloadSize is the largest payload the 16-bit length field can carry.
	MaxPayloadSize = 65535

	// MaxSignatureSize is the largest signature the 8-bit length field can carry.
	MaxSignatureSize = 255

	// CryptoOverhead is the authentication tag overhead accounted for when
	// choosing a padding block (golang.org/x/crypto/nacl/box.Overhead).
	CryptoOverhead = 16

	// MaxFragments caps the declared fragment count of a single set.
	MaxFragments = 1024

	// MaxReassembledSize caps the declared total size of a single set.
	MaxReassembledSize = 256 * 1024

	// MaxPendingFragmentSets caps in-progress reassemblies across all senders.
	// The oldest set is evicted when it is reached.
	MaxPendingFragmentSets = 128

	// MaxFragmentSetsPerSender caps in-progress reassemblies for one sender.
	MaxFragmentSetsPerSender = 16

	// DefaultTTL is the hop budget for ordinary traffic.
	DefaultTTL = 7

	// SeenCacheSize bounds the relay duplicate-suppression cache.
	SeenCacheSize = 4096

	// MaxTrackedAcks bounds the ack/receipt id dedup set of the delivery tracker.
	MaxTrackedAcks = 8192
)

const (
	// FragmentRetention is how long an incomplete fragment set is buffered.
	FragmentRetention = 30 * time.Second

	// AckWindow is how long a group send keeps accepting acknowledgments.
	AckWindow = 30 * time.Second

	// DeliveryRetention is how long per-message delivery state is kept.
	DeliveryRetention = time.Hour

	// SOSRetention is the age after which inactive emergency records may be purged.
	SOSRetention = 24 * time.Hour

	// SOSSweepInterval is the period of the emergency registry sweep.
	SOSSweepInterval = 5 * time.Minute

	// LocationTimeout bounds location acquisition during SOS origination.
	LocationTimeout = 10 * time.Second

	// CryptoTimeout bounds a single sign/verify/encrypt/decrypt call.
	CryptoTimeout = 2 * time.Second

	// PeerTimeout is how long a silent peer stays in the peer table.
	PeerTimeout = 3 * time.Minute

	// SeenRetention is how long a relayed frame digest suppresses duplicates.
	SeenRetention = 10 * time.Minute
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidPeerID indicates an identifier that is not exactly PeerIDSize bytes
	ErrInvalidPeerID = errors.New("invalid peer id length")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFrame validates an encoded frame against a transport frame limit.
func ValidateFrame(frame []byte, maxFrameSize int) error {
	if len(frame) == 0 {
		return ErrMessageEmpty
	}
	if len(frame) > maxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(frame), maxFrameSize)
	}
	return nil
}

// ValidatePayload validates that a payload fits the 16-bit length field.
// Empty payloads are allowed; several packet types carry none.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}

// ValidatePeerID validates an identifier length.
func ValidatePeerID(id []byte) error {
	if len(id) != PeerIDSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPeerID, len(id), PeerIDSize)
	}
	return nil
}

// ValidateReassembly validates the declared shape of a fragment set before any
// buffer is allocated for it.
func ValidateReassembly(total, totalSize int) error {
	if total < 2 || total > MaxFragments {
		return fmt.Errorf("%w: fragment count %d outside [2, %d]", ErrMessageTooLarge, total, MaxFragments)
	}
	if totalSize <= 0 || totalSize > MaxReassembledSize {
		return fmt.Errorf("%w: reassembled size %d outside [1, %d]", ErrMessageTooLarge, totalSize, MaxReassembledSize)
	}
	return nil
}
