package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/opd-ai/sosmesh/limits"
)

// ProtocolVersion is the only wire version Decode accepts.
const ProtocolVersion uint8 = 1

// PacketType identifies the meaning of a packet's payload.
type PacketType uint8

const (
	PacketAnnounce PacketType = iota + 1
	PacketKeyExchange
	PacketLeave
	PacketMessage
	PacketFragmentStart
	PacketFragmentContinue
	PacketFragmentEnd
	PacketChannelAnnounce
	PacketChannelRetention
	PacketDeliveryAck
	PacketDeliveryStatusRequest
	PacketReadReceipt
	PacketSOSMessage
	PacketSOSResponse
	PacketEmergencyServiceAnnounce
)

var packetTypeNames = map[PacketType]string{
	PacketAnnounce:                 "announce",
	PacketKeyExchange:              "key_exchange",
	PacketLeave:                    "leave",
	PacketMessage:                  "message",
	PacketFragmentStart:            "fragment_start",
	PacketFragmentContinue:         "fragment_continue",
	PacketFragmentEnd:              "fragment_end",
	PacketChannelAnnounce:          "channel_announce",
	PacketChannelRetention:         "channel_retention",
	PacketDeliveryAck:              "delivery_ack",
	PacketDeliveryStatusRequest:    "delivery_status_request",
	PacketReadReceipt:              "read_receipt",
	PacketSOSMessage:               "sos_message",
	PacketSOSResponse:              "sos_response",
	PacketEmergencyServiceAnnounce: "emergency_service_announce",
}

// String returns a log-friendly name, or the hex value for unknown types.
func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(t))
}

// Known reports whether the type is part of this protocol version. Unknown
// types still decode and are relayed as opaque packets.
func (t PacketType) Known() bool {
	_, ok := packetTypeNames[t]
	return ok
}

// IsFragment reports whether the type is one of the three fragment types.
func (t PacketType) IsFragment() bool {
	return t == PacketFragmentStart || t == PacketFragmentContinue || t == PacketFragmentEnd
}

// IsEmergency reports whether the type belongs to the SOS family.
func (t PacketType) IsEmergency() bool {
	return t == PacketSOSMessage || t == PacketSOSResponse || t == PacketEmergencyServiceAnnounce
}

// PeerID is the stable 8-byte per-device identifier.
type PeerID [limits.PeerIDSize]byte

// BroadcastID is the recipient sentinel meaning every listener in range.
var BroadcastID = PeerID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// PeerIDFromBytes copies an exactly 8-byte slice into a PeerID.
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if err := limits.ValidatePeerID(b); err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// ParsePeerID parses the 16-character hex form produced by PeerID.String.
func ParsePeerID(s string) (PeerID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, fmt.Errorf("parse peer id: %w", err)
	}
	return PeerIDFromBytes(raw)
}

// String returns the lowercase hex form of the identifier.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// IsBroadcast reports whether the identifier is the broadcast sentinel.
func (id PeerID) IsBroadcast() bool {
	return id == BroadcastID
}

// Packet is the wire unit relayed hop-by-hop across the mesh.
//
// SenderID must be exactly 8 bytes. RecipientID is nil for inherently
// non-addressed types, BroadcastID for broadcasts, or an 8-byte peer id.
type Packet struct {
	Version     uint8
	Type        PacketType
	SenderID    []byte
	RecipientID []byte
	Timestamp   uint64
	Payload     []byte
	Signature   []byte
	TTL         uint8
}

// Fixed-width parts of the frame: version, type, senderID, hasRecipient,
// timestamp, payloadLen, hasSignature, ttl.
const (
	minFrameSize       = 1 + 1 + limits.PeerIDSize + 1 + 8 + 2 + 1 + 1
	recipientFieldSize = limits.PeerIDSize
)

var (
	// ErrTruncated is returned when a frame ends before a declared field.
	ErrTruncated = errors.New("truncated frame")

	// ErrUnsupportedVersion is returned for any version other than 1.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrMalformed is returned for invalid flag bytes or length mismatches.
	ErrMalformed = errors.New("malformed frame")

	// ErrSignatureTooLarge is returned when a signature exceeds the 8-bit length field.
	ErrSignatureTooLarge = errors.New("signature too large")
)

// NewPacket builds a version-1 packet.
func NewPacket(packetType PacketType, sender PeerID, recipient []byte, timestamp uint64, payload []byte, ttl uint8) *Packet {
	return &Packet{
		Version:     ProtocolVersion,
		Type:        packetType,
		SenderID:    append([]byte(nil), sender[:]...),
		RecipientID: recipient,
		Timestamp:   timestamp,
		Payload:     payload,
		TTL:         ttl,
	}
}

// Sender returns SenderID as a PeerID. The zero value is returned for a
// malformed identifier.
func (p *Packet) Sender() PeerID {
	var id PeerID
	if len(p.SenderID) == limits.PeerIDSize {
		copy(id[:], p.SenderID)
	}
	return id
}

// Recipient returns RecipientID as a PeerID and whether one is present.
func (p *Packet) Recipient() (PeerID, bool) {
	var id PeerID
	if len(p.RecipientID) != limits.PeerIDSize {
		return id, false
	}
	copy(id[:], p.RecipientID)
	return id, true
}

// IsBroadcast reports whether the packet is addressed to every listener.
func (p *Packet) IsBroadcast() bool {
	return bytes.Equal(p.RecipientID, BroadcastID[:])
}

// IsAddressedTo reports whether the packet names id as its recipient.
func (p *Packet) IsAddressedTo(id PeerID) bool {
	return bytes.Equal(p.RecipientID, id[:])
}

// EncodedSize returns the exact frame size Encode would produce.
func (p *Packet) EncodedSize() int {
	size := minFrameSize + len(p.Payload)
	if p.RecipientID != nil {
		size += recipientFieldSize
	}
	if len(p.Signature) > 0 {
		size += 1 + len(p.Signature)
	}
	return size
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	c := *p
	c.SenderID = cloneBytes(p.SenderID)
	c.RecipientID = cloneBytes(p.RecipientID)
	c.Payload = cloneBytes(p.Payload)
	c.Signature = cloneBytes(p.Signature)
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Encode serializes the packet without a frame limit. The version,
// identifier lengths, payload length and signature length are validated.
func (p *Packet) Encode() ([]byte, error) {
	if p.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if err := limits.ValidatePeerID(p.SenderID); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if p.RecipientID != nil {
		if err := limits.ValidatePeerID(p.RecipientID); err != nil {
			return nil, fmt.Errorf("recipient: %w", err)
		}
	}
	if err := limits.ValidatePayload(p.Payload); err != nil {
		return nil, err
	}
	if len(p.Signature) > limits.MaxSignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSignatureTooLarge, len(p.Signature))
	}

	buf := make([]byte, p.EncodedSize())
	offset := 0

	buf[offset] = p.Version
	offset++

	buf[offset] = uint8(p.Type)
	offset++

	copy(buf[offset:], p.SenderID)
	offset += limits.PeerIDSize

	if p.RecipientID != nil {
		buf[offset] = 1
		offset++
		copy(buf[offset:], p.RecipientID)
		offset += recipientFieldSize
	} else {
		buf[offset] = 0
		offset++
	}

	binary.BigEndian.PutUint64(buf[offset:], p.Timestamp)
	offset += 8

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(p.Payload)))
	offset += 2

	copy(buf[offset:], p.Payload)
	offset += len(p.Payload)

	if len(p.Signature) > 0 {
		buf[offset] = 1
		offset++
		buf[offset] = uint8(len(p.Signature))
		offset++
		copy(buf[offset:], p.Signature)
		offset += len(p.Signature)
	} else {
		buf[offset] = 0
		offset++
	}

	buf[offset] = p.TTL

	return buf, nil
}

// EncodeFrame serializes the packet and rejects frames above maxFrameSize.
// Callers that may exceed the limit must go through the fragmenter.
func (p *Packet) EncodeFrame(maxFrameSize int) ([]byte, error) {
	if size := p.EncodedSize(); size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds limit %d", limits.ErrMessageTooLarge, size, maxFrameSize)
	}
	return p.Encode()
}

// SigningBytes returns the bytes a signature covers: the frame with no
// signature and a zero ttl, so relays can decrement ttl without breaking it.
func (p *Packet) SigningBytes() ([]byte, error) {
	c := *p
	c.Signature = nil
	c.TTL = 0
	return c.Encode()
}

// DedupBytes returns the frame with a zero ttl, identical across relay hops.
func (p *Packet) DedupBytes() ([]byte, error) {
	c := *p
	c.TTL = 0
	return c.Encode()
}

// Decode parses a frame. It never panics on hostile input; every structural
// problem is reported as an error wrapping ErrTruncated, ErrUnsupportedVersion
// or ErrMalformed.
func Decode(data []byte) (*Packet, error) {
	if len(data) < minFrameSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, len(data), minFrameSize)
	}

	r := frameReader{buf: data}
	p := &Packet{}

	p.Version, _ = r.u8()
	if p.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}

	typ, _ := r.u8()
	p.Type = PacketType(typ)

	sender, _ := r.bytes(limits.PeerIDSize)
	p.SenderID = sender

	hasRecipient, _ := r.u8()
	switch hasRecipient {
	case 0:
	case 1:
		recipient, err := r.bytes(recipientFieldSize)
		if err != nil {
			return nil, err
		}
		p.RecipientID = recipient
	default:
		return nil, fmt.Errorf("%w: recipient flag 0x%02x", ErrMalformed, hasRecipient)
	}

	ts, err := r.u64()
	if err != nil {
		return nil, err
	}
	p.Timestamp = ts

	payloadLen, err := r.u16()
	if err != nil {
		return nil, err
	}
	payload, err := r.bytes(int(payloadLen))
	if err != nil {
		return nil, fmt.Errorf("%w: declared payload length %d", err, payloadLen)
	}
	p.Payload = payload

	hasSignature, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch hasSignature {
	case 0:
	case 1:
		sigLen, err := r.u8()
		if err != nil {
			return nil, err
		}
		if sigLen == 0 {
			return nil, fmt.Errorf("%w: zero-length signature", ErrMalformed)
		}
		sig, err := r.bytes(int(sigLen))
		if err != nil {
			return nil, err
		}
		p.Signature = sig
	default:
		return nil, fmt.Errorf("%w: signature flag 0x%02x", ErrMalformed, hasSignature)
	}

	ttl, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.TTL = ttl

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.remaining())
	}

	return p, nil
}

// frameReader walks a frame with bounds checks on every read.
type frameReader struct {
	buf    []byte
	offset int
}

func (r *frameReader) remaining() int {
	return len(r.buf) - r.offset
}

// bytes copies the next n bytes. An empty field decodes as nil.
func (r *frameReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrTruncated
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.offset:r.offset+n])
	r.offset += n
	return out, nil
}

func (r *frameReader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrTruncated
	}
	v := r.buf[r.offset]
	r.offset++
	return v, nil
}

func (r *frameReader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(r.buf[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *frameReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v, nil
}
