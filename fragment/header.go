package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/sosmesh/transport"
)

// HeaderSize is the fixed prefix every fragment payload carries.
const HeaderSize = 8 + 2 + 2 + 4 + 1

// ID identifies one fragment set per sender.
type ID [8]byte

var (
	// ErrShortFragment is returned when a payload is smaller than HeaderSize.
	ErrShortFragment = errors.New("fragment payload shorter than header")

	// ErrBadIndex is returned when a fragment index is outside [0, total).
	ErrBadIndex = errors.New("fragment index out of range")

	// ErrHeaderMismatch is returned when a fragment disagrees with the set it
	// belongs to about total count, total size or original type.
	ErrHeaderMismatch = errors.New("fragment header mismatch")

	// ErrNotFragment is returned when a non-fragment packet is handed to the
	// reassembler.
	ErrNotFragment = errors.New("not a fragment packet")
)

// Header is the per-fragment metadata. Every fragment repeats the full header
// so whichever piece arrives first can open the set.
type Header struct {
	FragmentID   ID
	Index        uint16
	Total        uint16
	TotalSize    uint32
	OriginalType transport.PacketType
}

// Encode writes the header followed by data.
func (h Header) Encode(data []byte) []byte {
	buf := make([]byte, HeaderSize+len(data))
	offset := 0

	copy(buf[offset:], h.FragmentID[:])
	offset += len(h.FragmentID)

	binary.BigEndian.PutUint16(buf[offset:], h.Index)
	offset += 2

	binary.BigEndian.PutUint16(buf[offset:], h.Total)
	offset += 2

	binary.BigEndian.PutUint32(buf[offset:], h.TotalSize)
	offset += 4

	buf[offset] = uint8(h.OriginalType)
	offset++

	copy(buf[offset:], data)
	return buf
}

// DecodePayload splits a fragment payload into its header and data. The
// returned data aliases payload.
func DecodePayload(payload []byte) (Header, []byte, error) {
	var h Header
	if len(payload) < HeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes", ErrShortFragment, len(payload))
	}

	offset := 0
	copy(h.FragmentID[:], payload[offset:offset+8])
	offset += 8

	h.Index = binary.BigEndian.Uint16(payload[offset:])
	offset += 2

	h.Total = binary.BigEndian.Uint16(payload[offset:])
	offset += 2

	h.TotalSize = binary.BigEndian.Uint32(payload[offset:])
	offset += 4

	h.OriginalType = transport.PacketType(payload[offset])
	offset++

	if h.Index >= h.Total {
		return h, nil, fmt.Errorf("%w: index %d, total %d", ErrBadIndex, h.Index, h.Total)
	}

	return h, payload[offset:], nil
}

// typeForIndex picks start, continue or end by position.
func typeForIndex(index, total int) transport.PacketType {
	switch {
	case index == 0:
		return transport.PacketFragmentStart
	case index == total-1:
		return transport.PacketFragmentEnd
	default:
		return transport.PacketFragmentContinue
	}
}
