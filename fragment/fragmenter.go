package fragment

import (
	"crypto/rand"
	"fmt"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

// Fragmenter splits packets whose encoded frame exceeds the transport limit.
type Fragmenter struct {
	maxFrameSize int
}

// NewFragmenter creates a fragmenter for the given frame limit.
func NewFragmenter(maxFrameSize int) (*Fragmenter, error) {
	if maxFrameSize < limits.MinFrameSize {
		return nil, fmt.Errorf("frame size %d below minimum %d", maxFrameSize, limits.MinFrameSize)
	}
	return &Fragmenter{maxFrameSize: maxFrameSize}, nil
}

// MaxFrameSize returns the frame limit the fragmenter targets.
func (f *Fragmenter) MaxFrameSize() int {
	return f.maxFrameSize
}

// chunkSize is the data capacity of one fragment for the given packet.
func (f *Fragmenter) chunkSize(p *transport.Packet) int {
	probe := &transport.Packet{RecipientID: p.RecipientID}
	return f.maxFrameSize - probe.EncodedSize() - HeaderSize
}

// Split returns the packets to transmit for p. A packet that already fits is
// returned alone. Otherwise the complete encoded frame of p is cut into
// start, continue and end packets that reuse its sender, recipient,
// timestamp and ttl. Fragments are never signed.
func (f *Fragmenter) Split(p *transport.Packet) ([]*transport.Packet, error) {
	frame, err := p.Encode()
	if err != nil {
		return nil, err
	}
	if len(frame) <= f.maxFrameSize {
		return []*transport.Packet{p}, nil
	}

	chunk := f.chunkSize(p)
	total := (len(frame) + chunk - 1) / chunk
	if err := limits.ValidateReassembly(total, len(frame)); err != nil {
		return nil, err
	}

	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return nil, fmt.Errorf("generate fragment id: %w", err)
	}

	packets := make([]*transport.Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(frame) {
			end = len(frame)
		}

		h := Header{
			FragmentID:   id,
			Index:        uint16(i),
			Total:        uint16(total),
			TotalSize:    uint32(len(frame)),
			OriginalType: p.Type,
		}

		packets = append(packets, &transport.Packet{
			Version:     transport.ProtocolVersion,
			Type:        typeForIndex(i, total),
			SenderID:    append([]byte(nil), p.SenderID...),
			RecipientID: cloneID(p.RecipientID),
			Timestamp:   p.Timestamp,
			Payload:     h.Encode(frame[start:end]),
			TTL:         p.TTL,
		})
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Fragmenter.Split",
		"type":        p.Type.String(),
		"frame_size":  len(frame),
		"fragments":   total,
		"fragment_id": fmt.Sprintf("%x", id[:]),
	}).Debug("Split oversized packet")

	return packets, nil
}

func cloneID(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
