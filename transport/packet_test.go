package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func senderAAAA() PeerID {
	var id PeerID
	copy(id[:], "AAAAAAAA")
	return id
}

func TestEncodeBroadcastAnnounce(t *testing.T) {
	p := NewPacket(PacketAnnounce, senderAAAA(), nil, 1700000000000, []byte("hi"), 7)

	frame, err := p.Encode()
	require.NoError(t, err)

	expected := []byte{0x01, 0x01}
	expected = append(expected, []byte("AAAAAAAA")...)
	expected = append(expected, 0x00)
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, 1700000000000)
	expected = append(expected, ts...)
	expected = append(expected, 0x00, 0x02, 'h', 'i')
	expected = append(expected, 0x00, 0x07)

	assert.Equal(t, expected, frame)
	assert.Len(t, frame, minFrameSize+2)
	assert.Equal(t, p.EncodedSize(), len(frame))

	decoded, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestEncodeDecodeAllFields(t *testing.T) {
	recipient := PeerID{1, 2, 3, 4, 5, 6, 7, 8}
	p := NewPacket(PacketMessage, senderAAAA(), recipient[:], 42, bytes.Repeat([]byte{0xAB}, 300), 3)
	p.Signature = bytes.Repeat([]byte{0x5A}, 64)

	frame, err := p.Encode()
	require.NoError(t, err)
	assert.Len(t, frame, minFrameSize+8+300+1+64)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	got, ok := decoded.Recipient()
	assert.True(t, ok)
	assert.Equal(t, recipient, got)
	assert.True(t, decoded.IsAddressedTo(recipient))
	assert.False(t, decoded.IsBroadcast())
}

func TestEncodeRejectsBadFields(t *testing.T) {
	p := NewPacket(PacketMessage, senderAAAA(), nil, 1, nil, 7)

	p.SenderID = []byte("short")
	_, err := p.Encode()
	assert.ErrorIs(t, err, limits.ErrInvalidPeerID)

	p.SenderID = []byte("AAAAAAAA")
	p.RecipientID = []byte{1, 2, 3}
	_, err = p.Encode()
	assert.ErrorIs(t, err, limits.ErrInvalidPeerID)

	p.RecipientID = nil
	p.Payload = make([]byte, limits.MaxPayloadSize+1)
	_, err = p.Encode()
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	p.Payload = nil
	p.Signature = make([]byte, 256)
	_, err = p.Encode()
	assert.ErrorIs(t, err, ErrSignatureTooLarge)

	p.Signature = nil
	p.Version = 0
	_, err = p.Encode()
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = (&Packet{Type: PacketLeave, SenderID: []byte("AAAAAAAA")}).Encode()
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRoundTrip(t *testing.T) {
	recipient := PeerID{1, 2, 3, 4, 5, 6, 7, 8}
	signed := NewPacket(PacketMessage, senderAAAA(), recipient[:], 9, []byte("body"), 4)
	signed.Signature = bytes.Repeat([]byte{0x33}, 64)
	signedEmpty := NewPacket(PacketLeave, senderAAAA(), nil, 10, nil, 1)
	signedEmpty.Signature = bytes.Repeat([]byte{0x44}, 64)

	tests := []struct {
		name   string
		packet *Packet
	}{
		{"leave without payload", NewPacket(PacketLeave, senderAAAA(), nil, 1700000000000, nil, 7)},
		{"broadcast recipient empty payload", NewPacket(PacketMessage, senderAAAA(), BroadcastID[:], 2, nil, 7)},
		{"no recipient", NewPacket(PacketAnnounce, senderAAAA(), nil, 3, []byte("nick"), 7)},
		{"addressed and signed", signed},
		{"signed without payload", signedEmpty},
		{"ttl zero", NewPacket(PacketSOSMessage, senderAAAA(), BroadcastID[:], 4, []byte("{}"), 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := tt.packet.Encode()
			require.NoError(t, err)
			decoded, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
		})
	}
}

func TestEncodeFrameLimit(t *testing.T) {
	p := NewPacket(PacketMessage, senderAAAA(), BroadcastID[:], 1, make([]byte, 600), 7)

	_, err := p.EncodeFrame(limits.DefaultMaxFrameSize)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)

	frame, err := p.EncodeFrame(1024)
	require.NoError(t, err)
	assert.Equal(t, p.EncodedSize(), len(frame))
}

func TestDecodeErrors(t *testing.T) {
	valid, err := NewPacket(PacketAnnounce, senderAAAA(), nil, 1700000000000, []byte("hi"), 7).Encode()
	require.NoError(t, err)

	withByte := func(i int, v byte) []byte {
		out := append([]byte(nil), valid...)
		out[i] = v
		return out
	}

	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"too short", valid[:minFrameSize-1], ErrTruncated},
		{"version zero", withByte(0, 0), ErrUnsupportedVersion},
		{"version two", withByte(0, 2), ErrUnsupportedVersion},
		{"recipient flag two", withByte(10, 2), ErrMalformed},
		{"payload overruns frame", withByte(20, 0xFF), ErrTruncated},
		{"signature flag two", withByte(23, 2), ErrMalformed},
		{"trailing byte", append(append([]byte(nil), valid...), 0x00), ErrMalformed},
		{"missing ttl", valid[:len(valid)-1], ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeZeroLengthSignature(t *testing.T) {
	valid, err := NewPacket(PacketAnnounce, senderAAAA(), nil, 1, nil, 7).Encode()
	require.NoError(t, err)

	// Replace "hasSignature=0 | ttl" with "hasSignature=1 | sigLen=0 | ttl".
	frame := append(append([]byte(nil), valid[:len(valid)-2]...), 0x01, 0x00, 0x07)
	_, err = Decode(frame)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeUnknownTypeIsOpaque(t *testing.T) {
	p := NewPacket(PacketType(0x7E), senderAAAA(), BroadcastID[:], 5, []byte{1, 2, 3}, 4)
	frame, err := p.Encode()
	require.NoError(t, err)

	decoded, err := Decode(frame)
	require.NoError(t, err)
	assert.False(t, decoded.Type.Known())
	assert.Equal(t, "unknown(0x7e)", decoded.Type.String())
	assert.Equal(t, p.Payload, decoded.Payload)
}

func TestSigningBytesIgnoreTTLAndSignature(t *testing.T) {
	p := NewPacket(PacketMessage, senderAAAA(), BroadcastID[:], 9, []byte("payload"), 7)
	before, err := p.SigningBytes()
	require.NoError(t, err)

	p.Signature = []byte{1, 2, 3}
	p.TTL = 2
	after, err := p.SigningBytes()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	dedupA, err := p.DedupBytes()
	require.NoError(t, err)
	p.TTL = 6
	dedupB, err := p.DedupBytes()
	require.NoError(t, err)
	assert.Equal(t, dedupA, dedupB)
}

func TestPeerIDHelpers(t *testing.T) {
	id := senderAAAA()
	parsed, err := ParsePeerID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParsePeerID("zz")
	assert.Error(t, err)

	_, err = ParsePeerID("0102")
	assert.ErrorIs(t, err, limits.ErrInvalidPeerID)

	assert.True(t, BroadcastID.IsBroadcast())
	assert.Equal(t, "ffffffffffffffff", BroadcastID.String())
}

func TestPacketTypeClassification(t *testing.T) {
	assert.True(t, PacketFragmentStart.IsFragment())
	assert.True(t, PacketFragmentContinue.IsFragment())
	assert.True(t, PacketFragmentEnd.IsFragment())
	assert.False(t, PacketMessage.IsFragment())

	assert.True(t, PacketSOSMessage.IsEmergency())
	assert.True(t, PacketEmergencyServiceAnnounce.IsEmergency())
	assert.False(t, PacketDeliveryAck.IsEmergency())

	assert.Equal(t, PacketType(0x0F), PacketEmergencyServiceAnnounce)
	assert.Equal(t, "read_receipt", PacketReadReceipt.String())
}

func FuzzDecode(f *testing.F) {
	seed, _ := NewPacket(PacketAnnounce, senderAAAA(), nil, 1700000000000, []byte("hi"), 7).Encode()
	f.Add(seed)
	f.Add([]byte{})
	f.Add(bytes.Repeat([]byte{0xFF}, 40))

	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := Decode(data)
		if err != nil {
			return
		}
		// Anything that decodes must re-encode to the same bytes.
		out, err := p.Encode()
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("round trip mismatch")
		}
	})
}
