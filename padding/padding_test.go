package padding

import (
	"bytes"
	"testing"

	"github.com/opd-ai/sosmesh/transport"
	"github.com/stretchr/testify/assert"
)

func TestPadRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		target int
	}{
		{"deficit one", 10, 11},
		{"deficit max", 1, 256},
		{"empty data", 0, 255},
		{"typical block", 100, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{0x42}, tt.size)
			padded := Pad(data, tt.target)
			assert.Len(t, padded, tt.target)
			assert.Equal(t, byte(tt.target-tt.size), padded[len(padded)-1])
			assert.Equal(t, data, Unpad(padded))
		})
	}
}

func TestPadNoOp(t *testing.T) {
	assert.Equal(t, []byte{}, Pad([]byte{}, 256), "deficit 256 exceeds the length byte")

	data := []byte("0123456789")
	assert.Equal(t, data, Pad(data, 10))
	assert.Equal(t, data, Pad(data, 5))
	assert.Equal(t, data, Pad(data, 10+256))
}

func TestUnpadTolerantInput(t *testing.T) {
	assert.Empty(t, Unpad(nil))
	assert.Equal(t, []byte{}, Unpad([]byte{}))

	zeroTail := []byte{1, 2, 3, 0}
	assert.Equal(t, zeroTail, Unpad(zeroTail))

	tooLong := []byte{1, 2, 9}
	assert.Equal(t, tooLong, Unpad(tooLong))

	whole := []byte{7, 7, 3}
	assert.Empty(t, Unpad(whole))
}

func TestOptimalBlockSize(t *testing.T) {
	tests := []struct {
		payload int
		want    int
	}{
		{0, 256},
		{240, 256},
		{241, 512},
		{496, 512},
		{497, 1024},
		{2032, 2048},
		{2033, 2033},
		{5000, 5000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, OptimalBlockSize(tt.payload), "payload %d", tt.payload)
	}
}

func TestPadToBlock(t *testing.T) {
	for _, size := range []int{0, 1, 100, 239, 240, 300, 496, 600, 2032, 3000} {
		data := bytes.Repeat([]byte{0x11}, size)
		padded := PadToBlock(data)

		assert.Greater(t, len(padded), size, "size %d", size)
		assert.LessOrEqual(t, len(padded)-size, MaxPadding, "size %d", size)
		assert.Equal(t, data, Unpad(padded), "size %d", size)
	}

	assert.Len(t, PadToBlock(make([]byte, 100)), 256-16)
	assert.Len(t, PadToBlock(make([]byte, 300)), 512-16)
}

func TestRequired(t *testing.T) {
	assert.True(t, Required(transport.PacketMessage, false))
	assert.True(t, Required(transport.PacketDeliveryAck, false))
	assert.True(t, Required(transport.PacketReadReceipt, false))

	assert.False(t, Required(transport.PacketMessage, true))
	assert.False(t, Required(transport.PacketSOSMessage, false))
	assert.False(t, Required(transport.PacketAnnounce, false))
}

func FuzzPadUnpad(f *testing.F) {
	f.Add([]byte("hello"), 64)
	f.Add([]byte{}, 255)

	f.Fuzz(func(t *testing.T, data []byte, target int) {
		if target < 0 || target > 1<<16 {
			return
		}
		padded := Pad(data, target)
		deficit := target - len(data)
		if deficit >= 1 && deficit <= MaxPadding {
			if !bytes.Equal(Unpad(padded), data) || len(padded) != target {
				t.Fatalf("round trip failed for len %d target %d", len(data), target)
			}
			return
		}
		if !bytes.Equal(padded, data) {
			t.Fatalf("expected no-op for len %d target %d", len(data), target)
		}
	})
}
