package padding

import (
	"crypto/rand"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/transport"
)

// MaxPadding is the largest deficit a single trailing length byte can describe.
const MaxPadding = 255

// BlockSizes are the fixed ciphertext sizes payloads are padded toward, in
// ascending order.
var BlockSizes = []int{256, 512, 1024, 2048}

// Pad extends data to targetSize with random filler followed by one length
// byte equal to the number of bytes added. When data already reaches
// targetSize, or the deficit exceeds MaxPadding, data is returned unchanged.
func Pad(data []byte, targetSize int) []byte {
	if len(data) >= targetSize {
		return data
	}
	deficit := targetSize - len(data)
	if deficit > MaxPadding {
		return data
	}

	out := make([]byte, targetSize)
	copy(out, data)
	if deficit > 1 {
		_, _ = rand.Read(out[len(data) : targetSize-1])
	}
	out[targetSize-1] = byte(deficit)
	return out
}

// Unpad strips padding added by Pad. Input whose last byte does not describe
// a plausible padding length is returned unchanged.
func Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	n := int(data[len(data)-1])
	if n == 0 || n > len(data) {
		return data
	}
	return data[:len(data)-n]
}

// OptimalBlockSize returns the smallest block that holds payloadSize plus the
// encryption overhead. Payloads too large for every block are returned as-is;
// at that size fragmentation, not padding, hides the length.
func OptimalBlockSize(payloadSize int) int {
	total := payloadSize + limits.CryptoOverhead
	for _, block := range BlockSizes {
		if total <= block {
			return block
		}
	}
	return payloadSize
}

// PadToBlock pads data so that, once encrypted, it lands on its optimal block
// size. Unlike Pad it always appends between 1 and MaxPadding bytes, so Unpad
// on the receiving side is exact even when the block cannot be reached.
func PadToBlock(data []byte) []byte {
	target := OptimalBlockSize(len(data)) - limits.CryptoOverhead
	if target > len(data)+MaxPadding {
		target = len(data) + MaxPadding
	}
	if target <= len(data) {
		target = len(data) + 1
	}
	return Pad(data, target)
}

// Required reports whether a payload of the given type is padded before
// transmission. Only addressed chat messages, delivery acks and read receipts
// are padded; broadcast and emergency traffic is sent at its natural size.
func Required(packetType transport.PacketType, broadcast bool) bool {
	if broadcast {
		return false
	}
	switch packetType {
	case transport.PacketMessage, transport.PacketDeliveryAck, transport.PacketReadReceipt:
		return true
	default:
		return false
	}
}
