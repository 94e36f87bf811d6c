package limits

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/nacl/box"
)

// TestCryptoOverheadMatchesNaCl verifies that CryptoOverhead matches the actual
// overhead from golang.org/x/crypto/nacl/box
func TestCryptoOverheadMatchesNaCl(t *testing.T) {
	assert.Equal(t, box.Overhead, CryptoOverhead)

	_, senderSK, err := box.GenerateKey(rand.Reader)
	assert.NoError(t, err)
	recipientPK, _, err := box.GenerateKey(rand.Reader)
	assert.NoError(t, err)

	var nonce [24]byte
	for _, size := range []int{0, 1, 100, DefaultMaxFrameSize} {
		sealed := box.Seal(nil, make([]byte, size), &nonce, recipientPK, senderSK)
		assert.Equal(t, CryptoOverhead, len(sealed)-size, "size %d", size)
	}
}

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		limit   int
		wantErr error
	}{
		{"nil frame", nil, DefaultMaxFrameSize, ErrMessageEmpty},
		{"empty frame", []byte{}, DefaultMaxFrameSize, ErrMessageEmpty},
		{"small frame", make([]byte, 23), DefaultMaxFrameSize, nil},
		{"exact limit", make([]byte, DefaultMaxFrameSize), DefaultMaxFrameSize, nil},
		{"one over limit", make([]byte, DefaultMaxFrameSize+1), DefaultMaxFrameSize, ErrMessageTooLarge},
		{"custom limit", make([]byte, 200), 128, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrame(tt.frame, tt.limit)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(nil))
	assert.NoError(t, ValidatePayload(make([]byte, MaxPayloadSize)))
	assert.ErrorIs(t, ValidatePayload(make([]byte, MaxPayloadSize+1)), ErrMessageTooLarge)
}

func TestValidatePeerID(t *testing.T) {
	assert.NoError(t, ValidatePeerID([]byte("AAAAAAAA")))
	assert.ErrorIs(t, ValidatePeerID([]byte("short")), ErrInvalidPeerID)
	assert.ErrorIs(t, ValidatePeerID(make([]byte, 9)), ErrInvalidPeerID)
	assert.ErrorIs(t, ValidatePeerID(nil), ErrInvalidPeerID)
}

func TestValidateReassembly(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		totalSize int
		ok        bool
	}{
		{"minimal set", 2, 600, true},
		{"max fragments", MaxFragments, MaxReassembledSize, true},
		{"single fragment", 1, 100, false},
		{"too many fragments", MaxFragments + 1, 1000, false},
		{"zero size", 3, 0, false},
		{"oversized", 3, MaxReassembledSize + 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReassembly(tt.total, tt.totalSize)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrMessageTooLarge)
			}
		})
	}
}

func TestValidateMessageSize(t *testing.T) {
	assert.ErrorIs(t, ValidateMessageSize(nil, 10), ErrMessageEmpty)
	assert.NoError(t, ValidateMessageSize([]byte("hello"), 10))
	assert.ErrorIs(t, ValidateMessageSize(make([]byte, 11), 10), ErrMessageTooLarge)
}
