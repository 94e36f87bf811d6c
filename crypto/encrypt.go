package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// NonceSize is the size of the random nonce prefixed to every ciphertext.
const NonceSize = 24

// Nonce is a 24-byte value used for encryption.
type Nonce [NonceSize]byte

var (
	// ErrEmptyMessage is returned when encrypting or signing nothing.
	ErrEmptyMessage = errors.New("empty message")

	// ErrDecryptionFailed is returned when authentication of a ciphertext fails.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// Seal encrypts message for recipientPK and returns nonce || box.
func Seal(message []byte, recipientPK, senderSK [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, ErrEmptyMessage
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(message)+box.Overhead)
	copy(out, nonce[:])
	nonceArr := [NonceSize]byte(nonce)
	return box.Seal(out, message, &nonceArr, &recipientPK, &senderSK), nil
}

// Open reverses Seal.
func Open(ciphertext []byte, senderPK, recipientSK [32]byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+box.Overhead {
		return nil, ErrDecryptionFailed
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plain, ok := box.Open(nil, ciphertext[NonceSize:], &nonce, &senderPK, &recipientSK)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
