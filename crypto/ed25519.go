package crypto

import (
	"crypto/ed25519"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Sign creates an Ed25519 signature for a message using the signing seed.
func Sign(message []byte, seed [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, ErrEmptyMessage
	}
	edPrivateKey := ed25519.NewKeyFromSeed(seed[:])
	return ed25519.Sign(edPrivateKey, message), nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message, signature []byte, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, ErrEmptyMessage
	}
	if len(signature) != SignatureSize {
		return false, nil
	}
	return ed25519.Verify(publicKey[:], message, signature), nil
}
