package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a NaCl crypto_box key pair used for private message encryption.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random NaCl key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
}

// Identity is the full key material of one device: a box key pair for
// confidentiality and an Ed25519 seed for packet signatures.
type Identity struct {
	Box         *KeyPair
	SigningSeed [32]byte
}

// GenerateIdentity creates fresh box and signing keys.
func GenerateIdentity() (*Identity, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate box keys: %w", err)
	}
	id := &Identity{Box: kp}
	if _, err := rand.Read(id.SigningSeed[:]); err != nil {
		return nil, fmt.Errorf("generate signing seed: %w", err)
	}
	return id, nil
}

// SigningPublicKey derives the Ed25519 public key from the seed.
func (id *Identity) SigningPublicKey() [32]byte {
	priv := ed25519.NewKeyFromSeed(id.SigningSeed[:])
	var pub [32]byte
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub
}

// Bundle returns the public half of the identity for key exchange.
func (id *Identity) Bundle() KeyBundle {
	return KeyBundle{
		BoxPublic:     id.Box.Public,
		SigningPublic: id.SigningPublicKey(),
	}
}

// KeyBundleSize is the encoded size of a KeyBundle.
const KeyBundleSize = 64

// ErrInvalidKeyBundle is returned for key exchange payloads of the wrong size
// or with all-zero keys.
var ErrInvalidKeyBundle = errors.New("invalid key bundle")

// KeyBundle is the payload of a key exchange packet.
type KeyBundle struct {
	BoxPublic     [32]byte
	SigningPublic [32]byte
}

// Encode returns BoxPublic followed by SigningPublic.
func (b KeyBundle) Encode() []byte {
	out := make([]byte, KeyBundleSize)
	copy(out, b.BoxPublic[:])
	copy(out[32:], b.SigningPublic[:])
	return out
}

// DecodeKeyBundle parses a key exchange payload.
func DecodeKeyBundle(data []byte) (KeyBundle, error) {
	var b KeyBundle
	if len(data) != KeyBundleSize {
		return b, fmt.Errorf("%w: %d bytes", ErrInvalidKeyBundle, len(data))
	}
	copy(b.BoxPublic[:], data[:32])
	copy(b.SigningPublic[:], data[32:])
	if isZeroKey(b.BoxPublic) || isZeroKey(b.SigningPublic) {
		return b, fmt.Errorf("%w: zero key", ErrInvalidKeyBundle)
	}
	return b, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
