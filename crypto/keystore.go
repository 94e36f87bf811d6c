package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
	// KeyStoreVersion is the current on-disk format version.
	KeyStoreVersion = 1
	// SaltSize is the size of the PBKDF2 salt.
	SaltSize = 32

	identityFile = "identity"
	saltFile     = ".salt"

	// peer id || box private key || signing seed
	storedIdentitySize = limits.PeerIDSize + 32 + 32
)

var (
	// ErrNoIdentity is returned by LoadIdentity when nothing was saved yet.
	ErrNoIdentity = errors.New("no stored identity")
	// ErrEmptyPassphrase is returned for an empty key store passphrase.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
)

// KeyStore keeps a device identity on disk, encrypted with AES-256-GCM under
// a key derived from a passphrase.
type KeyStore struct {
	encryptionKey [32]byte
	dataDir       string
}

// NewKeyStore opens or creates a key store in dataDir. The passphrase is
// wiped after the key is derived.
func NewKeyStore(dataDir string, passphrase []byte) (*KeyStore, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create key store directory: %w", err)
	}

	ks := &KeyStore{dataDir: dataDir}

	salt, err := ks.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("initialize salt: %w", err)
	}

	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(ks.encryptionKey[:], derived)
	Wipe(derived)
	Wipe(passphrase)

	return ks, nil
}

func (ks *KeyStore) loadOrGenerateSalt() ([]byte, error) {
	path := filepath.Join(ks.dataDir, saltFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != SaltSize {
			return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("save salt: %w", err)
	}
	return salt, nil
}

func (ks *KeyStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(ks.encryptionKey[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// writeEncrypted stores version || nonce || sealed plaintext, replacing the
// file atomically.
func (ks *KeyStore) writeEncrypted(filename string, plaintext []byte) error {
	gcm, err := ks.gcm()
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	output := make([]byte, 2, 2+len(nonce)+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint16(output, KeyStoreVersion)
	output = append(output, nonce...)
	output = gcm.Seal(output, nonce, plaintext, nil)

	tmp := filepath.Join(ks.dataDir, filename+".tmp")
	final := filepath.Join(ks.dataDir, filename)
	if err := os.WriteFile(tmp, output, 0o600); err != nil {
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}

func (ks *KeyStore) readEncrypted(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(ks.dataDir, filename))
	if err != nil {
		return nil, err
	}

	gcm, err := ks.gcm()
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(data) < 2+gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("key file too short: %d bytes", len(data))
	}
	if v := binary.BigEndian.Uint16(data); v != KeyStoreVersion {
		return nil, fmt.Errorf("unsupported key store version %d", v)
	}

	nonce := data[2 : 2+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, data[2+gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted file): %w", err)
	}
	return plaintext, nil
}

// SaveIdentity stores the peer id and private keys of a device.
func (ks *KeyStore) SaveIdentity(peer transport.PeerID, id *Identity) error {
	if id == nil || id.Box == nil {
		return errors.New("identity is required")
	}

	plaintext := make([]byte, 0, storedIdentitySize)
	plaintext = append(plaintext, peer[:]...)
	plaintext = append(plaintext, id.Box.Private[:]...)
	plaintext = append(plaintext, id.SigningSeed[:]...)
	defer Wipe(plaintext)

	if err := ks.writeEncrypted(identityFile, plaintext); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "KeyStore.SaveIdentity",
		"peer_id":  peer.String(),
		"dir":      ks.dataDir,
	}).Info("Identity saved")
	return nil
}

// LoadIdentity returns the stored peer id and identity, or ErrNoIdentity.
func (ks *KeyStore) LoadIdentity() (transport.PeerID, *Identity, error) {
	var peer transport.PeerID

	plaintext, err := ks.readEncrypted(identityFile)
	if err != nil {
		if os.IsNotExist(err) {
			return peer, nil, ErrNoIdentity
		}
		return peer, nil, err
	}
	defer Wipe(plaintext)

	if len(plaintext) != storedIdentitySize {
		return peer, nil, fmt.Errorf("stored identity has %d bytes, want %d", len(plaintext), storedIdentitySize)
	}

	copy(peer[:], plaintext)
	rest := plaintext[limits.PeerIDSize:]

	kp := &KeyPair{}
	copy(kp.Private[:], rest[:32])
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return peer, nil, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)

	id := &Identity{Box: kp}
	copy(id.SigningSeed[:], rest[32:])
	return peer, id, nil
}

// Close wipes the derived key. The store must not be used afterwards.
func (ks *KeyStore) Close() error {
	Wipe(ks.encryptionKey[:])
	return nil
}
