package crypto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/sosmesh/transport"
)

var (
	// ErrUnknownPeer is returned when no key bundle is known for a peer.
	ErrUnknownPeer = errors.New("no keys known for peer")
	// ErrBundleMismatch is returned by AddPeer when a different bundle is
	// already pinned for the peer.
	ErrBundleMismatch = errors.New("peer already has a different key bundle")
)

// Provider supplies confidentiality and authentication to the mesh. Every
// call takes a context so the caller can bound it with a timeout.
type Provider interface {
	// Encrypt seals plaintext for one peer.
	Encrypt(ctx context.Context, plaintext []byte, peer transport.PeerID) ([]byte, error)
	// Decrypt opens ciphertext received from one peer.
	Decrypt(ctx context.Context, ciphertext []byte, peer transport.PeerID) ([]byte, error)
	// Sign signs data with the local identity.
	Sign(ctx context.Context, data []byte) ([]byte, error)
	// Verify checks a signature made by peer. ErrUnknownPeer means the
	// signature cannot be checked yet, not that it is invalid.
	Verify(ctx context.Context, data, signature []byte, peer transport.PeerID) (bool, error)
}

// KeyRegistry is implemented by providers that learn peer keys from key
// exchange packets.
type KeyRegistry interface {
	// LocalBundle returns the bundle announced in key exchange packets.
	LocalBundle() KeyBundle
	// AddPeer pins the first bundle seen for a peer. A different bundle for
	// a pinned peer is rejected with ErrBundleMismatch.
	AddPeer(peer transport.PeerID, bundle KeyBundle) error
	// HasPeer reports whether a bundle is pinned for the peer.
	HasPeer(peer transport.PeerID) bool
	// RemovePeer forgets a peer.
	RemovePeer(peer transport.PeerID)
}

// NaClProvider implements Provider and KeyRegistry with nacl/box for
// encryption and Ed25519 for signatures.
type NaClProvider struct {
	identity *Identity

	mu    sync.RWMutex
	peers map[transport.PeerID]KeyBundle
}

// NewNaClProvider creates a provider for the given identity.
func NewNaClProvider(identity *Identity) (*NaClProvider, error) {
	if identity == nil || identity.Box == nil {
		return nil, errors.New("identity is required")
	}
	return &NaClProvider{
		identity: identity,
		peers:    make(map[transport.PeerID]KeyBundle),
	}, nil
}

// LocalBundle returns the public keys of the local identity.
func (p *NaClProvider) LocalBundle() KeyBundle {
	return p.identity.Bundle()
}

// AddPeer pins bundle for peer. Re-adding the pinned bundle is a no-op.
func (p *NaClProvider) AddPeer(peer transport.PeerID, bundle KeyBundle) error {
	p.mu.Lock()
	existing, ok := p.peers[peer]
	if ok {
		p.mu.Unlock()
		if existing != bundle {
			NewLogger("NaClProvider.AddPeer").
				WithField("peer", peer.String()).
				Warn("Rejected replacement key bundle")
			return fmt.Errorf("%w: %s", ErrBundleMismatch, peer)
		}
		return nil
	}
	p.peers[peer] = bundle
	p.mu.Unlock()

	NewLogger("NaClProvider.AddPeer").
		WithField("peer", peer.String()).
		WithFields(SecureFieldHash(bundle.BoxPublic[:], "box_public")).
		Debug("Pinned peer key bundle")
	return nil
}

// RemovePeer forgets a peer.
func (p *NaClProvider) RemovePeer(peer transport.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, peer)
}

// HasPeer reports whether keys are known for a peer.
func (p *NaClProvider) HasPeer(peer transport.PeerID) bool {
	_, ok := p.bundle(peer)
	return ok
}

func (p *NaClProvider) bundle(peer transport.PeerID) (KeyBundle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.peers[peer]
	return b, ok
}

// Encrypt seals plaintext for peer.
func (p *NaClProvider) Encrypt(ctx context.Context, plaintext []byte, peer transport.PeerID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := p.bundle(peer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return Seal(plaintext, b.BoxPublic, p.identity.Box.Private)
}

// Decrypt opens ciphertext from peer.
func (p *NaClProvider) Decrypt(ctx context.Context, ciphertext []byte, peer transport.PeerID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := p.bundle(peer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	plain, err := Open(ciphertext, b.BoxPublic, p.identity.Box.Private)
	if err != nil {
		NewLogger("NaClProvider.Decrypt").
			WithField("peer", peer.String()).
			WithError(err, "authentication", "box_open").
			Warn("Decryption failed")
		return nil, err
	}
	return plain, nil
}

// Sign signs data with the local signing key.
func (p *NaClProvider) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Sign(data, p.identity.SigningSeed)
}

// Verify checks a signature made by peer.
func (p *NaClProvider) Verify(ctx context.Context, data, signature []byte, peer transport.PeerID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b, ok := p.bundle(peer)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	return Verify(data, signature, b.SigningPublic)
}
