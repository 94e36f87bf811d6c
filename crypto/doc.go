// Package crypto provides the confidentiality and authentication collaborator
// of the mesh.
//
// The mesh only depends on the Provider interface; the cipher suite is
// pluggable. NaClProvider is the reference implementation:
//
//   - Private payloads are sealed with nacl/box (Curve25519, XSalsa20,
//     Poly1305). A random 24-byte nonce is prefixed to every ciphertext.
//   - Packets are signed with Ed25519 over their signing bytes.
//   - Peer keys are learned from key exchange packets carrying a KeyBundle.
//     The first bundle seen for a peer is pinned.
//
// Example:
//
//	id, err := crypto.GenerateIdentity()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	provider, _ := crypto.NewNaClProvider(id)
//	if err := provider.AddPeer(peerID, bundleFromKeyExchange); err != nil {
//	    log.Println(err)
//	}
//	sealed, err := provider.Encrypt(ctx, padded, peerID)
//
// KeyStore keeps an identity on disk across restarts, sealed with AES-GCM
// under a PBKDF2-derived key. Wipe zeroes key material that is no longer
// needed.
package crypto
