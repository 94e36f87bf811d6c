// Package transport provides the wire codec, relay rules and link-layer
// transports of the mesh.
//
// # Wire Format
//
// Every packet is encoded big-endian as:
//
//	version(1) | type(1) | senderID(8) | hasRecipient(1) [recipientID(8)] |
//	timestamp(8, ms) | payloadLen(2) | payload | hasSignature(1)
//	[sigLen(1) | signature] | ttl(1)
//
// Decode accepts only version 1, requires the flag bytes to be 0 or 1 and
// requires the frame to be consumed exactly. Packet types outside the known
// table still decode so they can be relayed opaquely.
//
//	frame, err := pkt.EncodeFrame(t.MaxFrameSize())
//	if errors.Is(err, limits.ErrMessageTooLarge) {
//	    // hand the packet to the fragmenter
//	}
//
// # Relaying
//
// Route classifies an inbound packet relative to the local peer and
// PrepareRelay decrements its ttl. A frame is never transmitted with ttl 0.
// Signatures cover SigningBytes, which zeroes the ttl, so relays do not
// invalidate them.
//
// # Transports
//
// The Transport interface is frame-oriented and broadcast-only:
//
//	type Transport interface {
//	    Send(frame []byte) error
//	    SetReceiveHandler(handler ReceiveHandler)
//	    MaxFrameSize() int
//	    Close() error
//	}
//
// UDPTransport maps a LAN broadcast domain onto that contract. Hub and
// MemoryTransport build arbitrary in-process topologies for tests and
// simulations.
package transport
