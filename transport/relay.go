package transport

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrTTLExpired is returned by PrepareRelay for a packet whose hop budget is
// already exhausted.
var ErrTTLExpired = errors.New("ttl expired")

// RelayDecision describes what a node does with a packet it received.
type RelayDecision uint8

const (
	// RelayDrop means the packet is neither consumed nor forwarded.
	RelayDrop RelayDecision = iota
	// RelayConsume means the packet is addressed to this node only.
	RelayConsume
	// RelayForward means the packet is for someone else and is forwarded.
	RelayForward
	// RelayConsumeAndForward means the packet is a broadcast: process it
	// locally and keep flooding.
	RelayConsumeAndForward
)

// String returns a log-friendly decision name.
func (d RelayDecision) String() string {
	switch d {
	case RelayDrop:
		return "drop"
	case RelayConsume:
		return "consume"
	case RelayForward:
		return "forward"
	case RelayConsumeAndForward:
		return "consume_and_forward"
	default:
		return "unknown"
	}
}

// Consumes reports whether the local node processes the packet.
func (d RelayDecision) Consumes() bool {
	return d == RelayConsume || d == RelayConsumeAndForward
}

// Forwards reports whether the packet is handed back to the transport.
func (d RelayDecision) Forwards() bool {
	return d == RelayForward || d == RelayConsumeAndForward
}

// PrepareRelay returns a copy of the packet with ttl decremented by one.
// A packet that arrives with ttl 0 yields ErrTTLExpired. A packet whose
// decremented ttl reaches 0 is returned with ok=false: it has used its last
// hop and must not be transmitted again.
func PrepareRelay(p *Packet) (relayed *Packet, ok bool, err error) {
	if p.TTL == 0 {
		return nil, false, ErrTTLExpired
	}
	relayed = p.Clone()
	relayed.TTL = p.TTL - 1
	return relayed, relayed.TTL > 0, nil
}

// Route decides how a node identified by self handles an inbound packet.
// Own echoes are dropped. Broadcasts and non-addressed packets are consumed
// and forwarded, packets for self are consumed, everything else is forwarded.
func Route(p *Packet, self PeerID) RelayDecision {
	if p.Sender() == self {
		return RelayDrop
	}

	var decision RelayDecision
	switch {
	case p.RecipientID == nil || p.IsBroadcast():
		decision = RelayConsumeAndForward
	case p.IsAddressedTo(self):
		decision = RelayConsume
	default:
		decision = RelayForward
	}

	logrus.WithFields(logrus.Fields{
		"function": "Route",
		"type":     p.Type.String(),
		"sender":   p.Sender().String(),
		"ttl":      p.TTL,
		"decision": decision.String(),
	}).Debug("Routed inbound packet")

	return decision
}
