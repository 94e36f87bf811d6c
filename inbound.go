package sosmesh

import (
	"context"
	"errors"

	"github.com/opd-ai/sosmesh/crypto"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/fragment"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/padding"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

// handleFrame is the transport receive handler. Nothing on this path returns
// an error: bad input is logged and dropped.
func (m *Mesh) handleFrame(frame []byte) {
	p, err := transport.Decode(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Mesh.handleFrame",
			"frame_size": len(frame),
			"error":      err.Error(),
		}).Warn("Dropping undecodable frame")
		return
	}

	decision := transport.Route(p, m.self)
	if decision == transport.RelayDrop {
		return
	}

	fresh, err := m.seen.add(p, m.now())
	if err != nil || !fresh {
		return
	}
	m.peers.touch(p.Sender(), m.now())

	if decision.Forwards() {
		m.relay(p)
	}
	if decision.Consumes() {
		m.consume(p)
	}
}

// relay forwards p with one hop less. Packets on their last hop are not
// transmitted again.
func (m *Mesh) relay(p *transport.Packet) {
	relayed, ok, err := transport.PrepareRelay(p)
	if err != nil || !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.relay",
			"type":     p.Type.String(),
			"sender":   p.Sender().String(),
			"ttl":      p.TTL,
		}).Debug("Hop budget exhausted, not relaying")
		return
	}

	frame, err := relayed.EncodeFrame(m.transport.MaxFrameSize())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.relay",
			"type":     p.Type.String(),
			"error":    err.Error(),
		}).Warn("Cannot re-encode packet for relay")
		return
	}
	if err := m.transport.Send(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.relay",
			"type":     p.Type.String(),
			"error":    err.Error(),
		}).Warn("Relay send failed")
	}
}

// consume handles a packet meant for this node.
func (m *Mesh) consume(p *transport.Packet) {
	if p.Type.IsFragment() {
		complete, ok := m.reassemble(p)
		if !ok {
			return
		}
		p = complete
	}

	if !m.verify(p) {
		return
	}
	m.dispatch(p)
}

// reassemble feeds a fragment to the reassembler and returns the original
// packet once its set is complete.
func (m *Mesh) reassemble(p *transport.Packet) (*transport.Packet, bool) {
	result, err := m.reassembler.Handle(p)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.reassemble",
			"sender":   p.Sender().String(),
			"error":    err.Error(),
		}).Warn("Dropping fragment")
	}

	if result.Evicted != nil {
		m.currentDelegate().ReassemblyFailed(*result.Evicted)
	}

	switch result.Status {
	case fragment.StatusComplete:
		if result.Packet.Sender() != p.Sender() {
			logrus.WithFields(logrus.Fields{
				"function": "Mesh.reassemble",
				"set":      result.Key.String(),
			}).Warn("Reassembled packet names a different sender, dropping")
			return nil, false
		}
		// Hop accounting follows the fragment that completed the set.
		result.Packet.TTL = p.TTL
		return result.Packet, true
	case fragment.StatusFailed:
		failure := fragment.Failure{
			Key:      result.Key,
			Received: result.Received,
			Total:    result.Total,
			Reason:   result.Reason,
		}
		if h, _, herr := fragment.DecodePayload(p.Payload); herr == nil {
			failure.OriginalType = h.OriginalType
		}
		m.currentDelegate().ReassemblyFailed(failure)
	}
	return nil, false
}

// verify checks the signature of p. Frames from peers whose keys are pinned
// must carry a valid signature; frames from peers whose keys are not yet
// known are accepted unchecked.
func (m *Mesh) verify(p *transport.Packet) bool {
	if m.options.Crypto == nil {
		return true
	}
	if len(p.Signature) == 0 {
		registry, ok := m.options.Crypto.(crypto.KeyRegistry)
		if ok && registry.HasPeer(p.Sender()) {
			logrus.WithFields(logrus.Fields{
				"function": "Mesh.verify",
				"type":     p.Type.String(),
				"sender":   p.Sender().String(),
			}).Warn("Unsigned frame from keyed peer, dropping")
			return false
		}
		return true
	}
	data, err := p.SigningBytes()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.options.CryptoTimeout)
	defer cancel()

	valid, err := m.options.Crypto.Verify(ctx, data, p.Signature, p.Sender())
	switch {
	case errors.Is(err, crypto.ErrUnknownPeer):
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.verify",
			"sender":   p.Sender().String(),
		}).Debug("Signer keys unknown, accepting unverified")
		return true
	case err != nil || !valid:
		fields := logrus.Fields{
			"function": "Mesh.verify",
			"type":     p.Type.String(),
			"sender":   p.Sender().String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logrus.WithFields(fields).Warn("Signature verification failed, dropping")
		return false
	}
	return true
}

// openPayload reverses the sender's confidentiality processing. Payloads that
// do not decrypt are treated as sent in clear; a ciphertext that slips
// through then fails to decode.
func (m *Mesh) openPayload(p *transport.Packet) []byte {
	if !padding.Required(p.Type, !isAddressed(p)) {
		return p.Payload
	}

	data := p.Payload
	if m.options.Crypto != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.options.CryptoTimeout)
		plain, err := m.options.Crypto.Decrypt(ctx, data, p.Sender())
		cancel()
		if err == nil {
			data = plain
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "Mesh.openPayload",
				"type":     p.Type.String(),
				"sender":   p.Sender().String(),
				"error":    err.Error(),
			}).Debug("Payload not decryptable, reading as clear text")
		}
	}
	return padding.Unpad(data)
}

func isAddressed(p *transport.Packet) bool {
	return p.RecipientID != nil && !p.IsBroadcast()
}

// dispatch decodes the payload of a complete packet and reports it.
func (m *Mesh) dispatch(p *transport.Packet) {
	sender := p.Sender()
	d := m.currentDelegate()

	var err error
	switch p.Type {
	case transport.PacketAnnounce:
		m.handleAnnounce(sender, string(p.Payload))

	case transport.PacketKeyExchange:
		err = m.handleKeyExchange(p)

	case transport.PacketLeave:
		if len(p.Payload) > 0 {
			d.ChannelLeave(string(p.Payload), sender)
		} else {
			m.handlePeerLeave(sender)
		}

	case transport.PacketMessage:
		err = m.handleMessage(p)

	case transport.PacketChannelAnnounce:
		var a *messaging.ChannelProtection
		if a, err = messaging.DecodeChannelProtection(p.Payload); err == nil {
			d.ChannelProtectionAnnounced(a)
		}

	case transport.PacketChannelRetention:
		var a *messaging.ChannelRetention
		if a, err = messaging.DecodeChannelRetention(p.Payload); err == nil {
			d.ChannelRetentionAnnounced(a)
		}

	case transport.PacketDeliveryAck:
		var ack *messaging.DeliveryAck
		if ack, err = messaging.DecodeDeliveryAck(m.openPayload(p)); err == nil {
			m.tracker.HandleAck(ack)
			d.DeliveryAckReceived(ack)
		}

	case transport.PacketDeliveryStatusRequest:
		var req *messaging.StatusRequest
		if req, err = messaging.DecodeStatusRequest(p.Payload); err == nil {
			d.DeliveryStatusRequested(req)
		}

	case transport.PacketReadReceipt:
		var receipt *messaging.ReadReceipt
		if receipt, err = messaging.DecodeReadReceipt(m.openPayload(p)); err == nil {
			m.tracker.HandleReadReceipt(receipt)
			d.ReadReceiptReceived(receipt)
		}

	case transport.PacketSOSMessage:
		var msg *emergency.SOSMessage
		if msg, err = emergency.DecodeSOSMessage(p.Payload); err == nil {
			result := m.router.AddSOS(msg)
			if result == emergency.AddIgnored && !msg.IsActive {
				// Only the originating node may withdraw its SOS.
				result = m.router.ApplyDeactivation(msg, sender.String())
			}
			if result != emergency.AddIgnored {
				d.SOSMessageReceived(msg)
			}
		}

	case transport.PacketSOSResponse:
		var resp *emergency.SOSResponse
		if resp, err = emergency.DecodeSOSResponse(p.Payload); err == nil {
			if m.router.AddResponse(resp) {
				d.SOSResponseReceived(resp)
			}
		}

	case transport.PacketEmergencyServiceAnnounce:
		var svc *emergency.ServiceAnnouncement
		if svc, err = emergency.DecodeServiceAnnouncement(p.Payload); err == nil {
			m.router.AddService(svc)
			d.EmergencyServiceAnnounced(svc)
		}

	default:
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.dispatch",
			"type":     p.Type.String(),
			"sender":   sender.String(),
		}).Debug("No handler for packet type")
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.dispatch",
			"type":     p.Type.String(),
			"sender":   sender.String(),
			"error":    err.Error(),
		}).Warn("Dropping packet with invalid payload")
	}
}

func (m *Mesh) handleAnnounce(sender transport.PeerID, nickname string) {
	peer, added, changed := m.peers.upsert(sender, nickname, m.now())
	d := m.currentDelegate()
	if added {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.handleAnnounce",
			"peer_id":  sender.String(),
			"nickname": nickname,
		}).Info("Peer connected")
		d.PeerConnected(peer)
	}
	if changed {
		d.PeerListUpdated(m.peers.list())
	}
}

func (m *Mesh) handlePeerLeave(sender transport.PeerID) {
	// A leave from a keyed peer has passed verification, so the peer may
	// pin a new bundle when it rejoins.
	if registry, ok := m.options.Crypto.(crypto.KeyRegistry); ok {
		registry.RemovePeer(sender)
	}
	peer, ok := m.peers.remove(sender)
	if !ok {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Mesh.handlePeerLeave",
		"peer_id":  sender.String(),
		"nickname": peer.Nickname,
	}).Info("Peer left")

	d := m.currentDelegate()
	d.PeerDisconnected(peer)
	d.PeerListUpdated(m.peers.list())
}

// handleKeyExchange pins the bundle a peer announces. The frame must be
// signed with the signing key inside the bundle it carries.
func (m *Mesh) handleKeyExchange(p *transport.Packet) error {
	bundle, err := crypto.DecodeKeyBundle(p.Payload)
	if err != nil {
		return err
	}
	registry, ok := m.options.Crypto.(crypto.KeyRegistry)
	if !ok {
		return nil
	}

	data, err := p.SigningBytes()
	if err != nil {
		return err
	}
	valid, err := crypto.Verify(data, p.Signature, bundle.SigningPublic)
	if err != nil {
		return err
	}
	if !valid {
		return ErrKeyExchangeNotSelfSigned
	}
	return registry.AddPeer(p.Sender(), bundle)
}

func (m *Mesh) handleMessage(p *transport.Packet) error {
	msg, err := messaging.DecodeChatMessage(m.openPayload(p))
	if err != nil {
		return err
	}
	sender := p.Sender()
	m.currentDelegate().MessageReceived(msg, sender)

	if m.options.AutoAck && msg.Private && p.IsAddressedTo(m.self) {
		var hops uint8
		if p.TTL < m.options.DefaultTTL {
			hops = m.options.DefaultTTL - p.TTL
		}
		if err := m.SendDeliveryAck(msg.ID, sender, hops); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Mesh.handleMessage",
				"message_id": msg.ID,
				"error":      err.Error(),
			}).Warn("Failed to send delivery ack")
		}
	}
	return nil
}
