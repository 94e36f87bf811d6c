package sosmesh

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/sosmesh/crypto"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/location"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/padding"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoKeyRegistry is returned by ExchangeKeys when the crypto provider
	// cannot publish a key bundle.
	ErrNoKeyRegistry = errors.New("crypto provider has no key bundle")

	// ErrBroadcastRecipient is returned when an addressed send names the
	// broadcast id.
	ErrBroadcastRecipient = errors.New("recipient must be a single peer")

	// ErrEmptyChannel is returned for channel operations without a channel.
	ErrEmptyChannel = errors.New("channel name is required")

	// ErrKeyExchangeNotSelfSigned is reported for key exchange frames not
	// signed by the bundle they carry.
	ErrKeyExchangeNotSelfSigned = errors.New("key exchange not signed by announced key")
)

// SOSRequest describes an SOS to originate.
type SOSRequest struct {
	Type           emergency.Type
	Urgency        emergency.Urgency
	Description    string
	ContactInfo    string
	AdditionalInfo map[string]string
}

// ServiceRequest describes an emergency service this node offers.
type ServiceRequest struct {
	Type         emergency.Type
	Name         string
	Capabilities []string
	ContactInfo  string
	// Location pins the service. Nil asks the location provider.
	Location *location.Location
}

func (m *Mesh) timestamp() uint64 {
	return uint64(m.now().UnixMilli())
}

// newPacket builds an outbound packet from this node.
func (m *Mesh) newPacket(t transport.PacketType, recipient []byte, payload []byte, ttl uint8) *transport.Packet {
	return transport.NewPacket(t, m.self, recipient, m.timestamp(), payload, ttl)
}

// send signs p, fragments it when it exceeds the frame limit and transmits
// every frame. All frames are encoded before the first one is sent, so an
// encode failure never leaves a partial transmission behind.
func (m *Mesh) send(p *transport.Packet) error {
	m.sign(p)

	packets, err := m.fragmenter.Split(p)
	if err != nil {
		return fmt.Errorf("split %s packet: %w", p.Type, err)
	}

	maxFrame := m.transport.MaxFrameSize()
	frames := make([][]byte, 0, len(packets))
	for _, fp := range packets {
		frame, err := fp.EncodeFrame(maxFrame)
		if err != nil {
			return fmt.Errorf("encode %s packet: %w", fp.Type, err)
		}
		frames = append(frames, frame)
	}

	for i, frame := range frames {
		if err := m.transport.Send(frame); err != nil {
			return fmt.Errorf("send frame %d of %d: %w", i+1, len(frames), err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Mesh.send",
		"type":     p.Type.String(),
		"frames":   len(frames),
		"ttl":      p.TTL,
		"signed":   len(p.Signature) > 0,
	}).Debug("Sent packet")
	return nil
}

// sign attaches a signature when a provider is configured. A failed or
// timed-out signing sends the packet unsigned.
func (m *Mesh) sign(p *transport.Packet) {
	if m.options.Crypto == nil {
		return
	}
	data, err := p.SigningBytes()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.options.CryptoTimeout)
	defer cancel()

	sig, err := m.options.Crypto.Sign(ctx, data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.sign",
			"type":     p.Type.String(),
			"error":    err.Error(),
		}).Warn("Signing failed, sending unsigned")
		return
	}
	p.Signature = sig
}

// sealPayload pads and, with a provider, encrypts an addressed payload.
// strict makes an encryption failure fatal instead of falling back to clear.
func (m *Mesh) sealPayload(t transport.PacketType, to transport.PeerID, payload []byte, strict bool) ([]byte, error) {
	if !padding.Required(t, false) {
		return payload, nil
	}
	padded := padding.PadToBlock(payload)
	if m.options.Crypto == nil {
		return padded, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.options.CryptoTimeout)
	defer cancel()

	sealed, err := m.options.Crypto.Encrypt(ctx, padded, to)
	if err != nil {
		if strict {
			return nil, fmt.Errorf("encrypt for %s: %w", to, err)
		}
		logrus.WithFields(logrus.Fields{
			"function":  "Mesh.sealPayload",
			"type":      t.String(),
			"recipient": to.String(),
			"error":     err.Error(),
		}).Warn("Encryption failed, sending padded clear text")
		return padded, nil
	}
	return sealed, nil
}

func checkRecipient(to transport.PeerID) error {
	if to.IsBroadcast() {
		return ErrBroadcastRecipient
	}
	return nil
}

// Announce broadcasts the local nickname.
func (m *Mesh) Announce() error {
	return m.send(m.newPacket(transport.PacketAnnounce, nil, []byte(m.options.Nickname), m.options.DefaultTTL))
}

// ExchangeKeys broadcasts the local public key bundle.
func (m *Mesh) ExchangeKeys() error {
	registry, ok := m.options.Crypto.(crypto.KeyRegistry)
	if !ok {
		return ErrNoKeyRegistry
	}
	bundle := registry.LocalBundle()
	return m.send(m.newPacket(transport.PacketKeyExchange, nil, bundle.Encode(), m.options.DefaultTTL))
}

// Leave tells peers this node is leaving the mesh.
func (m *Mesh) Leave() error {
	return m.send(m.newPacket(transport.PacketLeave, nil, nil, m.options.DefaultTTL))
}

// LeaveChannel tells peers this node left a channel.
func (m *Mesh) LeaveChannel(channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	return m.send(m.newPacket(transport.PacketLeave, nil, []byte(channel), m.options.DefaultTTL))
}

// SendBroadcast sends a chat message to every listener and returns its id.
// Delivery is tracked against the peers currently known.
func (m *Mesh) SendBroadcast(content, channel string, mentions []string) (string, error) {
	msg := messaging.NewChatMessage(m.options.Nickname, content)
	msg.Channel = channel
	msg.Mentions = mentions

	payload, err := msg.Encode()
	if err != nil {
		return "", err
	}
	p := m.newPacket(transport.PacketMessage, transport.BroadcastID[:], payload, m.options.DefaultTTL)
	return msg.ID, m.sendTracked(msg.ID, p, m.peers.count())
}

// SendPrivate sends a chat message to one peer and returns its id. With a
// crypto provider the message is only sent if it can be encrypted.
func (m *Mesh) SendPrivate(content string, to transport.PeerID) (string, error) {
	if err := checkRecipient(to); err != nil {
		return "", err
	}
	msg := messaging.NewChatMessage(m.options.Nickname, content)
	msg.Private = true
	msg.Encrypted = m.options.Crypto != nil

	payload, err := msg.Encode()
	if err != nil {
		return "", err
	}
	sealed, err := m.sealPayload(transport.PacketMessage, to, payload, true)
	if err != nil {
		return "", err
	}
	p := m.newPacket(transport.PacketMessage, to[:], sealed, m.options.DefaultTTL)
	return msg.ID, m.sendTracked(msg.ID, p, 1)
}

func (m *Mesh) sendTracked(messageID string, p *transport.Packet, expected int) error {
	if err := m.tracker.Track(messageID, expected); err != nil {
		return err
	}
	if err := m.send(p); err != nil {
		m.tracker.MarkFailed(messageID, err.Error())
		return err
	}
	m.tracker.MarkSent(messageID)
	return nil
}

// SendDeliveryAck confirms receipt of messageID to its sender.
func (m *Mesh) SendDeliveryAck(messageID string, to transport.PeerID, hopCount uint8) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	ack := messaging.NewDeliveryAck(messageID, m.self, m.options.Nickname, hopCount)
	payload, err := ack.Encode()
	if err != nil {
		return err
	}
	sealed, err := m.sealPayload(transport.PacketDeliveryAck, to, payload, false)
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketDeliveryAck, to[:], sealed, m.options.DefaultTTL))
}

// SendReadReceipt tells the sender of messageID that it was read.
func (m *Mesh) SendReadReceipt(messageID string, to transport.PeerID) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	receipt := messaging.NewReadReceipt(messageID, m.self, m.options.Nickname)
	payload, err := receipt.Encode()
	if err != nil {
		return err
	}
	sealed, err := m.sealPayload(transport.PacketReadReceipt, to, payload, false)
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketReadReceipt, to[:], sealed, m.options.DefaultTTL))
}

// RequestDeliveryStatus asks a peer whether it received messageID.
func (m *Mesh) RequestDeliveryStatus(messageID string, to transport.PeerID) error {
	if err := checkRecipient(to); err != nil {
		return err
	}
	req := &messaging.StatusRequest{OriginalMessageID: messageID, RequesterID: m.self}
	payload, err := req.Encode()
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketDeliveryStatusRequest, to[:], payload, m.options.DefaultTTL))
}

// AnnounceChannelProtection announces that a channel is, or is no longer,
// password protected.
func (m *Mesh) AnnounceChannelProtection(channel string, protected bool, keyCommitment string) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	a := &messaging.ChannelProtection{
		Channel:       channel,
		Protected:     protected,
		CreatorID:     m.self,
		KeyCommitment: keyCommitment,
	}
	payload, err := a.Encode()
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketChannelAnnounce, nil, payload, m.options.DefaultTTL))
}

// AnnounceChannelRetention announces whether members should keep history.
func (m *Mesh) AnnounceChannelRetention(channel string, enabled bool) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	a := &messaging.ChannelRetention{Channel: channel, Enabled: enabled, CreatorID: m.self}
	payload, err := a.Encode()
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketChannelRetention, nil, payload, m.options.DefaultTTL))
}

// currentLocation asks the location provider for a geocoded fix. It never
// takes longer than Options.LocationTimeout and returns nil when no fix
// arrived in time.
func (m *Mesh) currentLocation(ctx context.Context) *location.Location {
	if m.options.Location == nil {
		return nil
	}
	loc := location.Acquire(ctx, m.options.Location, m.options.LocationTimeout)
	if loc == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.currentLocation",
			"timeout":  m.options.LocationTimeout.String(),
		}).Warn("No location fix, continuing without one")
	}
	return loc
}

// SendSOS originates an SOS, stores it locally and broadcasts it with the
// hop budget of its urgency. The location is attached when one is available
// in time.
func (m *Mesh) SendSOS(ctx context.Context, req SOSRequest) (*emergency.SOSMessage, error) {
	msg := emergency.NewSOSMessage(req.Type, req.Urgency, req.Description, m.options.Nickname, m.self.String())
	msg.ContactInfo = req.ContactInfo
	msg.AdditionalInfo = req.AdditionalInfo
	msg.Location = m.currentLocation(ctx)

	payload, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	m.router.AddSOS(msg)

	logrus.WithFields(logrus.Fields{
		"function":     "Mesh.SendSOS",
		"sos_id":       msg.ID,
		"type":         string(msg.Type),
		"urgency":      string(msg.Urgency),
		"ttl":          msg.TTL(),
		"has_location": msg.Location != nil,
	}).Info("Originating SOS")

	if err := m.send(m.newPacket(transport.PacketSOSMessage, transport.BroadcastID[:], payload, msg.TTL())); err != nil {
		return msg, err
	}
	return msg, nil
}

// RespondToSOS broadcasts a response to a stored SOS with the hop budget of
// the SOS it answers.
func (m *Mesh) RespondToSOS(sosID string, responseType emergency.ResponseType, message string, capabilities []string) (*emergency.SOSResponse, error) {
	sos, ok := m.router.SOS(sosID)
	if !ok {
		return nil, fmt.Errorf("%w: sos %s", emergency.ErrNotFound, sosID)
	}
	resp := emergency.NewSOSResponse(sosID, responseType, message, m.options.Nickname, m.self.String())
	resp.Capabilities = capabilities

	payload, err := resp.Encode()
	if err != nil {
		return nil, err
	}
	m.router.AddResponse(resp)

	if err := m.send(m.newPacket(transport.PacketSOSResponse, transport.BroadcastID[:], payload, sos.TTL())); err != nil {
		return resp, err
	}
	return resp, nil
}

// DeactivateSOS marks an SOS resolved and broadcasts the inactive copy so
// relays update their registries.
func (m *Mesh) DeactivateSOS(sosID string) error {
	msg, err := m.router.Deactivate(sosID)
	if err != nil {
		return err
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketSOSMessage, transport.BroadcastID[:], payload, msg.TTL()))
}

// EnableEmergencyService registers a service offered by this node and
// announces it.
func (m *Mesh) EnableEmergencyService(ctx context.Context, req ServiceRequest) (*emergency.ServiceAnnouncement, error) {
	serviceID := m.self.String() + "-" + strings.ReplaceAll(string(req.Type), "_", "-")
	svc := emergency.NewServiceAnnouncement(req.Type, req.Name, serviceID, req.Capabilities)
	svc.ContactInfo = req.ContactInfo
	svc.Location = req.Location
	if svc.Location == nil {
		svc.Location = m.currentLocation(ctx)
	}

	payload, err := svc.Encode()
	if err != nil {
		return nil, err
	}
	m.router.EnableService(svc)

	if err := m.send(m.newPacket(transport.PacketEmergencyServiceAnnounce, transport.BroadcastID[:], payload, m.options.DefaultTTL)); err != nil {
		return svc, err
	}
	return svc, nil
}

// DisableEmergencyService withdraws a service offered by this node.
func (m *Mesh) DisableEmergencyService(serviceID string) error {
	svc, err := m.router.DisableService(serviceID)
	if err != nil {
		return err
	}
	payload, err := svc.Encode()
	if err != nil {
		return err
	}
	return m.send(m.newPacket(transport.PacketEmergencyServiceAnnounce, transport.BroadcastID[:], payload, m.options.DefaultTTL))
}
