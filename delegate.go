package sosmesh

import (
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/fragment"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/transport"
)

// Delegate receives every event the mesh surfaces to the application.
type Delegate interface {
	MessageReceived(msg *messaging.ChatMessage, from transport.PeerID)
	PeerConnected(peer Peer)
	PeerDisconnected(peer Peer)
	PeerListUpdated(peers []Peer)

	ChannelLeave(channel string, from transport.PeerID)
	ChannelProtectionAnnounced(announcement *messaging.ChannelProtection)
	ChannelRetentionAnnounced(announcement *messaging.ChannelRetention)

	DeliveryAckReceived(ack *messaging.DeliveryAck)
	ReadReceiptReceived(receipt *messaging.ReadReceipt)
	DeliveryStatusRequested(request *messaging.StatusRequest)
	DeliveryStatusChanged(messageID string, status messaging.DeliveryStatus)

	// ReassemblyFailed is called once per fragment set that could not be
	// completed: at its end fragment, when it expires, or when it is evicted
	// to make room for a newer set.
	ReassemblyFailed(failure fragment.Failure)

	SOSMessageReceived(msg *emergency.SOSMessage)
	SOSResponseReceived(resp *emergency.SOSResponse)
	EmergencyServiceAnnounced(svc *emergency.ServiceAnnouncement)
}

// NopDelegate ignores every event. Embed it to implement only some methods.
type NopDelegate struct{}

var _ Delegate = NopDelegate{}

func (NopDelegate) MessageReceived(*messaging.ChatMessage, transport.PeerID) {}
func (NopDelegate) PeerConnected(Peer)                                       {}
func (NopDelegate) PeerDisconnected(Peer)                                    {}
func (NopDelegate) PeerListUpdated([]Peer)                                   {}
func (NopDelegate) ChannelLeave(string, transport.PeerID)                    {}
func (NopDelegate) ChannelProtectionAnnounced(*messaging.ChannelProtection)  {}
func (NopDelegate) ChannelRetentionAnnounced(*messaging.ChannelRetention)    {}
func (NopDelegate) DeliveryAckReceived(*messaging.DeliveryAck)               {}
func (NopDelegate) ReadReceiptReceived(*messaging.ReadReceipt)               {}
func (NopDelegate) DeliveryStatusRequested(*messaging.StatusRequest)         {}
func (NopDelegate) DeliveryStatusChanged(string, messaging.DeliveryStatus)   {}
func (NopDelegate) ReassemblyFailed(fragment.Failure)                        {}
func (NopDelegate) SOSMessageReceived(*emergency.SOSMessage)                 {}
func (NopDelegate) SOSResponseReceived(*emergency.SOSResponse)               {}
func (NopDelegate) EmergencyServiceAnnounced(*emergency.ServiceAnnouncement) {}
