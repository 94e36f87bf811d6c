package sosmesh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/sosmesh/crypto"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/fragment"
	"github.com/opd-ai/sosmesh/location"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/stretchr/testify/require"
)

const (
	eventuallyWait = 2 * time.Second
	eventuallyTick = 10 * time.Millisecond
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{currentTime: time.Unix(1700000000, 0)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// recordingDelegate keeps every event it is given.
type recordingDelegate struct {
	NopDelegate

	mu           sync.Mutex
	messages     []*messaging.ChatMessage
	connected    []Peer
	disconnected []Peer
	peerLists    [][]Peer
	leaves       []string
	protections  []*messaging.ChannelProtection
	retentions   []*messaging.ChannelRetention
	acks         []*messaging.DeliveryAck
	receipts     []*messaging.ReadReceipt
	requests     []*messaging.StatusRequest
	statuses     map[string][]string
	failures     []fragment.Failure
	sos          []*emergency.SOSMessage
	responses    []*emergency.SOSResponse
	services     []*emergency.ServiceAnnouncement
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{statuses: make(map[string][]string)}
}

func (r *recordingDelegate) MessageReceived(msg *messaging.ChatMessage, _ transport.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingDelegate) PeerConnected(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, p)
}

func (r *recordingDelegate) PeerDisconnected(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, p)
}

func (r *recordingDelegate) PeerListUpdated(peers []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerLists = append(r.peerLists, peers)
}

func (r *recordingDelegate) ChannelLeave(channel string, _ transport.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, channel)
}

func (r *recordingDelegate) ChannelProtectionAnnounced(a *messaging.ChannelProtection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protections = append(r.protections, a)
}

func (r *recordingDelegate) ChannelRetentionAnnounced(a *messaging.ChannelRetention) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retentions = append(r.retentions, a)
}

func (r *recordingDelegate) DeliveryAckReceived(ack *messaging.DeliveryAck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
}

func (r *recordingDelegate) ReadReceiptReceived(receipt *messaging.ReadReceipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
}

func (r *recordingDelegate) DeliveryStatusRequested(req *messaging.StatusRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recordingDelegate) DeliveryStatusChanged(id string, s messaging.DeliveryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = append(r.statuses[id], s.Kind())
}

func (r *recordingDelegate) ReassemblyFailed(f fragment.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *recordingDelegate) SOSMessageReceived(msg *emergency.SOSMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sos = append(r.sos, msg)
}

func (r *recordingDelegate) SOSResponseReceived(resp *emergency.SOSResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

func (r *recordingDelegate) EmergencyServiceAnnounced(svc *emergency.ServiceAnnouncement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, svc)
}

func (r *recordingDelegate) count(field string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch field {
	case "messages":
		return len(r.messages)
	case "connected":
		return len(r.connected)
	case "disconnected":
		return len(r.disconnected)
	case "leaves":
		return len(r.leaves)
	case "protections":
		return len(r.protections)
	case "retentions":
		return len(r.retentions)
	case "acks":
		return len(r.acks)
	case "receipts":
		return len(r.receipts)
	case "requests":
		return len(r.requests)
	case "failures":
		return len(r.failures)
	case "sos":
		return len(r.sos)
	case "responses":
		return len(r.responses)
	case "services":
		return len(r.services)
	}
	panic("unknown field " + field)
}

func (r *recordingDelegate) lastMessage() *messaging.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}

func (r *recordingDelegate) statusKinds(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses[id]...)
}

// testNode is a started mesh on a hub endpoint.
type testNode struct {
	name     string
	mesh     *Mesh
	link     *transport.MemoryTransport
	delegate *recordingDelegate
}

func peerID(b byte) transport.PeerID {
	return transport.PeerID{b, b, b, b, b, b, b, b}
}

// newTestNode starts a node named name with peer id {id x8}. configure may
// adjust the options before the node is created.
func newTestNode(t *testing.T, hub *transport.Hub, name string, id byte, maxFrame int, configure func(*Options)) *testNode {
	t.Helper()

	link := hub.Endpoint(name, maxFrame)
	opts := NewOptions()
	opts.Nickname = name
	opts.PeerID = peerID(id)
	opts.MaintenanceInterval = time.Hour
	if configure != nil {
		configure(opts)
	}

	m, err := New(link, opts)
	require.NoError(t, err)

	d := newRecordingDelegate()
	m.SetDelegate(d)
	require.NoError(t, m.Start())

	t.Cleanup(func() {
		m.Stop()
		link.Close()
	})
	return &testNode{name: name, mesh: m, link: link, delegate: d}
}

func withNaCl(t *testing.T) func(*Options) {
	t.Helper()
	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	provider, err := crypto.NewNaClProvider(identity)
	require.NoError(t, err)
	return func(o *Options) { o.Crypto = provider }
}

// countingLocation wraps a StaticProvider and counts geocode calls.
type countingLocation struct {
	location.StaticProvider
	geocodes atomic.Int32
}

func (c *countingLocation) Geocode(ctx context.Context, loc location.Location) (location.Location, error) {
	c.geocodes.Add(1)
	return c.StaticProvider.Geocode(ctx, loc)
}
