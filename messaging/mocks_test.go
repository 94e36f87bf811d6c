package messaging

import (
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/transport"
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

// statusRecorder collects tracker callbacks.
type statusRecorder struct {
	mu      sync.Mutex
	changes []DeliveryStatus
}

func (r *statusRecorder) record(_ string, s DeliveryStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, s)
}

func (r *statusRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, s := range r.changes {
		out[i] = s.Kind()
	}
	return out
}

func peer(b byte) transport.PeerID {
	return transport.PeerID{b, b, b, b, b, b, b, b}
}

func ackFrom(messageID string, from byte, nickname string) *DeliveryAck {
	return NewDeliveryAck(messageID, peer(from), nickname, 1)
}
