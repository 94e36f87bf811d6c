package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/sirupsen/logrus"
)

// ErrTransportClosed is returned by Send on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// memoryQueueSize is the per-endpoint inbound buffer. Frames beyond it are
// dropped, which models a saturated radio.
const memoryQueueSize = 1024

// FrameRecord is an entry in the hub delivery log, used by tests to verify
// what went over the air.
type FrameRecord struct {
	From  string
	To    string
	Frame []byte
}

// Hub connects in-memory endpoints into an arbitrary topology. Only linked
// endpoints hear each other, so multi-hop relaying can be exercised without
// a radio.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryTransport
	links     map[string]map[string]bool
	log       []FrameRecord
	dropFunc  func(from, to string, frame []byte) bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		endpoints: make(map[string]*MemoryTransport),
		links:     make(map[string]map[string]bool),
	}
}

// Endpoint creates (or returns) the named endpoint with the given frame limit.
func (h *Hub) Endpoint(name string, maxFrameSize int) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ep, ok := h.endpoints[name]; ok {
		return ep
	}
	if maxFrameSize <= 0 {
		maxFrameSize = limits.DefaultMaxFrameSize
	}

	ep := &MemoryTransport{
		name:         name,
		hub:          h,
		maxFrameSize: maxFrameSize,
		inbound:      make(chan []byte, memoryQueueSize),
		stopChan:     make(chan struct{}),
	}
	h.endpoints[name] = ep
	h.links[name] = make(map[string]bool)

	go ep.deliverLoop()

	logrus.WithFields(logrus.Fields{
		"function":       "Hub.Endpoint",
		"endpoint":       name,
		"max_frame_size": maxFrameSize,
	}).Debug("Created in-memory endpoint")

	return ep
}

// Link makes two endpoints neighbors in both directions.
func (h *Hub) Link(a, b string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.endpoints[a]; !ok {
		return fmt.Errorf("unknown endpoint %q", a)
	}
	if _, ok := h.endpoints[b]; !ok {
		return fmt.Errorf("unknown endpoint %q", b)
	}
	h.links[a][b] = true
	h.links[b][a] = true
	return nil
}

// Unlink removes the link between two endpoints.
func (h *Hub) Unlink(a, b string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if peers, ok := h.links[a]; ok {
		delete(peers, b)
	}
	if peers, ok := h.links[b]; ok {
		delete(peers, a)
	}
}

// SetDropFunc installs a filter that discards matching frames in flight.
// A nil function delivers everything.
func (h *Hub) SetDropFunc(fn func(from, to string, frame []byte) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFunc = fn
}

// Log returns a copy of every frame delivered so far.
func (h *Hub) Log() []FrameRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]FrameRecord, len(h.log))
	copy(out, h.log)
	return out
}

func (h *Hub) broadcast(from string, frame []byte) {
	h.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(h.links[from]))
	for name := range h.links[from] {
		if h.dropFunc != nil && h.dropFunc(from, name, frame) {
			continue
		}
		if ep, ok := h.endpoints[name]; ok {
			targets = append(targets, ep)
			h.log = append(h.log, FrameRecord{From: from, To: name, Frame: append([]byte(nil), frame...)})
		}
	}
	h.mu.Unlock()

	for _, ep := range targets {
		ep.enqueue(frame)
	}
}

func (h *Hub) remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.endpoints, name)
	for _, peers := range h.links {
		delete(peers, name)
	}
	delete(h.links, name)
}

// MemoryTransport is a hub endpoint. Each endpoint delivers inbound frames
// on its own goroutine in arrival order.
type MemoryTransport struct {
	name         string
	hub          *Hub
	maxFrameSize int

	mu      sync.RWMutex
	handler ReceiveHandler
	closed  bool

	inbound  chan []byte
	stopChan chan struct{}
	stopOnce sync.Once
}

// Name returns the endpoint name.
func (m *MemoryTransport) Name() string {
	return m.name
}

// Send delivers a copy of frame to every linked endpoint.
func (m *MemoryTransport) Send(frame []byte) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}
	if err := limits.ValidateFrame(frame, m.maxFrameSize); err != nil {
		return err
	}

	m.hub.broadcast(m.name, frame)
	return nil
}

// SetReceiveHandler registers the inbound frame handler.
func (m *MemoryTransport) SetReceiveHandler(handler ReceiveHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// MaxFrameSize returns the configured frame limit.
func (m *MemoryTransport) MaxFrameSize() int {
	return m.maxFrameSize
}

// Close detaches the endpoint from the hub and stops delivery.
func (m *MemoryTransport) Close() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.hub.remove(m.name)
		close(m.stopChan)
	})
	return nil
}

func (m *MemoryTransport) enqueue(frame []byte) {
	buf := append([]byte(nil), frame...)
	select {
	case m.inbound <- buf:
	case <-m.stopChan:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "MemoryTransport.enqueue",
			"endpoint": m.name,
		}).Warn("Inbound queue full, dropping frame")
	}
}

func (m *MemoryTransport) deliverLoop() {
	for {
		select {
		case <-m.stopChan:
			return
		case frame := <-m.inbound:
			m.mu.RLock()
			handler := m.handler
			m.mu.RUnlock()
			if handler != nil {
				handler(frame)
			}
		}
	}
}
