package sosmesh

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/fragment"
	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNilTransport is returned by New without a transport.
	ErrNilTransport = errors.New("transport is required")

	// ErrAlreadyRunning is returned by Start on a running mesh.
	ErrAlreadyRunning = errors.New("mesh already running")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("mesh stopped")
)

// Mesh is one node of the mesh. It is safe for concurrent use.
type Mesh struct {
	options   *Options
	self      transport.PeerID
	transport transport.Transport

	fragmenter  *fragment.Fragmenter
	reassembler *fragment.Reassembler
	tracker     *messaging.Tracker
	router      *emergency.Router
	peers       *peerTable
	seen        *seenCache

	delegateMu sync.RWMutex
	delegate   Delegate

	stateMu  sync.Mutex
	running  bool
	stopped  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a mesh node on top of t. A nil options uses NewOptions. The
// node does not touch the transport until Start.
func New(t transport.Transport, options *Options) (*Mesh, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if options == nil {
		options = NewOptions()
	}
	options = options.withDefaults()

	self := options.PeerID
	if self == (transport.PeerID{}) {
		if _, err := rand.Read(self[:]); err != nil {
			return nil, fmt.Errorf("generate peer id: %w", err)
		}
	}
	if self.IsBroadcast() {
		return nil, fmt.Errorf("%w: broadcast id cannot identify a node", limits.ErrInvalidPeerID)
	}

	fragmenter, err := fragment.NewFragmenter(t.MaxFrameSize())
	if err != nil {
		return nil, err
	}

	m := &Mesh{
		options:     options,
		self:        self,
		transport:   t,
		fragmenter:  fragmenter,
		reassembler: fragment.NewReassembler(options.Fragments),
		tracker:     messaging.NewTracker(options.Tracker),
		router:      emergency.NewRouter(options.Emergency),
		peers:       newPeerTable(),
		seen:        newSeenCache(limits.SeenCacheSize),
		delegate:    NopDelegate{},
		stopChan:    make(chan struct{}),
	}
	m.tracker.OnStatusChange(func(messageID string, status messaging.DeliveryStatus) {
		m.currentDelegate().DeliveryStatusChanged(messageID, status)
	})

	if options.Crypto == nil {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"peer_id":  self.String(),
		}).Warn("No crypto provider configured, private traffic will be padded but sent in clear")
	}

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"peer_id":        self.String(),
		"nickname":       options.Nickname,
		"max_frame_size": t.MaxFrameSize(),
	}).Info("Created mesh node")

	return m, nil
}

// SetDelegate replaces the event receiver. Nil restores NopDelegate.
func (m *Mesh) SetDelegate(d Delegate) {
	if d == nil {
		d = NopDelegate{}
	}
	m.delegateMu.Lock()
	defer m.delegateMu.Unlock()
	m.delegate = d
}

func (m *Mesh) currentDelegate() Delegate {
	m.delegateMu.RLock()
	defer m.delegateMu.RUnlock()
	return m.delegate
}

// Start registers the inbound handler and launches the maintenance loop and
// the emergency registry sweeper.
func (m *Mesh) Start() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true

	m.transport.SetReceiveHandler(m.handleFrame)
	m.router.Start()

	m.wg.Add(1)
	go m.maintenanceLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Mesh.Start",
		"peer_id":  m.self.String(),
	}).Info("Mesh node started")
	return nil
}

// Stop detaches from the transport and stops background work. It is
// idempotent. The transport itself belongs to the caller and stays open.
func (m *Mesh) Stop() {
	m.stopOnce.Do(func() {
		m.stateMu.Lock()
		wasRunning := m.running
		m.running = false
		m.stopped = true
		m.stateMu.Unlock()

		close(m.stopChan)
		if wasRunning {
			m.transport.SetReceiveHandler(nil)
		}
		m.wg.Wait()
		m.router.Stop()

		logrus.WithFields(logrus.Fields{
			"function": "Mesh.Stop",
			"peer_id":  m.self.String(),
		}).Info("Mesh node stopped")
	})
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (m *Mesh) IsRunning() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.running
}

// PeerID returns the local device identifier.
func (m *Mesh) PeerID() transport.PeerID {
	return m.self
}

// Nickname returns the announced nickname.
func (m *Mesh) Nickname() string {
	return m.options.Nickname
}

// Router returns the emergency registries.
func (m *Mesh) Router() *emergency.Router {
	return m.router
}

// Peers returns the announced peers sorted by nickname.
func (m *Mesh) Peers() []Peer {
	return m.peers.list()
}

// Peer returns one announced peer.
func (m *Mesh) Peer(id transport.PeerID) (Peer, bool) {
	return m.peers.get(id)
}

// DeliveryStatus returns the delivery state of an outgoing message.
func (m *Mesh) DeliveryStatus(messageID string) (messaging.DeliveryStatus, bool) {
	return m.tracker.Status(messageID)
}

// DeliveryStatuses returns the delivery state of every tracked message.
func (m *Mesh) DeliveryStatuses() map[string]messaging.DeliveryStatus {
	return m.tracker.Snapshot()
}

func (m *Mesh) now() time.Time {
	return m.options.TimeProvider.Now()
}

func (m *Mesh) maintenanceLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.options.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Maintain()
		}
	}
}

// Maintain runs one maintenance pass: expired fragment sets are reported as
// failed, group ack windows close, silent peers are dropped and old relay
// digests are forgotten. The maintenance loop calls it on every tick.
func (m *Mesh) Maintain() {
	now := m.now()
	d := m.currentDelegate()

	for _, f := range m.reassembler.Sweep() {
		d.ReassemblyFailed(f)
	}

	m.tracker.Sweep()

	gone := m.peers.expire(now, m.options.PeerTimeout)
	for _, p := range gone {
		logrus.WithFields(logrus.Fields{
			"function": "Mesh.Maintain",
			"peer_id":  p.ID.String(),
			"nickname": p.Nickname,
		}).Info("Peer timed out")
		d.PeerDisconnected(p)
	}
	if len(gone) > 0 {
		d.PeerListUpdated(m.peers.list())
	}

	m.seen.prune(now, limits.SeenRetention)
}
