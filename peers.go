package sosmesh

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/transport"
)

// Peer is a participant that has announced itself.
type Peer struct {
	ID       transport.PeerID `json:"id"`
	Nickname string           `json:"nickname"`
	LastSeen time.Time        `json:"lastSeen"`
}

// peerTable tracks announced peers and when they were last heard from.
type peerTable struct {
	mu    sync.RWMutex
	peers map[transport.PeerID]*Peer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[transport.PeerID]*Peer)}
}

// upsert records an announce. It reports whether the peer is new and whether
// the visible peer list changed.
func (t *peerTable) upsert(id transport.PeerID, nickname string, now time.Time) (peer Peer, added, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[id]
	if !ok {
		p = &Peer{ID: id, Nickname: nickname, LastSeen: now}
		t.peers[id] = p
		return *p, true, true
	}
	changed = p.Nickname != nickname
	p.Nickname = nickname
	p.LastSeen = now
	return *p, false, changed
}

// touch refreshes LastSeen for a known peer.
func (t *peerTable) touch(id transport.PeerID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.LastSeen = now
	}
}

func (t *peerTable) remove(id transport.PeerID) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	delete(t.peers, id)
	return *p, true
}

// expire removes peers silent for longer than timeout.
func (t *peerTable) expire(now time.Time, timeout time.Duration) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var gone []Peer
	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > timeout {
			gone = append(gone, *p)
			delete(t.peers, id)
		}
	}
	return gone
}

func (t *peerTable) get(id transport.PeerID) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// list returns the peers sorted by nickname, then id.
func (t *peerTable) list() []Peer {
	t.mu.RLock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Nickname != out[j].Nickname {
			return out[i].Nickname < out[j].Nickname
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (t *peerTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
