package sosmesh

import (
	"container/list"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/transport"
	"golang.org/x/crypto/blake2b"
)

type frameDigest [16]byte

type seenEntry struct {
	digest frameDigest
	at     time.Time
}

// seenCache suppresses frames that reach us more than once over different
// paths. The digest ignores ttl, so the same packet relayed with different
// remaining budgets is recognised. Oldest entries are evicted first.
type seenCache struct {
	mu      sync.Mutex
	limit   int
	order   *list.List
	entries map[frameDigest]*list.Element
}

func newSeenCache(limit int) *seenCache {
	return &seenCache{
		limit:   limit,
		order:   list.New(),
		entries: make(map[frameDigest]*list.Element, limit),
	}
}

func digestPacket(p *transport.Packet) (frameDigest, error) {
	var d frameDigest
	data, err := p.DedupBytes()
	if err != nil {
		return d, err
	}
	h, err := blake2b.New(len(d), nil)
	if err != nil {
		return d, err
	}
	h.Write(data)
	copy(d[:], h.Sum(nil))
	return d, nil
}

// add records p and reports whether it was new.
func (c *seenCache) add(p *transport.Packet, now time.Time) (bool, error) {
	d, err := digestPacket(p)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[d]; ok {
		return false, nil
	}
	c.entries[d] = c.order.PushBack(&seenEntry{digest: d, at: now})
	for c.order.Len() > c.limit {
		c.evictLocked(c.order.Front())
	}
	return true, nil
}

// prune drops entries older than retention and returns how many were removed.
func (c *seenCache) prune(now time.Time, retention time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.order.Front(); e != nil; e = c.order.Front() {
		if now.Sub(e.Value.(*seenEntry).at) <= retention {
			break
		}
		c.evictLocked(e)
		removed++
	}
	return removed
}

func (c *seenCache) evictLocked(e *list.Element) {
	entry := c.order.Remove(e).(*seenEntry)
	delete(c.entries, entry.digest)
}

func (c *seenCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
