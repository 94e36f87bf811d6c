package store

import (
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/emergency"
	"github.com/sirupsen/logrus"
)

// DefaultPersistInterval is how often a Persister writes a snapshot.
const DefaultPersistInterval = 30 * time.Second

// SnapshotSource is anything that can produce a registry snapshot.
type SnapshotSource interface {
	Snapshot() emergency.Snapshot
}

// Persister periodically saves snapshots from a source, plus once more on
// Stop.
type Persister struct {
	store    *RegistryStore
	source   SnapshotSource
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPersister creates a persister. A non-positive interval uses
// DefaultPersistInterval.
func NewPersister(store *RegistryStore, source SnapshotSource, interval time.Duration) *Persister {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	return &Persister{
		store:    store,
		source:   source,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the save loop.
func (p *Persister) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop ends the loop and writes a final snapshot.
func (p *Persister) Stop() error {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
	return p.store.Save(p.source.Snapshot())
}

func (p *Persister) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			if err := p.store.Save(p.source.Snapshot()); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Persister.loop",
					"error":    err.Error(),
				}).Warn("Failed to persist registry snapshot")
			}
		}
	}
}
