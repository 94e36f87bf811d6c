package sosmesh

import (
	"time"

	"github.com/opd-ai/sosmesh/crypto"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/fragment"
	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/location"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/transport"
)

// DefaultMaintenanceInterval is the period of the maintenance loop.
const DefaultMaintenanceInterval = 5 * time.Second

// TimeProvider abstracts the clock for deterministic tests.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns time.Now().
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Options contains configuration options for creating a Mesh.
type Options struct {
	// Nickname is announced to peers and stamped on acks and SOS traffic.
	Nickname string
	// PeerID is the 8-byte device identifier. The zero value picks a random one.
	PeerID transport.PeerID

	// DefaultTTL is the hop budget for everything except SOS messages.
	DefaultTTL uint8
	// AutoAck sends a delivery ack for every private message addressed to us.
	AutoAck bool

	PeerTimeout         time.Duration
	MaintenanceInterval time.Duration
	CryptoTimeout       time.Duration
	LocationTimeout     time.Duration

	// Crypto signs, verifies, encrypts and decrypts. Nil disables all four.
	Crypto crypto.Provider
	// Location answers SendSOS location lookups. Nil sends SOS without one.
	Location location.Provider

	Fragments    fragment.Config
	Tracker      messaging.TrackerConfig
	Emergency    emergency.Config
	TimeProvider TimeProvider
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		Nickname:            "anonymous",
		DefaultTTL:          limits.DefaultTTL,
		AutoAck:             true,
		PeerTimeout:         limits.PeerTimeout,
		MaintenanceInterval: DefaultMaintenanceInterval,
		CryptoTimeout:       limits.CryptoTimeout,
		LocationTimeout:     limits.LocationTimeout,
		Fragments:           fragment.DefaultConfig(),
		Tracker:             messaging.DefaultTrackerConfig(),
		Emergency:           emergency.DefaultConfig(),
		TimeProvider:        DefaultTimeProvider{},
	}
}

// withDefaults fills zero fields so that a partially built Options works.
func (o *Options) withDefaults() *Options {
	def := NewOptions()
	c := *o
	if c.Nickname == "" {
		c.Nickname = def.Nickname
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = def.DefaultTTL
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = def.PeerTimeout
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
	if c.CryptoTimeout <= 0 {
		c.CryptoTimeout = def.CryptoTimeout
	}
	if c.LocationTimeout <= 0 {
		c.LocationTimeout = def.LocationTimeout
	}
	if c.TimeProvider == nil {
		c.TimeProvider = def.TimeProvider
	}
	return &c
}
