package emergency

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/location"
	"github.com/sirupsen/logrus"
)

// DefaultNearbyRadius is the radius in meters used when a nearby-service
// query does not specify one.
const DefaultNearbyRadius = 5000.0

// DefaultRecentWindow is the window used by Recent when none is given.
const DefaultRecentWindow = time.Hour

var (
	// ErrNotFound is returned for operations on unknown ids.
	ErrNotFound = errors.New("emergency record not found")

	// ErrAlreadyInactive is returned when deactivating an inactive SOS.
	ErrAlreadyInactive = errors.New("sos already inactive")
)

// TimeProvider abstracts time for deterministic retention tests.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the wall clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Config controls retention and sweeping.
type Config struct {
	Retention     time.Duration
	SweepInterval time.Duration
	TimeProvider  TimeProvider
}

// DefaultConfig returns a 24 hour retention swept every 5 minutes.
func DefaultConfig() Config {
	return Config{
		Retention:     limits.SOSRetention,
		SweepInterval: limits.SOSSweepInterval,
		TimeProvider:  DefaultTimeProvider{},
	}
}

// AddResult describes what AddSOS or ApplyDeactivation did with a message.
type AddResult uint8

const (
	// AddIgnored means the id was already stored; nothing changed.
	AddIgnored AddResult = iota
	// AddStored means the message was new and stored.
	AddStored
	// AddDeactivated means the originator's inactive copy deactivated a
	// stored active SOS.
	AddDeactivated
)

type storedSOS struct {
	msg      *SOSMessage
	storedAt time.Time
}

type storedResponse struct {
	resp     *SOSResponse
	storedAt time.Time
}

type storedService struct {
	svc      *ServiceAnnouncement
	storedAt time.Time
}

// SweepReport counts what one sweep removed.
type SweepReport struct {
	SOSMessages int
	Responses   int
	Services    int
}

// Total returns the number of removed records.
func (r SweepReport) Total() int {
	return r.SOSMessages + r.Responses + r.Services
}

// Stats summarizes the registries.
type Stats struct {
	ActiveSOS      int          `json:"activeSOS"`
	TotalSOS       int          `json:"totalSOS"`
	CriticalSOS    int          `json:"criticalSOS"`
	Responses      int          `json:"responses"`
	ActiveServices int          `json:"activeServices"`
	TotalServices  int          `json:"totalServices"`
	MyServices     int          `json:"myServices"`
	ActiveByType   map[Type]int `json:"activeByType"`
}

// Router owns the registries of SOS messages, responses and emergency
// service announcements. All methods are safe for concurrent use; the sweep
// takes the same lock as every mutator.
type Router struct {
	mu         sync.RWMutex
	cfg        Config
	sos        map[string]*storedSOS
	responses  map[string]*storedResponse
	services   map[string]*storedService
	myServices map[string]*ServiceAnnouncement

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  bool
}

// NewRouter creates a router. Zero fields in cfg take defaults.
func NewRouter(cfg Config) *Router {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.TimeProvider == nil {
		cfg.TimeProvider = def.TimeProvider
	}
	return &Router{
		cfg:        cfg,
		sos:        make(map[string]*storedSOS),
		responses:  make(map[string]*storedResponse),
		services:   make(map[string]*storedService),
		myServices: make(map[string]*ServiceAnnouncement),
		stopChan:   make(chan struct{}),
	}
}

// AddSOS stores a message if its id is new. A repeated id is a no-op.
func (r *Router) AddSOS(msg *SOSMessage) AddResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sos[msg.ID]; ok {
		return AddIgnored
	}
	r.sos[msg.ID] = &storedSOS{msg: msg.clone(), storedAt: r.cfg.TimeProvider.Now()}
	logrus.WithFields(logrus.Fields{
		"function": "Router.AddSOS",
		"sos_id":   msg.ID,
		"type":     string(msg.Type),
		"urgency":  string(msg.Urgency),
		"active":   msg.IsActive,
	}).Info("Stored SOS message")
	return AddStored
}

// ApplyDeactivation deactivates a stored active SOS when msg is its inactive
// copy and both the copy and the stored record name origin as their sender.
// Anything else is ignored.
func (r *Router) ApplyDeactivation(msg *SOSMessage, origin string) AddResult {
	if msg.IsActive || origin == "" || msg.SenderID != origin {
		return AddIgnored
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sos[msg.ID]
	if !ok || !existing.msg.IsActive {
		return AddIgnored
	}
	if existing.msg.SenderID != origin {
		logrus.WithFields(logrus.Fields{
			"function": "Router.ApplyDeactivation",
			"sos_id":   msg.ID,
			"origin":   origin,
		}).Warn("Ignoring deactivation from a peer other than the originator")
		return AddIgnored
	}
	existing.msg = existing.msg.Deactivated()
	logrus.WithFields(logrus.Fields{
		"function": "Router.ApplyDeactivation",
		"sos_id":   msg.ID,
	}).Info("SOS deactivated by its originator")
	return AddDeactivated
}

// Deactivate replaces the stored SOS with an inactive copy and returns it.
func (r *Router) Deactivate(id string) (*SOSMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sos[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !existing.msg.IsActive {
		return existing.msg.clone(), ErrAlreadyInactive
	}
	existing.msg = existing.msg.Deactivated()
	return existing.msg.clone(), nil
}

// AddResponse stores a response if its id is new.
func (r *Router) AddResponse(resp *SOSResponse) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.responses[resp.ID]; ok {
		return false
	}
	r.responses[resp.ID] = &storedResponse{resp: resp.clone(), storedAt: r.cfg.TimeProvider.Now()}
	return true
}

// AddService stores an announcement, replacing any earlier one with the
// same ServiceID.
func (r *Router) AddService(svc *ServiceAnnouncement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.services[svc.ServiceID] = &storedService{svc: svc.clone(), storedAt: r.cfg.TimeProvider.Now()}
}

// EnableService registers one of this node's own services and stores its
// announcement.
func (r *Router) EnableService(svc *ServiceAnnouncement) {
	r.mu.Lock()
	r.myServices[svc.ServiceID] = svc.clone()
	r.mu.Unlock()

	r.AddService(svc)
}

// DisableService withdraws one of this node's services and returns the
// inactive announcement to broadcast.
func (r *Router) DisableService(serviceID string) (*ServiceAnnouncement, error) {
	r.mu.Lock()
	svc, ok := r.myServices[serviceID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(r.myServices, serviceID)
	r.mu.Unlock()

	inactive := svc.Deactivated()
	r.AddService(inactive)
	return inactive, nil
}

// MyServices returns this node's own active services.
func (r *Router) MyServices() []*ServiceAnnouncement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceAnnouncement, 0, len(r.myServices))
	for _, svc := range r.myServices {
		out = append(out, svc.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// IsServiceProvider reports whether this node offers any service.
func (r *Router) IsServiceProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.myServices) > 0
}

// SOS returns a copy of the stored message.
func (r *Router) SOS(id string) (*SOSMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sos[id]
	if !ok {
		return nil, false
	}
	return s.msg.clone(), true
}

// filterSOS returns matching messages, highest priority first and newest
// first within a priority.
func (r *Router) filterSOS(keep func(*SOSMessage) bool) []*SOSMessage {
	r.mu.RLock()
	out := make([]*SOSMessage, 0, len(r.sos))
	for _, s := range r.sos {
		if keep(s.msg) {
			out = append(out, s.msg.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Priority(), out[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// AllSOS returns every stored message, active or not.
func (r *Router) AllSOS() []*SOSMessage {
	return r.filterSOS(func(*SOSMessage) bool { return true })
}

// Active returns the active messages.
func (r *Router) Active() []*SOSMessage {
	return r.filterSOS(func(m *SOSMessage) bool { return m.IsActive })
}

// ByUrgency returns the active messages of one urgency.
func (r *Router) ByUrgency(u Urgency) []*SOSMessage {
	return r.filterSOS(func(m *SOSMessage) bool { return m.IsActive && m.Urgency == u })
}

// Critical returns the active critical messages.
func (r *Router) Critical() []*SOSMessage {
	return r.ByUrgency(UrgencyCritical)
}

// Recent returns active messages whose timestamp falls within the window.
// A non-positive window selects DefaultRecentWindow.
func (r *Router) Recent(within time.Duration) []*SOSMessage {
	if within <= 0 {
		within = DefaultRecentWindow
	}
	cutoff := r.cfg.TimeProvider.Now().Add(-within)
	return r.filterSOS(func(m *SOSMessage) bool { return m.IsActive && m.Timestamp.After(cutoff) })
}

// Responses returns the responses to one SOS, oldest first.
func (r *Router) Responses(sosID string) []*SOSResponse {
	r.mu.RLock()
	out := make([]*SOSResponse, 0)
	for _, s := range r.responses {
		if s.resp.OriginalSOSID == sosID {
			out = append(out, s.resp.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Services returns every stored announcement, active or not.
func (r *Router) Services() []*ServiceAnnouncement {
	return r.filterServices(func(*ServiceAnnouncement) bool { return true })
}

// ServicesByType returns the active services of one category.
func (r *Router) ServicesByType(t Type) []*ServiceAnnouncement {
	return r.filterServices(func(s *ServiceAnnouncement) bool { return s.IsActive && s.ServiceType == t })
}

func (r *Router) filterServices(keep func(*ServiceAnnouncement) bool) []*ServiceAnnouncement {
	r.mu.RLock()
	out := make([]*ServiceAnnouncement, 0, len(r.services))
	for _, s := range r.services {
		if keep(s.svc) {
			out = append(out, s.svc.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// NearbyService pairs an announcement with its distance from the query point.
type NearbyService struct {
	Service  *ServiceAnnouncement `json:"service"`
	Distance float64              `json:"distance"`
}

// NearbyServices returns active services with a location within radius
// meters of loc, nearest first. A non-positive radius selects
// DefaultNearbyRadius.
func (r *Router) NearbyServices(loc location.Location, radius float64) []NearbyService {
	if radius <= 0 {
		radius = DefaultNearbyRadius
	}

	r.mu.RLock()
	out := make([]NearbyService, 0)
	for _, s := range r.services {
		if !s.svc.IsActive || s.svc.Location == nil {
			continue
		}
		d := location.Distance(loc, *s.svc.Location)
		if d <= radius {
			out = append(out, NearbyService{Service: s.svc.clone(), Distance: d})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Stats summarizes the registries.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		TotalSOS:      len(r.sos),
		Responses:     len(r.responses),
		TotalServices: len(r.services),
		MyServices:    len(r.myServices),
		ActiveByType:  make(map[Type]int),
	}
	for _, s := range r.sos {
		if !s.msg.IsActive {
			continue
		}
		st.ActiveSOS++
		st.ActiveByType[s.msg.Type]++
		if s.msg.Urgency == UrgencyCritical {
			st.CriticalSOS++
		}
	}
	for _, s := range r.services {
		if s.svc.IsActive {
			st.ActiveServices++
		}
	}
	return st
}

// Sweep removes inactive messages and services stored longer than the
// retention window, and responses older than it. Active records are never
// removed by age.
func (r *Router) Sweep() SweepReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.cfg.TimeProvider.Now()
	var report SweepReport

	for id, s := range r.sos {
		if !s.msg.IsActive && now.Sub(s.storedAt) > r.cfg.Retention {
			delete(r.sos, id)
			report.SOSMessages++
		}
	}
	for id, s := range r.responses {
		if now.Sub(s.storedAt) > r.cfg.Retention {
			delete(r.responses, id)
			report.Responses++
		}
	}
	for id, s := range r.services {
		if !s.svc.IsActive && now.Sub(s.storedAt) > r.cfg.Retention {
			delete(r.services, id)
			report.Services++
		}
	}

	if report.Total() > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "Router.Sweep",
			"sos":       report.SOSMessages,
			"responses": report.Responses,
			"services":  report.Services,
		}).Info("Purged expired emergency records")
	}
	return report
}

// Start launches the background sweeper. It is independent of any caller
// loop and runs until Stop.
func (r *Router) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sweepLoop()
}

// Stop ends the background sweeper and waits for it to exit.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

func (r *Router) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
