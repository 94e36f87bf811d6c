package emergency

import "time"

// StoredSOS is a message with the time it entered the registry.
type StoredSOS struct {
	Message  *SOSMessage
	StoredAt time.Time
}

// StoredResponse is a response with the time it entered the registry.
type StoredResponse struct {
	Response *SOSResponse
	StoredAt time.Time
}

// StoredService is an announcement with the time it entered the registry.
type StoredService struct {
	Service  *ServiceAnnouncement
	StoredAt time.Time
	Own      bool
}

// Snapshot is a point-in-time copy of every registry, used for persistence.
type Snapshot struct {
	SOS       []StoredSOS
	Responses []StoredResponse
	Services  []StoredService
}

// Snapshot copies the registries.
func (r *Router) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		SOS:       make([]StoredSOS, 0, len(r.sos)),
		Responses: make([]StoredResponse, 0, len(r.responses)),
		Services:  make([]StoredService, 0, len(r.services)),
	}
	for _, s := range r.sos {
		snap.SOS = append(snap.SOS, StoredSOS{Message: s.msg.clone(), StoredAt: s.storedAt})
	}
	for _, s := range r.responses {
		snap.Responses = append(snap.Responses, StoredResponse{Response: s.resp.clone(), StoredAt: s.storedAt})
	}
	for id, s := range r.services {
		_, own := r.myServices[id]
		snap.Services = append(snap.Services, StoredService{Service: s.svc.clone(), StoredAt: s.storedAt, Own: own})
	}
	return snap
}

// Restore merges a snapshot into the registries. Records already present
// win, so restoring never overwrites newer live state.
func (r *Router) Restore(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range snap.SOS {
		if s.Message == nil {
			continue
		}
		if _, ok := r.sos[s.Message.ID]; !ok {
			r.sos[s.Message.ID] = &storedSOS{msg: s.Message.clone(), storedAt: s.StoredAt}
		}
	}
	for _, s := range snap.Responses {
		if s.Response == nil {
			continue
		}
		if _, ok := r.responses[s.Response.ID]; !ok {
			r.responses[s.Response.ID] = &storedResponse{resp: s.Response.clone(), storedAt: s.StoredAt}
		}
	}
	for _, s := range snap.Services {
		if s.Service == nil {
			continue
		}
		if _, ok := r.services[s.Service.ServiceID]; !ok {
			r.services[s.Service.ServiceID] = &storedService{svc: s.Service.clone(), storedAt: s.StoredAt}
		}
		if s.Own && s.Service.IsActive {
			if _, ok := r.myServices[s.Service.ServiceID]; !ok {
				r.myServices[s.Service.ServiceID] = s.Service.clone()
			}
		}
	}
}
