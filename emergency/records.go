package emergency

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/sosmesh/location"
)

// ErrInvalidRecord is returned when a decoded record misses required fields
// or carries unknown enum values.
var ErrInvalidRecord = errors.New("invalid emergency record")

// SOSMessage is a call for help. Records are replaced, never edited in
// place; the only state change is IsActive going false.
type SOSMessage struct {
	ID             string             `json:"id"`
	Type           Type               `json:"type"`
	Urgency        Urgency            `json:"urgency"`
	Location       *location.Location `json:"location,omitempty"`
	Description    string             `json:"description"`
	SenderName     string             `json:"senderName"`
	SenderID       string             `json:"senderID"`
	Timestamp      time.Time          `json:"timestamp"`
	IsActive       bool               `json:"isActive"`
	ContactInfo    string             `json:"contactInfo,omitempty"`
	AdditionalInfo map[string]string  `json:"additionalInfo,omitempty"`
}

// NewSOSMessage creates an active SOS with a fresh id.
func NewSOSMessage(t Type, urgency Urgency, description, senderName, senderID string) *SOSMessage {
	return &SOSMessage{
		ID:          uuid.NewString(),
		Type:        t,
		Urgency:     urgency,
		Description: description,
		SenderName:  senderName,
		SenderID:    senderID,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		IsActive:    true,
	}
}

// TTL returns the relay hop budget for the message urgency.
func (m *SOSMessage) TTL() uint8 { return TTLFor(m.Urgency) }

// Priority returns the triage rank for the message urgency.
func (m *SOSMessage) Priority() int { return PriorityOf(m.Urgency) }

// Deactivated returns a copy with IsActive cleared.
func (m *SOSMessage) Deactivated() *SOSMessage {
	c := m.clone()
	c.IsActive = false
	return c
}

func (m *SOSMessage) clone() *SOSMessage {
	c := *m
	if m.Location != nil {
		loc := *m.Location
		c.Location = &loc
	}
	if m.AdditionalInfo != nil {
		c.AdditionalInfo = make(map[string]string, len(m.AdditionalInfo))
		for k, v := range m.AdditionalInfo {
			c.AdditionalInfo[k] = v
		}
	}
	return &c
}

func (m *SOSMessage) validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case !m.Type.Valid():
		return fmt.Errorf("%w: type %q", ErrInvalidRecord, m.Type)
	case !m.Urgency.Valid():
		return fmt.Errorf("%w: urgency %q", ErrInvalidRecord, m.Urgency)
	case m.Location != nil && !m.Location.Valid():
		return fmt.Errorf("%w: location out of range", ErrInvalidRecord)
	}
	return nil
}

// Encode serializes the message as a packet payload.
func (m *SOSMessage) Encode() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeSOSMessage parses and validates a packet payload.
func DecodeSOSMessage(data []byte) (*SOSMessage, error) {
	var m SOSMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// SOSResponse is an answer to an SOS. Responses are immutable.
type SOSResponse struct {
	ID            string       `json:"id"`
	OriginalSOSID string       `json:"originalSOSID"`
	ResponderName string       `json:"responderName"`
	ResponderID   string       `json:"responderID"`
	ResponseType  ResponseType `json:"responseType"`
	Message       string       `json:"message"`
	Timestamp     time.Time    `json:"timestamp"`
	ETA           *time.Time   `json:"eta,omitempty"`
	Capabilities  []string     `json:"capabilities,omitempty"`
}

// NewSOSResponse creates a response with a fresh id.
func NewSOSResponse(originalSOSID string, responseType ResponseType, message, responderName, responderID string) *SOSResponse {
	return &SOSResponse{
		ID:            uuid.NewString(),
		OriginalSOSID: originalSOSID,
		ResponderName: responderName,
		ResponderID:   responderID,
		ResponseType:  responseType,
		Message:       message,
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (r *SOSResponse) clone() *SOSResponse {
	c := *r
	if r.ETA != nil {
		eta := *r.ETA
		c.ETA = &eta
	}
	if r.Capabilities != nil {
		c.Capabilities = append([]string{}, r.Capabilities...)
	}
	return &c
}

func (r *SOSResponse) validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.OriginalSOSID == "":
		return fmt.Errorf("%w: missing original sos id", ErrInvalidRecord)
	case !r.ResponseType.Valid():
		return fmt.Errorf("%w: response type %q", ErrInvalidRecord, r.ResponseType)
	}
	return nil
}

// Encode serializes the response as a packet payload.
func (r *SOSResponse) Encode() ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// DecodeSOSResponse parses and validates a packet payload.
func DecodeSOSResponse(data []byte) (*SOSResponse, error) {
	var r SOSResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ServiceAnnouncement advertises a responder, such as a first-aid post.
// Announcements with the same ServiceID replace each other.
type ServiceAnnouncement struct {
	ID           string             `json:"id"`
	ServiceType  Type               `json:"serviceType"`
	ServiceName  string             `json:"serviceName"`
	ServiceID    string             `json:"serviceID"`
	Location     *location.Location `json:"location,omitempty"`
	Capabilities []string           `json:"capabilities"`
	IsActive     bool               `json:"isActive"`
	Timestamp    time.Time          `json:"timestamp"`
	ContactInfo  string             `json:"contactInfo,omitempty"`
}

// NewServiceAnnouncement creates an active announcement with a fresh id.
func NewServiceAnnouncement(serviceType Type, serviceName, serviceID string, capabilities []string) *ServiceAnnouncement {
	if capabilities == nil {
		capabilities = []string{}
	}
	return &ServiceAnnouncement{
		ID:           uuid.NewString(),
		ServiceType:  serviceType,
		ServiceName:  serviceName,
		ServiceID:    serviceID,
		Capabilities: capabilities,
		IsActive:     true,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Deactivated returns a fresh announcement for the same service with
// IsActive cleared.
func (s *ServiceAnnouncement) Deactivated() *ServiceAnnouncement {
	c := s.clone()
	c.ID = uuid.NewString()
	c.IsActive = false
	c.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	return c
}

func (s *ServiceAnnouncement) clone() *ServiceAnnouncement {
	c := *s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	c.Capabilities = append([]string{}, s.Capabilities...)
	return &c
}

func (s *ServiceAnnouncement) validate() error {
	switch {
	case s.ServiceID == "":
		return fmt.Errorf("%w: missing service id", ErrInvalidRecord)
	case !s.ServiceType.Valid():
		return fmt.Errorf("%w: service type %q", ErrInvalidRecord, s.ServiceType)
	case s.Location != nil && !s.Location.Valid():
		return fmt.Errorf("%w: location out of range", ErrInvalidRecord)
	}
	return nil
}

// Encode serializes the announcement as a packet payload.
func (s *ServiceAnnouncement) Encode() ([]byte, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// DecodeServiceAnnouncement parses and validates a packet payload.
func DecodeServiceAnnouncement(data []byte) (*ServiceAnnouncement, error) {
	var s ServiceAnnouncement
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.Capabilities == nil {
		s.Capabilities = []string{}
	}
	return &s, nil
}
