package messaging

import (
	"fmt"
	"time"
)

// DeliveryStatus is the delivery state of one outgoing message. The set of
// implementations is closed: Sending, Sent, Delivered, Read, Failed and
// PartiallyDelivered.
type DeliveryStatus interface {
	// Kind returns the variant name used in logs and the status API.
	Kind() string
	fmt.Stringer

	deliveryStatus()
}

// Sending means the message is being encoded and handed to the transport.
type Sending struct{}

// Sent means every frame of the message was accepted by the transport.
type Sent struct{}

// Delivered means a recipient acknowledged the message.
type Delivered struct {
	To string
	At time.Time
}

// Read means a recipient reported the message as read.
type Read struct {
	By string
	At time.Time
}

// Failed means the message could not be handed to the transport.
type Failed struct {
	Reason string
}

// PartiallyDelivered means some but not all expected recipients of a group
// send acknowledged it.
type PartiallyDelivered struct {
	Reached int
	Total   int
}

func (Sending) deliveryStatus()            {}
func (Sent) deliveryStatus()               {}
func (Delivered) deliveryStatus()          {}
func (Read) deliveryStatus()               {}
func (Failed) deliveryStatus()             {}
func (PartiallyDelivered) deliveryStatus() {}

func (Sending) Kind() string            { return "sending" }
func (Sent) Kind() string               { return "sent" }
func (Delivered) Kind() string          { return "delivered" }
func (Read) Kind() string               { return "read" }
func (Failed) Kind() string             { return "failed" }
func (PartiallyDelivered) Kind() string { return "partially_delivered" }

func (s Sending) String() string { return s.Kind() }
func (s Sent) String() string    { return s.Kind() }

func (s Delivered) String() string {
	return fmt.Sprintf("delivered to %s at %s", s.To, s.At.Format(time.RFC3339))
}

func (s Read) String() string {
	return fmt.Sprintf("read by %s at %s", s.By, s.At.Format(time.RFC3339))
}

func (s Failed) String() string {
	return "failed: " + s.Reason
}

func (s PartiallyDelivered) String() string {
	return fmt.Sprintf("delivered to %d of %d", s.Reached, s.Total)
}

// rank orders statuses by recency. Failed shares the rank of Sent.
func rank(s DeliveryStatus) int {
	switch s.(type) {
	case Sending:
		return 0
	case Sent, Failed:
		return 1
	case PartiallyDelivered:
		return 2
	case Delivered:
		return 3
	case Read:
		return 4
	default:
		return -1
	}
}

// canTransition reports whether next may replace current.
func canTransition(current, next DeliveryStatus) bool {
	if current == nil {
		return true
	}
	if _, ok := next.(Failed); ok {
		switch current.(type) {
		case Sending, Sent:
			return true
		default:
			return false
		}
	}
	if cur, ok := current.(PartiallyDelivered); ok {
		if nxt, ok := next.(PartiallyDelivered); ok {
			return nxt.Reached > cur.Reached
		}
	}
	return rank(next) > rank(current)
}

// IsFinal reports whether no further transition is possible.
func IsFinal(s DeliveryStatus) bool {
	_, read := s.(Read)
	return read
}
