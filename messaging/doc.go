// Package messaging implements the chat-level records of the mesh and the
// per-message delivery state machine.
//
// # Records
//
// ChatMessage, DeliveryAck, ReadReceipt, StatusRequest, ChannelProtection and
// ChannelRetention are compact binary records carried as packet payloads.
// Strings are length-prefixed and every decoder rejects truncated input and
// trailing bytes.
//
// # Delivery Tracking
//
// The Tracker moves each outgoing message through a closed set of states:
//
//	sending -> sent -> partially_delivered -> delivered -> read
//	              \-> failed
//
// Transitions only move forward. A duplicate ack id, a second ack from the
// same peer, or a late ack for a message already read is a no-op:
//
//	tracker := messaging.NewTracker(messaging.DefaultTrackerConfig())
//	tracker.OnStatusChange(func(id string, s messaging.DeliveryStatus) {
//	    switch s := s.(type) {
//	    case messaging.Delivered:
//	        log.Printf("%s delivered to %s", id, s.To)
//	    case messaging.Failed:
//	        log.Printf("%s failed: %s", id, s.Reason)
//	    }
//	})
//	_ = tracker.Track(msg.ID, 1)
//
// Group sends are tracked with an expected recipient count. Acks from
// distinct peers accumulate until all have answered or the ack window closes.
package messaging
