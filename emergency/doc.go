// Package emergency implements SOS traffic: urgency policy, the record types
// carried by SOS message, SOS response and service announcement packets, and
// the Router that owns their registries.
//
// # Urgency Policy
//
// Urgency decides how far an SOS travels and how it is ranked:
//
//	critical  ttl 10  priority 1000
//	high      ttl  8  priority  800
//	medium    ttl  6  priority  600
//	low       ttl  4  priority  400
//
// Priority is triage metadata for sorting and display. It does not change
// transmission order.
//
// # Registries
//
// SOS messages and responses are insert-if-absent by id, so the same SOS
// relayed over several paths is stored once. Service announcements replace
// each other by service id. Deactivating an SOS replaces it with an inactive
// copy. A received inactive copy only deactivates the stored record through
// ApplyDeactivation, and only when the originator sent it. History is kept
// until the sweep purges inactive records older than the retention window
// (24h by default). Active records are never purged by age.
//
//	router := emergency.NewRouter(emergency.DefaultConfig())
//	router.Start()
//	defer router.Stop()
//
//	if router.AddSOS(msg) == emergency.AddStored {
//	    notify(msg)
//	}
package emergency
