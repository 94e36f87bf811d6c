// Package sosmesh implements a peer-to-peer mesh messaging node for
// short-range radio links with no central infrastructure.
//
// Participants relay each other's packets hop by hop until the packet's
// time-to-live budget runs out. The Mesh type is the boundary between the
// radio Transport and the application: it decodes inbound frames, relays
// them, reassembles fragments, tracks delivery of outgoing messages, keeps
// the emergency (SOS) registries, and reports everything through a
// Delegate.
//
// # Getting Started
//
//	hub := transport.NewHub()
//	link := hub.Endpoint("node-a", limits.DefaultMaxFrameSize)
//
//	options := sosmesh.NewOptions()
//	options.Nickname = "alice"
//
//	mesh, err := sosmesh.New(link, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mesh.SetDelegate(myDelegate)
//	if err := mesh.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer mesh.Stop()
//
//	mesh.Announce()
//	mesh.SendBroadcast("hello mesh", "", nil)
//
// # Delegates
//
// Every Delegate method is mandatory. Applications that only care about a
// few events embed NopDelegate and override those:
//
//	type alerts struct {
//	    sosmesh.NopDelegate
//	}
//
//	func (alerts) SOSMessageReceived(msg *emergency.SOSMessage) {
//	    fmt.Println("SOS:", msg.Description)
//	}
//
// Delegate methods are called from the transport's receive goroutine and the
// maintenance goroutine, never while the mesh holds a lock. They must not
// block for long.
//
// # Emergency Traffic
//
// SendSOS attaches the device location when the location.Provider answers
// within Options.LocationTimeout and sends the message without it
// otherwise. SOS traffic is never padded or encrypted so that every relay
// can read and store it. Its hop budget comes from its urgency.
//
// # Confidentiality
//
// Addressed chat messages, delivery acks and read receipts are padded
// toward fixed block sizes and, when a crypto.Provider is configured,
// encrypted for the recipient. Outbound frames are signed and inbound
// signatures verified with the same provider. Every provider call is bounded
// by Options.CryptoTimeout.
//
// The first key bundle announced for a peer is pinned, and the key exchange
// frame must be signed by the key it announces. From then on unsigned or
// badly signed frames claiming that peer are dropped.
package sosmesh
