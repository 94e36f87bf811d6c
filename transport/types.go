package transport

// ReceiveHandler is invoked with every raw frame a transport receives.
// Implementations must not retain the slice after returning.
type ReceiveHandler func(frame []byte)

// Transport defines the link-layer contract used by the mesh. A transport
// delivers raw frames to every neighbor in range and hands inbound frames to
// the registered handler. Addressing, relaying and reassembly happen above it.
type Transport interface {
	// Send broadcasts a frame to all neighbors. Frames larger than
	// MaxFrameSize are rejected.
	Send(frame []byte) error

	// SetReceiveHandler registers the handler for inbound frames. A nil
	// handler discards inbound traffic.
	SetReceiveHandler(handler ReceiveHandler)

	// MaxFrameSize reports the largest frame the link can carry in one send.
	MaxFrameSize() int

	// Close shuts down the transport.
	Close() error
}
