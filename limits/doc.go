// Package limits provides centralized size constants, retention windows and
// validation functions for the mesh protocol. Every component that allocates
// memory in response to network input checks against these values.
//
// # Size Hierarchy
//
//   - DefaultMaxFrameSize (512 bytes): the frame limit of a typical short-range
//     radio link. Frames larger than the transport limit must be fragmented.
//
//   - MaxPayloadSize (65535 bytes): the ceiling imposed by the 16-bit payload
//     length field of the wire format.
//
//   - MaxReassembledSize (256 KiB): the largest frame a fragment set may
//     declare. Together with MaxFragments, MaxPendingFragmentSets and
//     MaxFragmentSetsPerSender it caps reassembly memory under adversarial input.
//
// # Retention Windows
//
// FragmentRetention (30s) bounds incomplete reassemblies, AckWindow (30s)
// bounds group-send acknowledgment counting, and SOSRetention (24h) is the age
// after which inactive emergency records become eligible for purge.
//
// # Validation Functions
//
//	if err := limits.ValidateFrame(frame, transport.MaxFrameSize()); err != nil {
//	    // fragment instead
//	}
//
// All validation errors wrap ErrMessageEmpty, ErrMessageTooLarge or
// ErrInvalidPeerID and can be tested with errors.Is.
package limits
