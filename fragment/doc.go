// Package fragment splits frames that exceed the transport limit into
// start/continue/end packets and joins them again on the receiving side.
//
// The unit being fragmented is the complete encoded frame of the original
// packet, signature included, so the receiver recovers the original packet
// byte for byte:
//
//	f, _ := fragment.NewFragmenter(t.MaxFrameSize())
//	packets, err := f.Split(pkt)
//
//	r := fragment.NewReassembler(fragment.DefaultConfig())
//	res, err := r.Handle(fragmentPacket)
//	if res.Status == fragment.StatusComplete {
//	    dispatch(res.Packet)
//	}
//
// Sets are keyed by sender and fragment id. Memory is bounded by per-set size
// limits, per-sender and global set caps, and a retention window enforced by
// Sweep.
package fragment
