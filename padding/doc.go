// Package padding hides payload lengths on the shared broadcast medium.
//
// Payloads of private message, delivery ack and read receipt packets are
// padded toward one of a small set of block sizes before encryption, so an
// observer sees only the block, not the exact length:
//
//	padded := padding.PadToBlock(payload)
//	// ... encrypt, transmit, decrypt ...
//	payload = padding.Unpad(padded)
//
// The padding format appends random filler and ends with one byte holding the
// number of bytes added, so a single pad can never exceed 255 bytes.
package padding
