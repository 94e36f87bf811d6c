package messaging

import (
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/sosmesh/transport"
)

// DeliveryAck confirms that a message reached one recipient. It travels as
// the payload of a delivery ack packet.
//
// Layout: originalMessageID | ackID | recipientID(8) | recipientNickname |
// timestamp(u64 ms) | hopCount(u8). Strings are u8-length-prefixed.
type DeliveryAck struct {
	OriginalMessageID string
	AckID             string
	RecipientID       transport.PeerID
	RecipientNickname string
	Timestamp         time.Time
	HopCount          uint8
}

// NewDeliveryAck creates an ack with a fresh ack id.
func NewDeliveryAck(originalMessageID string, recipient transport.PeerID, nickname string, hopCount uint8) *DeliveryAck {
	return &DeliveryAck{
		OriginalMessageID: originalMessageID,
		AckID:             uuid.NewString(),
		RecipientID:       recipient,
		RecipientNickname: nickname,
		Timestamp:         time.UnixMilli(time.Now().UnixMilli()),
		HopCount:          hopCount,
	}
}

// Encode serializes the ack.
func (a *DeliveryAck) Encode() ([]byte, error) {
	w := &recordWriter{}
	w.str8(a.OriginalMessageID)
	w.str8(a.AckID)
	w.peer(a.RecipientID)
	w.str8(a.RecipientNickname)
	w.millis(a.Timestamp)
	w.u8(a.HopCount)
	return w.bytes()
}

// DecodeDeliveryAck parses an ack payload.
func DecodeDeliveryAck(data []byte) (*DeliveryAck, error) {
	r := &recordReader{buf: data}
	a := &DeliveryAck{
		OriginalMessageID: r.str8(),
		AckID:             r.str8(),
		RecipientID:       r.peer(),
		RecipientNickname: r.str8(),
		Timestamp:         r.millis(),
		HopCount:          r.u8(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// ReadReceipt confirms that a message was read.
//
// Layout: originalMessageID | receiptID | readerID(8) | readerNickname |
// timestamp(u64 ms).
type ReadReceipt struct {
	OriginalMessageID string
	ReceiptID         string
	ReaderID          transport.PeerID
	ReaderNickname    string
	Timestamp         time.Time
}

// NewReadReceipt creates a receipt with a fresh receipt id.
func NewReadReceipt(originalMessageID string, reader transport.PeerID, nickname string) *ReadReceipt {
	return &ReadReceipt{
		OriginalMessageID: originalMessageID,
		ReceiptID:         uuid.NewString(),
		ReaderID:          reader,
		ReaderNickname:    nickname,
		Timestamp:         time.UnixMilli(time.Now().UnixMilli()),
	}
}

// Encode serializes the receipt.
func (r *ReadReceipt) Encode() ([]byte, error) {
	w := &recordWriter{}
	w.str8(r.OriginalMessageID)
	w.str8(r.ReceiptID)
	w.peer(r.ReaderID)
	w.str8(r.ReaderNickname)
	w.millis(r.Timestamp)
	return w.bytes()
}

// DecodeReadReceipt parses a receipt payload.
func DecodeReadReceipt(data []byte) (*ReadReceipt, error) {
	r := &recordReader{buf: data}
	rr := &ReadReceipt{
		OriginalMessageID: r.str8(),
		ReceiptID:         r.str8(),
		ReaderID:          r.peer(),
		ReaderNickname:    r.str8(),
		Timestamp:         r.millis(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return rr, nil
}

// StatusRequest asks the recipient of a message to report its delivery
// state again, usually after a missed ack.
type StatusRequest struct {
	OriginalMessageID string
	RequesterID       transport.PeerID
}

// Encode serializes the request.
func (s *StatusRequest) Encode() ([]byte, error) {
	w := &recordWriter{}
	w.str8(s.OriginalMessageID)
	w.peer(s.RequesterID)
	return w.bytes()
}

// DecodeStatusRequest parses a status request payload.
func DecodeStatusRequest(data []byte) (*StatusRequest, error) {
	r := &recordReader{buf: data}
	s := &StatusRequest{
		OriginalMessageID: r.str8(),
		RequesterID:       r.peer(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return s, nil
}

// ChannelProtection announces that a channel is, or is no longer, password
// protected. KeyCommitment lets members check a key without revealing it.
type ChannelProtection struct {
	Channel       string
	Protected     bool
	CreatorID     transport.PeerID
	KeyCommitment string
}

// Encode serializes the announcement.
func (c *ChannelProtection) Encode() ([]byte, error) {
	w := &recordWriter{}
	w.str8(c.Channel)
	w.boolean(c.Protected)
	w.peer(c.CreatorID)
	w.str8(c.KeyCommitment)
	return w.bytes()
}

// DecodeChannelProtection parses a channel-protection payload.
func DecodeChannelProtection(data []byte) (*ChannelProtection, error) {
	r := &recordReader{buf: data}
	c := &ChannelProtection{
		Channel:       r.str8(),
		Protected:     r.boolean(),
		CreatorID:     r.peer(),
		KeyCommitment: r.str8(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// ChannelRetention announces whether members should keep channel history.
type ChannelRetention struct {
	Channel   string
	Enabled   bool
	CreatorID transport.PeerID
}

// Encode serializes the announcement.
func (c *ChannelRetention) Encode() ([]byte, error) {
	w := &recordWriter{}
	w.str8(c.Channel)
	w.boolean(c.Enabled)
	w.peer(c.CreatorID)
	return w.bytes()
}

// DecodeChannelRetention parses a channel-retention payload.
func DecodeChannelRetention(data []byte) (*ChannelRetention, error) {
	r := &recordReader{buf: data}
	c := &ChannelRetention{
		Channel:   r.str8(),
		Enabled:   r.boolean(),
		CreatorID: r.peer(),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return c, nil
}
