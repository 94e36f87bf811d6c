package messaging

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTooManyMentions is returned when a message mentions more than 255 peers.
var ErrTooManyMentions = errors.New("too many mentions")

// MessageFlags are the boolean properties of a chat message.
type MessageFlags uint8

const (
	// FlagPrivate marks a message addressed to a single peer.
	FlagPrivate MessageFlags = 1 << iota
	// FlagEncrypted marks a message whose packet payload was encrypted.
	FlagEncrypted
)

// ChatMessage is the payload of a user message packet.
//
// Layout: id | sender | flags(u8) | channel | mentionCount(u8) | mentions... |
// content(u16-prefixed). Other strings are u8-length-prefixed.
type ChatMessage struct {
	ID        string
	Sender    string
	Private   bool
	Encrypted bool
	Channel   string
	Mentions  []string
	Content   string
}

// NewChatMessage creates a message with a fresh id.
func NewChatMessage(sender, content string) *ChatMessage {
	return &ChatMessage{
		ID:      uuid.NewString(),
		Sender:  sender,
		Content: content,
	}
}

// Flags returns the flag byte for the message.
func (m *ChatMessage) Flags() MessageFlags {
	var f MessageFlags
	if m.Private {
		f |= FlagPrivate
	}
	if m.Encrypted {
		f |= FlagEncrypted
	}
	return f
}

// Encode serializes the message.
func (m *ChatMessage) Encode() ([]byte, error) {
	if len(m.Mentions) > 0xFF {
		return nil, fmt.Errorf("%w: %d", ErrTooManyMentions, len(m.Mentions))
	}

	w := &recordWriter{}
	w.str8(m.ID)
	w.str8(m.Sender)
	w.u8(uint8(m.Flags()))
	w.str8(m.Channel)
	w.u8(uint8(len(m.Mentions)))
	for _, mention := range m.Mentions {
		w.str8(mention)
	}
	w.str16(m.Content)
	return w.bytes()
}

// DecodeChatMessage parses a message payload.
func DecodeChatMessage(data []byte) (*ChatMessage, error) {
	r := &recordReader{buf: data}
	m := &ChatMessage{
		ID:     r.str8(),
		Sender: r.str8(),
	}
	flags := MessageFlags(r.u8())
	m.Private = flags&FlagPrivate != 0
	m.Encrypted = flags&FlagEncrypted != 0
	m.Channel = r.str8()

	count := int(r.u8())
	if count > 0 {
		m.Mentions = make([]string, 0, count)
		for i := 0; i < count && r.err == nil; i++ {
			m.Mentions = append(m.Mentions, r.str8())
		}
	}
	m.Content = r.str16()

	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}
