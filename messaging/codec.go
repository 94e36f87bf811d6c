package messaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/sosmesh/transport"
)

var (
	// ErrTruncatedRecord is returned when a record ends before a declared field.
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrFieldTooLong is returned when a string does not fit its length prefix.
	ErrFieldTooLong = errors.New("field too long")

	// ErrTrailingBytes is returned when a record has bytes after its last field.
	ErrTrailingBytes = errors.New("trailing bytes after record")
)

// recordWriter appends length-prefixed fields. The first error sticks and
// every later write is a no-op.
type recordWriter struct {
	buf []byte
	err error
}

func (w *recordWriter) str8(s string) {
	if w.err != nil {
		return
	}
	if len(s) > 0xFF {
		w.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
		return
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *recordWriter) str16(s string) {
	if w.err != nil {
		return
	}
	if len(s) > 0xFFFF {
		w.err = fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *recordWriter) u8(v uint8) {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
}

func (w *recordWriter) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *recordWriter) peer(id transport.PeerID) {
	if w.err == nil {
		w.buf = append(w.buf, id[:]...)
	}
}

func (w *recordWriter) millis(t time.Time) {
	if w.err == nil {
		w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(t.UnixMilli()))
	}
}

func (w *recordWriter) bytes() ([]byte, error) {
	return w.buf, w.err
}

// recordReader walks a record with bounds checks on every read. The first
// error sticks.
type recordReader struct {
	buf    []byte
	offset int
	err    error
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.offset < n {
		r.err = ErrTruncatedRecord
		return nil
	}
	out := r.buf[r.offset : r.offset+n]
	r.offset += n
	return out
}

func (r *recordReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *recordReader) boolean() bool {
	return r.u8() != 0
}

func (r *recordReader) str8() string {
	n := int(r.u8())
	return string(r.take(n))
}

func (r *recordReader) str16() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *recordReader) peer() transport.PeerID {
	var id transport.PeerID
	copy(id[:], r.take(len(id)))
	return id
}

func (r *recordReader) millis() time.Time {
	b := r.take(8)
	if b == nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b)))
}

func (r *recordReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.buf) {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, len(r.buf)-r.offset)
	}
	return nil
}
