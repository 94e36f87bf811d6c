package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/sosmesh/limits"
	"github.com/sirupsen/logrus"
)

// UDPTransport carries mesh frames as UDP datagrams sent to a broadcast or
// multicast group address. Every node on the segment is a neighbor, which is
// the IP analogue of a radio broadcast domain.
type UDPTransport struct {
	conn         net.PacketConn
	groupAddr    net.Addr
	maxFrameSize int

	mu      sync.RWMutex
	handler ReceiveHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPTransport listens on listenAddr and sends every frame to groupAddr.
// A maxFrameSize of zero selects limits.DefaultMaxFrameSize.
func NewUDPTransport(listenAddr, groupAddr string, maxFrameSize int) (*UDPTransport, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = limits.DefaultMaxFrameSize
	}
	if maxFrameSize < limits.MinFrameSize {
		return nil, fmt.Errorf("frame size %d below minimum %d", maxFrameSize, limits.MinFrameSize)
	}

	group, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve group address: %w", err)
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:         conn,
		groupAddr:    group,
		maxFrameSize: maxFrameSize,
		ctx:          ctx,
		cancel:       cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewUDPTransport",
		"listen_addr":    conn.LocalAddr().String(),
		"group_addr":     group.String(),
		"max_frame_size": maxFrameSize,
	}).Info("UDP transport listening")

	t.wg.Add(1)
	go t.processPackets()

	return t, nil
}

// Send writes one datagram to the group address.
func (t *UDPTransport) Send(frame []byte) error {
	if err := limits.ValidateFrame(frame, t.maxFrameSize); err != nil {
		return err
	}
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}
	_, err := t.conn.WriteTo(frame, t.groupAddr)
	return err
}

// SetReceiveHandler registers the inbound frame handler.
func (t *UDPTransport) SetReceiveHandler(handler ReceiveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// MaxFrameSize returns the configured frame limit.
func (t *UDPTransport) MaxFrameSize() int {
	return t.maxFrameSize
}

// LocalAddr returns the address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts down the transport and waits for the read loop to exit.
func (t *UDPTransport) Close() error {
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *UDPTransport) processPackets() {
	defer t.wg.Done()

	// One extra byte detects oversized datagrams instead of silently truncating.
	buffer := make([]byte, t.maxFrameSize+1)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		t.handleReadError(err)
		return
	}
	if n > t.maxFrameSize {
		logrus.WithFields(logrus.Fields{
			"function": "UDPTransport.processIncomingPacket",
			"from":     addr.String(),
		}).Debug("Discarding oversized datagram")
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	if handler != nil {
		handler(buffer[:n])
	}
}

func (t *UDPTransport) handleReadError(err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	if t.ctx.Err() != nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "UDPTransport.handleReadError",
		"error":    err.Error(),
	}).Warn("UDP read failed")
}
