package syslink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync/atomic"
	"time"
)

const (
	// DefaultPort is the LAN announce port.
	DefaultPort = 14001

	// pollWait bounds how long Poll may block on an empty socket
	pollWait = time.Millisecond
)

// Transport is the socket pair used by LAN discovery. Poll must not block
// for more than a frame.
type Transport interface {
	// Broadcast sends p to every host on the LAN announce port.
	Broadcast(p []byte) error
	// Poll reads one pending packet into buf. It returns n == 0 when there
	// is nothing to read.
	Poll(buf []byte) (n int, from net.Addr, err error)
	Close() error
}

// Stats counts beacon traffic.
type Stats struct {
	PacketsIn  uint64 `json:"packetsIn"`
	PacketsOut uint64 `json:"packetsOut"`
	Dropped    uint64 `json:"dropped"`
}

// Beacon is a UDP socket bound to the announce port with broadcast enabled.
type Beacon struct {
	conn      net.PacketConn
	broadcast *net.UDPAddr

	packetsIn  uint64 // atomic
	packetsOut uint64 // atomic
	dropped    uint64 // atomic
}

// NewBeacon binds the announce port. broadcastAddr defaults to the limited
// broadcast address when empty.
func NewBeacon(port int, broadcastAddr string) (*Beacon, error) {
	if port == 0 {
		port = DefaultPort
	}
	if broadcastAddr == "" {
		broadcastAddr = "255.255.255.255"
	}
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(broadcastAddr, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast addr: %w", err)
	}

	lc := net.ListenConfig{Control: controlSocket}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp %d: %w", port, err)
	}

	log.Printf("📡 LAN beacon bound on :%d (broadcast %s)", port, dst)
	return &Beacon{conn: conn, broadcast: dst}, nil
}

// Broadcast sends p to the broadcast address.
func (b *Beacon) Broadcast(p []byte) error {
	if len(p) > MaxPacketSize {
		return ErrTooLarge
	}
	if _, err := b.conn.WriteTo(p, b.broadcast); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	atomic.AddUint64(&b.packetsOut, 1)
	return nil
}

// Poll reads one datagram if one is queued. A read timeout is reported as
// n == 0 with a nil error.
func (b *Beacon) Poll(buf []byte) (int, net.Addr, error) {
	if err := b.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}
	n, from, err := b.conn.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("read: %w", err)
	}
	atomic.AddUint64(&b.packetsIn, 1)
	return n, from, nil
}

// Drop records a packet that failed validation.
func (b *Beacon) Drop() {
	atomic.AddUint64(&b.dropped, 1)
}

// Close releases the socket.
func (b *Beacon) Close() error {
	log.Println("📡 LAN beacon closed")
	return b.conn.Close()
}

// GetStats returns beacon statistics
func (b *Beacon) GetStats() Stats {
	return Stats{
		PacketsIn:  atomic.LoadUint64(&b.packetsIn),
		PacketsOut: atomic.LoadUint64(&b.packetsOut),
		Dropped:    atomic.LoadUint64(&b.dropped),
	}
}
