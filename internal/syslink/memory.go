package syslink

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrClosed is returned by a closed in-memory transport.
var ErrClosed = errors.New("syslink: transport closed")

// MemNetwork is an in-process broadcast domain. Every packet broadcast by
// one attached transport is queued on all the others.
type MemNetwork struct {
	mu    sync.Mutex
	peers map[*MemTransport]struct{}
	next  int
}

// NewMemNetwork creates an empty broadcast domain.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{peers: make(map[*MemTransport]struct{})}
}

// memAddr names an in-memory peer.
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// Attach creates a transport on the network.
func (n *MemNetwork) Attach() *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	t := &MemTransport{net: n, addr: memAddr(fmt.Sprintf("10.0.0.%d:%d", n.next, DefaultPort))}
	n.peers[t] = struct{}{}
	return t
}

// MemTransport is a Transport backed by a MemNetwork.
type MemTransport struct {
	net    *MemNetwork
	addr   memAddr
	mu     sync.Mutex
	inbox  []memPacket
	closed bool
}

type memPacket struct {
	data []byte
	from net.Addr
}

// Addr returns the transport's address.
func (t *MemTransport) Addr() net.Addr { return t.addr }

// Broadcast queues p on every other open transport.
func (t *MemTransport) Broadcast(p []byte) error {
	if len(p) > MaxPacketSize {
		return ErrTooLarge
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	for peer := range t.net.peers {
		if peer != t {
			peer.deliver(p, t.addr)
		}
	}
	return nil
}

// Inject queues a raw packet as if it came from addr.
func (t *MemTransport) Inject(p []byte, from string) {
	t.deliver(p, memAddr(from))
}

func (t *MemTransport) deliver(p []byte, from net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.inbox = append(t.inbox, memPacket{data: append([]byte(nil), p...), from: from})
}

// Poll pops the oldest queued packet.
func (t *MemTransport) Poll(buf []byte) (int, net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, nil, ErrClosed
	}
	if len(t.inbox) == 0 {
		return 0, nil, nil
	}
	pkt := t.inbox[0]
	t.inbox = t.inbox[1:]
	return copy(buf, pkt.data), pkt.from, nil
}

// Close detaches the transport from its network.
func (t *MemTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.inbox = nil
	t.mu.Unlock()

	t.net.mu.Lock()
	delete(t.net.peers, t)
	t.net.mu.Unlock()
	return nil
}
