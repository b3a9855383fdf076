// Package syslink implements LAN ("system link") session discovery: the
// query and response packet formats and a UDP broadcast beacon.
package syslink

import (
	"errors"
	"fmt"

	"online-subsystem/internal/nbo"
	"online-subsystem/internal/settings"
)

const (
	// Packet version. Peers with a different version are ignored.
	PacketVersion byte = 1

	// Query and response markers
	QueryMarker1    byte = 'S'
	QueryMarker2    byte = 'Q'
	ResponseMarker1 byte = 'S'
	ResponseMarker2 byte = 'R'

	NonceSize = 8

	// QuerySize is the exact size of a discovery query: two markers and a nonce.
	QuerySize = 2 + NonceSize
	// HeaderSize is the fixed prefix of a response: version, markers, nonce.
	HeaderSize = 1 + 2 + NonceSize

	MaxPacketSize = 512

	// Wire sizes of the opaque host address parts
	EnetAddrSize   = 6
	OnlineAddrSize = 20
	SessionIDSize  = 8
	KeySize        = 16
)

var (
	ErrMalformed       = errors.New("syslink: malformed packet")
	ErrVersionMismatch = errors.New("syslink: packet version mismatch")
	ErrNonceMismatch   = errors.New("syslink: nonce mismatch")
	ErrTooLarge        = errors.New("syslink: packet exceeds max size")
)

// HostAddress is the address blob a host advertises so clients can reach it.
type HostAddress struct {
	IP         uint32               `json:"ip"`
	OnlineIP   uint32               `json:"onlineIp"`
	OnlinePort uint16               `json:"onlinePort"`
	Enet       [EnetAddrSize]byte   `json:"-"`
	Online     [OnlineAddrSize]byte `json:"-"`
}

// IPString formats the LAN address as a dotted quad.
func (a HostAddress) IPString() string {
	return FormatIP(a.IP)
}

// FormatIP formats a host order IPv4 address as a dotted quad.
func FormatIP(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

func (a HostAddress) encode(w *nbo.Writer) {
	w.PutUint32(a.IP).PutUint32(a.OnlineIP).PutUint16(a.OnlinePort)
	w.PutBytes(a.Enet[:]).PutBytes(a.Online[:])
}

func (a *HostAddress) decode(r *nbo.Reader) {
	a.IP = r.Uint32()
	a.OnlineIP = r.Uint32()
	a.OnlinePort = r.Uint16()
	r.ReadInto(a.Enet[:])
	r.ReadInto(a.Online[:])
}

// SessionID is the opaque platform session identifier.
type SessionID [SessionIDSize]byte

// SessionKey is the key exchange key shared with joining clients.
type SessionKey [KeySize]byte

// Response is a host's answer to a discovery query.
type Response struct {
	Nonce     uint64
	Host      HostAddress
	SessionID SessionID
	Key       SessionKey
	Settings  *settings.GameSettings
}

// BuildQuery returns the discovery query for nonce.
func BuildQuery(nonce uint64) []byte {
	w := nbo.NewWriter(QuerySize)
	w.PutByte(QueryMarker1).PutByte(QueryMarker2).PutUint64(nonce)
	return w.Bytes()
}

// ParseQuery validates a discovery query and returns its nonce.
func ParseQuery(p []byte) (uint64, error) {
	if len(p) != QuerySize || p[0] != QueryMarker1 || p[1] != QueryMarker2 {
		return 0, ErrMalformed
	}
	return nbo.NewReader(p[2:]).Uint64(), nil
}

// BuildResponse encodes a response. Settings must be set.
func BuildResponse(resp *Response) ([]byte, error) {
	if resp.Settings == nil {
		return nil, fmt.Errorf("build response: %w: no game settings", ErrMalformed)
	}
	w := nbo.NewWriter(MaxPacketSize)
	w.PutByte(PacketVersion).
		PutByte(ResponseMarker1).
		PutByte(ResponseMarker2).
		PutUint64(resp.Nonce)
	resp.Host.encode(w)
	w.PutBytes(resp.SessionID[:]).PutBytes(resp.Key[:])
	resp.Settings.Encode(w)
	if w.Len() > MaxPacketSize {
		return nil, fmt.Errorf("build response: %d bytes: %w", w.Len(), ErrTooLarge)
	}
	return w.Bytes(), nil
}

// ParseResponse validates a response against the nonce of our query and
// decodes it.
func ParseResponse(p []byte, nonce uint64) (*Response, error) {
	if len(p) < HeaderSize {
		return nil, ErrMalformed
	}
	if p[0] != PacketVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, p[0], PacketVersion)
	}
	if p[1] != ResponseMarker1 || p[2] != ResponseMarker2 {
		return nil, ErrMalformed
	}

	r := nbo.NewReader(p[3:])
	resp := &Response{Nonce: r.Uint64()}
	if resp.Nonce != nonce {
		return nil, ErrNonceMismatch
	}
	resp.Host.decode(r)
	r.ReadInto(resp.SessionID[:])
	r.ReadInto(resp.Key[:])
	resp.Settings = &settings.GameSettings{}
	if err := resp.Settings.Decode(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return resp, nil
}
