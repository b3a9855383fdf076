package syslink

import (
	"errors"
	"testing"
	"time"

	"online-subsystem/internal/settings"
)

func testResponse(nonce uint64) *Response {
	resp := &Response{
		Nonce: nonce,
		Host:  HostAddress{IP: 0xC0A80105, OnlineIP: 0x0A000001, OnlinePort: 1000},
		Settings: &settings.GameSettings{
			NumOpenPublicConnections: 3,
			NumPublicConnections:     4,
			IsLanMatch:               true,
			OwningPlayerName:         "Host",
			Properties: []settings.Property{
				{ID: 7, Data: settings.StringData("Deck")},
			},
		},
	}
	resp.Host.Enet[0] = 0xAA
	resp.Host.Online[19] = 0xBB
	resp.SessionID[0] = 1
	resp.Key[15] = 2
	return resp
}

// TestQueryRoundTrip verifies the query layout and nonce
func TestQueryRoundTrip(t *testing.T) {
	q := BuildQuery(0x0102030405060708)
	if len(q) != QuerySize {
		t.Fatalf("len = %d, want %d", len(q), QuerySize)
	}
	if q[0] != 'S' || q[1] != 'Q' || q[2] != 1 || q[9] != 8 {
		t.Errorf("layout = % x", q)
	}
	nonce, err := ParseQuery(q)
	if err != nil || nonce != 0x0102030405060708 {
		t.Errorf("ParseQuery = %#x, %v", nonce, err)
	}
}

// TestParseQueryRejects verifies only exact 10 byte SQ packets are accepted
func TestParseQueryRejects(t *testing.T) {
	good := BuildQuery(9)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", good[:9]},
		{"long", append(append([]byte(nil), good...), 0)},
		{"response marker", append([]byte{'S', 'R'}, good[2:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseQuery(tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

// TestResponseRoundTrip verifies every response field survives the wire
func TestResponseRoundTrip(t *testing.T) {
	want := testResponse(42)
	p, err := BuildResponse(want)
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	if p[0] != PacketVersion || p[1] != 'S' || p[2] != 'R' {
		t.Errorf("header = % x", p[:3])
	}

	got, err := ParseResponse(p, 42)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if got.Host != want.Host {
		t.Errorf("host = %+v, want %+v", got.Host, want.Host)
	}
	if got.SessionID != want.SessionID || got.Key != want.Key {
		t.Error("session id or key mismatch")
	}
	if got.Settings.OwningPlayerName != "Host" || len(got.Settings.Properties) != 1 {
		t.Errorf("settings = %+v", got.Settings)
	}
	if got.Host.IPString() != "192.168.1.5" {
		t.Errorf("IPString = %s", got.Host.IPString())
	}
}

// TestParseResponseRejects verifies short, wrong version and wrong nonce packets are dropped
func TestParseResponseRejects(t *testing.T) {
	p, err := BuildResponse(testResponse(42))
	if err != nil {
		t.Fatal(err)
	}
	badVersion := append([]byte(nil), p...)
	badVersion[0] = PacketVersion + 1
	badMarker := append([]byte(nil), p...)
	badMarker[2] = 'Q'

	tests := []struct {
		name  string
		data  []byte
		nonce uint64
		want  error
	}{
		{"shorter than header", p[:HeaderSize-1], 42, ErrMalformed},
		{"header only", p[:HeaderSize], 42, ErrMalformed},
		{"wrong version", badVersion, 42, ErrVersionMismatch},
		{"wrong marker", badMarker, 42, ErrMalformed},
		{"wrong nonce", p, 43, ErrNonceMismatch},
		{"truncated settings", p[:len(p)-3], 42, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResponse(tt.data, tt.nonce); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestBuildResponseTooLarge verifies the max packet size is enforced
func TestBuildResponseTooLarge(t *testing.T) {
	resp := testResponse(1)
	resp.Settings.Properties = append(resp.Settings.Properties,
		settings.Property{ID: 8, Data: settings.BlobData(make([]byte, MaxPacketSize))})
	if _, err := BuildResponse(resp); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
	if _, err := BuildResponse(&Response{}); err == nil {
		t.Error("expected error without settings")
	}
}

// TestMemNetworkBroadcast verifies broadcast reaches every peer but the sender
func TestMemNetworkBroadcast(t *testing.T) {
	n := NewMemNetwork()
	a, b, c := n.Attach(), n.Attach(), n.Attach()

	if err := a.Broadcast([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, MaxPacketSize)
	for _, peer := range []*MemTransport{b, c} {
		got, from, err := peer.Poll(buf)
		if err != nil || string(buf[:got]) != "hello" || from.String() != a.Addr().String() {
			t.Errorf("peer poll = %d %v %v", got, from, err)
		}
	}
	if got, _, _ := a.Poll(buf); got != 0 {
		t.Error("sender received its own broadcast")
	}

	c.Close()
	if _, _, err := c.Poll(buf); !errors.Is(err, ErrClosed) {
		t.Errorf("closed poll err = %v", err)
	}
	if err := b.Broadcast([]byte("x")); err != nil {
		t.Errorf("broadcast after peer close: %v", err)
	}
}

// TestSourceLimiter verifies bursts are capped per source
func TestSourceLimiter(t *testing.T) {
	l := NewSourceLimiter(LimiterConfig{QueriesPerSecond: 1, Burst: 2, IdleTimeout: time.Minute})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("a") {
		t.Error("third query in the same instant should be refused")
	}
	if !l.Allow("b") {
		t.Error("other sources are independent")
	}
	if l.Rejected() != 1 {
		t.Errorf("Rejected = %d", l.Rejected())
	}

	now = now.Add(2 * time.Second)
	if !l.Allow("a") {
		t.Error("tokens should refill")
	}

	var disabled *SourceLimiter
	if !disabled.Allow("x") {
		t.Error("nil limiter allows everything")
	}
}
