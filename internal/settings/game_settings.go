package settings

import (
	"fmt"

	"online-subsystem/internal/nbo"
)

// GameSettings describes a hosted or advertised game session.
type GameSettings struct {
	NumOpenPublicConnections  int32 `json:"numOpenPublicConnections"`
	NumOpenPrivateConnections int32 `json:"numOpenPrivateConnections"`
	NumPublicConnections      int32 `json:"numPublicConnections"`
	NumPrivateConnections     int32 `json:"numPrivateConnections"`

	ShouldAdvertise      bool `json:"shouldAdvertise"`
	IsLanMatch           bool `json:"isLanMatch"`
	UsesStats            bool `json:"usesStats"`
	AllowJoinInProgress  bool `json:"allowJoinInProgress"`
	AllowInvites         bool `json:"allowInvites"`
	UsesPresence         bool `json:"usesPresence"`
	AllowJoinViaPresence bool `json:"allowJoinViaPresence"`
	UsesArbitration      bool `json:"usesArbitration"`

	OwningPlayerID   UniqueNetID `json:"owningPlayerId"`
	OwningPlayerName string      `json:"owningPlayerName"`

	LocalizedSettings []Context  `json:"localizedSettings"`
	Properties        []Property `json:"properties"`

	// Local only, never sent on the wire.
	WasFromInvite bool   `json:"wasFromInvite,omitempty"`
	PingInMs      int32  `json:"pingInMs,omitempty"`
	ServerNonce   uint64 `json:"-"`
}

// Clone returns a deep copy. Search results hold their own copies so a
// result survives the session it was read from.
func (g *GameSettings) Clone() *GameSettings {
	if g == nil {
		return nil
	}
	c := *g
	c.LocalizedSettings = append([]Context(nil), g.LocalizedSettings...)
	c.Properties = make([]Property, len(g.Properties))
	for i, p := range g.Properties {
		if p.Data.Blob != nil {
			p.Data.Blob = append([]byte(nil), p.Data.Blob...)
		}
		c.Properties[i] = p
	}
	return &c
}

// FindProperty returns the property with the given id.
func (g *GameSettings) FindProperty(id int32) (Property, bool) {
	for _, p := range g.Properties {
		if p.ID == id {
			return p, true
		}
	}
	return Property{}, false
}

// SetProperty replaces the value of an existing property or appends a new one.
func (g *GameSettings) SetProperty(p Property) {
	for i := range g.Properties {
		if g.Properties[i].ID == p.ID {
			g.Properties[i] = p
			return
		}
	}
	g.Properties = append(g.Properties, p)
}

// FindContext returns the context with the given id.
func (g *GameSettings) FindContext(id int32) (Context, bool) {
	for _, c := range g.LocalizedSettings {
		if c.ID == id {
			return c, true
		}
	}
	return Context{}, false
}

// SetContext replaces the value index of an existing context or appends it.
func (g *GameSettings) SetContext(c Context) {
	for i := range g.LocalizedSettings {
		if g.LocalizedSettings[i].ID == c.ID {
			g.LocalizedSettings[i] = c
			return
		}
	}
	g.LocalizedSettings = append(g.LocalizedSettings, c)
}

// Encode appends the wire form of the settings.
func (g *GameSettings) Encode(w *nbo.Writer) {
	w.PutInt32(g.NumOpenPublicConnections).
		PutInt32(g.NumOpenPrivateConnections).
		PutInt32(g.NumPublicConnections).
		PutInt32(g.NumPrivateConnections)

	w.PutBool(g.ShouldAdvertise).
		PutBool(g.IsLanMatch).
		PutBool(g.UsesStats).
		PutBool(g.AllowJoinInProgress).
		PutBool(g.AllowInvites).
		PutBool(g.UsesPresence).
		PutBool(g.AllowJoinViaPresence).
		PutBool(g.UsesArbitration)

	w.PutUint64(uint64(g.OwningPlayerID)).PutString(g.OwningPlayerName)

	w.PutInt32(int32(len(g.LocalizedSettings)))
	for _, c := range g.LocalizedSettings {
		c.Encode(w)
	}
	w.PutInt32(int32(len(g.Properties)))
	for _, p := range g.Properties {
		p.Encode(w)
	}
}

// Smallest encodings, used to reject counts the remaining bytes cannot hold.
const (
	minContextSize  = 9
	minPropertySize = 6
)

// Decode reads settings written by Encode. On a bad count or a short
// buffer both lists are emptied and the reader's error is returned.
func (g *GameSettings) Decode(r *nbo.Reader) error {
	g.NumOpenPublicConnections = r.Int32()
	g.NumOpenPrivateConnections = r.Int32()
	g.NumPublicConnections = r.Int32()
	g.NumPrivateConnections = r.Int32()

	g.ShouldAdvertise = r.Bool()
	g.IsLanMatch = r.Bool()
	g.UsesStats = r.Bool()
	g.AllowJoinInProgress = r.Bool()
	g.AllowInvites = r.Bool()
	g.UsesPresence = r.Bool()
	g.AllowJoinViaPresence = r.Bool()
	g.UsesArbitration = r.Bool()

	g.OwningPlayerID = UniqueNetID(r.Uint64())
	g.OwningPlayerName = r.ReadString()

	g.LocalizedSettings = nil
	g.Properties = nil

	n := r.Int32()
	if n < 0 || int(n)*minContextSize > r.Remaining() {
		r.Fail()
	}
	if !r.HasOverflow() && n > 0 {
		g.LocalizedSettings = make([]Context, 0, n)
		for i := int32(0); i < n && !r.HasOverflow(); i++ {
			g.LocalizedSettings = append(g.LocalizedSettings, DecodeContext(r))
		}
	}

	n = r.Int32()
	if n < 0 || int(n)*minPropertySize > r.Remaining() {
		r.Fail()
	}
	if !r.HasOverflow() && n > 0 {
		g.Properties = make([]Property, 0, n)
		for i := int32(0); i < n && !r.HasOverflow(); i++ {
			g.Properties = append(g.Properties, DecodeProperty(r))
		}
	}

	if r.HasOverflow() {
		g.LocalizedSettings = nil
		g.Properties = nil
		return fmt.Errorf("decode game settings: %w", r.Err())
	}
	return nil
}
