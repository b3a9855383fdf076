package settings

import (
	"fmt"

	"online-subsystem/internal/nbo"
)

// UniqueNetID identifies a player on the online service.
type UniqueNetID uint64

// String formats the id the way the service logs it
func (id UniqueNetID) String() string {
	return fmt.Sprintf("0x%016X", uint64(id))
}

// AdvertisementType controls where a context or property is published.
type AdvertisementType uint8

const (
	DontAdvertise AdvertisementType = iota
	AdvertiseOnlineService
	AdvertiseQoS
	AdvertiseOnlineServiceAndQoS
)

// Context is a localized string setting: an id paired with the index of
// the selected value.
type Context struct {
	ID            int32             `json:"id"`
	ValueIndex    int32             `json:"valueIndex"`
	Advertisement AdvertisementType `json:"advertisement"`
}

// Encode writes the context in wire order.
func (c Context) Encode(w *nbo.Writer) {
	w.PutInt32(c.ID).PutInt32(c.ValueIndex).PutByte(byte(c.Advertisement))
}

// DecodeContext reads a context written by Encode.
func DecodeContext(r *nbo.Reader) Context {
	return Context{
		ID:            r.Int32(),
		ValueIndex:    r.Int32(),
		Advertisement: AdvertisementType(r.Byte()),
	}
}

// Property is an id tagged settings value.
type Property struct {
	ID            int32             `json:"id"`
	Data          Data              `json:"data"`
	Advertisement AdvertisementType `json:"advertisement"`
}

// Encode writes the property in wire order.
func (p Property) Encode(w *nbo.Writer) {
	w.PutInt32(p.ID)
	p.Data.Encode(w)
	w.PutByte(byte(p.Advertisement))
}

// DecodeProperty reads a property written by Encode.
func DecodeProperty(r *nbo.Reader) Property {
	var p Property
	p.ID = r.Int32()
	p.Data = DecodeData(r)
	p.Advertisement = AdvertisementType(r.Byte())
	return p
}

// ProfileSource records who last wrote a profile setting.
type ProfileSource uint8

const (
	OwnerNone ProfileSource = iota
	OwnerOnlineService
	OwnerGame
)

// ProfileSetting is a property stored in a player profile.
type ProfileSetting struct {
	Owner    ProfileSource `json:"owner"`
	Property Property      `json:"property"`
}

// Encode writes the owner byte followed by the property.
func (s ProfileSetting) Encode(w *nbo.Writer) {
	w.PutByte(byte(s.Owner))
	s.Property.Encode(w)
}

// DecodeProfileSetting reads a setting written by Encode.
func DecodeProfileSetting(r *nbo.Reader) ProfileSetting {
	var s ProfileSetting
	s.Owner = ProfileSource(r.Byte())
	s.Property = DecodeProperty(r)
	return s
}
