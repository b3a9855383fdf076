package settings

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"online-subsystem/internal/nbo"
)

// ============================================================================
// Stored profile blob
// ============================================================================

// Profile storage limits. The service stores game data in three title
// specific settings of ProfileBlobSize bytes each.
const (
	ProfileBlobCount       = 3
	ProfileBlobSize        = 1000
	MaxProfileSize         = ProfileBlobCount * ProfileBlobSize
	MaxUncompressedProfile = 6000

	profileHeaderSize = sha1.Size + 4
)

var (
	ErrProfileChecksum = errors.New("settings: profile checksum mismatch")
	ErrProfileTooLarge = errors.New("settings: profile exceeds storage limit")
)

// EncodeProfile serializes the settings, compresses them and prefixes the
// result with a SHA1 of everything that follows and the uncompressed size.
func EncodeProfile(list []ProfileSetting) ([]byte, error) {
	w := nbo.NewWriter(512)
	w.PutInt32(int32(len(list)))
	for _, s := range list {
		s.Encode(w)
	}
	raw := w.Bytes()
	if len(raw) > MaxUncompressedProfile {
		return nil, fmt.Errorf("encode profile: %d raw bytes: %w", len(raw), ErrProfileTooLarge)
	}

	var body bytes.Buffer
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(raw)))
	body.Write(size[:])
	zw, err := zlib.NewWriterLevel(&body, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}

	sum := sha1.Sum(body.Bytes())
	out := make([]byte, 0, sha1.Size+body.Len())
	out = append(out, sum[:]...)
	out = append(out, body.Bytes()...)
	if len(out) > MaxProfileSize {
		return nil, fmt.Errorf("encode profile: %d stored bytes: %w", len(out), ErrProfileTooLarge)
	}
	return out, nil
}

// DecodeProfile verifies and unpacks a blob written by EncodeProfile. An
// empty blob decodes to no settings.
func DecodeProfile(blob []byte) ([]ProfileSetting, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < profileHeaderSize {
		return nil, fmt.Errorf("decode profile: %d byte blob: %w", len(blob), ErrProfileChecksum)
	}
	sum := sha1.Sum(blob[sha1.Size:])
	if !bytes.Equal(sum[:], blob[:sha1.Size]) {
		return nil, ErrProfileChecksum
	}

	size := binary.BigEndian.Uint32(blob[sha1.Size:profileHeaderSize])
	if size > MaxUncompressedProfile {
		return nil, fmt.Errorf("decode profile: %d raw bytes: %w", size, ErrProfileTooLarge)
	}
	zr, err := zlib.NewReader(bytes.NewReader(blob[profileHeaderSize:]))
	if err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	defer zr.Close()
	raw := make([]byte, size)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	r := nbo.NewReader(raw)
	n := r.Int32()
	if n < 0 || int(n) > r.Remaining() {
		r.Fail()
	}
	var list []ProfileSetting
	for i := int32(0); i < n && !r.HasOverflow(); i++ {
		list = append(list, DecodeProfileSetting(r))
	}
	if r.HasOverflow() {
		return nil, fmt.Errorf("decode profile: %w", r.Err())
	}
	return list, nil
}

// SplitBlobs cuts a stored profile into ProfileBlobCount pieces. Unused
// pieces are empty.
func SplitBlobs(data []byte) [][]byte {
	out := make([][]byte, ProfileBlobCount)
	for i := range out {
		start := i * ProfileBlobSize
		if start >= len(data) {
			out[i] = []byte{}
			continue
		}
		end := min(start+ProfileBlobSize, len(data))
		out[i] = data[start:end]
	}
	return out
}

// CoalesceBlobs joins pieces written by SplitBlobs.
func CoalesceBlobs(parts [][]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ============================================================================
// Profile settings object
// ============================================================================

// ProfileVersionID is the reserved setting id holding the profile version.
const ProfileVersionID int32 = 0

// ProfileAsyncState tracks an outstanding profile operation.
type ProfileAsyncState uint8

const (
	ProfileAsyncNone ProfileAsyncState = iota
	ProfileAsyncRead
	ProfileAsyncWrite
)

func (s ProfileAsyncState) String() string {
	switch s {
	case ProfileAsyncRead:
		return "read"
	case ProfileAsyncWrite:
		return "write"
	default:
		return "none"
	}
}

// Profile is a caller owned set of profile settings. The subsystem fills
// Settings on a read and serializes it on a write.
type Profile struct {
	VersionNumber int32
	// IDs lists the settings the game wants read.
	IDs        []int32
	Settings   []ProfileSetting
	Defaults   []ProfileSetting
	AsyncState ProfileAsyncState
}

// NewProfile creates a profile with the given version and defaults. The
// requested ids are taken from the defaults.
func NewProfile(version int32, defaults []ProfileSetting) *Profile {
	p := &Profile{VersionNumber: version, Defaults: defaults}
	for _, d := range defaults {
		p.IDs = append(p.IDs, d.Property.ID)
	}
	return p
}

// AppendVersionToReadIDs makes sure the version setting is part of a read.
func (p *Profile) AppendVersionToReadIDs() {
	for _, id := range p.IDs {
		if id == ProfileVersionID {
			return
		}
	}
	p.IDs = append(p.IDs, ProfileVersionID)
}

// AppendVersionToSettings stamps the current version before a write.
func (p *Profile) AppendVersionToSettings() {
	p.Set(p.versionSetting())
}

// Find returns the setting with the given id.
func (p *Profile) Find(id int32) (ProfileSetting, bool) {
	for _, s := range p.Settings {
		if s.Property.ID == id {
			return s, true
		}
	}
	return ProfileSetting{}, false
}

// Set replaces or appends a setting.
func (p *Profile) Set(s ProfileSetting) {
	for i := range p.Settings {
		if p.Settings[i].Property.ID == s.Property.ID {
			p.Settings[i] = s
			return
		}
	}
	p.Settings = append(p.Settings, s)
}

// DefaultFor returns the default value for id.
func (p *Profile) DefaultFor(id int32) (ProfileSetting, bool) {
	if id == ProfileVersionID {
		return p.versionSetting(), true
	}
	for _, d := range p.Defaults {
		if d.Property.ID == id {
			return d, true
		}
	}
	return ProfileSetting{}, false
}

// SetToDefaults discards read data and restores every default.
func (p *Profile) SetToDefaults() {
	p.Settings = append([]ProfileSetting(nil), p.Defaults...)
	p.Set(p.versionSetting())
}

// ReadVersion returns the version stored in Settings, or -1 when absent.
func (p *Profile) ReadVersion() int32 {
	s, ok := p.Find(ProfileVersionID)
	if !ok {
		return -1
	}
	v, ok := s.Property.Data.Int32()
	if !ok {
		return -1
	}
	return v
}

func (p *Profile) versionSetting() ProfileSetting {
	return ProfileSetting{
		Owner:    OwnerGame,
		Property: Property{ID: ProfileVersionID, Data: Int32Data(p.VersionNumber)},
	}
}
