package online

import (
	"log"
	"slices"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// ReadProfileSettings fills profile for a player. Game settings come from
// the stored blobs, then the profile defaults, then the service. A player
// whose profile is cached gets the cached settings at once.
func (s *Subsystem) ReadProfileSettings(user int, profile *settings.Profile) bool {
	if !validUser(user) {
		return false
	}
	slot := &s.Delegates.ReadProfileSettings[user]
	cached := s.profiles[user]
	if cached != nil {
		if cached.AsyncState == settings.ProfileAsyncRead {
			log.Printf("⚠️ Profile read for player %d is already in progress", user)
			fire(slot, "ReadProfile", platform.WrongState, user)
			return false
		}
		log.Printf("🎮 Using cached profile data for player %d", user)
		if profile != nil && profile != cached {
			profile.Settings = append([]settings.ProfileSetting(nil), cached.Settings...)
		}
		fire(slot, "ReadProfile", platform.Success, user)
		return true
	}
	if profile == nil {
		log.Println("⚠️ Can't read into a nil profile")
		return false
	}

	s.profiles[user] = profile
	profile.AsyncState = settings.ProfileAsyncRead
	profile.Settings = nil
	profile.AppendVersionToReadIDs()

	if s.platform.SigninState(user) == platform.NotSignedInState {
		log.Printf("🎮 Player %d isn't signed in, using profile defaults", user)
		profile.SetToDefaults()
		profile.AsyncState = settings.ProfileAsyncNone
		fire(slot, "ReadProfile", platform.Success, user)
		return true
	}

	data := &ProfileReadData{User: user, IDs: slices.Clone(profile.IDs), Phase: ReadingGameSettings}
	t := &readProfileTask{baseTask: newBaseTask("ReadProfile", slot, data), data: data}
	t.user = user
	code := s.platform.ReadProfile(user, platform.TitleSpecificIDs, &data.Buffer, t.overlapped())
	log.Printf("🎮 ReadProfile(%d, game settings) returned 0x%08X", user, uint32(code))
	if !s.issue(t, code) {
		s.profiles[user] = nil
		profile.AsyncState = settings.ProfileAsyncNone
		return false
	}
	return true
}

// readProfileTask reads the stored blobs, then any ids they and the
// defaults did not cover.
type readProfileTask struct {
	baseTask
	data *ProfileReadData
}

func (t *readProfileTask) ProcessAsyncResults(s *Subsystem) bool {
	d := t.data
	profile := s.profiles[d.User]
	if profile == nil {
		return true
	}
	done := true
	switch {
	case t.CompletionCode() != platform.Success:
		log.Printf("⚠️ Profile read failed with 0x%08X", uint32(t.CompletionCode()))
		profile.SetToDefaults()
	case d.Phase == ReadingGameSettings:
		missing := s.applyStoredProfile(profile, d)
		if len(missing) > 0 {
			d.IDs = missing
			d.Buffer = nil
			code := s.platform.ReadProfile(d.User, missing, &d.Buffer, t.reissue())
			if platform.Succeeded(code) {
				d.Phase = ReadingLiveSettings
				done = false
			} else {
				log.Printf("⚠️ Failed to read service profile ids 0x%08X", uint32(code))
				t.setCode(code)
			}
		}
	default:
		for _, ps := range d.Buffer {
			ps.Owner = settings.OwnerGame
			profile.Set(ps)
		}
	}
	if !done {
		return false
	}
	if v := profile.ReadVersion(); v != profile.VersionNumber {
		log.Printf("⚠️ Detected profile version mismatch (%d != %d), setting to defaults", profile.VersionNumber, v)
		profile.SetToDefaults()
	}
	profile.AsyncState = settings.ProfileAsyncNone
	return true
}

// applyStoredProfile decodes the game blobs into profile and returns the
// requested ids neither the blobs nor the defaults provided.
func (s *Subsystem) applyStoredProfile(profile *settings.Profile, d *ProfileReadData) []int32 {
	parts := make([][]byte, len(platform.TitleSpecificIDs))
	for _, ps := range d.Buffer {
		for i, id := range platform.TitleSpecificIDs {
			if ps.Property.ID == id {
				parts[i] = ps.Property.Data.Blob
			}
		}
	}
	stored, err := settings.DecodeProfile(settings.CoalesceBlobs(parts))
	if err != nil {
		log.Printf("⚠️ Discarding stored profile for player %d: %v", d.User, err)
		stored = nil
	}

	var missing []int32
	for _, id := range d.IDs {
		i := slices.IndexFunc(stored, func(ps settings.ProfileSetting) bool { return ps.Property.ID == id })
		if i < 0 {
			missing = append(missing, id)
			continue
		}
		profile.Set(stored[i])
	}
	if len(missing) == 0 {
		return nil
	}

	// Defaults fill the gaps without clobbering what the blobs provided.
	read := profile.Settings
	profile.SetToDefaults()
	for _, ps := range read {
		profile.Set(ps)
	}
	return slices.DeleteFunc(missing, func(id int32) bool {
		ps, ok := profile.Find(id)
		return ok && ps.Owner != settings.OwnerOnlineService
	})
}

// WriteProfileSettings stores profile for a player as compressed game
// blobs. Players who aren't signed in only update the cache.
func (s *Subsystem) WriteProfileSettings(user int, profile *settings.Profile) bool {
	if !validUser(user) {
		return false
	}
	slot := &s.Delegates.WriteProfileSettings[user]
	if cached := s.profiles[user]; cached != nil && cached.AsyncState != settings.ProfileAsyncNone {
		log.Printf("⚠️ Can't write profile, a profile task is already in progress for player %d", user)
		return false
	}
	if profile == nil {
		log.Println("⚠️ Can't write a nil profile")
		return false
	}
	profile.AsyncState = settings.ProfileAsyncWrite
	profile.AppendVersionToSettings()
	s.profiles[user] = profile

	if s.platform.SigninState(user) == platform.NotSignedInState {
		log.Printf("🎮 Skipping profile write for player %d who isn't signed in, cached only", user)
		profile.AsyncState = settings.ProfileAsyncNone
		fire(slot, "WriteProfile", platform.Success, user)
		return true
	}

	blob, err := settings.EncodeProfile(profile.Settings)
	if err != nil {
		log.Printf("⚠️ Profile write for player %d refused: %v", user, err)
		profile.AsyncState = settings.ProfileAsyncNone
		fire(slot, "WriteProfile", platform.Fail, user)
		return false
	}
	data := &ProfileWriteData{User: user}
	list := make([]settings.ProfileSetting, 0, settings.ProfileBlobCount)
	for i, part := range settings.SplitBlobs(blob) {
		data.Blobs[i] = part
		list = append(list, settings.ProfileSetting{
			Owner:    settings.OwnerGame,
			Property: settings.Property{ID: platform.TitleSpecificIDs[i], Data: settings.BlobData(part)},
		})
	}
	t := newSimpleTask("WriteProfile", slot, func(s *Subsystem, _ platform.Result) {
		if p := s.profiles[user]; p != nil {
			p.AsyncState = settings.ProfileAsyncNone
		}
	})
	t.data = data
	t.user = user
	code := s.platform.WriteProfile(user, list, t.overlapped())
	log.Printf("🎮 WriteProfile(%d, %d bytes) returned 0x%08X", user, len(blob), uint32(code))
	if !s.issue(t, code) {
		profile.AsyncState = settings.ProfileAsyncNone
		return false
	}
	return true
}

// ProfileSettings returns the cached profile of a player or nil.
func (s *Subsystem) ProfileSettings(user int) *settings.Profile {
	if !validUser(user) {
		return nil
	}
	return s.profiles[user]
}

// ClearProfileCache forgets a player's cached profile so the next read
// goes to the service.
func (s *Subsystem) ClearProfileCache(user int) {
	if validUser(user) {
		s.profiles[user] = nil
	}
}
