package online

import (
	"fmt"
	"log"
	"unicode/utf8"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// ============================================================================
// Identity
// ============================================================================

// GetLoginStatus returns a player's sign-in state.
func (s *Subsystem) GetLoginStatus(user int) platform.SigninState {
	if !validUser(user) {
		return platform.NotSignedInState
	}
	return s.platform.SigninState(user)
}

// GetUniquePlayerID returns a signed in player's XUID.
func (s *Subsystem) GetUniquePlayerID(user int) (settings.UniqueNetID, bool) {
	if !validUser(user) {
		return 0, false
	}
	id, code := s.platform.XUID(user)
	if code != platform.Success {
		log.Printf("⚠️ XUID(%d) returned 0x%08X", user, uint32(code))
		return 0, false
	}
	return id, true
}

// GetPlayerNickname returns a player's gamertag.
func (s *Subsystem) GetPlayerNickname(user int) string {
	if !validUser(user) {
		return ""
	}
	return s.platform.Gamertag(user)
}

// ============================================================================
// Privileges
// ============================================================================

// FeaturePrivilegeLevel is how far a player may use a feature.
type FeaturePrivilegeLevel uint8

const (
	PrivilegeDisabled FeaturePrivilegeLevel = iota
	PrivilegeFriendsOnly
	PrivilegeEnabled
)

func (l FeaturePrivilegeLevel) String() string {
	switch l {
	case PrivilegeFriendsOnly:
		return "friends_only"
	case PrivilegeEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// privilegeLevel checks full, then friends-only, access. Accounts that
// aren't on Live have no restrictions; invalid players have none.
func (s *Subsystem) privilegeLevel(user int, full platform.Privilege, friends *platform.Privilege) FeaturePrivilegeLevel {
	if !validUser(user) {
		return PrivilegeDisabled
	}
	if s.platform.SigninState(user) != platform.SignedInToLive {
		return PrivilegeEnabled
	}
	if s.platform.CheckPrivilege(user, full) {
		return PrivilegeEnabled
	}
	if friends != nil && s.platform.CheckPrivilege(user, *friends) {
		return PrivilegeFriendsOnly
	}
	return PrivilegeDisabled
}

func privilegePtr(p platform.Privilege) *platform.Privilege { return &p }

// CanPlayOnline reports whether a player may join online sessions.
func (s *Subsystem) CanPlayOnline(user int) FeaturePrivilegeLevel {
	return s.privilegeLevel(user, platform.PrivilegeMultiplayer, nil)
}

// CanCommunicate reports whether a player may use voice or text chat.
func (s *Subsystem) CanCommunicate(user int) FeaturePrivilegeLevel {
	return s.privilegeLevel(user, platform.PrivilegeCommunications,
		privilegePtr(platform.PrivilegeCommunicationsFriendsOnly))
}

// CanDownloadUserContent reports whether a player may download content
// made by other players.
func (s *Subsystem) CanDownloadUserContent(user int) FeaturePrivilegeLevel {
	return s.privilegeLevel(user, platform.PrivilegeUserContent,
		privilegePtr(platform.PrivilegeUserContentFriendsOnly))
}

// CanViewPlayerProfiles reports whether a player may look at profiles.
func (s *Subsystem) CanViewPlayerProfiles(user int) FeaturePrivilegeLevel {
	return s.privilegeLevel(user, platform.PrivilegeProfileViewing,
		privilegePtr(platform.PrivilegeProfileViewingFriendsOnly))
}

// CanShowPresenceInformation reports whether a player may see presence.
func (s *Subsystem) CanShowPresenceInformation(user int) FeaturePrivilegeLevel {
	return s.privilegeLevel(user, platform.PrivilegePresence,
		privilegePtr(platform.PrivilegePresenceFriendsOnly))
}

// CanPurchaseContent reports whether a player may buy content.
func (s *Subsystem) CanPurchaseContent(user int) FeaturePrivilegeLevel {
	return s.privilegeLevel(user, platform.PrivilegePurchaseContent, nil)
}

// ============================================================================
// System
// ============================================================================

// GetNATType returns the NAT in front of this machine.
func (s *Subsystem) GetNATType() platform.NATType { return s.platform.NATType() }

// HasLinkConnection reports whether the network cable is connected.
func (s *Subsystem) HasLinkConnection() bool { return s.platform.LinkConnected() }

// IsControllerConnected reports whether a controller is plugged in.
func (s *Subsystem) IsControllerConnected(index int) bool {
	return validUser(index) && s.platform.ControllerConnected(index)
}

// ConnectionStatus returns the last reported service connection state.
func (s *Subsystem) ConnectionStatus() ConnectionStatus { return s.connection }

// ============================================================================
// Presence
// ============================================================================

// SetRichPresence publishes a player's contexts and properties, then the
// presence mode. A LAN session's advertised settings pick up the values too.
func (s *Subsystem) SetRichPresence(user int, mode int32, contexts []settings.Context, props []settings.Property) {
	if !validUser(user) {
		return
	}
	for _, c := range contexts {
		if code := s.platform.SetContext(user, c.ID, c.ValueIndex); code != platform.Success {
			log.Printf("⚠️ SetContext(%d, 0x%08X) returned 0x%08X", user, uint32(c.ID), uint32(code))
		}
	}
	for _, p := range props {
		if code := s.platform.SetProperty(user, p); code != platform.Success {
			log.Printf("⚠️ SetProperty(%d, 0x%08X) returned 0x%08X", user, uint32(p.ID), uint32(code))
		}
	}
	s.platform.SetContext(user, ContextPresence, mode)
	s.presence[user] = mode
	s.presenceSet[user] = true

	if gs := s.gameSettings; gs != nil && gs.IsLanMatch {
		for _, c := range contexts {
			gs.SetContext(c)
		}
		for _, p := range props {
			gs.SetProperty(p)
		}
	}
}

// RichPresence returns the presence mode last set for a player.
func (s *Subsystem) RichPresence(user int) (int32, bool) {
	if !validUser(user) {
		return 0, false
	}
	return s.presence[user], s.presenceSet[user]
}

// ============================================================================
// Achievements
// ============================================================================

func achievementKey(user int, id int32) string {
	return fmt.Sprintf("%d:%d", user, id)
}

// UnlockAchievement awards an achievement. Achievements already unlocked
// this run complete at once without a service call.
func (s *Subsystem) UnlockAchievement(user int, id int32) bool {
	if !validUser(user) {
		log.Printf("⚠️ Invalid player index (%d) specified to UnlockAchievement()", user)
		return false
	}
	slot := &s.Delegates.UnlockAchievement[user]
	key := achievementKey(user, id)
	if _, ok := s.achievements.Get(key); ok {
		fire(slot, "WriteAchievement", platform.Success, user)
		return true
	}
	t := newSimpleTask("WriteAchievement", slot, func(s *Subsystem, code platform.Result) {
		if code == platform.Success {
			s.achievements.Add(key, struct{}{})
		}
	})
	t.user = user
	code := s.platform.WriteAchievement(user, id, t.overlapped())
	log.Printf("🎮 WriteAchievement(%d, %d) returned 0x%08X", user, id, uint32(code))
	return s.issue(t, code)
}

// UnlockGamerPicture awards a gamer picture.
func (s *Subsystem) UnlockGamerPicture(user int, id int32) bool {
	if !validUser(user) {
		return false
	}
	t := newSimpleTask("AwardGamerPicture", &s.Delegates.UnlockGamerPicture[user], nil)
	t.user = user
	code := s.platform.AwardGamerPicture(user, id, t.overlapped())
	log.Printf("🎮 AwardGamerPicture(%d, %d) returned 0x%08X", user, id, uint32(code))
	return s.issue(t, code)
}

// ============================================================================
// Keyboard
// ============================================================================

// ShowKeyboardUI shows the virtual keyboard. With validate set, the typed
// text is checked for offensive words and replaced by "" if it fails.
// KeyboardInput fires once the text is available.
func (s *Subsystem) ShowKeyboardUI(user int, title, description string, validate bool, defaultText string, maxLen int) bool {
	if !validUser(user) {
		return false
	}
	data := &KeyboardData{User: user, Validate: validate}
	t := &keyboardTask{baseTask: newBaseTask("ShowKeyboard", &s.Delegates.KeyboardInput, data), data: data, maxLen: maxLen}
	t.user = user
	code := s.platform.ShowKeyboard(user, title, description, defaultText, &data.Text, t.overlapped())
	log.Printf("🎮 ShowKeyboard(%d) returned 0x%08X", user, uint32(code))
	return s.issue(t, code)
}

// keyboardTask takes the typed text, optionally validating it first.
type keyboardTask struct {
	baseTask
	data   *KeyboardData
	maxLen int
}

func (t *keyboardTask) ProcessAsyncResults(s *Subsystem) bool {
	d := t.data
	if t.CompletionCode() != platform.Success {
		s.keyboard = ""
		return true
	}
	if d.Validating {
		if d.Valid {
			s.keyboard = truncateRunes(d.Text, t.maxLen)
		} else {
			log.Println("⚠️ Keyboard text failed validation")
			s.keyboard = ""
		}
		return true
	}
	if d.Validate && d.Text != "" {
		code := s.platform.VerifyString(d.Text, &d.Valid, t.reissue())
		if platform.Succeeded(code) {
			d.Validating = true
			return false
		}
		log.Printf("⚠️ Failed to validate string with 0x%08X", uint32(code))
		t.setCode(code)
		s.keyboard = ""
		return true
	}
	s.keyboard = truncateRunes(d.Text, t.maxLen)
	return true
}

// KeyboardInputResults returns the text of the last keyboard input.
func (s *Subsystem) KeyboardInputResults() string { return s.keyboard }

func truncateRunes(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

// ============================================================================
// Storage devices
// ============================================================================

// DeviceCache is the storage device a player picked.
type DeviceCache struct {
	DeviceID uint32
}

// ShowDeviceSelectionUI asks a player to pick a storage device with at
// least sizeNeeded bytes free.
func (s *Subsystem) ShowDeviceSelectionUI(user int, sizeNeeded int64, force bool) bool {
	if !validUser(user) {
		log.Printf("⚠️ Invalid player index (%d) specified ShowDeviceSelectionUI()", user)
		return false
	}
	data := &DeviceData{User: user}
	t := newSimpleTask("ShowDeviceSelector", &s.Delegates.DeviceSelection[user], func(s *Subsystem, code platform.Result) {
		if code == platform.Success {
			s.devices[user].DeviceID = data.DeviceID
			data.Name, _ = s.platform.DeviceName(data.DeviceID)
			log.Printf("✅ Player %d selected device %q", user, data.Name)
		}
	})
	t.data = data
	t.user = user
	code := s.platform.ShowDeviceSelector(user, sizeNeeded, force, &data.DeviceID, t.overlapped())
	return s.issue(t, code)
}

// GetDeviceSelectionResults returns the selected device and its name. The
// id is 0 when no device has been picked.
func (s *Subsystem) GetDeviceSelectionResults(user int) (uint32, string) {
	if !validUser(user) {
		return 0, ""
	}
	cache := &s.devices[user]
	if cache.DeviceID == 0 {
		log.Printf("⚠️ User (%d) has not selected a device yet", user)
		return 0, ""
	}
	if s.platform.SigninState(user) == platform.NotSignedInState {
		log.Printf("⚠️ User (%d) is not signed in, forgetting their device", user)
		cache.DeviceID = 0
		return 0, ""
	}
	name, ok := s.platform.DeviceName(cache.DeviceID)
	if !ok {
		return 0, ""
	}
	return cache.DeviceID, name
}

// IsDeviceValid reports whether a device is still attached.
func (s *Subsystem) IsDeviceValid(id uint32) bool {
	if id == 0 {
		return false
	}
	_, ok := s.platform.DeviceName(id)
	return ok
}
