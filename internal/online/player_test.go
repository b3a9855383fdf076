package online

import (
	"testing"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// TestPrivileges verifies full, friends-only and missing privileges map to
// feature levels
func TestPrivileges(t *testing.T) {
	tests := []struct {
		name   string
		live   bool
		signed bool
		denied []platform.Privilege
		check  func(s *Subsystem) FeaturePrivilegeLevel
		want   FeaturePrivilegeLevel
	}{
		{"live granted", true, true, nil, func(s *Subsystem) FeaturePrivilegeLevel { return s.CanCommunicate(0) }, PrivilegeEnabled},
		{"friends only", true, true, []platform.Privilege{platform.PrivilegeCommunications},
			func(s *Subsystem) FeaturePrivilegeLevel { return s.CanCommunicate(0) }, PrivilegeFriendsOnly},
		{"denied", true, true, []platform.Privilege{platform.PrivilegeUserContent, platform.PrivilegeUserContentFriendsOnly},
			func(s *Subsystem) FeaturePrivilegeLevel { return s.CanDownloadUserContent(0) }, PrivilegeDisabled},
		{"no friends fallback", true, true, []platform.Privilege{platform.PrivilegeMultiplayer},
			func(s *Subsystem) FeaturePrivilegeLevel { return s.CanPlayOnline(0) }, PrivilegeDisabled},
		{"local account", false, true, []platform.Privilege{platform.PrivilegePresence},
			func(s *Subsystem) FeaturePrivilegeLevel { return s.CanShowPresenceInformation(0) }, PrivilegeEnabled},
		{"invalid player", true, true, nil, func(s *Subsystem) FeaturePrivilegeLevel { return s.CanPurchaseContent(-1) }, PrivilegeDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			if tt.signed {
				r.sim.SignIn(0, hostXUID, "Host", tt.live)
			}
			r.sim.UpdateUser(0, func(u *platform.SimUser) {
				for _, p := range tt.denied {
					u.Denied[p] = true
				}
			})
			if got := tt.check(r.sub); got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestIdentity verifies login state, XUID and gamertag lookups
func TestIdentity(t *testing.T) {
	r := newTestRig(t)
	if _, ok := r.sub.GetUniquePlayerID(0); ok {
		t.Error("GetUniquePlayerID() ok for a signed out player")
	}
	r.sim.SignIn(0, hostXUID, "Host", true)

	if got := r.sub.GetLoginStatus(0); got != platform.SignedInToLive {
		t.Errorf("GetLoginStatus() = %s", got)
	}
	if got := r.sub.GetLoginStatus(9); got != platform.NotSignedInState {
		t.Errorf("GetLoginStatus(9) = %s", got)
	}
	if id, ok := r.sub.GetUniquePlayerID(0); !ok || id != hostXUID {
		t.Errorf("GetUniquePlayerID() = %s, %v", id, ok)
	}
	if got := r.sub.GetPlayerNickname(0); got != "Host" {
		t.Errorf("GetPlayerNickname() = %q", got)
	}
}

// TestUnlockAchievementOnce verifies an achievement is only written once
func TestUnlockAchievementOnce(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Host", true)
	var rec recorder
	r.sub.Delegates.UnlockAchievement[0].Add(rec.add)

	r.sub.UnlockAchievement(0, 7)
	r.pump()
	if !r.sim.User(0).Achievements[7] {
		t.Fatal("achievement not written")
	}
	if !r.sub.UnlockAchievement(0, 7) {
		t.Error("second UnlockAchievement() = false")
	}
	r.pump()

	if got := r.sim.Calls("WriteAchievement"); got != 1 {
		t.Errorf("WriteAchievement calls = %d, want 1", got)
	}
	if len(rec.results) != 2 || !rec.last(t).OK() {
		t.Errorf("delegate results = %+v", rec.results)
	}
	if r.sub.UnlockAchievement(platform.MaxLocalPlayers, 7) {
		t.Error("UnlockAchievement() = true for an invalid player")
	}
}

// TestUnlockGamerPicture verifies pictures reach the service
func TestUnlockGamerPicture(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(1, hostXUID, "Host", true)
	var rec recorder
	r.sub.Delegates.UnlockGamerPicture[1].Add(rec.add)

	if !r.sub.UnlockGamerPicture(1, 3) {
		t.Fatal("UnlockGamerPicture() = false")
	}
	r.pump()
	if !rec.last(t).OK() || !r.sim.User(1).Pictures[3] {
		t.Error("picture not awarded")
	}
}

// TestShowKeyboardUI verifies typed text is validated and trimmed
func TestShowKeyboardUI(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		cancelled bool
		validate  bool
		maxLen    int
		want      string
		wantCode  platform.Result
	}{
		{"plain", "Warlord", false, false, 0, "Warlord", platform.Success},
		{"default text", "", false, false, 0, "Player", platform.Success},
		{"validated", "Nice one", false, true, 0, "Nice one", platform.Success},
		{"bad word", "you DARN cheat", false, true, 0, "", platform.Success},
		{"cancelled", "ignored", true, false, 0, "", platform.Cancelled},
		{"trimmed", "héllo world", false, false, 5, "héllo", platform.Success},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			r.sim.SignIn(0, hostXUID, "Host", true)
			r.sim.AddBadWord("darn")
			r.sim.UpdateUser(0, func(u *platform.SimUser) {
				u.KeyboardText = tt.text
				u.KeyboardCancelled = tt.cancelled
			})
			var rec recorder
			r.sub.Delegates.KeyboardInput.Add(rec.add)

			if !r.sub.ShowKeyboardUI(0, "Name", "Pick a name", tt.validate, "Player", tt.maxLen) {
				t.Fatal("ShowKeyboardUI() = false")
			}
			r.pump()

			if got := r.sub.KeyboardInputResults(); got != tt.want {
				t.Errorf("KeyboardInputResults() = %q, want %q", got, tt.want)
			}
			if rec.last(t).Code != tt.wantCode {
				t.Errorf("code = %s, want %s", rec.last(t).Code, tt.wantCode)
			}
			if wantVerify := tt.validate && !tt.cancelled; (r.sim.Calls("VerifyString") == 1) != wantVerify {
				t.Errorf("VerifyString calls = %d", r.sim.Calls("VerifyString"))
			}
		})
	}
}

// TestDeviceSelection verifies a picked device is cached until sign-out
func TestDeviceSelection(t *testing.T) {
	t.Run("selected", func(t *testing.T) {
		r := newTestRig(t)
		r.sim.SignIn(0, hostXUID, "Host", true)
		r.sim.AddDevice(0x42, "Memory Unit")
		r.sim.UpdateUser(0, func(u *platform.SimUser) { u.Device = 0x42 })
		var rec recorder
		r.sub.Delegates.DeviceSelection[0].Add(rec.add)

		if !r.sub.ShowDeviceSelectionUI(0, 1<<20, false) {
			t.Fatal("ShowDeviceSelectionUI() = false")
		}
		r.pump()

		if !rec.last(t).OK() {
			t.Errorf("code = %s", rec.last(t).Code)
		}
		id, name := r.sub.GetDeviceSelectionResults(0)
		if id != 0x42 || name != "Memory Unit" {
			t.Errorf("GetDeviceSelectionResults() = 0x%X, %q", id, name)
		}
		if !r.sub.IsDeviceValid(0x42) || r.sub.IsDeviceValid(0x43) || r.sub.IsDeviceValid(0) {
			t.Error("IsDeviceValid() wrong")
		}

		r.sim.SignOut(0)
		if id, _ := r.sub.GetDeviceSelectionResults(0); id != 0 {
			t.Errorf("device kept after sign-out: 0x%X", id)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		r := newTestRig(t)
		r.sim.SignIn(0, hostXUID, "Host", true)
		var rec recorder
		r.sub.Delegates.DeviceSelection[0].Add(rec.add)

		r.sub.ShowDeviceSelectionUI(0, 0, true)
		r.pump()

		if rec.last(t).Code != platform.Cancelled {
			t.Errorf("code = %s", rec.last(t).Code)
		}
		if id, _ := r.sub.GetDeviceSelectionResults(0); id != 0 {
			t.Errorf("device = 0x%X after cancel", id)
		}
	})
}

// TestSetRichPresence verifies presence is published and copied into an
// advertised LAN session
func TestSetRichPresence(t *testing.T) {
	r := newTestRig(t)
	hostLan(t, r, lanSettings())

	r.sub.SetRichPresence(0, 3,
		[]settings.Context{{ID: 0x10, ValueIndex: 5}},
		[]settings.Property{{ID: 0x21, Data: settings.Int32Data(99)}})

	user := r.sim.User(0)
	if user.Contexts[ContextPresence] != 3 || user.Contexts[0x10] != 5 {
		t.Errorf("contexts = %v", user.Contexts)
	}
	if v, _ := user.Properties[0x21].Int32(); v != 99 {
		t.Errorf("property 0x21 = %d", v)
	}
	if mode, ok := r.sub.RichPresence(0); !ok || mode != 3 {
		t.Errorf("RichPresence() = %d, %v", mode, ok)
	}
	gs := r.sub.GameSettings()
	if c, ok := gs.FindContext(0x10); !ok || c.ValueIndex != 5 {
		t.Errorf("LAN context 0x10 = %+v, %v", c, ok)
	}
	if _, ok := gs.FindProperty(0x21); !ok {
		t.Error("LAN property 0x21 missing")
	}
	if _, ok := r.sub.RichPresence(1); ok {
		t.Error("RichPresence() set for an untouched player")
	}
}

// TestSystemQueries verifies NAT, link and controller lookups
func TestSystemQueries(t *testing.T) {
	r := newTestRig(t)
	r.sim.SetNetwork(platform.NATStrict, false)
	r.sim.SetController(2, true)

	if r.sub.GetNATType() != platform.NATStrict {
		t.Errorf("GetNATType() = %s", r.sub.GetNATType())
	}
	if r.sub.HasLinkConnection() {
		t.Error("HasLinkConnection() = true")
	}
	if !r.sub.IsControllerConnected(2) || r.sub.IsControllerConnected(3) || r.sub.IsControllerConnected(8) {
		t.Error("IsControllerConnected() wrong")
	}
}
