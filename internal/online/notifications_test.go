package online

import (
	"encoding/json"
	"testing"

	"online-subsystem/internal/platform"
)

// TestSigninChange verifies a sign-in change fires the global and per
// player delegates and drops the player's caches
func TestSigninChange(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(1, remoteXUID, "Second", true)
	r.sub.Init()

	r.sub.WriteProfileSettings(1, newGameProfile(1))
	r.pump()
	if r.sub.ProfileSettings(1) == nil {
		t.Fatal("profile not cached")
	}

	var global, player0, player1 []LoginStatus
	r.sub.Delegates.Login.Add(func(s LoginStatus) { global = append(global, s) })
	r.sub.Delegates.PlayerLogin[0].Add(func(s LoginStatus) { player0 = append(player0, s) })
	r.sub.Delegates.PlayerLogin[1].Add(func(s LoginStatus) { player1 = append(player1, s) })

	r.sim.SignIn(0, hostXUID, "Host", true)
	r.sim.SignOut(1)
	r.sim.Notify(platform.NotifySigninChanged, 0)
	r.sub.Tick(0)

	if len(global) != 1 || global[0].User != -1 {
		t.Errorf("Login = %+v", global)
	}
	if len(player0) != 1 || player0[0].State != platform.SignedInToLive {
		t.Errorf("PlayerLogin[0] = %+v", player0)
	}
	if len(player1) != 1 || player1[0].State != platform.NotSignedInState {
		t.Errorf("PlayerLogin[1] = %+v", player1)
	}
	if r.sub.ProfileSettings(1) != nil {
		t.Error("signed out player kept their profile")
	}
	if _, state := r.sub.GetContentList(0); state != ReadInProgress {
		t.Errorf("content state for the new player = %s, want a reread", state)
	}

	r.sim.Notify(platform.NotifySigninChanged, 0)
	r.sub.Tick(0)
	if len(player0) != 1 {
		t.Error("PlayerLogin fired again without a change")
	}
}

// TestSigninChangeUpdatesVoice verifies talkers follow Live sign-ins during
// a session
func TestSigninChangeUpdatesVoice(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())
	r.sub.Init()
	if r.voice.IsLocalRegistered(2) {
		t.Fatal("player 2 registered before signing in")
	}

	r.sim.SignIn(2, 0x300, "Third", true)
	r.sim.Notify(platform.NotifySigninChanged, 0)
	r.sub.Tick(0)
	if !r.voice.IsLocalRegistered(2) {
		t.Error("new Live player not registered with voice")
	}

	r.sim.SignOut(2)
	r.sim.Notify(platform.NotifySigninChanged, 0)
	r.sub.Tick(0)
	if r.voice.IsLocalRegistered(2) {
		t.Error("signed out player still registered with voice")
	}
}

// TestControllerChange verifies only controllers that changed are reported
func TestControllerChange(t *testing.T) {
	r := newTestRig(t)
	r.sim.SetController(0, true)
	r.sim.SetController(1, true)
	r.sub.Init()

	var got []ControllerStatus
	r.sub.Delegates.ControllerChange.Add(func(c ControllerStatus) { got = append(got, c) })

	r.sim.SetController(1, false)
	r.sim.SetController(3, true)
	r.sim.Notify(platform.NotifyControllerChanged, 0)
	r.sub.Tick(0)

	want := []ControllerStatus{{Index: 1, Connected: false}, {Index: 3, Connected: true}}
	if len(got) != len(want) {
		t.Fatalf("ControllerChange = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestMaskedNotifications verifies user masks select the per player delegates
func TestMaskedNotifications(t *testing.T) {
	tests := []struct {
		name string
		kind platform.NotificationKind
		slot func(d *Delegates, u int) *DelegateSlot[struct{}]
	}{
		{"friends", platform.NotifyFriendsChanged, func(d *Delegates, u int) *DelegateSlot[struct{}] { return &d.FriendsChange[u] }},
		{"profile", platform.NotifyProfileSettingChanged, func(d *Delegates, u int) *DelegateSlot[struct{}] { return &d.ProfileDataChanged[u] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			var fired [platform.MaxLocalPlayers]int
			for u := 0; u < platform.MaxLocalPlayers; u++ {
				tt.slot(&r.sub.Delegates, u).Add(func(struct{}) { fired[u]++ })
			}

			r.sim.Notify(tt.kind, 0b101)
			r.sub.Tick(0)

			if fired != [platform.MaxLocalPlayers]int{1, 0, 1, 0} {
				t.Errorf("fired = %v, want [1 0 1 0]", fired)
			}
		})
	}
}

// TestStatusNotifications verifies UI, link and connection changes reach
// their delegates
func TestStatusNotifications(t *testing.T) {
	r := newTestRig(t)
	var ui, link []bool
	var conn []ConnectionStatus
	r.sub.Delegates.ExternalUIChange.Add(func(open bool) { ui = append(ui, open) })
	r.sub.Delegates.LinkStatusChange.Add(func(up bool) { link = append(link, up) })
	r.sub.Delegates.ConnectionStatus.Add(func(c ConnectionStatus) { conn = append(conn, c) })

	r.sim.Notify(platform.NotifyExternalUI, 1)
	r.sim.Notify(platform.NotifyExternalUI, 0)
	r.sim.Notify(platform.NotifyLinkStateChanged, 0)
	r.sim.Notify(platform.NotifyConnectionChanged, platform.LogonDisconnected)
	r.sim.Notify(platform.NotifyConnectionChanged, platform.LogonServersTooBusy)
	r.sim.Notify(platform.NotifyConnectionChanged, 0xDEAD)
	r.sub.Tick(0)

	if len(ui) != 2 || !ui[0] || ui[1] {
		t.Errorf("ExternalUIChange = %v", ui)
	}
	if len(link) != 1 || link[0] {
		t.Errorf("LinkStatusChange = %v", link)
	}
	want := []ConnectionStatus{ConnectionNotConnected, ConnectionServersTooBusy, ConnectionDropped}
	if len(conn) != len(want) {
		t.Fatalf("ConnectionStatus = %v", conn)
	}
	for i := range want {
		if conn[i] != want[i] {
			t.Errorf("status %d = %s, want %s", i, conn[i], want[i])
		}
	}
	if r.sub.ConnectionStatus() != ConnectionDropped {
		t.Errorf("ConnectionStatus() = %s", r.sub.ConnectionStatus())
	}
}

// TestContentInstalledRereadsContent verifies new content refreshes every
// signed in player's list
func TestContentInstalledRereadsContent(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Host", false)
	seedContent(r, 0, "arena")
	r.sub.Init()
	r.pump()

	var changed int
	r.sub.Delegates.ContentChange[0].Add(func(struct{}) { changed++ })
	seedContent(r, 0, "docks")
	r.sim.Notify(platform.NotifyContentInstalled, 0)
	r.sub.Tick(0)
	r.pump()

	if changed != 1 {
		t.Errorf("ContentChange fired %d times", changed)
	}
	if list, _ := r.sub.GetContentList(0); len(list) != 2 {
		t.Errorf("content = %d items, want 2", len(list))
	}
	if _, state := r.sub.GetContentList(1); state != ReadNotStarted {
		t.Errorf("signed out player content state = %s", state)
	}
}

// TestMuteListChange verifies the permanent mute list is applied to
// registered remote talkers
func TestMuteListChange(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())
	r.sub.RegisterPlayer(remoteXUID, false)
	r.pump()

	var muting int
	r.sub.Delegates.MutingChange.Add(func(struct{}) { muting++ })

	r.sim.UpdateUser(0, func(u *platform.SimUser) { u.Muted[remoteXUID] = true })
	r.sim.Notify(platform.NotifyMuteListChanged, 0)
	r.sub.Tick(0)

	if muting != 1 {
		t.Errorf("MutingChange fired %d times", muting)
	}
	if got := r.voice.Priority(remoteXUID, 0); got != platform.PlaybackPriorityNever {
		t.Errorf("priority = %d, want never", got)
	}

	r.sim.UpdateUser(0, func(u *platform.SimUser) { delete(u.Muted, remoteXUID) })
	r.sim.Notify(platform.NotifyMuteListChanged, 0)
	r.sub.Tick(0)
	if got := r.voice.Priority(remoteXUID, 0); got != 0 {
		t.Errorf("priority = %d after unmute, want 0", got)
	}
}

// TestNotificationEvents verifies drained notifications reach observers
func TestNotificationEvents(t *testing.T) {
	r := newTestRig(t)
	var events eventRecorder
	r.sub.AddObserver(&events)

	r.sim.Notify(platform.NotifyLinkStateChanged, 1)
	r.sub.Tick(0)

	got := events.ofType(EventTypeNotification)
	if len(got) != 1 {
		t.Fatalf("notification events = %d", len(got))
	}
	var p NotificationPayload
	if err := json.Unmarshal(got[0].Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Kind != "link_state_changed" || p.Param != 1 {
		t.Errorf("payload = %+v", p)
	}
}
