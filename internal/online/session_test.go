package online

import (
	"testing"

	"online-subsystem/internal/nbo"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

const (
	hostXUID   settings.UniqueNetID = 0x100
	remoteXUID settings.UniqueNetID = 0x200
)

func liveSettings() *settings.GameSettings {
	return &settings.GameSettings{
		NumPublicConnections: 4,
		AllowInvites:         true,
		AllowJoinInProgress:  true,
		UsesStats:            true,
		LocalizedSettings:    []settings.Context{{ID: 0x10, ValueIndex: 2}, {ID: 0x11, ValueIndex: ContextValueAny}},
		Properties:           []settings.Property{{ID: 0x20, Data: settings.Int32Data(7)}},
	}
}

// hostLive creates a pending Live session hosted by player 0.
func hostLive(t *testing.T, r *testRig, gs *settings.GameSettings) {
	t.Helper()
	r.sim.SignIn(0, hostXUID, "Host", true)
	if !r.sub.CreateOnlineGame(0, gs) {
		t.Fatal("CreateOnlineGame() = false")
	}
	r.pump()
	if r.sub.State() != StatePending {
		t.Fatalf("State() = %s after create, want pending", r.sub.State())
	}
}

// TestCreateLiveSession verifies a Live create registers the host and
// publishes contexts, properties and QoS data
func TestCreateLiveSession(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Host", true)

	var rec recorder
	r.sub.Delegates.CreateOnlineGame.Add(rec.add)

	gs := liveSettings()
	if !r.sub.CreateOnlineGame(0, gs) {
		t.Fatal("CreateOnlineGame() = false")
	}
	if r.sub.State() != StateNoSession {
		t.Errorf("State() = %s before completion, want no_session", r.sub.State())
	}
	r.pump()

	if got := rec.last(t); !got.OK() || got.User != 0 {
		t.Errorf("create result = %+v", got)
	}
	if r.sub.State() != StatePending {
		t.Errorf("State() = %s, want pending", r.sub.State())
	}
	si := r.sub.SessionInfo()
	if si == nil || si.Handle == 0 {
		t.Fatal("session handle not set")
	}
	if gs.OwningPlayerID != hostXUID || gs.OwningPlayerName != "Host" {
		t.Errorf("owner = %s/%q", gs.OwningPlayerID, gs.OwningPlayerName)
	}
	if gs.NumOpenPublicConnections != 4 {
		t.Errorf("NumOpenPublicConnections = %d, want 4", gs.NumOpenPublicConnections)
	}
	if gs.ServerNonce == 0 {
		t.Error("server nonce not recorded")
	}
	if _, ok := r.sim.QoSListening(si.ID); !ok {
		t.Error("QoS listener not registered")
	}
	if r.sim.Calls("JoinLocal") != 1 {
		t.Errorf("JoinLocal calls = %d, want 1", r.sim.Calls("JoinLocal"))
	}
	if !r.voice.IsLocalRegistered(0) {
		t.Error("host not registered with voice")
	}

	user := r.sim.User(0)
	if user.Contexts[ContextGameType] != GameTypeStandard {
		t.Errorf("game type context = %d, want standard", user.Contexts[ContextGameType])
	}
	if user.Contexts[0x10] != 2 {
		t.Errorf("context 0x10 = %d, want 2", user.Contexts[0x10])
	}
	if _, ok := user.Contexts[0x11]; ok {
		t.Error("wildcard context was published")
	}
	if v, _ := user.Properties[0x20].Int32(); v != 7 {
		t.Errorf("property 0x20 = %d, want 7", v)
	}
}

// TestCreateRefused verifies creates that can't start fire no delegate
func TestCreateRefused(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())

	var rec recorder
	r.sub.Delegates.CreateOnlineGame.Add(rec.add)

	if r.sub.CreateOnlineGame(0, liveSettings()) {
		t.Error("second CreateOnlineGame() = true")
	}
	fresh := newTestRig(t)
	fresh.sub.Delegates.CreateOnlineGame.Add(rec.add)
	if fresh.sub.CreateOnlineGame(0, nil) {
		t.Error("CreateOnlineGame(nil) = true")
	}
	if len(rec.results) != 0 {
		t.Errorf("delegate fired %d times", len(rec.results))
	}
}

// TestCreateLiveFailure verifies a failed create clears the session
func TestCreateLiveFailure(t *testing.T) {
	tests := []struct {
		name   string
		reject bool
	}{
		{"completion fails", false},
		{"call rejected", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRig(t)
			r.sim.SignIn(0, hostXUID, "Host", true)
			if tt.reject {
				r.sim.RejectNext("CreateSession", platform.Fail)
			} else {
				r.sim.FailNext("CreateSession", platform.Fail)
			}
			var rec recorder
			r.sub.Delegates.CreateOnlineGame.Add(rec.add)

			r.sub.CreateOnlineGame(0, liveSettings())
			r.pump()

			if got := rec.last(t); got.Code != platform.Fail {
				t.Errorf("code = %s, want Fail", got.Code)
			}
			if r.sub.GameSettings() != nil || r.sub.SessionInfo() != nil {
				t.Error("session not cleared")
			}
			if r.sub.State() != StateNoSession {
				t.Errorf("State() = %s", r.sub.State())
			}
		})
	}
}

// TestLiveSessionLifecycle verifies start, end and destroy walk the state
// machine and reach the SDK
func TestLiveSessionLifecycle(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())
	h := r.sub.SessionInfo().Handle

	var started, ended, destroyed recorder
	r.sub.Delegates.StartOnlineGame.Add(started.add)
	r.sub.Delegates.EndOnlineGame.Add(ended.add)
	r.sub.Delegates.DestroyOnlineGame.Add(destroyed.add)

	if !r.sub.StartOnlineGame() {
		t.Fatal("StartOnlineGame() = false")
	}
	r.pump()
	if r.sub.State() != StateInProgress || !started.last(t).OK() {
		t.Fatalf("after start State() = %s", r.sub.State())
	}
	if !r.sim.SessionStarted(h) {
		t.Error("SDK session not started")
	}

	if !r.sub.EndOnlineGame() {
		t.Fatal("EndOnlineGame() = false")
	}
	if r.sub.State() != StateEnding {
		t.Errorf("State() = %s while ending", r.sub.State())
	}
	r.pump()
	if r.sub.State() != StateEnded || !ended.last(t).OK() {
		t.Fatalf("after end State() = %s", r.sub.State())
	}

	if !r.sub.DestroyOnlineGame() {
		t.Fatal("DestroyOnlineGame() = false")
	}
	if r.sub.State() != StateNoSession || r.sub.GameSettings() != nil {
		t.Error("session not cleared at once")
	}
	r.pump()
	if !destroyed.last(t).OK() {
		t.Error("destroy delegate did not report success")
	}
	if r.sim.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", r.sim.SessionCount())
	}
	if r.voice.IsLocalRegistered(0) {
		t.Error("local talker survived destroy")
	}
}

// TestStateTransitionsOutOfOrder verifies calls in the wrong state report
// WrongState
func TestStateTransitionsOutOfOrder(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		r := newTestRig(t)
		var rec recorder
		r.sub.Delegates.StartOnlineGame.Add(rec.add)
		r.sub.Delegates.EndOnlineGame.Add(rec.add)
		r.sub.Delegates.DestroyOnlineGame.Add(rec.add)

		if r.sub.StartOnlineGame() || r.sub.EndOnlineGame() || r.sub.DestroyOnlineGame() {
			t.Error("operation without a session returned true")
		}
		if len(rec.results) != 3 {
			t.Fatalf("delegates fired %d times, want 3", len(rec.results))
		}
		for _, res := range rec.results {
			if res.Code != platform.WrongState {
				t.Errorf("%s code = %s, want WrongState", res.Task, res.Code)
			}
		}
	})

	t.Run("end while pending", func(t *testing.T) {
		r := newTestRig(t)
		hostLive(t, r, liveSettings())
		var rec recorder
		r.sub.Delegates.EndOnlineGame.Add(rec.add)

		if r.sub.EndOnlineGame() {
			t.Error("EndOnlineGame() = true while pending")
		}
		if rec.last(t).Code != platform.WrongState {
			t.Errorf("code = %s", rec.last(t).Code)
		}
		if r.sub.State() != StateEnded {
			t.Errorf("State() = %s, want ended so the session can be destroyed", r.sub.State())
		}
	})

	t.Run("start twice", func(t *testing.T) {
		r := newTestRig(t)
		hostLive(t, r, liveSettings())
		r.sub.StartOnlineGame()
		r.pump()
		var rec recorder
		r.sub.Delegates.StartOnlineGame.Add(rec.add)
		if r.sub.StartOnlineGame() {
			t.Error("StartOnlineGame() = true while in progress")
		}
		if rec.last(t).Code != platform.WrongState {
			t.Errorf("code = %s", rec.last(t).Code)
		}
	})
}

// TestDestroyDuringCreate verifies a handle created after the session was
// destroyed is closed rather than leaked
func TestDestroyDuringCreate(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Host", true)
	r.sub.CreateOnlineGame(0, liveSettings())
	r.sub.DestroyOnlineGame()

	r.pump()
	if r.sim.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", r.sim.SessionCount())
	}
	if r.sub.State() != StateNoSession {
		t.Errorf("State() = %s", r.sub.State())
	}
}

// TestEndWritesTrueSkill verifies reported scores reach the skill board when
// an unarbitrated game ends
func TestEndWritesTrueSkill(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())
	r.sub.StartOnlineGame()
	r.pump()

	r.sub.ReportScore(PlayerScore{Player: hostXUID, Team: 1, Score: 12})
	if len(r.sub.Scores()) != 1 {
		t.Fatalf("Scores() = %d entries", len(r.sub.Scores()))
	}
	r.sub.EndOnlineGame()
	r.pump()

	board := r.sim.Leaderboard(StatsViewSkill)
	if len(board) != 1 || board[0].PlayerID != hostXUID {
		t.Fatalf("skill board = %+v", board)
	}
	for _, c := range board[0].Columns {
		if c.ID == PropertyRelativeScore {
			if v, _ := c.Value.Int32(); v != 12 {
				t.Errorf("relative score = %d, want 12", v)
			}
		}
	}

	r.sub.DestroyOnlineGame()
	if len(r.sub.Scores()) != 0 {
		t.Error("scores survived destroy")
	}
}

// TestRegisterRemotePlayer verifies a remote player joins the session and
// voice, and leaves both again
func TestRegisterRemotePlayer(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())

	var reg, unreg recorder
	r.sub.Delegates.RegisterPlayer.Add(reg.add)
	r.sub.Delegates.UnregisterPlayer.Add(unreg.add)

	if !r.sub.RegisterPlayer(remoteXUID, false) {
		t.Fatal("RegisterPlayer() = false")
	}
	r.pump()
	if got := reg.last(t); !got.OK() || got.Player != remoteXUID {
		t.Errorf("register result = %+v", got)
	}
	if !r.voice.IsRemoteRegistered(remoteXUID) {
		t.Error("remote talker not registered")
	}

	if !r.sub.UnregisterPlayer(remoteXUID) {
		t.Fatal("UnregisterPlayer() = false")
	}
	r.pump()
	if got := unreg.last(t); !got.OK() || got.Player != remoteXUID {
		t.Errorf("unregister result = %+v", got)
	}
	if r.voice.IsRemoteRegistered(remoteXUID) {
		t.Error("remote talker still registered")
	}
}

// TestRegisterLocalPlayerIsNoop verifies registering a local XUID succeeds
// without an SDK call
func TestRegisterLocalPlayerIsNoop(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())
	var rec recorder
	r.sub.Delegates.RegisterPlayer.Add(rec.add)

	if !r.sub.RegisterPlayer(hostXUID, false) {
		t.Error("RegisterPlayer(local) = false")
	}
	if !rec.last(t).OK() {
		t.Error("local register did not report success")
	}
	if r.sim.Calls("JoinRemote") != 0 {
		t.Errorf("JoinRemote calls = %d, want 0", r.sim.Calls("JoinRemote"))
	}
}

// TestInvitedPlayerFallsBackToPublic verifies an invited join retries on the
// public slots when no private slot is free
func TestInvitedPlayerFallsBackToPublic(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())
	var rec recorder
	r.sub.Delegates.RegisterPlayer.Add(rec.add)

	r.sub.RegisterPlayer(remoteXUID, true)
	r.pump()

	if got := rec.last(t); !got.OK() {
		t.Errorf("code = %s, want success on the retry", got.Code)
	}
	if r.sim.Calls("JoinRemote") != 2 {
		t.Errorf("JoinRemote calls = %d, want 2", r.sim.Calls("JoinRemote"))
	}
}

// TestModifySessionSize verifies the slot counts reach the SDK
func TestModifySessionSize(t *testing.T) {
	r := newTestRig(t)
	hostLive(t, r, liveSettings())

	if !r.sub.ModifySessionSize(6, 2) {
		t.Fatal("ModifySessionSize() = false")
	}
	r.pump()
	pub, priv := r.sim.SessionSlots(r.sub.SessionInfo().Handle)
	if pub != 6 || priv != 2 {
		t.Errorf("slots = %d/%d, want 6/2", pub, priv)
	}
	gs := r.sub.GameSettings()
	if gs.NumPublicConnections != 6 || gs.NumOpenPublicConnections != 5 {
		t.Errorf("settings = %d/%d", gs.NumPublicConnections, gs.NumOpenPublicConnections)
	}
}

// TestResolvedConnectString verifies the host address is formatted
func TestResolvedConnectString(t *testing.T) {
	r := newTestRig(t)
	if _, ok := r.sub.GetResolvedConnectString(); ok {
		t.Error("resolved an address without a session")
	}
	hostLive(t, r, liveSettings())
	got, ok := r.sub.GetResolvedConnectString()
	if !ok || got != "127.0.0.1" {
		t.Errorf("GetResolvedConnectString() = %q, %v", got, ok)
	}
}

// TestLiveSearch verifies matchmaking hits are probed and hosts with
// malformed QoS data are dropped
func TestLiveSearch(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Seeker", true)

	good := platform.SearchHit{OpenPublic: 3, FilledPublic: 1}
	good.Info.ID = [8]byte{1}
	good.Info.Host.IP = 0x0A000005
	r.sim.Advertise(good, qosBlob(0x900, "Remote Host", 42), 35)

	noQoS := platform.SearchHit{OpenPublic: 2}
	noQoS.Info.ID = [8]byte{2}
	r.sim.Advertise(noQoS, nil, 10)

	full := platform.SearchHit{FilledPublic: 4}
	full.Info.ID = [8]byte{3}
	r.sim.Advertise(full, qosBlob(0x901, "Full Host", 43), 10)

	var rec recorder
	r.sub.Delegates.FindOnlineGames.Add(rec.add)

	search := &GameSearch{MaxSearchResults: 10}
	if !r.sub.FindOnlineGames(0, search) {
		t.Fatal("FindOnlineGames() = false")
	}
	if !search.InProgress || r.sub.GameSearch() != search {
		t.Error("search not marked in progress")
	}
	r.pump()

	if !rec.last(t).OK() {
		t.Errorf("code = %s", rec.last(t).Code)
	}
	if search.InProgress {
		t.Error("search still in progress")
	}
	if len(search.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(search.Results))
	}
	gs := search.Results[0].Settings
	if gs.OwningPlayerName != "Remote Host" || gs.OwningPlayerID != 0x900 || gs.ServerNonce != 42 {
		t.Errorf("settings = %+v", gs)
	}
	if gs.PingInMs != 35 || gs.NumPublicConnections != 4 {
		t.Errorf("ping=%d public=%d", gs.PingInMs, gs.NumPublicConnections)
	}
	if ping, ok := r.sub.CachedPing(good.Info.ID); !ok || ping != 35 {
		t.Errorf("CachedPing() = %d, %v", ping, ok)
	}
}

// TestLiveSearchCancel verifies a cancelled search never fires its delegate
func TestLiveSearchCancel(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Seeker", true)

	var found, cancelled recorder
	r.sub.Delegates.FindOnlineGames.Add(found.add)
	r.sub.Delegates.CancelFindOnlineGames.Add(cancelled.add)

	search := &GameSearch{}
	r.sub.FindOnlineGames(0, search)
	if !r.sub.CancelFindOnlineGames() {
		t.Fatal("CancelFindOnlineGames() = false")
	}
	r.pump()

	if len(found.results) != 0 {
		t.Error("cancelled search fired FindOnlineGames")
	}
	if !cancelled.last(t).OK() || search.InProgress {
		t.Error("cancel did not complete")
	}
	if r.sub.CancelFindOnlineGames() {
		t.Error("second cancel = true")
	}
}

// TestFreeSearchResultsRefusedWhileRunning verifies running results are kept
func TestFreeSearchResultsRefusedWhileRunning(t *testing.T) {
	r := newTestRig(t)
	r.sim.SignIn(0, hostXUID, "Seeker", true)
	search := &GameSearch{}
	r.sub.FindOnlineGames(0, search)

	if r.sub.FreeSearchResults() {
		t.Error("FreeSearchResults() = true while searching")
	}
	r.pump()
	if !r.sub.FreeSearchResults() || r.sub.GameSearch() != nil {
		t.Error("results not freed after the search")
	}
}

// qosBlob builds the data a host publishes to QoS probes.
func qosBlob(owner settings.UniqueNetID, name string, nonce uint64) []byte {
	w := nbo.NewWriter(64)
	w.PutUint64(uint64(owner)).PutString(name).PutUint64(nonce)
	return w.Bytes()
}
