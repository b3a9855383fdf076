package platform

import (
	"context"
	"testing"
	"time"

	"online-subsystem/internal/settings"
)

// TestSucceeded verifies pending calls count as accepted
func TestSucceeded(t *testing.T) {
	tests := []struct {
		code Result
		want bool
	}{
		{Success, true},
		{IOPending, true},
		{Fail, false},
		{NoMoreFiles, false},
		{WrongState, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := Succeeded(tt.code); got != tt.want {
				t.Errorf("Succeeded(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
	if Fail.String() != "0xFFFFFFFF" {
		t.Errorf("Fail.String() = %s", Fail.String())
	}
}

// TestOverlappedLifecycle verifies Result reports IOPending until completion
func TestOverlappedLifecycle(t *testing.T) {
	var ov Overlapped
	if ov.IsComplete() || ov.Result() != IOPending {
		t.Fatal("fresh handle should be pending")
	}
	ov.Complete(NoMoreFiles)
	if !ov.IsComplete() || ov.Result() != NoMoreFiles {
		t.Errorf("completed handle = %v %s", ov.IsComplete(), ov.Result())
	}
	ov.Reset()
	if ov.IsComplete() {
		t.Error("Reset should clear completion")
	}
}

// TestSimLatency verifies calls complete only after the configured steps
func TestSimLatency(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.Latency = 2
	sim := NewSim(cfg)
	sim.SignIn(0, 0x10, "Alpha", true)

	var ov Overlapped
	var out SessionCreated
	if r := sim.CreateSession(SessionRequest{Flags: FlagHost, PublicSlots: 4}, &out, &ov); r != IOPending {
		t.Fatalf("CreateSession = %s", r)
	}
	for i := 0; i < 2; i++ {
		if sim.Step() != 0 || ov.IsComplete() {
			t.Fatalf("completed early at step %d", i)
		}
	}
	if sim.Step() != 1 || ov.Result() != Success {
		t.Fatalf("expected completion, got %s", ov.Result())
	}
	if out.Handle == 0 || out.Nonce == 0 || out.Info.Host.IP != cfg.Address.IP {
		t.Errorf("created = %+v", out)
	}
	if sim.SessionCount() != 1 {
		t.Errorf("SessionCount = %d", sim.SessionCount())
	}
}

// TestSimInjection verifies FailNext and RejectNext apply once
func TestSimInjection(t *testing.T) {
	sim := NewSim(DefaultSimConfig())

	sim.RejectNext("CreateSession", WrongState)
	var out SessionCreated
	var ov Overlapped
	if r := sim.CreateSession(SessionRequest{}, &out, &ov); r != WrongState {
		t.Errorf("rejected call = %s", r)
	}
	if sim.Pending() != 0 {
		t.Error("rejected call must not be queued")
	}

	sim.FailNext("CreateSession", Fail)
	if r := sim.CreateSession(SessionRequest{}, &out, &ov); r != IOPending {
		t.Fatalf("issue = %s", r)
	}
	sim.CompleteAll()
	if ov.Result() != Fail || sim.SessionCount() != 0 {
		t.Errorf("failed op = %s, sessions %d", ov.Result(), sim.SessionCount())
	}

	ov.Reset()
	sim.CreateSession(SessionRequest{}, &out, &ov)
	sim.CompleteAll()
	if ov.Result() != Success {
		t.Errorf("injection should apply once, got %s", ov.Result())
	}
	if sim.Calls("CreateSession") != 3 {
		t.Errorf("Calls = %d", sim.Calls("CreateSession"))
	}
}

// TestSimRemoteSlots verifies private slots fill before the join fails
func TestSimRemoteSlots(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	var out SessionCreated
	var ov Overlapped
	sim.CreateSession(SessionRequest{Flags: FlagHost, PublicSlots: 1, PrivateSlots: 1}, &out, &ov)
	sim.CompleteAll()

	join := func(id settings.UniqueNetID, private bool) Result {
		var jov Overlapped
		sim.JoinRemote(out.Handle, []settings.UniqueNetID{id}, []bool{private}, &jov)
		sim.CompleteAll()
		return jov.Result()
	}
	if r := join(1, true); r != Success {
		t.Fatalf("first private join = %s", r)
	}
	if r := join(2, true); r != Fail {
		t.Errorf("second private join = %s, want Fail", r)
	}
	if r := join(2, false); r != Success {
		t.Errorf("public join = %s", r)
	}
	if r := join(3, false); r != Fail {
		t.Errorf("full session join = %s, want Fail", r)
	}
}

// TestSimFriendsEnumeration verifies paging and end-of-list codes
func TestSimFriendsEnumeration(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	sim.SignIn(0, 0x10, "Alpha", true)

	if _, r := sim.CreateFriendsEnumerator(0, 0, 1); r != NoMoreFiles {
		t.Errorf("empty list create = %s, want NoMoreFiles", r)
	}

	sim.UpdateUser(0, func(u *SimUser) {
		u.Friends = []FriendRecord{{ID: 1, Nickname: "one"}, {ID: 2, Nickname: "two"}}
	})
	h, r := sim.CreateFriendsEnumerator(0, 0, 1)
	if r != Success {
		t.Fatalf("create = %s", r)
	}
	var got []string
	for {
		var page []FriendRecord
		var ov Overlapped
		sim.EnumerateFriends(h, &page, &ov)
		sim.CompleteAll()
		if ov.Result() != Success {
			if ov.Result() != NoMoreFiles {
				t.Errorf("end code = %s", ov.Result())
			}
			break
		}
		for _, f := range page {
			got = append(got, f.Nickname)
		}
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("friends = %v", got)
	}
}

// TestSimStatsAroundPlayer verifies the window is centered on the player
func TestSimStatsAroundPlayer(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	var rows []StatsRow
	for i := 1; i <= 10; i++ {
		rows = append(rows, StatsRow{PlayerID: settings.UniqueNetID(i), Rank: int32(i)})
	}
	sim.SetLeaderboard(1, rows)

	h, _ := sim.CreateStatsEnumeratorAroundPlayer(6, StatsSpec{ViewID: 1}, 4)
	var view StatsView
	var ov Overlapped
	sim.EnumerateStats(h, &view, &ov)
	sim.CompleteAll()
	if len(view.Rows) != 4 || view.Rows[0].Rank != 4 || view.TotalRows != 10 {
		t.Errorf("view = %+v", view)
	}
}

// TestSimVoice verifies captured voice drains through ReadLocalVoice
func TestSimVoice(t *testing.T) {
	v := NewSimVoice()
	v.RegisterLocalTalker(1)
	v.Speak(1, []byte{1, 2, 3})
	if v.DataReadyFlags() != 1<<1 {
		t.Fatalf("flags = %b", v.DataReadyFlags())
	}
	buf := make([]byte, 8)
	if n, r := v.ReadLocalVoice(1, buf); n != 3 || r != Success {
		t.Errorf("read = %d %s", n, r)
	}
	if v.DataReadyFlags() != 0 || v.IsLocalTalking(1) {
		t.Error("voice should be drained")
	}
	if v.SubmitRemoteVoice(9, buf) != Fail {
		t.Error("submit to unregistered talker should fail")
	}
}

// TestSimRun verifies the background loop completes operations
func TestSimRun(t *testing.T) {
	sim := NewSim(DefaultSimConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx, time.Millisecond) }()

	var ov Overlapped
	var out SessionCreated
	sim.CreateSession(SessionRequest{PublicSlots: 2}, &out, &ov)
	deadline := time.After(time.Second)
	for !ov.IsComplete() {
		select {
		case <-deadline:
			t.Fatal("operation never completed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}
