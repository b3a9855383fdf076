package online

import (
	"log"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// RegisterLocalPlayers joins every Live signed in local player to the
// session. Invited players, and sessions without public slots, take the
// private slots first.
func (s *Subsystem) RegisterLocalPlayers(fromInvite bool) {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil {
		return
	}
	data := &PlayerSlotsData{}
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		if s.platform.SigninState(u) != platform.SignedInToLive {
			continue
		}
		data.Users = append(data.Users, u)
		s.RegisterLocalTalker(u)
	}
	if len(data.Users) == 0 {
		return
	}
	data.Private = make([]bool, len(data.Users))
	if fromInvite || gs.NumPublicConnections == 0 {
		private := min(len(data.Users), int(gs.NumOpenPrivateConnections))
		for i := 0; i < private; i++ {
			data.Private[i] = true
		}
	}
	t := &simpleTask{baseTask: newBaseTask("JoinLocal", nil, data)}
	code := s.platform.JoinLocal(si.Handle, data.Users, data.Private, t.overlapped())
	log.Printf("🎮 JoinLocal(%d players) returned 0x%08X", len(data.Users), uint32(code))
	s.issue(t, code)
}

// RegisterPlayer adds a remote player to the session and to voice.
func (s *Subsystem) RegisterPlayer(player settings.UniqueNetID, invited bool) bool {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil {
		fire(&s.Delegates.RegisterPlayer, "RegisterPlayer", platform.WrongState, -1)
		return false
	}
	if s.isLocalPlayer(player) {
		fire(&s.Delegates.RegisterPlayer, "RegisterPlayer", platform.Success, -1)
		return true
	}

	code := platform.Success
	if !gs.IsLanMatch {
		data := &RemotePlayerData{
			Players:    []settings.UniqueNetID{player},
			Private:    []bool{invited},
			WasInvited: invited,
		}
		t := &registerPlayerTask{baseTask: newBaseTask("JoinRemote", &s.Delegates.RegisterPlayer, data), data: data}
		code = s.platform.JoinRemote(si.Handle, data.Players, data.Private, t.overlapped())
		log.Printf("🎮 JoinRemote(%s, private %t) returned 0x%08X", player, invited, uint32(code))
		s.issue(t, code)
	}
	if !platform.Succeeded(code) {
		return false
	}
	s.RegisterRemoteTalker(player)
	s.emit(EventTypePlayer, "", PlayerPayload{Player: player.String(), Registered: true})
	if gs.IsLanMatch {
		s.Delegates.RegisterPlayer.Fire(AsyncResult{Task: "RegisterPlayer", Code: platform.Success, User: -1, Player: player})
	}
	return true
}

// registerPlayerTask retries a failed private join on public slots once.
type registerPlayerTask struct {
	baseTask
	data *RemotePlayerData
}

func (t *registerPlayerTask) ProcessAsyncResults(s *Subsystem) bool {
	if t.CompletionCode() == platform.Success || !t.data.WasInvited || t.data.SecondTry || s.sessionInfo == nil {
		return true
	}
	t.data.SecondTry = true
	for i := range t.data.Private {
		t.data.Private[i] = false
	}
	code := s.platform.JoinRemote(s.sessionInfo.Handle, t.data.Players, t.data.Private, t.reissue())
	log.Printf("🎮 JoinRemote retry on public slots returned 0x%08X", uint32(code))
	if !platform.Succeeded(code) {
		t.setCode(code)
		return true
	}
	return false
}

func (t *registerPlayerTask) result() AsyncResult {
	r := t.baseTask.result()
	if len(t.data.Players) > 0 {
		r.Player = t.data.Players[0]
	}
	return r
}

// UnregisterPlayer removes a remote player from the session and from voice.
func (s *Subsystem) UnregisterPlayer(player settings.UniqueNetID) bool {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil {
		fire(&s.Delegates.UnregisterPlayer, "UnregisterPlayer", platform.WrongState, -1)
		return false
	}
	s.UnregisterRemoteTalker(player)
	s.emit(EventTypePlayer, "", PlayerPayload{Player: player.String(), Registered: false})

	if gs.IsLanMatch || player == gs.OwningPlayerID {
		s.Delegates.UnregisterPlayer.Fire(AsyncResult{Task: "UnregisterPlayer", Code: platform.Success, User: -1, Player: player})
		return true
	}
	data := &RemotePlayerData{Players: []settings.UniqueNetID{player}}
	t := &asyncPlayerTask{baseTask: newBaseTask("LeaveRemote", &s.Delegates.UnregisterPlayer, data), player: player}
	code := s.platform.LeaveRemote(si.Handle, data.Players, t.overlapped())
	log.Printf("🎮 LeaveRemote(%s) returned 0x%08X", player, uint32(code))
	return s.issue(t, code)
}

// asyncPlayerTask shrinks an arbitrated session that lost a player mid game.
type asyncPlayerTask struct {
	baseTask
	player settings.UniqueNetID
}

func (t *asyncPlayerTask) ProcessAsyncResults(s *Subsystem) bool {
	gs := s.gameSettings
	if gs != nil && gs.UsesArbitration && s.state >= StateInProgress {
		s.ModifySessionSize(gs.NumPublicConnections-1, 0)
	}
	return true
}

func (t *asyncPlayerTask) result() AsyncResult {
	r := t.baseTask.result()
	r.Player = t.player
	return r
}
