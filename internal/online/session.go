package online

import (
	"log"

	"online-subsystem/internal/nbo"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"
)

// PlayerScore is a score reported for the true skill write at game end.
type PlayerScore struct {
	Player settings.UniqueNetID `json:"player"`
	Team   int32                `json:"team"`
	Score  float32              `json:"score"`
}

// ============================================================================
// Create / join
// ============================================================================

// CreateOnlineGame hosts a session with host as the owning player. It
// returns false without firing a delegate when a session already exists or
// gs is nil.
func (s *Subsystem) CreateOnlineGame(host int, gs *settings.GameSettings) bool {
	if s.gameSettings != nil {
		log.Println("⚠️ Can't create a new session while one is in progress")
		return false
	}
	if gs == nil {
		log.Println("⚠️ Can't create a session with nil game settings")
		return false
	}
	s.gameSettings = gs
	s.sessionInfo = &SessionInfo{}
	gs.NumOpenPrivateConnections = gs.NumPrivateConnections
	gs.NumOpenPublicConnections = gs.NumPublicConnections
	gs.OwningPlayerID, _ = s.platform.XUID(host)
	gs.OwningPlayerName = s.platform.Gamertag(host)

	var code platform.Result
	if gs.IsLanMatch {
		code = s.createLanGame(host)
	} else {
		code = s.createLiveGame(host, true, false, &s.Delegates.CreateOnlineGame)
	}
	return platform.Succeeded(code)
}

// createLiveGame issues the session create. Joins use the same call with
// the host flag stripped and the target session filled in.
func (s *Subsystem) createLiveGame(user int, isCreate, fromInvite bool, delegate *CompletionSlot) platform.Result {
	gs := s.gameSettings
	if isCreate {
		for u := 0; u < platform.MaxLocalPlayers; u++ {
			if s.platform.SigninState(u) == platform.SignedInToLive {
				s.setContextsAndProperties(u)
			}
		}
	} else {
		s.setContextsAndProperties(user)
	}

	req := platform.SessionRequest{
		Flags:        s.buildSessionFlags(),
		User:         user,
		PublicSlots:  gs.NumPublicConnections,
		PrivateSlots: gs.NumPrivateConnections,
	}
	name := "CreateSession"
	if !isCreate {
		name = "JoinSession"
		req.Flags &^= platform.FlagHost
		join := s.sessionInfo.SessionInfo
		req.Join = &join
	}

	data := &SessionData{IsCreate: isCreate, FromInvite: fromInvite}
	t := &createSessionTask{baseTask: newBaseTask(name, delegate, data), data: data}
	t.user = user
	code := s.platform.CreateSession(req, &data.Created, t.overlapped())
	log.Printf("🎮 %s(flags 0x%08X, user %d, %d/%d) returned 0x%08X",
		name, uint32(req.Flags), user, req.PublicSlots, req.PrivateSlots, uint32(code))
	if !platform.Succeeded(code) {
		s.clearSession()
	}
	s.issue(t, code)
	return code
}

// createSessionTask finalizes a Live create or join.
type createSessionTask struct {
	baseTask
	data *SessionData
}

func (t *createSessionTask) ProcessAsyncResults(s *Subsystem) bool {
	created := t.data.Created
	if s.sessionInfo == nil {
		// Destroyed while the create was in flight.
		if t.CompletionCode() == platform.Success {
			s.platform.CloseSession(created.Handle)
		}
		return true
	}
	if t.CompletionCode() != platform.Success {
		log.Printf("⚠️ %s completed with 0x%08X", t.name, uint32(t.CompletionCode()))
		s.clearSession()
		return true
	}
	s.sessionInfo.SessionInfo = created.Info
	s.sessionInfo.Handle = created.Handle
	s.sessionInfo.Nonce = created.Nonce
	if t.data.IsCreate {
		s.registerQoS()
	}
	s.setState(StatePending)
	s.RegisterLocalPlayers(t.data.FromInvite)
	return true
}

func (s *Subsystem) createLanGame(host int) platform.Result {
	code := platform.Success
	if s.gameSettings.ShouldAdvertise {
		code = s.startLanHosting()
	}
	if code == platform.Success {
		s.RegisterLocalTalkers()
		s.setState(StatePending)
	} else {
		s.clearSession()
	}
	fire(&s.Delegates.CreateOnlineGame, "CreateOnlineGame", code, host)
	return code
}

// JoinOnlineGame joins a search result. It returns false without firing a
// delegate when a session already exists.
func (s *Subsystem) JoinOnlineGame(user int, result *SearchResult) bool {
	if s.sessionInfo != nil {
		log.Println("⚠️ Can't join a session while one is in progress")
		return false
	}
	if result == nil || result.Settings == nil {
		log.Println("⚠️ Can't join an empty search result")
		return false
	}
	// The session keeps its own copy; the search may be freed or rerun
	gs := result.Settings.Clone()
	s.gameSettings = gs
	s.sessionInfo = &SessionInfo{SessionInfo: result.Info}

	if !gs.IsLanMatch {
		return platform.Succeeded(s.createLiveGame(user, false, gs.WasFromInvite, &s.Delegates.JoinOnlineGame))
	}

	code := s.platform.RegisterKey(result.Info.ID, result.Info.Key)
	if code == platform.Success {
		s.RegisterLocalTalkers()
		s.setState(StatePending)
		log.Printf("🎮 Joined LAN game hosted by %s at %s", gs.OwningPlayerName, result.Info.Host.IPString())
	} else {
		log.Printf("⚠️ Failed to register host's keys 0x%08X", uint32(code))
		s.clearSession()
	}
	fire(&s.Delegates.JoinOnlineGame, "JoinOnlineGame", code, user)
	return code == platform.Success
}

// ============================================================================
// QoS
// ============================================================================

// registerQoS publishes the owner and nonce to hosts probing this session.
func (s *Subsystem) registerQoS() {
	gs, si := s.gameSettings, s.sessionInfo
	gs.ServerNonce = si.Nonce
	w := nbo.NewWriter(64)
	w.PutUint64(uint64(gs.OwningPlayerID)).PutString(gs.OwningPlayerName).PutUint64(gs.ServerNonce)
	code := s.platform.QoSListen(si.ID, w.Bytes(), true)
	log.Printf("📡 QoSListen(%d bytes) returned 0x%08X", w.Len(), uint32(code))
}

func (s *Subsystem) unregisterQoS() {
	if s.sessionInfo == nil {
		return
	}
	if code := s.platform.QoSListen(s.sessionInfo.ID, nil, false); code != platform.Success {
		log.Printf("⚠️ QoSListen(disable) returned 0x%08X", uint32(code))
	}
}

// ============================================================================
// Start / end / destroy
// ============================================================================

// StartOnlineGame moves a pending session in progress.
func (s *Subsystem) StartOnlineGame() bool {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil {
		fire(&s.Delegates.StartOnlineGame, "StartOnlineGame", platform.WrongState, -1)
		return false
	}
	if gs.IsLanMatch {
		if !gs.AllowJoinInProgress && s.lanState == LanHosting {
			s.stopLanBeacon()
		}
		s.setState(StateInProgress)
		fire(&s.Delegates.StartOnlineGame, "StartOnlineGame", platform.Success, -1)
		return true
	}
	if s.state != StatePending {
		log.Printf("⚠️ Can't start a session in state %s", s.state)
		fire(&s.Delegates.StartOnlineGame, "StartOnlineGame", platform.WrongState, -1)
		return false
	}
	if !gs.AllowJoinInProgress || gs.UsesArbitration {
		s.unregisterQoS()
	}
	t := newSimpleTask("StartSession", &s.Delegates.StartOnlineGame, func(s *Subsystem, code platform.Result) {
		if s.gameSettings == nil {
			return
		}
		if code == platform.Success && s.gameSettings.UsesArbitration {
			s.ShrinkToArbitratedRegistrantSize()
		}
		s.setState(StateInProgress)
	})
	code := s.platform.StartSession(si.Handle, t.overlapped())
	log.Printf("🎮 StartSession returned 0x%08X", uint32(code))
	return s.issue(t, code)
}

// EndOnlineGame ends an in progress session. Any failure still leaves the
// session Ended so it can be destroyed.
func (s *Subsystem) EndOnlineGame() bool {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil {
		fire(&s.Delegates.EndOnlineGame, "EndOnlineGame", platform.WrongState, -1)
		return false
	}
	if gs.IsLanMatch {
		fire(&s.Delegates.EndOnlineGame, "EndOnlineGame", platform.Success, -1)
		s.setState(StateEnded)
		return true
	}
	if s.state != StateInProgress {
		log.Printf("⚠️ Can't end a session in state %s", s.state)
		fire(&s.Delegates.EndOnlineGame, "EndOnlineGame", platform.WrongState, -1)
		s.setState(StateEnded)
		return false
	}
	if !gs.UsesArbitration {
		s.WriteTrueSkillStats()
	}
	s.setState(StateEnding)
	t := s.newStateChangeTask("EndSession", StateEnded, &s.Delegates.EndOnlineGame)
	code := s.platform.EndSession(si.Handle, t.overlapped())
	log.Printf("🎮 EndSession returned 0x%08X", uint32(code))
	if !s.issue(t, code) {
		s.setState(StateEnded)
		return false
	}
	return true
}

// newStateChangeTask moves the session to next when the call completes,
// whatever the code.
func (s *Subsystem) newStateChangeTask(name string, next SessionState, delegate *CompletionSlot) *simpleTask {
	return newSimpleTask(name, delegate, func(s *Subsystem, _ platform.Result) {
		if s.sessionInfo != nil {
			s.setState(next)
		}
	})
}

// DestroyOnlineGame tears the session down. The session is cleared at once;
// for Live the delete completes asynchronously.
func (s *Subsystem) DestroyOnlineGame() bool {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil {
		fire(&s.Delegates.DestroyOnlineGame, "DestroyOnlineGame", platform.WrongState, -1)
		return false
	}
	s.UnregisterLocalTalkers()
	s.RemoveAllRemoteTalkers()

	if gs.IsLanMatch {
		if s.lanState == LanHosting {
			s.stopLanBeacon()
		}
		if gs.ShouldAdvertise {
			s.platform.UnregisterKey(si.ID)
		}
		s.resetSession()
		log.Println("🛑 LAN session destroyed")
		fire(&s.Delegates.DestroyOnlineGame, "DestroyOnlineGame", platform.Success, -1)
		return true
	}

	s.unregisterQoS()
	h := si.Handle
	t := newSimpleTask("DeleteSession", &s.Delegates.DestroyOnlineGame, func(s *Subsystem, _ platform.Result) {
		s.platform.CloseSession(h)
	})
	code := s.platform.DeleteSession(h, t.overlapped())
	log.Printf("🛑 DeleteSession returned 0x%08X", uint32(code))
	s.resetSession()
	if !s.issue(t, code) {
		s.platform.CloseSession(h)
		return false
	}
	return true
}

// resetSession clears the session and everything scoped to it.
func (s *Subsystem) resetSession() {
	s.clearSession()
	s.arbitrationList = nil
	clear(s.scores)
}

// ============================================================================
// Session size
// ============================================================================

// ModifySessionSize changes the slot counts of the Live session.
func (s *Subsystem) ModifySessionSize(public, private int32) bool {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil || gs.IsLanMatch {
		return false
	}
	gs.NumPublicConnections = public
	gs.NumOpenPublicConnections = max(public-1, 0)
	gs.NumPrivateConnections = private
	gs.NumOpenPrivateConnections = private
	t := newSimpleTask("ModifySession", nil, nil)
	code := s.platform.ModifySession(si.Handle, s.buildSessionFlags(), public, private, t.overlapped())
	log.Printf("🎮 ModifySession(%d, %d) returned 0x%08X", public, private, uint32(code))
	return s.issue(t, code)
}

// ShrinkToArbitratedRegistrantSize drops every slot nobody registered for.
func (s *Subsystem) ShrinkToArbitratedRegistrantSize() bool {
	return s.ModifySessionSize(int32(len(s.arbitrationList)), 0)
}

// GetResolvedConnectString returns the dotted address of the session host.
func (s *Subsystem) GetResolvedConnectString() (string, bool) {
	if s.sessionInfo == nil {
		return "", false
	}
	ip, code := s.platform.ResolveAddress(s.sessionInfo.SessionInfo)
	if code != platform.Success {
		log.Printf("⚠️ ResolveAddress returned 0x%08X", uint32(code))
		return "", false
	}
	return syslink.FormatIP(ip), true
}

// ============================================================================
// True skill
// ============================================================================

// ReportScore records a player's score for the true skill write at the end
// of an unarbitrated session.
func (s *Subsystem) ReportScore(score PlayerScore) {
	s.scores[score.Player] = score
}

// Scores returns the reported scores.
func (s *Subsystem) Scores() []PlayerScore {
	out := make([]PlayerScore, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	return out
}

// WriteTrueSkillStats writes every reported score, stopping at the first
// failed write.
func (s *Subsystem) WriteTrueSkillStats() bool {
	for _, sc := range s.scores {
		if !s.WriteTrueSkillForPlayer(sc.Player, sc.Team, sc.Score) {
			return false
		}
	}
	return true
}

// WriteTrueSkillForPlayer synchronously writes one player's skill row.
func (s *Subsystem) WriteTrueSkillForPlayer(player settings.UniqueNetID, team int32, score float32) bool {
	if s.sessionInfo == nil || s.sessionInfo.Handle == 0 || s.state != StateInProgress {
		return false
	}
	view := platform.StatsWrite{
		ViewID: StatsViewSkill,
		Properties: []settings.Property{
			{ID: PropertyRelativeScore, Data: settings.Int32Data(int32(score))},
			{ID: PropertySessionTeam, Data: settings.Int32Data(team)},
		},
	}
	code := s.platform.WriteStats(s.sessionInfo.Handle, player, []platform.StatsWrite{view}, nil)
	if code != platform.Success {
		log.Printf("⚠️ WriteStats(skill, %s) returned 0x%08X", player, uint32(code))
	}
	return code == platform.Success
}
