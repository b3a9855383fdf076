package online

import (
	"log"
	"time"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// MaxVoicePacketSize bounds the voice data buffered per local talker
// between network sends.
const MaxVoicePacketSize = 1024

// LocalTalker is the voice state of one local player slot.
type LocalTalker struct {
	HasVoice    bool `json:"hasVoice"`
	IsTalking   bool `json:"isTalking"`
	UseLoopback bool `json:"useLoopback"`
	wasTalking  bool
}

// TalkerPriority is the playback priority of a remote talker for one local
// player. PlaybackPriorityNever mutes.
type TalkerPriority struct {
	CurrentPriority int32 `json:"currentPriority"`
	LastPriority    int32 `json:"lastPriority"`
}

// RemoteTalker is a registered remote player.
type RemoteTalker struct {
	ID              settings.UniqueNetID                     `json:"id"`
	IsTalking       bool                                     `json:"isTalking"`
	NumberOfMutes   int                                      `json:"numberOfMutes"`
	LocalPriorities [platform.MaxLocalPlayers]TalkerPriority `json:"localPriorities"`
	wasTalking      bool
}

// VoicePacket is voice data from one talker.
type VoicePacket struct {
	Sender settings.UniqueNetID
	Data   []byte
}

// ============================================================================
// Local talkers
// ============================================================================

// RegisterLocalTalkers registers every local slot with the voice engine.
func (s *Subsystem) RegisterLocalTalkers() {
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		s.RegisterLocalTalker(u)
	}
}

// UnregisterLocalTalkers removes every local slot from the voice engine.
func (s *Subsystem) UnregisterLocalTalkers() {
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		s.UnregisterLocalTalker(u)
	}
}

// RegisterLocalTalker enables voice for a signed in player. It does nothing
// without a session.
func (s *Subsystem) RegisterLocalTalker(user int) bool {
	if !validUser(user) || s.gameSettings == nil {
		return false
	}
	talker := &s.localTalkers[user]
	if s.platform.SigninState(user) == platform.NotSignedInState {
		talker.HasVoice, talker.UseLoopback = false, false
		return false
	}
	code := s.voice.RegisterLocalTalker(user)
	log.Printf("🎮 RegisterLocalTalker(%d) returned 0x%08X", user, uint32(code))
	if code != platform.Success {
		return false
	}
	talker.HasVoice = true
	s.updateMuteListForLocalTalker(user)
	return true
}

// UnregisterLocalTalker disables voice for a player.
func (s *Subsystem) UnregisterLocalTalker(user int) bool {
	if !validUser(user) {
		return false
	}
	talker := &s.localTalkers[user]
	if s.gameSettings == nil || !talker.HasVoice {
		return true
	}
	code := s.voice.UnregisterLocalTalker(user)
	log.Printf("🎮 UnregisterLocalTalker(%d) returned 0x%08X", user, uint32(code))
	*talker = LocalTalker{}
	s.outgoingVoice[user] = VoicePacket{}
	return code == platform.Success
}

// LocalTalkers returns a copy of the local talker slots.
func (s *Subsystem) LocalTalkers() [platform.MaxLocalPlayers]LocalTalker {
	return s.localTalkers
}

// IsLocalPlayerTalking asks the voice engine whether a player is talking.
func (s *Subsystem) IsLocalPlayerTalking(user int) bool {
	return validUser(user) && s.voice.IsLocalTalking(user)
}

// IsHeadsetPresent reports whether a player has a headset plugged in.
func (s *Subsystem) IsHeadsetPresent(user int) bool {
	return validUser(user) && s.voice.IsHeadsetPresent(user)
}

// ============================================================================
// Remote talkers
// ============================================================================

func (s *Subsystem) findRemoteTalker(id settings.UniqueNetID) *RemoteTalker {
	for i := range s.remoteTalkers {
		if s.remoteTalkers[i].ID == id {
			return &s.remoteTalkers[i]
		}
	}
	return nil
}

// RemoteTalkers returns a copy of the remote talker list.
func (s *Subsystem) RemoteTalkers() []RemoteTalker {
	return append([]RemoteTalker(nil), s.remoteTalkers...)
}

// RegisterRemoteTalker adds a remote player to voice. Registering a player
// twice is not an error.
func (s *Subsystem) RegisterRemoteTalker(id settings.UniqueNetID) bool {
	if s.gameSettings == nil {
		return false
	}
	if s.findRemoteTalker(id) != nil {
		log.Printf("🎮 Remote talker %s is being re-registered", id)
		return true
	}
	s.remoteTalkers = append(s.remoteTalkers, RemoteTalker{ID: id})
	code := s.voice.RegisterRemoteTalker(id)
	log.Printf("🎮 RegisterRemoteTalker(%s) returned 0x%08X", id, uint32(code))
	s.processMuteChange()
	return code == platform.Success
}

// UnregisterRemoteTalker removes a remote player from voice.
func (s *Subsystem) UnregisterRemoteTalker(id settings.UniqueNetID) bool {
	if s.gameSettings == nil {
		return false
	}
	for i := range s.remoteTalkers {
		if s.remoteTalkers[i].ID != id {
			continue
		}
		s.remoteTalkers = append(s.remoteTalkers[:i], s.remoteTalkers[i+1:]...)
		code := s.voice.UnregisterRemoteTalker(id)
		log.Printf("🎮 UnregisterRemoteTalker(%s) returned 0x%08X", id, uint32(code))
		return code == platform.Success
	}
	log.Printf("⚠️ Unknown remote talker %s", id)
	return false
}

// RemoveAllRemoteTalkers unregisters every remote talker.
func (s *Subsystem) RemoveAllRemoteTalkers() {
	for i := len(s.remoteTalkers) - 1; i >= 0; i-- {
		id := s.remoteTalkers[i].ID
		if code := s.voice.UnregisterRemoteTalker(id); code != platform.Success {
			log.Printf("⚠️ UnregisterRemoteTalker(%s) returned 0x%08X", id, uint32(code))
		}
	}
	s.remoteTalkers = nil
	s.incomingVoice = s.incomingVoice[:0]
}

// IsRemotePlayerTalking asks the voice engine whether a remote player is
// talking. Always false without a session.
func (s *Subsystem) IsRemotePlayerTalking(id settings.UniqueNetID) bool {
	return s.gameSettings != nil && s.voice.IsRemoteTalking(id)
}

// SetRemoteTalkerPriority sets the playback priority of a remote talker
// for one local player. 0 is highest; negative mutes.
func (s *Subsystem) SetRemoteTalkerPriority(user int, id settings.UniqueNetID, priority int32) bool {
	if !validUser(user) || s.gameSettings == nil {
		return false
	}
	talker := s.findRemoteTalker(id)
	if talker == nil {
		log.Printf("⚠️ Unknown remote talker %s", id)
		return false
	}
	p := &talker.LocalPriorities[user]
	p.LastPriority, p.CurrentPriority = p.CurrentPriority, priority
	code := s.voice.SetPlaybackPriority(id, user, priority)
	log.Printf("🎮 SetPlaybackPriority(%d, %s, %d) returned 0x%08X", user, id, priority, uint32(code))
	return code == platform.Success
}

// MuteRemoteTalker mutes a remote talker for one local player. This is
// separate from the player's permanent mute list.
func (s *Subsystem) MuteRemoteTalker(user int, id settings.UniqueNetID) bool {
	if !validUser(user) || s.gameSettings == nil {
		return false
	}
	talker := s.findRemoteTalker(id)
	if talker == nil {
		log.Printf("⚠️ Unknown remote talker %s", id)
		return false
	}
	talker.NumberOfMutes++
	p := &talker.LocalPriorities[user]
	p.LastPriority, p.CurrentPriority = p.CurrentPriority, platform.PlaybackPriorityNever
	code := s.voice.SetPlaybackPriority(id, user, platform.PlaybackPriorityNever)
	return code == platform.Success
}

// UnmuteRemoteTalker restores a remote talker for one local player. It
// fails for talkers on the player's permanent mute list.
func (s *Subsystem) UnmuteRemoteTalker(user int, id settings.UniqueNetID) bool {
	if !validUser(user) || s.gameSettings == nil {
		return false
	}
	talker := s.findRemoteTalker(id)
	if talker == nil {
		log.Printf("⚠️ Unknown remote talker %s", id)
		return false
	}
	if s.platform.MuteListQuery(user, id) {
		return false
	}
	if talker.NumberOfMutes > 0 {
		talker.NumberOfMutes--
	}
	p := &talker.LocalPriorities[user]
	p.LastPriority, p.CurrentPriority = p.CurrentPriority, 0
	code := s.voice.SetPlaybackPriority(id, user, 0)
	return code == platform.Success
}

// processMuteChange re-applies every local player's mute list.
func (s *Subsystem) processMuteChange() {
	if s.gameSettings == nil {
		return
	}
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		if s.localTalkers[u].HasVoice {
			s.updateMuteListForLocalTalker(u)
		}
	}
}

// updateMuteListForLocalTalker mutes remote talkers on the player's mute
// list and restores those that were taken off it.
func (s *Subsystem) updateMuteListForLocalTalker(user int) {
	for i := range s.remoteTalkers {
		talker := &s.remoteTalkers[i]
		p := &talker.LocalPriorities[user]
		muted := s.platform.MuteListQuery(user, talker.ID)
		switch {
		case muted && p.CurrentPriority != platform.PlaybackPriorityNever:
			p.LastPriority, p.CurrentPriority = p.CurrentPriority, platform.PlaybackPriorityNever
			talker.NumberOfMutes++
			s.voice.SetPlaybackPriority(talker.ID, user, platform.PlaybackPriorityNever)
		case !muted && p.CurrentPriority == platform.PlaybackPriorityNever:
			p.LastPriority, p.CurrentPriority = p.CurrentPriority, 0
			if talker.NumberOfMutes > 0 {
				talker.NumberOfMutes--
			}
			s.voice.SetPlaybackPriority(talker.ID, user, 0)
		}
	}
}

// updateVoiceFromLoginChange registers players who signed in to Live and
// drops those who signed out.
func (s *Subsystem) updateVoiceFromLoginChange() {
	if s.gameSettings == nil {
		return
	}
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		live := s.platform.SigninState(u) == platform.SignedInToLive
		switch {
		case s.localTalkers[u].HasVoice && !live:
			s.UnregisterLocalTalker(u)
		case !s.localTalkers[u].HasVoice && live:
			s.RegisterLocalTalker(u)
		}
	}
}

// ============================================================================
// Voice packets
// ============================================================================

// ReadLocalVoice returns and clears the voice buffered for one local
// player since the last call.
func (s *Subsystem) ReadLocalVoice(user int) (VoicePacket, bool) {
	if !validUser(user) || len(s.outgoingVoice[user].Data) == 0 {
		return VoicePacket{}, false
	}
	p := s.outgoingVoice[user]
	s.outgoingVoice[user] = VoicePacket{}
	return p, true
}

// SubmitRemoteVoice queues voice received from the network for playback
// on the next tick.
func (s *Subsystem) SubmitRemoteVoice(p VoicePacket) {
	if s.gameSettings == nil || len(p.Data) == 0 {
		return
	}
	s.incomingVoice = append(s.incomingVoice, p)
}

// TickVoice moves voice between the engine and the packet queues and fires
// talking delegates. It only runs while a session exists.
func (s *Subsystem) TickVoice(time.Duration) {
	if s.voice == nil || s.gameSettings == nil {
		return
	}
	s.processLocalVoicePackets()
	s.processRemoteVoicePackets()
	s.processTalkingDelegates()
}

func (s *Subsystem) processLocalVoicePackets() {
	flags := s.voice.DataReadyFlags()
	for u := 0; flags != 0 && u < platform.MaxLocalPlayers; u, flags = u+1, flags>>1 {
		if flags&1 == 0 {
			continue
		}
		s.localTalkers[u].wasTalking = true
		pkt := &s.outgoingVoice[u]
		space := MaxVoicePacketSize - len(pkt.Data)
		if space <= 0 {
			log.Printf("⚠️ Dropping voice data for player %d, network isn't keeping up", u)
			pkt.Data = pkt.Data[:0]
			continue
		}
		pkt.Sender, _ = s.platform.XUID(u)
		n, code := s.voice.ReadLocalVoice(u, s.voiceBuf[:space])
		if code == platform.Success && n > 0 {
			pkt.Data = append(pkt.Data, s.voiceBuf[:n]...)
		}
	}
}

func (s *Subsystem) processRemoteVoicePackets() {
	for _, p := range s.incomingVoice {
		if code := s.voice.SubmitRemoteVoice(p.Sender, p.Data); code != platform.Success {
			log.Printf("⚠️ SubmitRemoteVoice(%s) returned 0x%08X", p.Sender, uint32(code))
		}
		if t := s.findRemoteTalker(p.Sender); t != nil {
			t.wasTalking = true
		}
	}
	s.incomingVoice = s.incomingVoice[:0]
}

func (s *Subsystem) processTalkingDelegates() {
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		talker := &s.localTalkers[u]
		talker.IsTalking = talker.HasVoice && talker.wasTalking
		talker.wasTalking = false
		if !talker.IsTalking {
			continue
		}
		if id, code := s.platform.XUID(u); code == platform.Success {
			s.Delegates.Talking.Fire(TalkingStatus{User: u, Player: id, Talking: true})
			s.emit(EventTypeTalking, "", TalkingPayload{User: u, Player: id.String()})
		}
	}
	for i := range s.remoteTalkers {
		talker := &s.remoteTalkers[i]
		talker.IsTalking = talker.wasTalking && talker.NumberOfMutes == 0
		talker.wasTalking = false
		if !talker.IsTalking {
			continue
		}
		s.Delegates.Talking.Fire(TalkingStatus{User: -1, Player: talker.ID, Talking: true})
		s.emit(EventTypeTalking, "", TalkingPayload{User: -1, Player: talker.ID.String()})
	}
}
