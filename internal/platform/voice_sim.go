package platform

import (
	"sync"

	"online-subsystem/internal/settings"
)

// SimVoice is an in-memory VoiceEngine. Tests queue captured voice with
// Speak and inspect submitted packets with Submitted.
type SimVoice struct {
	mu        sync.Mutex
	locals    [MaxLocalPlayers]bool
	headsets  [MaxLocalPlayers]bool
	talking   [MaxLocalPlayers]bool
	captured  [MaxLocalPlayers][]byte
	remotes   map[settings.UniqueNetID]bool
	speaking  map[settings.UniqueNetID]bool
	priority  map[settings.UniqueNetID][MaxLocalPlayers]int32
	submitted map[settings.UniqueNetID][][]byte
}

// NewSimVoice creates a voice engine with a headset on every slot.
func NewSimVoice() *SimVoice {
	v := &SimVoice{
		remotes:   make(map[settings.UniqueNetID]bool),
		speaking:  make(map[settings.UniqueNetID]bool),
		priority:  make(map[settings.UniqueNetID][MaxLocalPlayers]int32),
		submitted: make(map[settings.UniqueNetID][][]byte),
	}
	for i := range v.headsets {
		v.headsets[i] = true
	}
	return v
}

// SetHeadset plugs or unplugs a local headset.
func (v *SimVoice) SetHeadset(user int, present bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if validUser(user) {
		v.headsets[user] = present
	}
}

// Speak queues captured voice for a local user.
func (v *SimVoice) Speak(user int, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if validUser(user) {
		v.captured[user] = append(v.captured[user], data...)
		v.talking[user] = true
	}
}

// SetRemoteTalking marks a remote talker as speaking or not.
func (v *SimVoice) SetRemoteTalking(id settings.UniqueNetID, talking bool) {
	v.mu.Lock()
	v.speaking[id] = talking
	v.mu.Unlock()
}

// Submitted returns the packets submitted for a remote talker.
func (v *SimVoice) Submitted(id settings.UniqueNetID) [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte(nil), v.submitted[id]...)
}

// Priority returns the playback priority of a remote talker for a local user.
func (v *SimVoice) Priority(id settings.UniqueNetID, user int) int32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !validUser(user) {
		return 0
	}
	return v.priority[id][user]
}

// IsRemoteRegistered reports whether a remote talker is registered.
func (v *SimVoice) IsRemoteRegistered(id settings.UniqueNetID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.remotes[id]
}

// IsLocalRegistered reports whether a local talker is registered.
func (v *SimVoice) IsLocalRegistered(user int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return validUser(user) && v.locals[user]
}

func (v *SimVoice) RegisterLocalTalker(user int) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !validUser(user) {
		return Fail
	}
	v.locals[user] = true
	return Success
}

func (v *SimVoice) UnregisterLocalTalker(user int) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !validUser(user) || !v.locals[user] {
		return Fail
	}
	v.locals[user] = false
	v.captured[user] = nil
	v.talking[user] = false
	return Success
}

func (v *SimVoice) RegisterRemoteTalker(id settings.UniqueNetID) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.remotes[id] = true
	return Success
}

func (v *SimVoice) UnregisterRemoteTalker(id settings.UniqueNetID) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.remotes[id] {
		return Fail
	}
	delete(v.remotes, id)
	delete(v.speaking, id)
	delete(v.priority, id)
	return Success
}

func (v *SimVoice) IsHeadsetPresent(user int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return validUser(user) && v.headsets[user]
}

func (v *SimVoice) IsLocalTalking(user int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return validUser(user) && v.locals[user] && v.talking[user]
}

func (v *SimVoice) IsRemoteTalking(id settings.UniqueNetID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.remotes[id] && v.speaking[id]
}

func (v *SimVoice) SetPlaybackPriority(id settings.UniqueNetID, user int, priority int32) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.remotes[id] || !validUser(user) {
		return Fail
	}
	p := v.priority[id]
	p[user] = priority
	v.priority[id] = p
	return Success
}

func (v *SimVoice) DataReadyFlags() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var flags uint32
	for i := range v.captured {
		if v.locals[i] && len(v.captured[i]) > 0 {
			flags |= 1 << i
		}
	}
	return flags
}

func (v *SimVoice) ReadLocalVoice(user int, buf []byte) (int, Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !validUser(user) || !v.locals[user] {
		return 0, Fail
	}
	n := copy(buf, v.captured[user])
	v.captured[user] = v.captured[user][n:]
	if len(v.captured[user]) == 0 {
		v.talking[user] = false
	}
	return n, Success
}

func (v *SimVoice) SubmitRemoteVoice(id settings.UniqueNetID, data []byte) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.remotes[id] {
		return Fail
	}
	v.submitted[id] = append(v.submitted[id], append([]byte(nil), data...))
	return Success
}
