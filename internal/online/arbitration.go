package online

import (
	"log"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// Registrant is one player registered for an arbitrated session.
type Registrant struct {
	MachineID       uint64               `json:"machineId"`
	PlayerID        settings.UniqueNetID `json:"playerId"`
	Trustworthiness uint8                `json:"trustworthiness"`
}

// RegisterForArbitration registers this machine with the arbitration
// service. Only pending arbitrated Live sessions can register.
func (s *Subsystem) RegisterForArbitration() bool {
	slot := &s.Delegates.ArbitrationRegistration
	gs, si := s.gameSettings, s.sessionInfo
	var reason string
	switch {
	case gs == nil || si == nil:
		reason = "Can't register for arbitration on a non-existent game"
	case gs.IsLanMatch:
		reason = "LAN matches don't use arbitration, ignoring call"
	case !gs.UsesArbitration:
		reason = "Can't register for arbitration on non-arbitrated games"
	case s.state != StatePending:
		reason = "Can't register for arbitration when the game is not pending"
	}
	if reason != "" {
		log.Printf("⚠️ %s", reason)
		fire(slot, "ArbitrationRegister", platform.WrongState, -1)
		return false
	}

	data := &ArbitrationData{}
	t := &arbitrationTask{baseTask: newBaseTask("ArbitrationRegister", slot, data), data: data}
	code := s.platform.ArbitrationRegister(si.Handle, gs.ServerNonce, &data.Registrants, t.overlapped())
	log.Printf("🎮 ArbitrationRegister() returned 0x%08X", uint32(code))
	return s.issue(t, code)
}

type arbitrationTask struct {
	baseTask
	data *ArbitrationData
}

func (t *arbitrationTask) ProcessAsyncResults(s *Subsystem) bool {
	if t.CompletionCode() == platform.Success {
		s.parseArbitrationResults(t.data.Registrants)
	}
	return true
}

// parseArbitrationResults replaces the arbitration list with one entry per
// registered user.
func (s *Subsystem) parseArbitrationResults(registrants []platform.ArbitrationRegistrant) {
	s.arbitrationList = s.arbitrationList[:0]
	for _, r := range registrants {
		for _, id := range r.Users {
			s.arbitrationList = append(s.arbitrationList, Registrant{
				MachineID:       r.MachineID,
				PlayerID:        id,
				Trustworthiness: r.Trustworthiness,
			})
		}
	}
	log.Printf("✅ Arbitration registration returned %d machines, %d players", len(registrants), len(s.arbitrationList))
}

// GetArbitratedPlayers returns a copy of the arbitration list.
func (s *Subsystem) GetArbitratedPlayers() []Registrant {
	return append([]Registrant(nil), s.arbitrationList...)
}

// WriteArbitrationData writes the final skill results of the match.
func (s *Subsystem) WriteArbitrationData() bool {
	return s.WriteTrueSkillStats()
}
