package online

import (
	"log"

	"online-subsystem/internal/platform"
)

// Service defined context and property ids.
const (
	ContextPresence  int32 = 0x8001
	ContextGameType  int32 = 0x800A
	GameTypeRanked   int32 = 0
	GameTypeStandard int32 = 1

	PropertyRelativeScore int32 = 0x1000800A
	PropertySessionTeam   int32 = 0x1000800B

	// StatsViewSkill is the true skill leaderboard.
	StatsViewSkill int32 = -65536

	// ContextValueAny marks a context as unconstrained. It is never sent to
	// the service.
	ContextValueAny int32 = -1
)

// MaxSearchResults bounds one matchmaking query.
const MaxSearchResults = 50

// buildSessionFlags maps the session settings to create flags. Live
// sessions are created as host; joins strip the flag.
func (s *Subsystem) buildSessionFlags() platform.SessionFlags {
	gs := s.gameSettings
	var flags platform.SessionFlags
	if !gs.IsLanMatch {
		flags |= platform.FlagHost
	}
	if gs.ShouldAdvertise {
		flags |= platform.FlagUsesMatchmaking
	}
	if gs.UsesStats {
		flags |= platform.FlagUsesStats
	}
	if !gs.AllowJoinInProgress {
		flags |= platform.FlagJoinInProgressDisabled
	}
	if !gs.AllowInvites {
		flags |= platform.FlagInvitesDisabled
	}
	if gs.UsesArbitration {
		flags |= platform.FlagUsesArbitration
	}
	if gs.UsesPresence {
		flags |= platform.FlagUsesPresence
	}
	if !gs.AllowJoinViaPresence {
		flags |= platform.FlagJoinViaPresenceDisabled
	}
	return flags
}

// setContextsAndProperties publishes the game type, contexts and properties
// for one user.
func (s *Subsystem) setContextsAndProperties(user int) {
	gs := s.gameSettings
	gameType := GameTypeStandard
	if gs.UsesArbitration {
		gameType = GameTypeRanked
	}
	if code := s.platform.SetContext(user, ContextGameType, gameType); code != platform.Success {
		log.Printf("⚠️ SetContext(%d, game type) returned 0x%08X", user, uint32(code))
	}
	for _, c := range gs.LocalizedSettings {
		if c.ValueIndex == ContextValueAny {
			continue
		}
		if code := s.platform.SetContext(user, c.ID, c.ValueIndex); code != platform.Success {
			log.Printf("⚠️ SetContext(%d, 0x%08X) returned 0x%08X", user, uint32(c.ID), uint32(code))
		}
	}
	for _, p := range gs.Properties {
		if code := s.platform.SetProperty(user, p); code != platform.Success {
			log.Printf("⚠️ SetProperty(%d, 0x%08X) returned 0x%08X", user, uint32(p.ID), uint32(code))
		}
	}
}
