package online

import (
	"log"

	"online-subsystem/internal/platform"
)

// InviteCache is the pending invite of one local player and the search
// that resolved it.
type InviteCache struct {
	Invite *platform.Invite
	Search *GameSearch
	// joinPending is set when the player accepted before the lookup finished.
	joinPending bool
	resolving   bool
}

// processGameInvite looks up the session a player accepted an invite to.
// The GameInviteAccepted delegate fires once the lookup finishes.
func (s *Subsystem) processGameInvite(user int) {
	if !validUser(user) {
		return
	}
	inv, code := s.platform.AcceptedInvite(user)
	if code != platform.Success {
		log.Printf("⚠️ AcceptedInvite(%d) returned 0x%08X", user, uint32(code))
		return
	}
	if s.sessionInfo != nil && s.sessionInfo.ID == inv.Info.ID {
		log.Printf("🎮 Player %d accepted an invite to the session they are in, ignoring", user)
		return
	}
	cache := &s.invites[user]
	cache.Invite = &inv
	cache.Search = nil
	cache.joinPending = false
	cache.resolving = true

	data := &InviteData{User: user}
	t := &joinGameInviteTask{baseTask: newBaseTask("JoinGameInvite", nil, data), data: data}
	t.user = user
	code = s.platform.SearchByID(user, inv.Info.ID, &data.Hits, t.overlapped())
	log.Printf("🎮 SearchByID(invite from %s) returned 0x%08X", inv.Inviter, uint32(code))
	if !s.issue(t, code) {
		cache.Invite = nil
		cache.resolving = false
		s.Delegates.GameInviteAccepted[user].Fire(InviteAccepted{User: user})
	}
}

// joinGameInviteTask turns the invited session into a one result search.
type joinGameInviteTask struct {
	baseTask
	data *InviteData
}

func (t *joinGameInviteTask) ProcessAsyncResults(s *Subsystem) bool {
	user := t.data.User
	cache := &s.invites[user]
	accepted := InviteAccepted{User: user}
	if t.CompletionCode() == platform.Success && cache.Invite != nil {
		search := &GameSearch{}
		s.parseSearchResults(search, t.data.Hits)
		if len(search.Results) > 0 {
			r := &search.Results[0]
			r.Settings.WasFromInvite = true
			if ping, ok := s.CachedPing(r.Info.ID); ok {
				r.Settings.PingInMs = ping
			}
			cache.Search = search
			accepted.Settings = r.Settings
		} else {
			log.Printf("⚠️ Invited session for player %d is full or gone", user)
		}
	} else {
		log.Printf("⚠️ Invite lookup for player %d failed with 0x%08X", user, uint32(t.CompletionCode()))
	}
	cache.resolving = false
	s.Delegates.GameInviteAccepted[user].Fire(accepted)
	if cache.joinPending {
		cache.joinPending = false
		if accepted.Settings != nil {
			s.AcceptGameInvite(user)
		} else {
			cache.Invite = nil
			fire(&s.Delegates.JoinOnlineGame, "JoinOnlineGame", platform.Fail, user)
		}
	}
	return true
}

// PendingInvite returns the resolved invite of a player, if any.
func (s *Subsystem) PendingInvite(user int) (*SearchResult, bool) {
	if !validUser(user) {
		return nil, false
	}
	search := s.invites[user].Search
	if search == nil || len(search.Results) == 0 {
		return nil, false
	}
	return &search.Results[0], true
}

// AcceptGameInvite joins the session a player was invited to. When the
// invited session is still being looked up the join runs as soon as the
// lookup finishes.
func (s *Subsystem) AcceptGameInvite(user int) bool {
	if validUser(user) && s.invites[user].resolving {
		s.invites[user].joinPending = true
		log.Printf("🎮 Player %d will join the invited session once it is found", user)
		return true
	}
	result, ok := s.PendingInvite(user)
	if !ok {
		log.Printf("⚠️ No pending invite for player %d", user)
		return false
	}
	s.invites[user].Invite = nil
	joined := s.JoinOnlineGame(user, result)
	s.invites[user].Search = nil
	return joined
}
