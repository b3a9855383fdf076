package online

import (
	"log"

	"online-subsystem/internal/platform"
)

// processNotifications drains the system notification queue and routes
// each notification to its delegates.
func (s *Subsystem) processNotifications() {
	for {
		n, ok := s.platform.NextNotification()
		if !ok {
			return
		}
		s.emit(EventTypeNotification, "", NotificationPayload{Kind: n.Kind.String(), Param: n.Param})
		s.processNotification(n)
	}
}

func (s *Subsystem) processNotification(n platform.Notification) {
	switch n.Kind {
	case platform.NotifySigninChanged:
		s.processSigninChange()
	case platform.NotifyMuteListChanged:
		s.Delegates.MutingChange.Fire(struct{}{})
		s.processMuteChange()
	case platform.NotifyFriendsChanged:
		for u := 0; u < platform.MaxLocalPlayers; u++ {
			if n.Param&(1<<u) != 0 {
				s.Delegates.FriendsChange[u].Fire(struct{}{})
			}
		}
	case platform.NotifyExternalUI:
		s.Delegates.ExternalUIChange.Fire(n.Param != 0)
	case platform.NotifyControllerChanged:
		s.processControllerChange()
	case platform.NotifyLinkStateChanged:
		s.linkConnected = n.Param != 0
		log.Printf("📡 Link state changed, connected=%v", s.linkConnected)
		s.Delegates.LinkStatusChange.Fire(s.linkConnected)
	case platform.NotifyContentInstalled:
		for u := 0; u < platform.MaxLocalPlayers; u++ {
			s.ClearContentList(u)
			if s.platform.SigninState(u) != platform.NotSignedInState {
				s.ReadContentList(u)
			}
			s.Delegates.ContentChange[u].Fire(struct{}{})
		}
	case platform.NotifyInviteAccepted:
		s.processGameInvite(int(n.Param))
	case platform.NotifyConnectionChanged:
		s.connection = connectionStatusFromLogon(n.Param)
		log.Printf("📡 Connection status changed to %s (0x%08X)", s.connection, n.Param)
		s.Delegates.ConnectionStatus.Fire(s.connection)
	case platform.NotifyProfileSettingChanged:
		for u := 0; u < platform.MaxLocalPlayers; u++ {
			if n.Param&(1<<u) != 0 {
				s.Delegates.ProfileDataChanged[u].Fire(struct{}{})
			}
		}
	default:
		log.Printf("⚠️ Ignoring unknown notification %d", n.Kind)
	}
}

// processSigninChange fires the login delegates for every player whose
// sign-in or XUID changed, drops their cached profile and content, then
// rereads content and updates the voice talkers.
func (s *Subsystem) processSigninChange() {
	s.Delegates.Login.Fire(LoginStatus{User: -1})
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		s.ClearContentList(u)
		state := s.platform.SigninState(u)
		xuid, _ := s.platform.XUID(u)
		signedIn := state != platform.NotSignedInState
		wasSignedIn := s.lastSigninMask&(1<<u) != 0
		if signedIn != wasSignedIn || xuid != s.lastXUIDs[u] {
			log.Printf("🎮 Sign-in changed for player %d, discarding cached profile", u)
			s.profiles[u] = nil
			s.friends[u] = FriendsCache{}
			s.Delegates.PlayerLogin[u].Fire(LoginStatus{User: u, State: state})
		}
	}
	s.lastSigninMask = 0
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		s.lastXUIDs[u], _ = s.platform.XUID(u)
		if s.platform.SigninState(u) != platform.NotSignedInState {
			s.lastSigninMask |= 1 << u
			s.ReadContentList(u)
		}
	}
	s.updateVoiceFromLoginChange()
}

// processControllerChange fires ControllerChange for every controller
// whose connection differs from the last poll.
func (s *Subsystem) processControllerChange() {
	var mask uint32
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		bit := uint32(1) << u
		if s.platform.ControllerConnected(u) {
			mask |= bit
		}
		if mask&bit != s.lastControllerMask&bit {
			s.Delegates.ControllerChange.Fire(ControllerStatus{Index: u, Connected: mask&bit != 0})
		}
	}
	s.lastControllerMask = mask
}
