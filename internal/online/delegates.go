package online

import (
	"slices"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// AsyncResult is what a completion delegate receives.
type AsyncResult struct {
	Task   string               `json:"task"`
	Code   platform.Result      `json:"code"`
	User   int                  `json:"user"`
	Player settings.UniqueNetID `json:"player,omitempty"`
}

// OK reports whether the operation completed successfully.
func (r AsyncResult) OK() bool {
	return r.Code == platform.Success
}

// DelegateSlot is a list of callbacks fired together. Slots are owned by
// the subsystem and only touched from the tick goroutine.
type DelegateSlot[T any] struct {
	handlers []func(T)
}

// Add appends a callback.
func (d *DelegateSlot[T]) Add(fn func(T)) {
	if fn != nil {
		d.handlers = append(d.handlers, fn)
	}
}

// Clear removes every callback.
func (d *DelegateSlot[T]) Clear() {
	d.handlers = nil
}

// Len returns the number of callbacks.
func (d *DelegateSlot[T]) Len() int {
	if d == nil {
		return 0
	}
	return len(d.handlers)
}

// Fire calls every callback with v. Callbacks may add or clear handlers
// on the same slot; the call list is fixed when Fire starts.
func (d *DelegateSlot[T]) Fire(v T) {
	if d == nil || len(d.handlers) == 0 {
		return
	}
	for _, fn := range slices.Clone(d.handlers) {
		fn(v)
	}
}

// CompletionSlot is the delegate type attached to async tasks.
type CompletionSlot = DelegateSlot[AsyncResult]

// ConnectionStatus is the service connection state reported to callers.
type ConnectionStatus uint8

const (
	ConnectionUnknown ConnectionStatus = iota
	ConnectionConnected
	ConnectionNotConnected
	ConnectionDropped
	ConnectionNoNetwork
	ConnectionServiceUnavailable
	ConnectionUpdateRequired
	ConnectionServersTooBusy
	ConnectionDuplicateLogin
	ConnectionInvalidUser
)

func (c ConnectionStatus) String() string {
	switch c {
	case ConnectionConnected:
		return "connected"
	case ConnectionNotConnected:
		return "not_connected"
	case ConnectionDropped:
		return "dropped"
	case ConnectionNoNetwork:
		return "no_network"
	case ConnectionServiceUnavailable:
		return "service_unavailable"
	case ConnectionUpdateRequired:
		return "update_required"
	case ConnectionServersTooBusy:
		return "servers_too_busy"
	case ConnectionDuplicateLogin:
		return "duplicate_login"
	case ConnectionInvalidUser:
		return "invalid_user"
	default:
		return "unknown"
	}
}

// connectionStatusFromLogon maps a raw logon code.
func connectionStatusFromLogon(code uint32) ConnectionStatus {
	switch code {
	case platform.LogonConnected:
		return ConnectionConnected
	case platform.LogonDisconnected:
		return ConnectionNotConnected
	case platform.LogonNoNetwork:
		return ConnectionNoNetwork
	case platform.LogonServiceUnavailable:
		return ConnectionServiceUnavailable
	case platform.LogonUpdateRequired:
		return ConnectionUpdateRequired
	case platform.LogonServersTooBusy:
		return ConnectionServersTooBusy
	case platform.LogonDuplicateLogin:
		return ConnectionDuplicateLogin
	case platform.LogonInvalidUser:
		return ConnectionInvalidUser
	default:
		return ConnectionDropped
	}
}

// LoginStatus is passed to login change delegates. User is -1 for the
// global notification.
type LoginStatus struct {
	User  int
	State platform.SigninState
}

// ControllerStatus is passed to controller change delegates.
type ControllerStatus struct {
	Index     int
	Connected bool
}

// TalkingStatus is passed to talking delegates. User is the local slot for
// a local talker and -1 for a remote one.
type TalkingStatus struct {
	User    int
	Player  settings.UniqueNetID
	Talking bool
}

// InviteAccepted is passed to invite delegates. Settings is nil when the
// invited session could not be found.
type InviteAccepted struct {
	User     int
	Settings *settings.GameSettings
}

// Delegates holds every callback slot the subsystem fires.
type Delegates struct {
	CreateOnlineGame        CompletionSlot
	DestroyOnlineGame       CompletionSlot
	JoinOnlineGame          CompletionSlot
	StartOnlineGame         CompletionSlot
	EndOnlineGame           CompletionSlot
	FindOnlineGames         CompletionSlot
	CancelFindOnlineGames   CompletionSlot
	RegisterPlayer          CompletionSlot
	UnregisterPlayer        CompletionSlot
	ArbitrationRegistration CompletionSlot
	ReadOnlineStats         CompletionSlot
	FlushOnlineStats        CompletionSlot
	KeyboardInput           CompletionSlot

	ReadProfileSettings  [platform.MaxLocalPlayers]CompletionSlot
	WriteProfileSettings [platform.MaxLocalPlayers]CompletionSlot
	ReadFriends          [platform.MaxLocalPlayers]CompletionSlot
	ReadContent          [platform.MaxLocalPlayers]CompletionSlot
	QueryDownloads       [platform.MaxLocalPlayers]CompletionSlot
	DeviceSelection      [platform.MaxLocalPlayers]CompletionSlot
	UnlockAchievement    [platform.MaxLocalPlayers]CompletionSlot
	UnlockGamerPicture   [platform.MaxLocalPlayers]CompletionSlot
	GameInviteAccepted   [platform.MaxLocalPlayers]DelegateSlot[InviteAccepted]

	// System notifications
	Login              DelegateSlot[LoginStatus]
	PlayerLogin        [platform.MaxLocalPlayers]DelegateSlot[LoginStatus]
	MutingChange       DelegateSlot[struct{}]
	FriendsChange      [platform.MaxLocalPlayers]DelegateSlot[struct{}]
	ExternalUIChange   DelegateSlot[bool]
	ControllerChange   DelegateSlot[ControllerStatus]
	LinkStatusChange   DelegateSlot[bool]
	ConnectionStatus   DelegateSlot[ConnectionStatus]
	ProfileDataChanged [platform.MaxLocalPlayers]DelegateSlot[struct{}]
	ContentChange      [platform.MaxLocalPlayers]DelegateSlot[struct{}]
	Talking            DelegateSlot[TalkingStatus]
}
