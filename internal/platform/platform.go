package platform

import (
	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"
)

// MaxLocalPlayers is the number of controller slots the SDK tracks.
const MaxLocalPlayers = 4

// SigninState is a local user's sign-in status.
type SigninState uint8

const (
	NotSignedInState SigninState = iota
	SignedInLocally
	SignedInToLive
)

func (s SigninState) String() string {
	switch s {
	case SignedInLocally:
		return "signed_in_locally"
	case SignedInToLive:
		return "signed_in_to_live"
	default:
		return "not_signed_in"
	}
}

// NATType is the SDK's view of the NAT in front of this machine.
type NATType uint8

const (
	NATUnknown NATType = iota
	NATOpen
	NATModerate
	NATStrict
)

func (n NATType) String() string {
	switch n {
	case NATOpen:
		return "open"
	case NATModerate:
		return "moderate"
	case NATStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Privilege is a per-user capability checked with CheckPrivilege.
type Privilege uint8

const (
	PrivilegeMultiplayer Privilege = iota
	PrivilegeCommunications
	PrivilegeCommunicationsFriendsOnly
	PrivilegeUserContent
	PrivilegeUserContentFriendsOnly
	PrivilegeProfileViewing
	PrivilegeProfileViewingFriendsOnly
	PrivilegePresence
	PrivilegePresenceFriendsOnly
	PrivilegePurchaseContent
)

// SessionFlags describe a session to the SDK.
type SessionFlags uint32

const (
	FlagHost SessionFlags = 1 << iota
	FlagUsesPresence
	FlagUsesStats
	FlagUsesMatchmaking
	FlagUsesArbitration
	FlagJoinInProgressDisabled
	FlagInvitesDisabled
	FlagJoinViaPresenceDisabled
)

type (
	SessionHandle uint64
	EnumHandle    uint64
)

// SessionInfo is the opaque triple needed to reach a session.
type SessionInfo struct {
	Host syslink.HostAddress `json:"host"`
	ID   syslink.SessionID   `json:"-"`
	Key  syslink.SessionKey  `json:"-"`
}

// SessionRequest is the input of CreateSession. Join is set when joining
// an existing session rather than hosting one.
type SessionRequest struct {
	Flags        SessionFlags
	User         int
	PublicSlots  int32
	PrivateSlots int32
	Join         *SessionInfo
}

// SessionCreated receives the result of CreateSession.
type SessionCreated struct {
	Handle SessionHandle
	Nonce  uint64
	Info   SessionInfo
}

// SearchQuery is a matchmaking query.
type SearchQuery struct {
	User       int
	QueryID    int32
	MaxResults int
	Contexts   []settings.Context
	Properties []settings.Property
}

// SearchHit is one matchmaking result.
type SearchHit struct {
	OpenPublic    int32
	OpenPrivate   int32
	FilledPublic  int32
	FilledPrivate int32
	Info          SessionInfo
	Contexts      []settings.Context
	Properties    []settings.Property
}

// QoSInfo is the probe result for one host.
type QoSInfo struct {
	RTTMs int32
	Data  []byte
}

// ArbitrationRegistrant is one machine in an arbitrated session.
type ArbitrationRegistrant struct {
	MachineID       uint64
	Trustworthiness uint8
	Users           []settings.UniqueNetID
}

// StatsSpec selects a leaderboard view and its columns.
type StatsSpec struct {
	ViewID  int32
	Columns []int32
}

// StatsColumn is one cell of a leaderboard row.
type StatsColumn struct {
	ID    int32
	Value settings.Data
}

// StatsRow is one player's leaderboard row. Rank 0 means unranked.
type StatsRow struct {
	PlayerID settings.UniqueNetID
	Nickname string
	Rank     int32
	Columns  []StatsColumn
}

// StatsView receives a page of a leaderboard read.
type StatsView struct {
	ViewID    int32
	TotalRows int32
	Rows      []StatsRow
}

// StatsWrite is one view's worth of stats for a player.
type StatsWrite struct {
	ViewID     int32
	Properties []settings.Property
}

// FriendRecord is one entry of a friends enumeration.
type FriendRecord struct {
	ID       settings.UniqueNetID
	Nickname string
	Online   bool
	Playing  bool
	Joinable bool
	Presence string
}

// ContentRecord is one entry of a content enumeration.
type ContentRecord struct {
	DeviceID    uint32
	ContentType uint32
	DisplayName string
	FileName    string
}

// ContentMount receives the result of OpenContent. Files are relative
// to Root.
type ContentMount struct {
	Root        string
	LicenseMask uint32
	Files       []string
}

// DownloadCounts receives the result of QueryDownloads.
type DownloadCounts struct {
	New   int
	Total int
}

// Invite is the session a user accepted an invite to.
type Invite struct {
	Inviter settings.UniqueNetID
	Info    SessionInfo
}

// Title specific profile settings used to store game data blobs.
const (
	TitleSpecific1 int32 = 0x3FFF
	TitleSpecific2 int32 = 0x3FFE
	TitleSpecific3 int32 = 0x3FFD
)

// TitleSpecificIDs lists the blob settings in storage order.
var TitleSpecificIDs = []int32{TitleSpecific1, TitleSpecific2, TitleSpecific3}

// NotificationKind identifies a system notification.
type NotificationKind uint8

const (
	NotifySigninChanged NotificationKind = iota + 1
	NotifyMuteListChanged
	NotifyFriendsChanged
	NotifyExternalUI
	NotifyControllerChanged
	NotifyLinkStateChanged
	NotifyContentInstalled
	NotifyInviteAccepted
	NotifyConnectionChanged
	NotifyProfileSettingChanged
)

func (k NotificationKind) String() string {
	switch k {
	case NotifySigninChanged:
		return "signin_changed"
	case NotifyMuteListChanged:
		return "mute_list_changed"
	case NotifyFriendsChanged:
		return "friends_changed"
	case NotifyExternalUI:
		return "external_ui"
	case NotifyControllerChanged:
		return "controller_changed"
	case NotifyLinkStateChanged:
		return "link_state_changed"
	case NotifyContentInstalled:
		return "content_installed"
	case NotifyInviteAccepted:
		return "invite_accepted"
	case NotifyConnectionChanged:
		return "connection_changed"
	case NotifyProfileSettingChanged:
		return "profile_setting_changed"
	default:
		return "unknown"
	}
}

// Notification is a queued system event. Param depends on Kind: a user
// mask for friends and profile changes, the user index for invites, non-zero
// for an opening UI or a connected link, and the logon code for connection
// changes.
type Notification struct {
	Kind  NotificationKind
	Param uint32
}

// Raw logon status codes carried by NotifyConnectionChanged.
const (
	LogonConnected          uint32 = 0x001510F0
	LogonDisconnected       uint32 = 0x001510F1
	LogonNoNetwork          uint32 = 0x80151000
	LogonServiceUnavailable uint32 = 0x80151001
	LogonUpdateRequired     uint32 = 0x80151002
	LogonServersTooBusy     uint32 = 0x80151003
	LogonDuplicateLogin     uint32 = 0x80151004
	LogonInvalidUser        uint32 = 0x80151005
)

// Platform is the SDK call surface. Calls that take an Overlapped return
// IOPending (or Success) when the operation was issued; the out pointers
// are written before the handle completes. Any other return means the call
// was rejected and the handle will never complete.
type Platform interface {
	// Users
	SigninState(user int) SigninState
	XUID(user int) (settings.UniqueNetID, Result)
	Gamertag(user int) string
	CheckPrivilege(user int, p Privilege) bool
	MuteListQuery(user int, id settings.UniqueNetID) bool

	// System
	NATType() NATType
	LinkConnected() bool
	ControllerConnected(index int) bool
	Random(p []byte) Result
	NextNotification() (Notification, bool)

	// Secure keys and addressing
	LocalAddress() (syslink.HostAddress, Result)
	CreateKey() (syslink.SessionID, syslink.SessionKey, Result)
	RegisterKey(id syslink.SessionID, key syslink.SessionKey) Result
	UnregisterKey(id syslink.SessionID) Result
	ResolveAddress(info SessionInfo) (uint32, Result)

	// Sessions
	SetContext(user int, id, value int32) Result
	SetProperty(user int, p settings.Property) Result
	CreateSession(req SessionRequest, out *SessionCreated, ov *Overlapped) Result
	DeleteSession(h SessionHandle, ov *Overlapped) Result
	CloseSession(h SessionHandle)
	StartSession(h SessionHandle, ov *Overlapped) Result
	EndSession(h SessionHandle, ov *Overlapped) Result
	ModifySession(h SessionHandle, flags SessionFlags, public, private int32, ov *Overlapped) Result
	JoinLocal(h SessionHandle, users []int, private []bool, ov *Overlapped) Result
	LeaveLocal(h SessionHandle, users []int, ov *Overlapped) Result
	JoinRemote(h SessionHandle, ids []settings.UniqueNetID, private []bool, ov *Overlapped) Result
	LeaveRemote(h SessionHandle, ids []settings.UniqueNetID, ov *Overlapped) Result
	ArbitrationRegister(h SessionHandle, nonce uint64, out *[]ArbitrationRegistrant, ov *Overlapped) Result
	// WriteStats is synchronous when ov is nil.
	WriteStats(h SessionHandle, player settings.UniqueNetID, views []StatsWrite, ov *Overlapped) Result
	FlushStats(h SessionHandle, ov *Overlapped) Result

	// Matchmaking
	Search(q SearchQuery, out *[]SearchHit, ov *Overlapped) Result
	SearchByID(user int, id syslink.SessionID, out *[]SearchHit, ov *Overlapped) Result
	QoSListen(id syslink.SessionID, data []byte, enable bool) Result
	QoSLookup(targets []SessionInfo, out *[]QoSInfo, ov *Overlapped) Result
	AcceptedInvite(user int) (Invite, Result)

	// Profile
	ReadProfile(user int, ids []int32, out *[]settings.ProfileSetting, ov *Overlapped) Result
	WriteProfile(user int, list []settings.ProfileSetting, ov *Overlapped) Result

	// Enumerations
	CreateFriendsEnumerator(user, start, perPage int) (EnumHandle, Result)
	EnumerateFriends(h EnumHandle, out *[]FriendRecord, ov *Overlapped) Result
	CreateContentEnumerator(user int) (EnumHandle, Result)
	EnumerateContent(h EnumHandle, out *[]ContentRecord, ov *Overlapped) Result
	OpenContent(user int, rec ContentRecord, out *ContentMount, ov *Overlapped) Result
	CloseEnumerator(h EnumHandle)
	QueryDownloads(user int, out *DownloadCounts, ov *Overlapped) Result

	// Stats
	ReadStats(players []settings.UniqueNetID, spec StatsSpec, out *StatsView, ov *Overlapped) Result
	CreateStatsEnumeratorByRank(spec StatsSpec, start, count int) (EnumHandle, Result)
	CreateStatsEnumeratorAroundPlayer(id settings.UniqueNetID, spec StatsSpec, count int) (EnumHandle, Result)
	EnumerateStats(h EnumHandle, out *StatsView, ov *Overlapped) Result

	// Player extras
	WriteAchievement(user int, id int32, ov *Overlapped) Result
	AwardGamerPicture(user int, id int32, ov *Overlapped) Result
	ShowKeyboard(user int, title, description, defaultText string, out *string, ov *Overlapped) Result
	VerifyString(text string, ok *bool, ov *Overlapped) Result
	ShowDeviceSelector(user int, minBytes int64, force bool, out *uint32, ov *Overlapped) Result
	DeviceName(id uint32) (string, bool)
}

// PlaybackPriorityNever mutes a remote talker for a local user.
const PlaybackPriorityNever int32 = -1

// VoiceEngine is the SDK's voice chat engine.
type VoiceEngine interface {
	RegisterLocalTalker(user int) Result
	UnregisterLocalTalker(user int) Result
	RegisterRemoteTalker(id settings.UniqueNetID) Result
	UnregisterRemoteTalker(id settings.UniqueNetID) Result
	IsHeadsetPresent(user int) bool
	IsLocalTalking(user int) bool
	IsRemoteTalking(id settings.UniqueNetID) bool
	SetPlaybackPriority(id settings.UniqueNetID, user int, priority int32) Result
	// DataReadyFlags has bit n set when local user n has voice data.
	DataReadyFlags() uint32
	ReadLocalVoice(user int, buf []byte) (int, Result)
	SubmitRemoteVoice(id settings.UniqueNetID, data []byte) Result
}
