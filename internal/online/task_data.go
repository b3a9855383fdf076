package online

import (
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// TaskData is the payload a task owns while its SDK call is in flight.
// The SDK writes into these buffers, so they live as long as the task.
type TaskData interface {
	Kind() string
}

// PlayerSlotsData lists local players joining a session.
type PlayerSlotsData struct {
	Users   []int
	Private []bool
}

func (*PlayerSlotsData) Kind() string { return "player_slots" }

// SessionData receives the result of a create or join.
type SessionData struct {
	Created    platform.SessionCreated
	IsCreate   bool
	FromInvite bool
}

func (*SessionData) Kind() string { return "session" }

// RemotePlayerData is a remote join, retried on public slots when a
// private join fails.
type RemotePlayerData struct {
	Players    []settings.UniqueNetID
	Private    []bool
	SecondTry  bool
	WasInvited bool
}

func (*RemotePlayerData) Kind() string { return "remote_player" }

// MaxQoSLookups bounds the hosts probed for one search.
const MaxQoSLookups = 50

// SearchData holds the matchmaking results and the QoS probe of those hosts.
type SearchData struct {
	Hits           []platform.SearchHit
	Targets        []platform.SessionInfo
	QoS            []platform.QoSInfo
	WaitingForLive bool
}

func (*SearchData) Kind() string { return "search" }

// ProfileReadPhase is the step of a two-phase profile read.
type ProfileReadPhase uint8

const (
	// ReadingGameSettings reads the game blobs.
	ReadingGameSettings ProfileReadPhase = iota
	// ReadingLiveSettings reads ids the blobs and defaults did not cover.
	ReadingLiveSettings
)

// ProfileReadData is the state of a profile read.
type ProfileReadData struct {
	User   int
	IDs    []int32
	Phase  ProfileReadPhase
	Buffer []settings.ProfileSetting
}

func (*ProfileReadData) Kind() string { return "profile_read" }

// ProfileWriteData holds the stored blobs while a write is in flight.
type ProfileWriteData struct {
	User  int
	Blobs [settings.ProfileBlobCount][]byte
}

func (*ProfileWriteData) Kind() string { return "profile_write" }

// EnumTarget selects what an enumeration reads.
type EnumTarget uint8

const (
	EnumFriends EnumTarget = iota
	EnumContent
)

// ContentTaskMode is the step of a content enumeration.
type ContentTaskMode uint8

const (
	ContentEnumerate ContentTaskMode = iota
	ContentCreate
)

// EnumData pages through friends or content one record at a time.
type EnumData struct {
	Target  EnumTarget
	User    int
	Handle  platform.EnumHandle
	PerPage int
	Count   int

	Friends []platform.FriendRecord
	Content []platform.ContentRecord

	Mode         ContentTaskMode
	Current      platform.ContentRecord
	ContentDrive string
	Mount        platform.ContentMount
}

func (d *EnumData) Kind() string {
	if d.Target == EnumContent {
		return "content_enum"
	}
	return "friends_enum"
}

// Stats limits.
const (
	MaxPlayersPerStatsRead = 32
	MaxStatsViews          = 5
	MaxStatsPerView        = 64
)

// StatsReadData pages a stats read through the player list.
type StatsReadData struct {
	Players []settings.UniqueNetID
	Next    int
	Spec    platform.StatsSpec
	Handle  platform.EnumHandle
	View    platform.StatsView
}

// Page returns the players of the next read and advances the cursor.
func (d *StatsReadData) Page() []settings.UniqueNetID {
	end := min(d.Next+MaxPlayersPerStatsRead, len(d.Players))
	page := d.Players[d.Next:end]
	d.Next = end
	return page
}

// Remaining returns how many players are still to be read.
func (d *StatsReadData) Remaining() int {
	return len(d.Players) - d.Next
}

func (*StatsReadData) Kind() string { return "stats_read" }

// StatsWriteData is a stats write for one player.
type StatsWriteData struct {
	Player settings.UniqueNetID
	Views  []platform.StatsWrite
}

func (*StatsWriteData) Kind() string { return "stats_write" }

// KeyboardData holds the keyboard text and the optional validation result.
type KeyboardData struct {
	User       int
	Text       string
	Validate   bool
	Validating bool
	Valid      bool
}

func (*KeyboardData) Kind() string { return "keyboard" }

// ArbitrationData receives the registrant list.
type ArbitrationData struct {
	Registrants []platform.ArbitrationRegistrant
}

func (*ArbitrationData) Kind() string { return "arbitration" }

// DeviceData receives the selected storage device.
type DeviceData struct {
	User     int
	DeviceID uint32
	Name     string
}

func (*DeviceData) Kind() string { return "device" }

// DownloadsData receives the download counts.
type DownloadsData struct {
	User   int
	Counts platform.DownloadCounts
}

func (*DownloadsData) Kind() string { return "downloads" }

// InviteData receives the invited session.
type InviteData struct {
	User int
	Hits []platform.SearchHit
}

func (*InviteData) Kind() string { return "invite" }
