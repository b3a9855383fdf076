package platform

import (
	"context"
	"log"
	"math/rand"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"
)

// SimConfig tunes the simulated SDK.
type SimConfig struct {
	// Latency is the number of Steps an issued call waits before completing.
	Latency int
	// FailRate is the chance an operation completes with Fail.
	FailRate  float64
	Seed      int64
	MachineID uint64
	Address   syslink.HostAddress
}

// DefaultSimConfig returns a config with immediate completion.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Seed:      1,
		MachineID: 0xFA0000000000001,
		Address: syslink.HostAddress{
			IP:         0x7F000001,
			OnlineIP:   0x7F000001,
			OnlinePort: 1000,
		},
	}
}

// SimContent is a content package installed for a user.
type SimContent struct {
	Record ContentRecord
	Files  []string
}

// SimUser is the simulated state of one controller slot.
type SimUser struct {
	State SigninState
	XUID  settings.UniqueNetID
	Name  string

	// Denied privileges. Everything else is granted to Live users.
	Denied map[Privilege]bool
	Muted  map[settings.UniqueNetID]bool

	Friends      []FriendRecord
	Profile      map[int32]settings.ProfileSetting
	Content      []SimContent
	Downloads    DownloadCounts
	Achievements map[int32]bool
	Pictures     map[int32]bool
	Contexts     map[int32]int32
	Properties   map[int32]settings.Data

	KeyboardText      string
	KeyboardCancelled bool
	Device            uint32
	Invite            *Invite
}

type simSession struct {
	flags       SessionFlags
	public      int32
	private     int32
	publicUsed  int32
	privateUsed int32
	info        SessionInfo
	nonce       uint64
	started     bool
	locals      map[int]bool
	remotes     map[settings.UniqueNetID]bool
}

func (ss *simSession) reserve(private bool, n int32) bool {
	if private {
		if ss.privateUsed+n > ss.private {
			return false
		}
		ss.privateUsed += n
		return true
	}
	if ss.publicUsed+n > ss.public {
		return false
	}
	ss.publicUsed += n
	return true
}

func (ss *simSession) release(private bool) {
	if private && ss.privateUsed > 0 {
		ss.privateUsed--
	} else if !private && ss.publicUsed > 0 {
		ss.publicUsed--
	}
}

type enumKind uint8

const (
	enumFriends enumKind = iota
	enumContent
	enumStatsRank
	enumStatsAround
)

type simEnum struct {
	kind    enumKind
	user    int
	pos     int
	perPage int
	spec    StatsSpec
	around  settings.UniqueNetID
	done    bool
}

type simAdvert struct {
	hit  SearchHit
	qos  []byte
	ping int32
}

type simOp struct {
	name  string
	ov    *Overlapped
	steps int
	apply func() Result
}

// Sim is an in-memory Platform. Issued calls queue until Step (or Run)
// completes them, which gives tests deterministic control over when each
// completion handle flips.
type Sim struct {
	mu  sync.Mutex
	cfg SimConfig
	rng *rand.Rand

	users       [MaxLocalPlayers]SimUser
	nat         NATType
	link        bool
	controllers [MaxLocalPlayers]bool

	keys       map[syslink.SessionID]syslink.SessionKey
	sessions   map[SessionHandle]*simSession
	nextHandle uint64
	adverts    []simAdvert
	listening  map[syslink.SessionID][]byte
	boards     map[int32][]StatsRow
	enums      map[EnumHandle]*simEnum
	nextEnum   uint64
	devices    map[uint32]string
	badWords   []string
	notes      []Notification

	ops    []*simOp
	fail   map[string]Result
	reject map[string]Result
	calls  map[string]int
}

// NewSim creates a simulated SDK with no users signed in.
func NewSim(cfg SimConfig) *Sim {
	s := &Sim{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		nat:       NATOpen,
		link:      true,
		keys:      make(map[syslink.SessionID]syslink.SessionKey),
		sessions:  make(map[SessionHandle]*simSession),
		listening: make(map[syslink.SessionID][]byte),
		boards:    make(map[int32][]StatsRow),
		enums:     make(map[EnumHandle]*simEnum),
		devices:   make(map[uint32]string),
		fail:      make(map[string]Result),
		reject:    make(map[string]Result),
		calls:     make(map[string]int),
	}
	for i := range s.users {
		s.users[i] = newSimUser()
	}
	return s
}

func newSimUser() SimUser {
	return SimUser{
		Denied:       make(map[Privilege]bool),
		Muted:        make(map[settings.UniqueNetID]bool),
		Profile:      make(map[int32]settings.ProfileSetting),
		Achievements: make(map[int32]bool),
		Pictures:     make(map[int32]bool),
		Contexts:     make(map[int32]int32),
		Properties:   make(map[int32]settings.Data),
	}
}

// ----------------------------------------------------------------------------
// Scenario setup
// ----------------------------------------------------------------------------

// SignIn signs a user in, to Live when live is set.
func (s *Sim) SignIn(user int, xuid settings.UniqueNetID, name string, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) {
		return
	}
	u := &s.users[user]
	u.XUID, u.Name = xuid, name
	u.State = SignedInLocally
	if live {
		u.State = SignedInToLive
	}
	s.controllers[user] = true
}

// SignOut resets a user slot.
func (s *Sim) SignOut(user int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if validUser(user) {
		s.users[user] = newSimUser()
	}
}

// UpdateUser edits a user slot under the sim lock.
func (s *Sim) UpdateUser(user int, fn func(u *SimUser)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if validUser(user) {
		fn(&s.users[user])
	}
}

// User returns a copy of a user slot's top-level fields.
func (s *Sim) User(user int) SimUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) {
		return SimUser{}
	}
	return s.users[user]
}

// SetNetwork sets the NAT type and link state.
func (s *Sim) SetNetwork(nat NATType, link bool) {
	s.mu.Lock()
	s.nat, s.link = nat, link
	s.mu.Unlock()
}

// SetController marks a controller as plugged in or not.
func (s *Sim) SetController(index int, connected bool) {
	s.mu.Lock()
	if validUser(index) {
		s.controllers[index] = connected
	}
	s.mu.Unlock()
}

// Advertise makes a remote session visible to Search and QoSLookup.
func (s *Sim) Advertise(hit SearchHit, qos []byte, pingMs int32) {
	s.mu.Lock()
	s.adverts = append(s.adverts, simAdvert{hit: hit, qos: append([]byte(nil), qos...), ping: pingMs})
	s.mu.Unlock()
}

// SetLeaderboard replaces a view's rows.
func (s *Sim) SetLeaderboard(view int32, rows []StatsRow) {
	s.mu.Lock()
	s.boards[view] = append([]StatsRow(nil), rows...)
	s.mu.Unlock()
}

// Leaderboard returns a copy of a view's rows.
func (s *Sim) Leaderboard(view int32) []StatsRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatsRow(nil), s.boards[view]...)
}

// AddDevice registers a storage device.
func (s *Sim) AddDevice(id uint32, name string) {
	s.mu.Lock()
	s.devices[id] = name
	s.mu.Unlock()
}

// AddBadWord makes VerifyString reject strings containing word.
func (s *Sim) AddBadWord(word string) {
	s.mu.Lock()
	s.badWords = append(s.badWords, strings.ToLower(word))
	s.mu.Unlock()
}

// Notify queues a system notification.
func (s *Sim) Notify(kind NotificationKind, param uint32) {
	s.mu.Lock()
	s.notes = append(s.notes, Notification{Kind: kind, Param: param})
	s.mu.Unlock()
}

// FailNext makes the next issued call to op complete with code.
func (s *Sim) FailNext(op string, code Result) {
	s.mu.Lock()
	s.fail[op] = code
	s.mu.Unlock()
}

// RejectNext makes the next call to op return code without issuing.
func (s *Sim) RejectNext(op string, code Result) {
	s.mu.Lock()
	s.reject[op] = code
	s.mu.Unlock()
}

// Calls returns how many times op was called.
func (s *Sim) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Pending returns the number of issued calls not yet completed.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// SessionCount returns the number of open session handles.
func (s *Sim) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SessionStarted reports whether a session handle has been started.
func (s *Sim) SessionStarted(h SessionHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.sessions[h]
	return ok && ss.started
}

// SessionSlots returns a session's public and private slot counts.
func (s *Sim) SessionSlots(h SessionHandle) (public, private int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[h]; ok {
		return ss.public, ss.private
	}
	return 0, 0
}

// KeyRegistered reports whether a session key is registered.
func (s *Sim) KeyRegistered(id syslink.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[id]
	return ok
}

// QoSListening returns the QoS data published for a session.
func (s *Sim) QoSListening(id syslink.SessionID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.listening[id]
	return data, ok
}

// ----------------------------------------------------------------------------
// Completion
// ----------------------------------------------------------------------------

// Step advances every issued call by one step and completes those whose
// latency has elapsed. It returns the number completed.
func (s *Sim) Step() int {
	s.mu.Lock()
	var done []*simOp
	var codes []Result
	kept := s.ops[:0]
	for _, op := range s.ops {
		if op.steps > 0 {
			op.steps--
			kept = append(kept, op)
			continue
		}
		code := Fail
		if s.cfg.FailRate <= 0 || s.rng.Float64() >= s.cfg.FailRate {
			code = op.apply()
		}
		done = append(done, op)
		codes = append(codes, code)
	}
	s.ops = kept
	s.mu.Unlock()

	for i, op := range done {
		op.ov.Complete(codes[i])
	}
	return len(done)
}

// CompleteAll steps until nothing is pending.
func (s *Sim) CompleteAll() {
	for s.Pending() > 0 {
		s.Step()
	}
}

// Run steps the sim on its own goroutine until ctx is cancelled, the way a
// vendor worker thread completes overlapped calls.
func (s *Sim) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("🧪 Simulated platform running (latency %d, fail rate %.2f)", s.cfg.Latency, s.cfg.FailRate)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}

// issue must be called with s.mu held. A nil ov applies synchronously.
func (s *Sim) issue(name string, ov *Overlapped, apply func() Result) Result {
	s.calls[name]++
	if r, ok := s.reject[name]; ok {
		delete(s.reject, name)
		return r
	}
	if ov == nil {
		return apply()
	}
	op := &simOp{name: name, ov: ov, steps: s.cfg.Latency, apply: apply}
	if r, ok := s.fail[name]; ok {
		delete(s.fail, name)
		op.apply = func() Result { return r }
	}
	s.ops = append(s.ops, op)
	return IOPending
}

// syncCall must be called with s.mu held.
func (s *Sim) syncCall(name string) (Result, bool) {
	s.calls[name]++
	if r, ok := s.reject[name]; ok {
		delete(s.reject, name)
		return r, true
	}
	return Success, false
}

func validUser(user int) bool {
	return user >= 0 && user < MaxLocalPlayers
}

func (s *Sim) randUint64() uint64 {
	for {
		if v := s.rng.Uint64(); v != 0 {
			return v
		}
	}
}

// ----------------------------------------------------------------------------
// Users and system
// ----------------------------------------------------------------------------

func (s *Sim) SigninState(user int) SigninState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) {
		return NotSignedInState
	}
	return s.users[user].State
}

func (s *Sim) XUID(user int) (settings.UniqueNetID, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].State == NotSignedInState {
		return 0, NotSignedIn
	}
	return s.users[user].XUID, Success
}

func (s *Sim) Gamertag(user int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) {
		return ""
	}
	return s.users[user].Name
}

func (s *Sim) CheckPrivilege(user int, p Privilege) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].State != SignedInToLive {
		return false
	}
	return !s.users[user].Denied[p]
}

func (s *Sim) MuteListQuery(user int, id settings.UniqueNetID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validUser(user) && s.users[user].Muted[id]
}

func (s *Sim) NATType() NATType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nat
}

func (s *Sim) LinkConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Sim) ControllerConnected(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validUser(index) && s.controllers[index]
}

func (s *Sim) Random(p []byte) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("Random"); rejected {
		return r
	}
	s.rng.Read(p)
	return Success
}

func (s *Sim) NextNotification() (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.notes) == 0 {
		return Notification{}, false
	}
	n := s.notes[0]
	s.notes = s.notes[1:]
	return n, true
}

// ----------------------------------------------------------------------------
// Keys and addressing
// ----------------------------------------------------------------------------

func (s *Sim) LocalAddress() (syslink.HostAddress, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("LocalAddress"); rejected {
		return syslink.HostAddress{}, r
	}
	return s.cfg.Address, Success
}

func (s *Sim) CreateKey() (syslink.SessionID, syslink.SessionKey, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id syslink.SessionID
	var key syslink.SessionKey
	if r, rejected := s.syncCall("CreateKey"); rejected {
		return id, key, r
	}
	s.rng.Read(id[:])
	s.rng.Read(key[:])
	return id, key, Success
}

func (s *Sim) RegisterKey(id syslink.SessionID, key syslink.SessionKey) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("RegisterKey"); rejected {
		return r
	}
	s.keys[id] = key
	return Success
}

func (s *Sim) UnregisterKey(id syslink.SessionID) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("UnregisterKey"); rejected {
		return r
	}
	if _, ok := s.keys[id]; !ok {
		return Fail
	}
	delete(s.keys, id)
	return Success
}

func (s *Sim) ResolveAddress(info SessionInfo) (uint32, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("ResolveAddress"); rejected {
		return 0, r
	}
	if info.Host.IP == 0 {
		return 0, Fail
	}
	return info.Host.IP, Success
}

// ----------------------------------------------------------------------------
// Sessions
// ----------------------------------------------------------------------------

func (s *Sim) SetContext(user int, id, value int32) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("SetContext"); rejected {
		return r
	}
	if !validUser(user) {
		return Fail
	}
	s.users[user].Contexts[id] = value
	return Success
}

func (s *Sim) SetProperty(user int, p settings.Property) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("SetProperty"); rejected {
		return r
	}
	if !validUser(user) {
		return Fail
	}
	s.users[user].Properties[p.ID] = p.Data
	return Success
}

func (s *Sim) CreateSession(req SessionRequest, out *SessionCreated, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("CreateSession", ov, func() Result {
		s.nextHandle++
		ss := &simSession{
			flags:   req.Flags,
			public:  req.PublicSlots,
			private: req.PrivateSlots,
			nonce:   s.randUint64(),
			locals:  make(map[int]bool),
			remotes: make(map[settings.UniqueNetID]bool),
		}
		if req.Join != nil {
			ss.info = *req.Join
		} else {
			ss.info.Host = s.cfg.Address
			s.rng.Read(ss.info.ID[:])
			s.rng.Read(ss.info.Key[:])
		}
		h := SessionHandle(s.nextHandle)
		s.sessions[h] = ss
		*out = SessionCreated{Handle: h, Nonce: ss.nonce, Info: ss.info}
		return Success
	})
}

// session must be called with s.mu held.
func (s *Sim) session(h SessionHandle) *simSession {
	return s.sessions[h]
}

func (s *Sim) DeleteSession(h SessionHandle, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session(h) == nil {
		s.calls["DeleteSession"]++
		return WrongState
	}
	return s.issue("DeleteSession", ov, func() Result {
		delete(s.sessions, h)
		return Success
	})
}

func (s *Sim) CloseSession(h SessionHandle) {
	s.mu.Lock()
	delete(s.sessions, h)
	s.mu.Unlock()
}

func (s *Sim) StartSession(h SessionHandle, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("StartSession", ov, func() Result {
		ss := s.session(h)
		if ss == nil {
			return WrongState
		}
		ss.started = true
		return Success
	})
}

func (s *Sim) EndSession(h SessionHandle, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("EndSession", ov, func() Result {
		ss := s.session(h)
		if ss == nil || !ss.started {
			return WrongState
		}
		ss.started = false
		return Success
	})
}

func (s *Sim) ModifySession(h SessionHandle, flags SessionFlags, public, private int32, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("ModifySession", ov, func() Result {
		ss := s.session(h)
		if ss == nil {
			return WrongState
		}
		ss.flags, ss.public, ss.private = flags, public, private
		return Success
	})
}

func (s *Sim) JoinLocal(h SessionHandle, users []int, private []bool, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	users = append([]int(nil), users...)
	private = append([]bool(nil), private...)
	return s.issue("JoinLocal", ov, func() Result {
		ss := s.session(h)
		if ss == nil {
			return WrongState
		}
		for i, u := range users {
			priv := i < len(private) && private[i]
			if !ss.reserve(priv, 1) {
				return Fail
			}
			ss.locals[u] = priv
		}
		return Success
	})
}

func (s *Sim) LeaveLocal(h SessionHandle, users []int, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	users = append([]int(nil), users...)
	return s.issue("LeaveLocal", ov, func() Result {
		ss := s.session(h)
		if ss == nil {
			return WrongState
		}
		for _, u := range users {
			if priv, ok := ss.locals[u]; ok {
				ss.release(priv)
				delete(ss.locals, u)
			}
		}
		return Success
	})
}

func (s *Sim) JoinRemote(h SessionHandle, ids []settings.UniqueNetID, private []bool, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids = append([]settings.UniqueNetID(nil), ids...)
	private = append([]bool(nil), private...)
	return s.issue("JoinRemote", ov, func() Result {
		ss := s.session(h)
		if ss == nil {
			return WrongState
		}
		var wantPrivate, wantPublic int32
		for i := range ids {
			if i < len(private) && private[i] {
				wantPrivate++
			} else {
				wantPublic++
			}
		}
		if ss.privateUsed+wantPrivate > ss.private || ss.publicUsed+wantPublic > ss.public {
			return Fail
		}
		ss.reserve(true, wantPrivate)
		ss.reserve(false, wantPublic)
		for i, id := range ids {
			ss.remotes[id] = i < len(private) && private[i]
		}
		return Success
	})
}

func (s *Sim) LeaveRemote(h SessionHandle, ids []settings.UniqueNetID, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids = append([]settings.UniqueNetID(nil), ids...)
	return s.issue("LeaveRemote", ov, func() Result {
		ss := s.session(h)
		if ss == nil {
			return WrongState
		}
		for _, id := range ids {
			if priv, ok := ss.remotes[id]; ok {
				ss.release(priv)
				delete(ss.remotes, id)
			}
		}
		return Success
	})
}

func (s *Sim) ArbitrationRegister(h SessionHandle, nonce uint64, out *[]ArbitrationRegistrant, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("ArbitrationRegister", ov, func() Result {
		ss := s.session(h)
		if ss == nil || ss.flags&FlagUsesArbitration == 0 {
			return WrongState
		}
		local := ArbitrationRegistrant{MachineID: s.cfg.MachineID, Trustworthiness: 1}
		for u := 0; u < MaxLocalPlayers; u++ {
			if _, ok := ss.locals[u]; ok {
				local.Users = append(local.Users, s.users[u].XUID)
			}
		}
		list := []ArbitrationRegistrant{local}
		remotes := make([]settings.UniqueNetID, 0, len(ss.remotes))
		for id := range ss.remotes {
			remotes = append(remotes, id)
		}
		sort.Slice(remotes, func(i, j int) bool { return remotes[i] < remotes[j] })
		for _, id := range remotes {
			list = append(list, ArbitrationRegistrant{
				MachineID:       uint64(id) ^ 0xA5A5A5A5,
				Trustworthiness: 1,
				Users:           []settings.UniqueNetID{id},
			})
		}
		*out = list
		return Success
	})
}

func (s *Sim) WriteStats(h SessionHandle, player settings.UniqueNetID, views []StatsWrite, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session(h) == nil {
		s.calls["WriteStats"]++
		return WrongState
	}
	return s.issue("WriteStats", ov, func() Result {
		for _, v := range views {
			s.upsertStats(v.ViewID, player, v.Properties)
		}
		return Success
	})
}

// upsertStats must be called with s.mu held.
func (s *Sim) upsertStats(view int32, player settings.UniqueNetID, props []settings.Property) {
	rows := s.boards[view]
	idx := -1
	for i := range rows {
		if rows[i].PlayerID == player {
			idx = i
			break
		}
	}
	if idx < 0 {
		rows = append(rows, StatsRow{PlayerID: player, Rank: int32(len(rows) + 1)})
		idx = len(rows) - 1
		for u := range s.users {
			if s.users[u].XUID == player {
				rows[idx].Nickname = s.users[u].Name
			}
		}
	}
	row := &rows[idx]
	for _, p := range props {
		replaced := false
		for c := range row.Columns {
			if row.Columns[c].ID == p.ID {
				row.Columns[c].Value = p.Data
				replaced = true
			}
		}
		if !replaced {
			row.Columns = append(row.Columns, StatsColumn{ID: p.ID, Value: p.Data})
		}
	}
	s.boards[view] = rows
}

func (s *Sim) FlushStats(h SessionHandle, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("FlushStats", ov, func() Result {
		if s.session(h) == nil {
			return WrongState
		}
		return Success
	})
}

// ----------------------------------------------------------------------------
// Matchmaking
// ----------------------------------------------------------------------------

func contextsMatch(query, have []settings.Context) bool {
	for _, q := range query {
		for _, h := range have {
			if h.ID == q.ID && h.ValueIndex != q.ValueIndex {
				return false
			}
		}
	}
	return true
}

func (s *Sim) Search(q SearchQuery, out *[]SearchHit, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(q.User) || s.users[q.User].State != SignedInToLive {
		s.calls["Search"]++
		return NotSignedIn
	}
	return s.issue("Search", ov, func() Result {
		var hits []SearchHit
		for _, ad := range s.adverts {
			if q.MaxResults > 0 && len(hits) >= q.MaxResults {
				break
			}
			if contextsMatch(q.Contexts, ad.hit.Contexts) {
				hits = append(hits, ad.hit)
			}
		}
		*out = hits
		return Success
	})
}

func (s *Sim) SearchByID(user int, id syslink.SessionID, out *[]SearchHit, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("SearchByID", ov, func() Result {
		var hits []SearchHit
		for _, ad := range s.adverts {
			if ad.hit.Info.ID == id {
				hits = append(hits, ad.hit)
			}
		}
		*out = hits
		return Success
	})
}

func (s *Sim) QoSListen(id syslink.SessionID, data []byte, enable bool) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("QoSListen"); rejected {
		return r
	}
	if enable {
		s.listening[id] = append([]byte(nil), data...)
	} else {
		delete(s.listening, id)
	}
	return Success
}

func (s *Sim) QoSLookup(targets []SessionInfo, out *[]QoSInfo, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets = append([]SessionInfo(nil), targets...)
	return s.issue("QoSLookup", ov, func() Result {
		res := make([]QoSInfo, len(targets))
		for i, t := range targets {
			for _, ad := range s.adverts {
				if ad.hit.Info.ID == t.ID {
					res[i] = QoSInfo{RTTMs: ad.ping, Data: append([]byte(nil), ad.qos...)}
				}
			}
			if data, ok := s.listening[t.ID]; ok && res[i].Data == nil {
				res[i] = QoSInfo{RTTMs: 1, Data: append([]byte(nil), data...)}
			}
		}
		*out = res
		return Success
	})
}

func (s *Sim) AcceptedInvite(user int) (Invite, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].Invite == nil {
		return Invite{}, Fail
	}
	return *s.users[user].Invite, Success
}

// ----------------------------------------------------------------------------
// Profile
// ----------------------------------------------------------------------------

func (s *Sim) ReadProfile(user int, ids []int32, out *[]settings.ProfileSetting, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].State == NotSignedInState {
		s.calls["ReadProfile"]++
		return NotSignedIn
	}
	ids = append([]int32(nil), ids...)
	return s.issue("ReadProfile", ov, func() Result {
		var list []settings.ProfileSetting
		for _, id := range ids {
			if ps, ok := s.users[user].Profile[id]; ok {
				list = append(list, ps)
			}
		}
		*out = list
		return Success
	})
}

func (s *Sim) WriteProfile(user int, list []settings.ProfileSetting, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].State == NotSignedInState {
		s.calls["WriteProfile"]++
		return NotSignedIn
	}
	list = append([]settings.ProfileSetting(nil), list...)
	return s.issue("WriteProfile", ov, func() Result {
		for _, ps := range list {
			s.users[user].Profile[ps.Property.ID] = ps
		}
		return Success
	})
}

// ----------------------------------------------------------------------------
// Enumerations
// ----------------------------------------------------------------------------

// newEnum must be called with s.mu held.
func (s *Sim) newEnum(e *simEnum) EnumHandle {
	s.nextEnum++
	h := EnumHandle(s.nextEnum)
	s.enums[h] = e
	return h
}

func (s *Sim) CreateFriendsEnumerator(user, start, perPage int) (EnumHandle, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("CreateFriendsEnumerator"); rejected {
		return 0, r
	}
	if !validUser(user) || s.users[user].State != SignedInToLive {
		return 0, NotSignedIn
	}
	if start >= len(s.users[user].Friends) {
		return 0, NoMoreFiles
	}
	if perPage <= 0 {
		perPage = 1
	}
	return s.newEnum(&simEnum{kind: enumFriends, user: user, pos: start, perPage: perPage}), Success
}

func (s *Sim) EnumerateFriends(h EnumHandle, out *[]FriendRecord, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enums[h]
	if !ok || e.kind != enumFriends {
		s.calls["EnumerateFriends"]++
		return Fail
	}
	return s.issue("EnumerateFriends", ov, func() Result {
		friends := s.users[e.user].Friends
		if e.pos >= len(friends) {
			return NoMoreFiles
		}
		end := min(e.pos+e.perPage, len(friends))
		*out = append((*out)[:0], friends[e.pos:end]...)
		e.pos = end
		return Success
	})
}

func (s *Sim) CreateContentEnumerator(user int) (EnumHandle, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("CreateContentEnumerator"); rejected {
		return 0, r
	}
	if !validUser(user) || s.users[user].State == NotSignedInState {
		return 0, NotSignedIn
	}
	return s.newEnum(&simEnum{kind: enumContent, user: user, perPage: 1}), Success
}

func (s *Sim) EnumerateContent(h EnumHandle, out *[]ContentRecord, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enums[h]
	if !ok || e.kind != enumContent {
		s.calls["EnumerateContent"]++
		return Fail
	}
	return s.issue("EnumerateContent", ov, func() Result {
		content := s.users[e.user].Content
		if e.pos >= len(content) {
			return NoMoreFiles
		}
		*out = append((*out)[:0], content[e.pos].Record)
		e.pos++
		return Success
	})
}

func (s *Sim) OpenContent(user int, rec ContentRecord, out *ContentMount, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("OpenContent", ov, func() Result {
		if !validUser(user) {
			return Fail
		}
		for _, c := range s.users[user].Content {
			if c.Record.FileName == rec.FileName {
				*out = ContentMount{
					Root:        path.Join("DLC", c.Record.FileName) + "/",
					LicenseMask: 0xFFFFFFFF,
					Files:       append([]string(nil), c.Files...),
				}
				return Success
			}
		}
		return Fail
	})
}

func (s *Sim) CloseEnumerator(h EnumHandle) {
	s.mu.Lock()
	delete(s.enums, h)
	s.mu.Unlock()
}

func (s *Sim) QueryDownloads(user int, out *DownloadCounts, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("QueryDownloads", ov, func() Result {
		if !validUser(user) {
			return Fail
		}
		*out = s.users[user].Downloads
		return Success
	})
}

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

func project(row StatsRow, spec StatsSpec) StatsRow {
	out := StatsRow{PlayerID: row.PlayerID, Nickname: row.Nickname, Rank: row.Rank}
	for _, col := range spec.Columns {
		cell := StatsColumn{ID: col}
		for _, have := range row.Columns {
			if have.ID == col {
				cell.Value = have.Value
			}
		}
		out.Columns = append(out.Columns, cell)
	}
	return out
}

// ranked must be called with s.mu held.
func (s *Sim) ranked(view int32) []StatsRow {
	rows := append([]StatsRow(nil), s.boards[view]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	return rows
}

func (s *Sim) ReadStats(players []settings.UniqueNetID, spec StatsSpec, out *StatsView, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	players = append([]settings.UniqueNetID(nil), players...)
	return s.issue("ReadStats", ov, func() Result {
		board := s.boards[spec.ViewID]
		view := StatsView{ViewID: spec.ViewID, TotalRows: int32(len(board))}
		for _, id := range players {
			row := StatsRow{PlayerID: id}
			for _, have := range board {
				if have.PlayerID == id {
					row = have
				}
			}
			view.Rows = append(view.Rows, project(row, spec))
		}
		*out = view
		return Success
	})
}

func (s *Sim) CreateStatsEnumeratorByRank(spec StatsSpec, start, count int) (EnumHandle, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("CreateStatsEnumeratorByRank"); rejected {
		return 0, r
	}
	if start < 1 {
		start = 1
	}
	return s.newEnum(&simEnum{kind: enumStatsRank, pos: start - 1, perPage: count, spec: spec}), Success
}

func (s *Sim) CreateStatsEnumeratorAroundPlayer(id settings.UniqueNetID, spec StatsSpec, count int) (EnumHandle, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, rejected := s.syncCall("CreateStatsEnumeratorAroundPlayer"); rejected {
		return 0, r
	}
	return s.newEnum(&simEnum{kind: enumStatsAround, around: id, perPage: count, spec: spec}), Success
}

func (s *Sim) EnumerateStats(h EnumHandle, out *StatsView, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enums[h]
	if !ok || (e.kind != enumStatsRank && e.kind != enumStatsAround) {
		s.calls["EnumerateStats"]++
		return Fail
	}
	return s.issue("EnumerateStats", ov, func() Result {
		if e.done {
			return NoMoreFiles
		}
		e.done = true
		rows := s.ranked(e.spec.ViewID)
		start := e.pos
		if e.kind == enumStatsAround {
			start = 0
			for i, r := range rows {
				if r.PlayerID == e.around {
					start = max(i-e.perPage/2, 0)
				}
			}
		}
		view := StatsView{ViewID: e.spec.ViewID, TotalRows: int32(len(rows))}
		for i := start; i < len(rows) && i < start+e.perPage; i++ {
			view.Rows = append(view.Rows, project(rows[i], e.spec))
		}
		*out = view
		return Success
	})
}

// ----------------------------------------------------------------------------
// Player extras
// ----------------------------------------------------------------------------

func (s *Sim) WriteAchievement(user int, id int32, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].State != SignedInToLive {
		s.calls["WriteAchievement"]++
		return NotSignedIn
	}
	return s.issue("WriteAchievement", ov, func() Result {
		s.users[user].Achievements[id] = true
		return Success
	})
}

func (s *Sim) AwardGamerPicture(user int, id int32, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validUser(user) || s.users[user].State != SignedInToLive {
		s.calls["AwardGamerPicture"]++
		return NotSignedIn
	}
	return s.issue("AwardGamerPicture", ov, func() Result {
		s.users[user].Pictures[id] = true
		return Success
	})
}

func (s *Sim) ShowKeyboard(user int, title, description, defaultText string, out *string, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("ShowKeyboard", ov, func() Result {
		if !validUser(user) {
			return Fail
		}
		u := s.users[user]
		if u.KeyboardCancelled {
			return Cancelled
		}
		*out = defaultText
		if u.KeyboardText != "" {
			*out = u.KeyboardText
		}
		return Success
	})
}

func (s *Sim) VerifyString(text string, ok *bool, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("VerifyString", ov, func() Result {
		lower := strings.ToLower(text)
		*ok = true
		for _, w := range s.badWords {
			if strings.Contains(lower, w) {
				*ok = false
			}
		}
		return Success
	})
}

func (s *Sim) ShowDeviceSelector(user int, minBytes int64, force bool, out *uint32, ov *Overlapped) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue("ShowDeviceSelector", ov, func() Result {
		if !validUser(user) || s.users[user].Device == 0 {
			return Cancelled
		}
		*out = s.users[user].Device
		return Success
	})
}

func (s *Sim) DeviceName(id uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.devices[id]
	return name, ok
}
