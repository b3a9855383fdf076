// Package online is the tick driven session subsystem. It issues
// non-blocking SDK calls, polls their completion handles once per frame,
// finalizes results into its caches and session state machine, and reports
// back through delegates. It also runs LAN discovery over UDP broadcast.
//
// A Subsystem is not safe for concurrent use; Engine serializes access.
package online

import (
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"
)

// SessionState is the game session state machine.
type SessionState uint8

const (
	StateNoSession SessionState = iota
	StatePending
	StateInProgress
	StateEnding
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	default:
		return "no_session"
	}
}

// LanState is what the LAN beacon is doing.
type LanState uint8

const (
	LanNotUsing LanState = iota
	LanHosting
	LanSearching
)

func (s LanState) String() string {
	switch s {
	case LanHosting:
		return "hosting"
	case LanSearching:
		return "searching"
	default:
		return "not_using"
	}
}

// SessionInfo is the platform session plus the handle and nonce of the
// local registration.
type SessionInfo struct {
	platform.SessionInfo
	Handle platform.SessionHandle `json:"handle"`
	Nonce  uint64                 `json:"-"`
}

// Config tunes the subsystem.
type Config struct {
	LanPort         int
	BroadcastAddr   string
	LanQueryTimeout time.Duration
	Limiter         syslink.LimiterConfig
	// NewTransport opens the LAN socket. Nil binds a UDP beacon.
	NewTransport func() (syslink.Transport, error)

	AchievementCacheSize int
	QoSCacheSize         int
}

// DefaultConfig returns the stock LAN settings.
func DefaultConfig() Config {
	return Config{
		LanPort:              syslink.DefaultPort,
		LanQueryTimeout:      5 * time.Second,
		Limiter:              syslink.DefaultLimiterConfig,
		AchievementCacheSize: 256,
		QoSCacheSize:         128,
	}
}

// Subsystem owns every cache and the async task queue.
type Subsystem struct {
	platform platform.Platform
	voice    platform.VoiceEngine
	cfg      Config

	// Delegates are fired from Tick and from the operations themselves.
	Delegates Delegates

	tasks     []AsyncTask
	observers []Observer
	tickNum   uint64

	gameSettings *settings.GameSettings
	sessionInfo  *SessionInfo
	state        SessionState
	scores       map[settings.UniqueNetID]PlayerScore

	lanState    LanState
	transport   syslink.Transport
	lanNonce    uint64
	lanTimeLeft time.Duration
	lanLimiter  *syslink.SourceLimiter
	lanStats    LanStats
	packetBuf   []byte

	gameSearch *GameSearch
	searchTask *searchTask

	invites     [platform.MaxLocalPlayers]InviteCache
	profiles    [platform.MaxLocalPlayers]*settings.Profile
	friends     [platform.MaxLocalPlayers]FriendsCache
	content     [platform.MaxLocalPlayers]ContentCache
	devices     [platform.MaxLocalPlayers]DeviceCache
	keyboard    string
	contentSeq  int
	presence    [platform.MaxLocalPlayers]int32
	presenceSet [platform.MaxLocalPlayers]bool

	localTalkers  [platform.MaxLocalPlayers]LocalTalker
	remoteTalkers []RemoteTalker
	outgoingVoice [platform.MaxLocalPlayers]VoicePacket
	incomingVoice []VoicePacket
	voiceBuf      []byte

	currentStatsRead *StatsRead
	arbitrationList  []Registrant

	lastSigninMask     uint32
	lastXUIDs          [platform.MaxLocalPlayers]settings.UniqueNetID
	lastControllerMask uint32
	linkConnected      bool
	connection         ConnectionStatus

	achievements *lru.Cache
	qosPings     *lru.Cache
}

// New creates a subsystem over an SDK and a voice engine.
func New(p platform.Platform, voice platform.VoiceEngine, cfg Config) (*Subsystem, error) {
	if cfg.LanQueryTimeout <= 0 {
		cfg.LanQueryTimeout = DefaultConfig().LanQueryTimeout
	}
	if cfg.AchievementCacheSize <= 0 {
		cfg.AchievementCacheSize = DefaultConfig().AchievementCacheSize
	}
	if cfg.QoSCacheSize <= 0 {
		cfg.QoSCacheSize = DefaultConfig().QoSCacheSize
	}
	if cfg.NewTransport == nil {
		port, addr := cfg.LanPort, cfg.BroadcastAddr
		cfg.NewTransport = func() (syslink.Transport, error) {
			return syslink.NewBeacon(port, addr)
		}
	}
	achievements, err := lru.New(cfg.AchievementCacheSize)
	if err != nil {
		return nil, fmt.Errorf("achievement cache: %w", err)
	}
	qos, err := lru.New(cfg.QoSCacheSize)
	if err != nil {
		return nil, fmt.Errorf("qos cache: %w", err)
	}
	return &Subsystem{
		platform:     p,
		voice:        voice,
		cfg:          cfg,
		scores:       make(map[settings.UniqueNetID]PlayerScore),
		lanLimiter:   syslink.NewSourceLimiter(cfg.Limiter),
		packetBuf:    make([]byte, syslink.MaxPacketSize),
		voiceBuf:     make([]byte, MaxVoicePacketSize),
		achievements: achievements,
		qosPings:     qos,
	}, nil
}

// Init captures the initial sign-in and controller state and starts the
// content reads for signed in players.
func (s *Subsystem) Init() {
	s.lastSigninMask = s.signinMask()
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		s.lastXUIDs[u], _ = s.platform.XUID(u)
		if s.platform.ControllerConnected(u) {
			s.lastControllerMask |= 1 << u
		}
	}
	s.linkConnected = s.platform.LinkConnected()
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		if s.lastSigninMask&(1<<u) != 0 {
			s.ReadContentList(u)
		}
	}
	log.Printf("✅ Online subsystem initialized (signed in 0x%X, controllers 0x%X)",
		s.lastSigninMask, s.lastControllerMask)
}

// Shutdown tears down the session and drops every queued task.
func (s *Subsystem) Shutdown() {
	if s.sessionInfo != nil {
		s.DestroyOnlineGame()
	}
	s.stopLanBeacon()
	for _, t := range s.tasks {
		if d, ok := t.(deleter); ok {
			d.onDelete(s)
		}
	}
	s.tasks = nil
	log.Println("🛑 Online subsystem shut down")
}

// AddObserver registers an event observer.
func (s *Subsystem) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Tick runs one frame: notifications, async tasks, LAN traffic, voice.
func (s *Subsystem) Tick(delta time.Duration) {
	s.tickNum++
	s.processNotifications()
	s.TickAsyncTasks()
	s.TickLanTasks(delta)
	s.TickVoice(delta)
}

// TickAsyncTasks finalizes every completed task in queue order. Tasks
// queued by a finalizer are appended and may finish in the same pass.
func (s *Subsystem) TickAsyncTasks() {
	for i := 0; i < len(s.tasks); {
		t := s.tasks[i]
		if !t.HasCompleted() || !t.ProcessAsyncResults(s) {
			i++
			continue
		}
		res := t.result()
		s.emit(EventTypeTaskComplete, "", TaskPayload{
			ID:   t.ID().String(),
			Name: t.Name(),
			Code: res.Code.String(),
			OK:   res.OK(),
		})
		if d := t.Delegate(); d != nil {
			d.Fire(res)
		}
		if i < len(s.tasks) && s.tasks[i] == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		} else {
			s.removeTask(t)
		}
		if d, ok := t.(deleter); ok {
			d.onDelete(s)
		}
	}
}

func (s *Subsystem) removeTask(t AsyncTask) {
	for i, q := range s.tasks {
		if q == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// issue queues t when code shows the SDK accepted the call. Otherwise the
// task's delegate fires with code and the task is dropped.
func (s *Subsystem) issue(t AsyncTask, code platform.Result) bool {
	if platform.Succeeded(code) {
		s.tasks = append(s.tasks, t)
		s.emit(EventTypeTaskQueued, "", TaskPayload{ID: t.ID().String(), Name: t.Name(), OK: true})
		return true
	}
	log.Printf("⚠️ %s failed with 0x%08X", t.Name(), uint32(code))
	if d := t.Delegate(); d != nil {
		res := t.result()
		res.Code = code
		d.Fire(res)
	}
	if d, ok := t.(deleter); ok {
		d.onDelete(s)
	}
	return false
}

// fire reports a synchronous completion.
func fire(slot *CompletionSlot, task string, code platform.Result, user int) {
	slot.Fire(AsyncResult{Task: task, Code: code, User: user})
}

func (s *Subsystem) emit(t EventType, source string, payload interface{}) {
	if len(s.observers) == 0 {
		return
	}
	e := NewEvent(t, s.tickNum, source, payload)
	for _, o := range s.observers {
		o.OnEvent(e)
	}
}

func (s *Subsystem) setState(next SessionState) {
	if s.state == next {
		return
	}
	log.Printf("🎮 Session %s -> %s", s.state, next)
	s.emit(EventTypeStateChange, "", StatePayload{From: s.state.String(), To: next.String(), Lan: s.lanState.String()})
	s.state = next
}

func (s *Subsystem) setLanState(next LanState) {
	if s.lanState == next {
		return
	}
	log.Printf("📡 LAN %s -> %s", s.lanState, next)
	s.lanState = next
}

// clearSession drops the session without any SDK calls.
func (s *Subsystem) clearSession() {
	s.gameSettings = nil
	s.sessionInfo = nil
	s.setState(StateNoSession)
}

// State returns the session state.
func (s *Subsystem) State() SessionState { return s.state }

// LanState returns the LAN beacon state.
func (s *Subsystem) LanState() LanState { return s.lanState }

// GameSettings returns the current session's settings or nil.
func (s *Subsystem) GameSettings() *settings.GameSettings { return s.gameSettings }

// SessionInfo returns the current session's info or nil.
func (s *Subsystem) SessionInfo() *SessionInfo { return s.sessionInfo }

// TickCount returns the number of ticks run.
func (s *Subsystem) TickCount() uint64 { return s.tickNum }

// QueuedTasks returns the number of tasks in the queue.
func (s *Subsystem) QueuedTasks() int { return len(s.tasks) }

// Tasks describes the queue in order.
func (s *Subsystem) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, describeTask(t))
	}
	return out
}

func (s *Subsystem) signinMask() uint32 {
	var mask uint32
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		if s.platform.SigninState(u) != platform.NotSignedInState {
			mask |= 1 << u
		}
	}
	return mask
}

func validUser(user int) bool {
	return user >= 0 && user < platform.MaxLocalPlayers
}

// isLocalPlayer reports whether id belongs to a signed in local user.
func (s *Subsystem) isLocalPlayer(id settings.UniqueNetID) bool {
	for u := 0; u < platform.MaxLocalPlayers; u++ {
		if xuid, r := s.platform.XUID(u); r == platform.Success && xuid == id {
			return true
		}
	}
	return false
}
