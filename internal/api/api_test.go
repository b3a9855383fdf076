package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"online-subsystem/internal/online"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"
)

const hostXUID settings.UniqueNetID = 0x0009000000000001

// apiRig is a subsystem over the simulated SDK wrapped in an engine that is
// never started; tests tick it by hand through pump.
type apiRig struct {
	sim    *platform.Sim
	engine *online.Engine
	router http.Handler
	limit  *IPRateLimiter
}

func newSubsystem(t *testing.T, network *syslink.MemNetwork) (*platform.Sim, *online.Subsystem) {
	t.Helper()
	sim := platform.NewSim(platform.DefaultSimConfig())
	cfg := online.DefaultConfig()
	cfg.NewTransport = func() (syslink.Transport, error) { return network.Attach(), nil }
	sub, err := online.New(sim, platform.NewSimVoice(), cfg)
	if err != nil {
		t.Fatalf("online.New() error: %v", err)
	}
	return sim, sub
}

func newAPIRig(t *testing.T, network *syslink.MemNetwork) *apiRig {
	t.Helper()
	sim, sub := newSubsystem(t, network)
	r := &apiRig{
		sim:    sim,
		engine: online.NewEngine(sub, 30),
		limit:  NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, IdleTimeout: time.Minute}),
	}
	r.router = NewRouter(RouterConfig{
		Engine:         r.engine,
		RateLimiter:    r.limit,
		ProfileVersion: 3,
		DisableLogging: true,
	})
	return r
}

// pump completes SDK calls and ticks until nothing is queued.
func (r *apiRig) pump() {
	for i := 0; i < 50; i++ {
		r.sim.CompleteAll()
		var queued int
		r.engine.Do(func(s *online.Subsystem) {
			s.Tick(time.Millisecond)
			queued = s.QueuedTasks()
		})
		if queued == 0 && r.sim.Pending() == 0 {
			return
		}
	}
}

func (r *apiRig) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (r *apiRig) sessionState(t *testing.T) string {
	t.Helper()
	var resp struct {
		State string `json:"state"`
	}
	decode(t, r.do(t, http.MethodGet, "/api/session", nil), &resp)
	return resp.State
}

func createBody(lan bool) map[string]interface{} {
	return map[string]interface{}{
		"host": 0,
		"settings": &settings.GameSettings{
			NumPublicConnections: 4,
			ShouldAdvertise:      true,
			IsLanMatch:           lan,
			AllowJoinInProgress:  true,
			Properties:           []settings.Property{{ID: 0x20, Data: settings.StringData("Arena")}},
		},
	}
}

// TestGetStatus verifies the status endpoint reports the idle subsystem
func TestGetStatus(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	r.sim.SetNetwork(platform.NATModerate, true)

	rec := r.do(t, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Engine online.TickStats `json:"engine"`
		NAT    string           `json:"nat"`
		Link   bool             `json:"link"`
	}
	decode(t, rec, &resp)
	if resp.NAT != "moderate" || !resp.Link {
		t.Errorf("status = %+v", resp)
	}
}

// TestSessionLifecycleOverHTTP verifies a Live session can be created,
// started, ended and destroyed through the API
func TestSessionLifecycleOverHTTP(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	r.sim.SignIn(0, hostXUID, "Host", true)

	steps := []struct {
		path string
		body interface{}
		want string
	}{
		{"/api/session/create", createBody(false), "pending"},
		{"/api/session/start", nil, "in_progress"},
		{"/api/session/end", nil, "ended"},
		{"/api/session/destroy", nil, "no_session"},
	}
	for _, st := range steps {
		rec := r.do(t, http.MethodPost, st.path, st.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST %s = %d: %s", st.path, rec.Code, rec.Body.String())
		}
		r.pump()
		if got := r.sessionState(t); got != st.want {
			t.Fatalf("after %s state = %s, want %s", st.path, got, st.want)
		}
	}

	var tasks []online.TaskInfo
	decode(t, r.do(t, http.MethodGet, "/api/tasks", nil), &tasks)
	if len(tasks) != 0 {
		t.Errorf("tasks left queued: %+v", tasks)
	}
}

// TestCreateSessionRejected verifies bad create requests are refused
func TestCreateSessionRejected(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"no settings", map[string]int{"host": 0}, http.StatusBadRequest},
		{"bad host", map[string]interface{}{"host": 7, "settings": &settings.GameSettings{}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAPIRig(t, syslink.NewMemNetwork())
			if rec := r.do(t, http.MethodPost, "/api/session/create", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// TestCreateTwiceConflicts verifies a second create reports failure
func TestCreateTwiceConflicts(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	r.sim.SignIn(0, hostXUID, "Host", false)

	if rec := r.do(t, http.MethodPost, "/api/session/create", createBody(true)); rec.Code != http.StatusOK {
		t.Fatalf("first create = %d", rec.Code)
	}
	rec := r.do(t, http.MethodPost, "/api/session/create", createBody(true))
	if rec.Code != http.StatusConflict {
		t.Errorf("second create = %d, want 409", rec.Code)
	}
	var resp map[string]bool
	decode(t, rec, &resp)
	if resp["success"] {
		t.Error("success = true")
	}
}

// TestLanSearchAndJoinOverHTTP verifies a LAN search finds a host on the
// same network and its result can be joined by index
func TestLanSearchAndJoinOverHTTP(t *testing.T) {
	network := syslink.NewMemNetwork()
	hostSim, host := newSubsystem(t, network)
	hostSim.SignIn(0, 0x100, "LanHost", false)
	gs := createBody(true)["settings"].(*settings.GameSettings)
	if !host.CreateOnlineGame(0, gs) {
		t.Fatal("host CreateOnlineGame() = false")
	}

	r := newAPIRig(t, network)
	r.sim.SignIn(0, 0x200, "Client", false)

	if rec := r.do(t, http.MethodPost, "/api/search/find", map[string]interface{}{"user": 0, "lan": true}); rec.Code != http.StatusOK {
		t.Fatalf("find = %d", rec.Code)
	}
	host.Tick(0)
	r.engine.Do(func(s *online.Subsystem) { s.Tick(0) })

	var search online.GameSearch
	decode(t, r.do(t, http.MethodGet, "/api/search", nil), &search)
	if len(search.Results) != 1 || !search.InProgress {
		t.Fatalf("search = %+v", search)
	}
	if search.Results[0].Settings.OwningPlayerName != "LanHost" {
		t.Errorf("owner = %q", search.Results[0].Settings.OwningPlayerName)
	}

	r.engine.Do(func(s *online.Subsystem) { s.Tick(6 * time.Second) })

	if rec := r.do(t, http.MethodPost, "/api/session/join", map[string]int{"user": 0, "result": 3}); rec.Code != http.StatusNotFound {
		t.Errorf("join missing result = %d", rec.Code)
	}
	if rec := r.do(t, http.MethodPost, "/api/session/join", map[string]int{"user": 0, "result": 0}); rec.Code != http.StatusOK {
		t.Fatalf("join = %d: %s", rec.Code, rec.Body.String())
	}
	if got := r.sessionState(t); got != "pending" {
		t.Errorf("state = %s after join", got)
	}
}

// TestPlayerEndpoints verifies per player routes validate the index and
// report cached state
func TestPlayerEndpoints(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	r.sim.SignIn(1, hostXUID, "Host", true)
	r.sim.UpdateUser(1, func(u *platform.SimUser) {
		u.Friends = []platform.FriendRecord{{ID: 0x300, Nickname: "Pal"}}
	})

	for _, path := range []string{"/api/players/4", "/api/friends/x", "/api/content/-1", "/api/profile/9"} {
		if rec := r.do(t, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, rec.Code)
		}
	}

	var player struct {
		Login      string            `json:"login"`
		Nickname   string            `json:"nickname"`
		Privileges map[string]string `json:"privileges"`
	}
	decode(t, r.do(t, http.MethodGet, "/api/players/1", nil), &player)
	if player.Login != "signed_in_to_live" || player.Nickname != "Host" {
		t.Errorf("player = %+v", player)
	}
	if player.Privileges["playOnline"] != "enabled" {
		t.Errorf("privileges = %v", player.Privileges)
	}

	if rec := r.do(t, http.MethodPost, "/api/friends/1/read", nil); rec.Code != http.StatusOK {
		t.Fatalf("read friends = %d", rec.Code)
	}
	r.pump()
	var friends struct {
		State   string          `json:"state"`
		Friends []online.Friend `json:"friends"`
	}
	decode(t, r.do(t, http.MethodGet, "/api/friends/1", nil), &friends)
	if friends.State != "done" || len(friends.Friends) != 1 || friends.Friends[0].Nickname != "Pal" {
		t.Errorf("friends = %+v", friends)
	}
}

// TestProfileOverHTTP verifies a profile written through the API reads
// back with the configured version
func TestProfileOverHTTP(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	r.sim.SignIn(0, hostXUID, "Host", true)

	if rec := r.do(t, http.MethodPost, "/api/profile/0/write", `{"settings":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty write = %d", rec.Code)
	}
	body := map[string]interface{}{
		"settings": []settings.ProfileSetting{
			{Owner: settings.OwnerGame, Property: settings.Property{ID: 10, Data: settings.Int32Data(9)}},
		},
	}
	if rec := r.do(t, http.MethodPost, "/api/profile/0/write", body); rec.Code != http.StatusOK {
		t.Fatalf("write = %d", rec.Code)
	}
	r.pump()

	var profile struct {
		Cached   bool                      `json:"cached"`
		Version  int32                     `json:"version"`
		Settings []settings.ProfileSetting `json:"settings"`
	}
	decode(t, r.do(t, http.MethodGet, "/api/profile/0", nil), &profile)
	if !profile.Cached || profile.Version != 3 {
		t.Errorf("profile = %+v", profile)
	}
	found := false
	for _, s := range profile.Settings {
		if v, ok := s.Property.Data.Int32(); s.Property.ID == 10 && ok && v == 9 {
			found = true
		}
	}
	if !found {
		t.Errorf("setting 10 missing: %+v", profile.Settings)
	}
}

// TestReadStatsModes verifies the stats read modes and rejects unknown ones
func TestReadStatsModes(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"unknown mode", map[string]interface{}{"mode": "sideways"}, http.StatusBadRequest},
		{"no players", map[string]interface{}{"viewId": 3}, http.StatusConflict},
		{"by rank", map[string]interface{}{"mode": "rank", "viewId": 3, "start": 1, "count": 10}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAPIRig(t, syslink.NewMemNetwork())
			r.sim.SignIn(0, hostXUID, "Host", true)
			if rec := r.do(t, http.MethodPost, "/api/stats/read", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

// TestEmptyCollectionsEncodeAsArrays verifies idle caches return [] rather
// than null
func TestEmptyCollectionsEncodeAsArrays(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	for _, path := range []string{"/api/tasks", "/api/arbitration"} {
		rec := r.do(t, http.MethodGet, path, nil)
		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Errorf("GET %s = %s, want []", path, got)
		}
	}
	var talkers struct {
		Local  []online.LocalTalker  `json:"local"`
		Remote []online.RemoteTalker `json:"remote"`
	}
	decode(t, r.do(t, http.MethodGet, "/api/talkers", nil), &talkers)
	if len(talkers.Local) != platform.MaxLocalPlayers || talkers.Remote == nil {
		t.Errorf("talkers = %+v", talkers)
	}
}

// TestRateLimitMiddleware verifies requests over the burst get 429
func TestRateLimitMiddleware(t *testing.T) {
	_, sub := newSubsystem(t, syslink.NewMemNetwork())
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2, IdleTimeout: time.Minute})
	router := NewRouter(RouterConfig{Engine: online.NewEngine(sub, 30), RateLimiter: limiter, DisableLogging: true})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
	if got := limiter.GetStats()["rejected"]; got != 1 {
		t.Errorf("rejected = %d", got)
	}
}

// TestGetEvents verifies logged subsystem events are served newest last and
// the limit is validated
func TestGetEvents(t *testing.T) {
	r := newAPIRig(t, syslink.NewMemNetwork())
	r.sim.Notify(platform.NotifyExternalUI, 1)
	r.engine.Do(func(s *online.Subsystem) { s.Tick(0) })

	rec := r.do(t, http.MethodGet, "/api/events?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []struct {
		Sequence uint64                     `json:"sequence"`
		Type     string                     `json:"type"`
		Payload  online.NotificationPayload `json:"payload"`
	}
	decode(t, rec, &events)
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != "system:notification" || last.Payload.Kind != "external_ui" || last.Sequence == 0 {
		t.Errorf("last event = %+v", last)
	}

	for _, q := range []string{"0", "-1", "abc", "5000"} {
		if rec := r.do(t, http.MethodGet, "/api/events?limit="+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d", q, rec.Code)
		}
	}
}
