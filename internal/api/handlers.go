package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"online-subsystem/internal/online"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers. Every handler reads or drives the
// subsystem inside a single Do call; async results arrive over the
// WebSocket as task:complete events.

func (h *routerHandlers) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Engine     online.TickStats `json:"engine"`
		Lan        online.LanStats  `json:"lan"`
		Connection string           `json:"connection"`
		NAT        string           `json:"nat"`
		Link       bool             `json:"link"`
	}
	resp.Engine = h.engine.Stats()
	h.engine.Do(func(s *online.Subsystem) {
		resp.Lan = s.LanStats()
		resp.Connection = s.ConnectionStatus().String()
		resp.NAT = s.GetNATType().String()
		resp.Link = s.HasLinkConnection()
	})
	writeJSON(w, resp)
}

// ----------------------------------------------------------------------------
// Session
// ----------------------------------------------------------------------------

func (h *routerHandlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		State         string                 `json:"state"`
		LanState      string                 `json:"lanState"`
		Settings      *settings.GameSettings `json:"settings,omitempty"`
		Info          *online.SessionInfo    `json:"info,omitempty"`
		ConnectString string                 `json:"connectString,omitempty"`
		Scores        []online.PlayerScore   `json:"scores"`
	}
	h.engine.Do(func(s *online.Subsystem) {
		resp.State = s.State().String()
		resp.LanState = s.LanState().String()
		resp.Settings = s.GameSettings().Clone()
		if info := s.SessionInfo(); info != nil {
			c := *info
			resp.Info = &c
		}
		resp.ConnectString, _ = s.GetResolvedConnectString()
		resp.Scores = s.Scores()
	})
	writeJSON(w, resp)
}

func (h *routerHandlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host     int                    `json:"host"`
		Settings *settings.GameSettings `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Settings == nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if !validPlayer(req.Host) {
		writeError(w, "Invalid host", http.StatusBadRequest)
		return
	}

	log.Printf("🎮 Session create requested via API (host %d, lan %v)", req.Host, req.Settings.IsLanMatch)
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.CreateOnlineGame(req.Host, req.Settings) })
	writeResult(w, ok)
}

func (h *routerHandlers) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.StartOnlineGame() })
	writeResult(w, ok)
}

func (h *routerHandlers) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.EndOnlineGame() })
	writeResult(w, ok)
}

func (h *routerHandlers) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	log.Println("🎮 Session destroy requested via API")
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.DestroyOnlineGame() })
	writeResult(w, ok)
}

// handleJoinSession joins a result of the current search by index.
func (h *routerHandlers) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User   int `json:"user"`
		Result int `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validPlayer(req.User) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	var ok, found bool
	h.engine.Do(func(s *online.Subsystem) {
		search := s.GameSearch()
		if search == nil || req.Result < 0 || req.Result >= len(search.Results) {
			return
		}
		found = true
		ok = s.JoinOnlineGame(req.User, &search.Results[req.Result])
	})
	if !found {
		writeError(w, "No such search result", http.StatusNotFound)
		return
	}
	writeResult(w, ok)
}

func (h *routerHandlers) handleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player     settings.UniqueNetID `json:"player"`
		Invited    bool                 `json:"invited"`
		Unregister bool                 `json:"unregister"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player == 0 {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	var ok bool
	h.engine.Do(func(s *online.Subsystem) {
		if req.Unregister {
			ok = s.UnregisterPlayer(req.Player)
		} else {
			ok = s.RegisterPlayer(req.Player, req.Invited)
		}
	})
	writeResult(w, ok)
}

func (h *routerHandlers) handleReportScore(w http.ResponseWriter, r *http.Request) {
	var score online.PlayerScore
	if err := json.NewDecoder(r.Body).Decode(&score); err != nil || score.Player == 0 {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.engine.Do(func(s *online.Subsystem) { s.ReportScore(score) })
	writeResult(w, true)
}

// ----------------------------------------------------------------------------
// Search
// ----------------------------------------------------------------------------

func (h *routerHandlers) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	var resp *online.GameSearch
	h.engine.Do(func(s *online.Subsystem) { resp = s.GameSearch().Clone() })
	if resp == nil {
		resp = &online.GameSearch{Results: []online.SearchResult{}}
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handleFindSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User            int                 `json:"user"`
		Lan             bool                `json:"lan"`
		UsesArbitration bool                `json:"usesArbitration"`
		MaxResults      int                 `json:"maxResults"`
		QueryID         int32               `json:"queryId"`
		Contexts        []settings.Context  `json:"contexts"`
		Properties      []settings.Property `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validPlayer(req.User) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	var ok bool
	h.engine.Do(func(s *online.Subsystem) {
		search := s.GameSearch()
		if search == nil || !search.InProgress {
			search = &online.GameSearch{
				IsLanQuery:       req.Lan,
				UsesArbitration:  req.UsesArbitration,
				MaxSearchResults: req.MaxResults,
				QueryID:          req.QueryID,
				Contexts:         req.Contexts,
				Properties:       req.Properties,
			}
		}
		ok = s.FindOnlineGames(req.User, search)
	})
	writeResult(w, ok)
}

func (h *routerHandlers) handleCancelSearch(w http.ResponseWriter, r *http.Request) {
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.CancelFindOnlineGames() })
	writeResult(w, ok)
}

func (h *routerHandlers) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []online.TaskInfo
	h.engine.Do(func(s *online.Subsystem) { tasks = s.Tasks() })
	if tasks == nil {
		tasks = []online.TaskInfo{}
	}
	writeJSON(w, tasks)
}

// Events returned when no limit is given
const defaultEventLimit = 100

type eventView struct {
	Sequence  uint64          `json:"sequence"`
	Type      string          `json:"type"`
	Tick      uint64          `json:"tick"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// handleGetEvents returns the newest subsystem events, ?limit=1..1024.
func (h *routerHandlers) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > online.EventBufferSize {
			writeError(w, "limit must be between 1 and 1024", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events := h.engine.RecentEvents(limit)
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			Sequence:  e.Sequence,
			Type:      e.Type.String(),
			Tick:      e.TickNum,
			Timestamp: e.Timestamp,
			Source:    e.Source,
			Payload:   json.RawMessage(e.Payload),
		})
	}
	writeJSON(w, views)
}

// ----------------------------------------------------------------------------
// Players
// ----------------------------------------------------------------------------

func (h *routerHandlers) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}

	var resp struct {
		User       int                  `json:"user"`
		Login      string               `json:"login"`
		ID         settings.UniqueNetID `json:"id,omitempty"`
		Nickname   string               `json:"nickname,omitempty"`
		Privileges map[string]string    `json:"privileges"`
		Invite     *online.SearchResult `json:"invite,omitempty"`
		Device     uint32               `json:"device,omitempty"`
	}
	resp.User = user
	h.engine.Do(func(s *online.Subsystem) {
		resp.Login = s.GetLoginStatus(user).String()
		resp.ID, _ = s.GetUniquePlayerID(user)
		resp.Nickname = s.GetPlayerNickname(user)
		resp.Privileges = map[string]string{
			"playOnline":      s.CanPlayOnline(user).String(),
			"communicate":     s.CanCommunicate(user).String(),
			"userContent":     s.CanDownloadUserContent(user).String(),
			"viewProfiles":    s.CanViewPlayerProfiles(user).String(),
			"presence":        s.CanShowPresenceInformation(user).String(),
			"purchaseContent": s.CanPurchaseContent(user).String(),
		}
		if invite, ok := s.PendingInvite(user); ok && invite != nil {
			c := invite.Clone()
			resp.Invite = &c
		}
		resp.Device, _ = s.GetDeviceSelectionResults(user)
	})
	writeJSON(w, resp)
}

func (h *routerHandlers) handleGetFriends(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))

	var friends []online.Friend
	var state online.ReadState
	h.engine.Do(func(s *online.Subsystem) { friends, state = s.GetFriendsList(user, count, start) })
	if friends == nil {
		friends = []online.Friend{}
	}
	writeJSON(w, map[string]interface{}{
		"state":   state.String(),
		"friends": friends,
	})
}

func (h *routerHandlers) handleReadFriends(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var started bool
	h.engine.Do(func(s *online.Subsystem) { started = s.ReadFriendsList(user, 0, 0) })
	writeResult(w, started)
}

func (h *routerHandlers) handleGetContent(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var content []online.OnlineContent
	var state online.ReadState
	var newDownloads, totalDownloads int
	h.engine.Do(func(s *online.Subsystem) {
		content, state = s.GetContentList(user)
		newDownloads, totalDownloads = s.DownloadCounts(user)
	})
	if content == nil {
		content = []online.OnlineContent{}
	}
	writeJSON(w, map[string]interface{}{
		"state":          state.String(),
		"content":        content,
		"newDownloads":   newDownloads,
		"totalDownloads": totalDownloads,
	})
}

func (h *routerHandlers) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var accepted bool
	h.engine.Do(func(s *online.Subsystem) { accepted = s.AcceptGameInvite(user) })
	writeResult(w, accepted)
}

func (h *routerHandlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var resp struct {
		Cached   bool                      `json:"cached"`
		Version  int32                     `json:"version"`
		State    string                    `json:"state"`
		Settings []settings.ProfileSetting `json:"settings"`
	}
	resp.Settings = []settings.ProfileSetting{}
	h.engine.Do(func(s *online.Subsystem) {
		p := s.ProfileSettings(user)
		if p == nil {
			return
		}
		resp.Cached = true
		resp.Version = p.VersionNumber
		resp.State = p.AsyncState.String()
		resp.Settings = append(resp.Settings, p.Settings...)
	})
	writeJSON(w, resp)
}

// handleReadProfile reads the listed setting ids, or every stored game
// setting when none are listed.
func (h *routerHandlers) handleReadProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var req struct {
		IDs []int32 `json:"ids"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	profile := settings.NewProfile(h.profileVersion, nil)
	profile.IDs = req.IDs
	var started bool
	h.engine.Do(func(s *online.Subsystem) { started = s.ReadProfileSettings(user, profile) })
	writeResult(w, started)
}

func (h *routerHandlers) handleWriteProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Settings []settings.ProfileSetting `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Settings) == 0 {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	profile := settings.NewProfile(h.profileVersion, nil)
	profile.Settings = req.Settings
	var started bool
	h.engine.Do(func(s *online.Subsystem) { started = s.WriteProfileSettings(user, profile) })
	writeResult(w, started)
}

// ----------------------------------------------------------------------------
// Stats and arbitration
// ----------------------------------------------------------------------------

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	var resp *online.StatsRead
	h.engine.Do(func(s *online.Subsystem) {
		if read := s.CurrentStatsRead(); read != nil {
			c := *read
			c.Rows = append([]online.StatsRow(nil), read.Rows...)
			resp = &c
		}
	})
	if resp == nil {
		writeJSON(w, map[string]interface{}{"rows": []online.StatsRow{}})
		return
	}
	writeJSON(w, resp)
}

// handleReadStats starts a leaderboard read. Mode selects the query:
// "players" (default), "friends", "rank" or "around".
func (h *routerHandlers) handleReadStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode      string                 `json:"mode"`
		User      int                    `json:"user"`
		Players   []settings.UniqueNetID `json:"players"`
		ViewID    int32                  `json:"viewId"`
		ColumnIDs []int32                `json:"columnIds"`
		Start     int                    `json:"start"`
		Count     int                    `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case "", "players", "friends", "rank", "around":
	default:
		writeError(w, "Unknown mode", http.StatusBadRequest)
		return
	}

	read := &online.StatsRead{ViewID: req.ViewID, ColumnIDs: req.ColumnIDs}
	var ok bool
	h.engine.Do(func(s *online.Subsystem) {
		switch req.Mode {
		case "friends":
			ok = s.ReadOnlineStatsForFriends(req.User, read)
		case "rank":
			ok = s.ReadOnlineStatsByRank(read, req.Start, req.Count)
		case "around":
			ok = s.ReadOnlineStatsByRankAroundPlayer(req.User, read, req.Count)
		default:
			ok = s.ReadOnlineStats(req.Players, read)
		}
	})
	writeResult(w, ok)
}

func (h *routerHandlers) handleFlushStats(w http.ResponseWriter, r *http.Request) {
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.FlushOnlineStats() })
	writeResult(w, ok)
}

func (h *routerHandlers) handleGetArbitration(w http.ResponseWriter, r *http.Request) {
	var list []online.Registrant
	h.engine.Do(func(s *online.Subsystem) { list = s.GetArbitratedPlayers() })
	if list == nil {
		list = []online.Registrant{}
	}
	writeJSON(w, list)
}

func (h *routerHandlers) handleRegisterArbitration(w http.ResponseWriter, r *http.Request) {
	var ok bool
	h.engine.Do(func(s *online.Subsystem) { ok = s.RegisterForArbitration() })
	writeResult(w, ok)
}

func (h *routerHandlers) handleGetTalkers(w http.ResponseWriter, r *http.Request) {
	var local [platform.MaxLocalPlayers]online.LocalTalker
	var remote []online.RemoteTalker
	h.engine.Do(func(s *online.Subsystem) {
		local = s.LocalTalkers()
		remote = s.RemoteTalkers()
	})
	if remote == nil {
		remote = []online.RemoteTalker{}
	}
	writeJSON(w, map[string]interface{}{
		"local":  local,
		"remote": remote,
	})
}

// Helper functions (package-level for reuse)

func validPlayer(user int) bool {
	return user >= 0 && user < platform.MaxLocalPlayers
}

// userParam parses the {user} URL parameter, writing a 400 when it is not
// a local player index.
func userParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	user, err := strconv.Atoi(chi.URLParam(r, "user"))
	if err != nil || !validPlayer(user) {
		writeError(w, "Invalid player index", http.StatusBadRequest)
		return 0, false
	}
	return user, true
}

func writeResult(w http.ResponseWriter, ok bool) {
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]bool{"success": false})
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
