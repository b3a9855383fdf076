package online

import (
	"log"
	"slices"

	"online-subsystem/internal/nbo"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"
)

// GameSearch is a matchmaking query and the sessions it found. The caller
// owns it; the subsystem appends to Results while InProgress is set.
type GameSearch struct {
	IsLanQuery       bool                `json:"isLanQuery"`
	UsesArbitration  bool                `json:"usesArbitration"`
	MaxSearchResults int                 `json:"maxSearchResults"`
	QueryID          int32               `json:"queryId"`
	Contexts         []settings.Context  `json:"contexts"`
	Properties       []settings.Property `json:"properties"`

	Results    []SearchResult `json:"results"`
	InProgress bool           `json:"inProgress"`
}

// SearchResult is one session found by a search.
type SearchResult struct {
	Settings *settings.GameSettings `json:"settings"`
	Info     platform.SessionInfo   `json:"info"`
}

// Clone returns a copy of the result with its own settings.
func (r SearchResult) Clone() SearchResult {
	r.Settings = r.Settings.Clone()
	return r
}

// Clone returns a copy of the search that shares no slices or settings
// with g, for use outside the engine goroutine.
func (g *GameSearch) Clone() *GameSearch {
	if g == nil {
		return nil
	}
	c := *g
	c.Contexts = slices.Clone(g.Contexts)
	c.Properties = slices.Clone(g.Properties)
	c.Results = make([]SearchResult, len(g.Results))
	for i, r := range g.Results {
		c.Results[i] = r.Clone()
	}
	return &c
}

// setContext replaces or appends a context.
func (g *GameSearch) setContext(id, value int32) {
	for i := range g.Contexts {
		if g.Contexts[i].ID == id {
			g.Contexts[i].ValueIndex = value
			return
		}
	}
	g.Contexts = append(g.Contexts, settings.Context{ID: id, ValueIndex: value})
}

// GameSearch returns the current search or nil.
func (s *Subsystem) GameSearch() *GameSearch { return s.gameSearch }

// FindOnlineGames starts a LAN or Live search. A call while the search is
// already running is ignored and reported as success.
func (s *Subsystem) FindOnlineGames(user int, search *GameSearch) bool {
	if search == nil {
		log.Println("⚠️ Can't search with nil criteria")
		return false
	}
	if search.InProgress {
		log.Println("🎮 Ignoring game search request while one is pending")
		return true
	}
	s.FreeSearchResults()
	var code platform.Result
	if search.IsLanQuery {
		code = s.findLanGames(search)
		if code != platform.Success {
			fire(&s.Delegates.FindOnlineGames, "FindOnlineGames", code, user)
		}
	} else {
		code = s.findLiveGames(user, search)
	}
	return platform.Succeeded(code)
}

func (s *Subsystem) findLiveGames(user int, search *GameSearch) platform.Result {
	gameType := GameTypeStandard
	if search.UsesArbitration {
		gameType = GameTypeRanked
	}
	search.setContext(ContextGameType, gameType)

	q := platform.SearchQuery{
		User:       user,
		QueryID:    search.QueryID,
		MaxResults: max(min(search.MaxSearchResults, MaxSearchResults), 0),
	}
	for _, c := range search.Contexts {
		if c.ValueIndex != ContextValueAny {
			q.Contexts = append(q.Contexts, c)
		}
	}
	for _, p := range search.Properties {
		if p.Data.Type == settings.TypeString || p.Data.Type == settings.TypeBlob {
			log.Printf("🎮 Ignoring property 0x%08X for search, strings and blobs are not searchable", uint32(p.ID))
			continue
		}
		q.Properties = append(q.Properties, p)
	}

	data := &SearchData{WaitingForLive: true}
	t := &searchTask{baseTask: newBaseTask("Search", &s.Delegates.FindOnlineGames, data), data: data, search: search}
	t.user = user
	code := s.platform.Search(q, &data.Hits, t.overlapped())
	log.Printf("🎮 Search(query %d, user %d, max %d) returned 0x%08X", q.QueryID, user, q.MaxResults, uint32(code))
	if platform.Succeeded(code) {
		search.InProgress = true
		s.gameSearch = search
		s.searchTask = t
	}
	s.issue(t, code)
	return code
}

// searchTask waits for matchmaking, then probes the hosts it returned.
type searchTask struct {
	baseTask
	data      *SearchData
	search    *GameSearch
	cancelled bool
}

func (t *searchTask) Delegate() *CompletionSlot {
	if t.cancelled {
		return nil
	}
	return t.delegate
}

func (t *searchTask) ProcessAsyncResults(s *Subsystem) bool {
	if t.cancelled {
		return true
	}
	if t.CompletionCode() != platform.Success {
		log.Printf("⚠️ Search completed with 0x%08X", uint32(t.CompletionCode()))
		return true
	}
	if t.data.WaitingForLive {
		t.data.WaitingForLive = false
		s.parseSearchResults(t.search, t.data.Hits)
		return !s.checkServersQoS(t)
	}
	s.parseQoSResults(t.search, t.data.QoS)
	return true
}

func (t *searchTask) onDelete(s *Subsystem) {
	if s.searchTask == t {
		s.searchTask = nil
	}
	if !t.cancelled {
		t.search.InProgress = false
	}
}

// parseSearchResults appends every hit with an open slot to search.
func (s *Subsystem) parseSearchResults(search *GameSearch, hits []platform.SearchHit) {
	for _, hit := range hits {
		if hit.OpenPrivate <= 0 && hit.OpenPublic <= 0 {
			continue
		}
		gs := &settings.GameSettings{
			UsesArbitration:           search.UsesArbitration,
			NumOpenPrivateConnections: hit.OpenPrivate,
			NumOpenPublicConnections:  hit.OpenPublic,
			NumPrivateConnections:     hit.OpenPrivate + hit.FilledPrivate,
			NumPublicConnections:      hit.OpenPublic + hit.FilledPublic,
			LocalizedSettings:         append([]settings.Context(nil), hit.Contexts...),
			Properties:                append([]settings.Property(nil), hit.Properties...),
		}
		search.Results = append(search.Results, SearchResult{Settings: gs, Info: hit.Info})
	}
}

// checkServersQoS starts the QoS probe of every result. It reports false
// when nothing was issued.
func (s *Subsystem) checkServersQoS(t *searchTask) bool {
	results := t.search.Results
	if len(results) == 0 {
		return false
	}
	if len(results) > MaxQoSLookups {
		results = results[:MaxQoSLookups]
		t.search.Results = results
	}
	t.data.Targets = t.data.Targets[:0]
	for _, r := range results {
		t.data.Targets = append(t.data.Targets, r.Info)
	}
	code := s.platform.QoSLookup(t.data.Targets, &t.data.QoS, t.reissue())
	log.Printf("📡 QoSLookup(%d hosts) returned 0x%08X", len(t.data.Targets), uint32(code))
	if !platform.Succeeded(code) {
		t.setCode(platform.Success)
		return false
	}
	return true
}

// parseQoSResults copies the probe data into the results and drops hosts
// whose data was incomplete.
func (s *Subsystem) parseQoSResults(search *GameSearch, qos []platform.QoSInfo) {
	if len(qos) != len(search.Results) {
		log.Printf("⚠️ QoS data for %d hosts doesn't match %d results, skipping", len(qos), len(search.Results))
		return
	}
	for i, q := range qos {
		gs := search.Results[i].Settings
		if len(q.Data) > 0 {
			r := nbo.NewReader(q.Data)
			gs.OwningPlayerID = settings.UniqueNetID(r.Uint64())
			gs.OwningPlayerName = r.ReadString()
			gs.ServerNonce = r.Uint64()
		}
		gs.PingInMs = q.RTTMs
		s.qosPings.Add(search.Results[i].Info.ID, q.RTTMs)
	}
	kept := search.Results[:0]
	for _, r := range search.Results {
		gs := r.Settings
		if gs.ServerNonce == 0 || gs.OwningPlayerName == "" || gs.OwningPlayerID == 0 {
			log.Printf("⚠️ Removing host %s with malformed QoS data", r.Info.Host.IPString())
			continue
		}
		kept = append(kept, r)
		s.emit(EventTypeSearchResult, "", SearchResultPayload{
			Owner:      gs.OwningPlayerName,
			OpenPublic: gs.NumOpenPublicConnections,
			PingMs:     gs.PingInMs,
		})
	}
	search.Results = kept
}

// CachedPing returns the last QoS ping measured for a session.
func (s *Subsystem) CachedPing(id syslink.SessionID) (int32, bool) {
	v, ok := s.qosPings.Get(id)
	if !ok {
		return 0, false
	}
	return v.(int32), true
}

// FreeSearchResults drops the current search. It is refused while the
// search is running.
func (s *Subsystem) FreeSearchResults() bool {
	if s.gameSearch == nil {
		return true
	}
	if s.gameSearch.InProgress {
		log.Println("⚠️ Can't free search results while the search is in progress")
		return false
	}
	s.gameSearch.Results = nil
	s.gameSearch = nil
	return true
}

// CancelFindOnlineGames stops the running search. Results found so far
// are kept.
func (s *Subsystem) CancelFindOnlineGames() bool {
	search := s.gameSearch
	if search == nil || !search.InProgress {
		fire(&s.Delegates.CancelFindOnlineGames, "CancelFindOnlineGames", platform.WrongState, -1)
		return false
	}
	if search.IsLanQuery {
		s.stopLanBeacon()
	} else if s.searchTask != nil {
		s.searchTask.cancelled = true
		s.searchTask = nil
	}
	search.InProgress = false
	log.Println("🛑 Game search cancelled")
	fire(&s.Delegates.CancelFindOnlineGames, "CancelFindOnlineGames", platform.Success, -1)
	return true
}
