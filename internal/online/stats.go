package online

import (
	"log"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// unrankedDisplay is shown for unranked players and empty columns.
const unrankedDisplay = "--"

// StatsColumn is one cell of a leaderboard row.
type StatsColumn struct {
	ColumnNo int32         `json:"columnNo"`
	Value    settings.Data `json:"value"`
}

// StatsRow is one player's row of a leaderboard read.
type StatsRow struct {
	PlayerID settings.UniqueNetID `json:"playerId"`
	Nickname string               `json:"nickname"`
	// Rank is an Int32, or the string "--" when the player is unranked.
	Rank    settings.Data `json:"rank"`
	Columns []StatsColumn `json:"columns"`
}

// StatsRead names the view and columns to read and receives the rows.
type StatsRead struct {
	ViewID          int32      `json:"viewId"`
	ColumnIDs       []int32    `json:"columnIds"`
	TotalRowsInView int32      `json:"totalRowsInView"`
	Rows            []StatsRow `json:"rows"`
}

func (r *StatsRead) spec() platform.StatsSpec {
	return platform.StatsSpec{ViewID: r.ViewID, Columns: append([]int32(nil), r.ColumnIDs...)}
}

// StatsWrite holds a player's stats for a set of views. Arbitrated
// sessions write to ArbitratedViewIDs instead of ViewIDs.
type StatsWrite struct {
	ViewIDs           []int32             `json:"viewIds"`
	ArbitratedViewIDs []int32             `json:"arbitratedViewIds"`
	Properties        []settings.Property `json:"properties"`
	// RatingID is the property promoted to Int64 as the skill rating.
	RatingID int32 `json:"ratingId"`
}

// parseStatsView appends a page of rows to the current read.
func (s *Subsystem) parseStatsView(view *platform.StatsView) {
	read := s.currentStatsRead
	if read == nil {
		return
	}
	read.TotalRowsInView = view.TotalRows
	read.ViewID = view.ViewID
	for _, xr := range view.Rows {
		row := StatsRow{PlayerID: xr.PlayerID, Nickname: xr.Nickname}
		if xr.Rank > 0 {
			row.Rank = settings.Int32Data(xr.Rank)
		} else {
			row.Rank = settings.StringData(unrankedDisplay)
		}
		row.Columns = make([]StatsColumn, len(xr.Columns))
		for i, c := range xr.Columns {
			row.Columns[i] = StatsColumn{ColumnNo: c.ID, Value: c.Value}
			if c.Value.Type == settings.TypeEmpty {
				row.Columns[i].Value = settings.StringData(unrankedDisplay)
			}
		}
		read.Rows = append(read.Rows, row)
	}
}

// ReadOnlineStats reads a view for a list of players into read. Players
// are read a page at a time; ReadOnlineStats fires once every page is in.
func (s *Subsystem) ReadOnlineStats(players []settings.UniqueNetID, read *StatsRead) bool {
	if s.currentStatsRead != nil {
		log.Println("⚠️ Can't perform a stats read while one is in progress")
		return false
	}
	if read == nil {
		log.Println("⚠️ Can't read stats into a nil read")
		return false
	}
	read.Rows = nil
	if len(players) == 0 {
		log.Println("⚠️ Can't read stats for zero players")
		fire(&s.Delegates.ReadOnlineStats, "ReadStats", platform.WrongState, -1)
		return false
	}
	s.currentStatsRead = read

	data := &StatsReadData{Players: append([]settings.UniqueNetID(nil), players...), Spec: read.spec()}
	t := &readStatsTask{baseTask: newBaseTask("ReadStats", &s.Delegates.ReadOnlineStats, data), data: data}
	page := data.Page()
	code := s.platform.ReadStats(page, data.Spec, &data.View, t.overlapped())
	log.Printf("🎮 ReadStats(%d players, view %d) returned 0x%08X", len(page), data.Spec.ViewID, uint32(code))
	if !s.issue(t, code) {
		s.currentStatsRead = nil
		return false
	}
	return true
}

// readStatsTask reads the player list one page per completion.
type readStatsTask struct {
	baseTask
	data *StatsReadData
}

func (t *readStatsTask) ProcessAsyncResults(s *Subsystem) bool {
	if t.CompletionCode() == platform.Success {
		s.parseStatsView(&t.data.View)
		if t.data.Remaining() > 0 {
			t.data.View = platform.StatsView{}
			page := t.data.Page()
			code := s.platform.ReadStats(page, t.data.Spec, &t.data.View, t.reissue())
			log.Printf("🎮 Paged ReadStats(%d players) returned 0x%08X", len(page), uint32(code))
			if platform.Succeeded(code) {
				return false
			}
			t.setCode(code)
		}
	}
	s.currentStatsRead = nil
	return true
}

// ReadOnlineStatsForFriends reads a player's stats along with every
// friend on the cached friends list.
func (s *Subsystem) ReadOnlineStatsForFriends(user int, read *StatsRead) bool {
	if s.currentStatsRead != nil {
		log.Println("⚠️ Can't perform a stats read while one is in progress")
		return false
	}
	if !validUser(user) {
		log.Printf("⚠️ Invalid player index specified %d", user)
		return false
	}
	xuid, _ := s.platform.XUID(user)
	players := make([]settings.UniqueNetID, 0, len(s.friends[user].Friends)+1)
	players = append(players, xuid)
	for _, f := range s.friends[user].Friends {
		players = append(players, f.ID)
	}
	return s.ReadOnlineStats(players, read)
}

// ReadOnlineStatsByRank reads count rows of a view starting at rank start
// (1 is the top).
func (s *Subsystem) ReadOnlineStatsByRank(read *StatsRead, start, count int) bool {
	if s.currentStatsRead != nil {
		log.Println("⚠️ Can't perform a stats read while one is in progress")
		return false
	}
	if read == nil {
		return false
	}
	read.Rows = nil
	spec := read.spec()
	h, code := s.platform.CreateStatsEnumeratorByRank(spec, start, count)
	log.Printf("🎮 CreateStatsEnumeratorByRank(%d, %d) returned 0x%08X", start, count, uint32(code))
	return s.enumerateStats(read, spec, h, code)
}

// ReadOnlineStatsByRankAroundPlayer reads count rows above and below a
// local player's rank.
func (s *Subsystem) ReadOnlineStatsByRankAroundPlayer(user int, read *StatsRead, count int) bool {
	if s.currentStatsRead != nil {
		log.Println("⚠️ Can't perform a stats read while one is in progress")
		return false
	}
	if read == nil {
		return false
	}
	if !validUser(user) {
		log.Printf("⚠️ Invalid player index specified %d", user)
		fire(&s.Delegates.ReadOnlineStats, "ReadStatsByRank", platform.WrongState, user)
		return false
	}
	read.Rows = nil
	xuid, _ := s.platform.XUID(user)
	spec := read.spec()
	h, code := s.platform.CreateStatsEnumeratorAroundPlayer(xuid, spec, count)
	log.Printf("🎮 CreateStatsEnumeratorAroundPlayer(%d, %d) returned 0x%08X", user, count, uint32(code))
	return s.enumerateStats(read, spec, h, code)
}

// enumerateStats starts the single page read shared by the rank reads.
func (s *Subsystem) enumerateStats(read *StatsRead, spec platform.StatsSpec, h platform.EnumHandle, code platform.Result) bool {
	if code != platform.Success {
		log.Printf("⚠️ Failed to create stats enumerator 0x%08X", uint32(code))
		fire(&s.Delegates.ReadOnlineStats, "ReadStatsByRank", code, -1)
		return false
	}
	s.currentStatsRead = read
	data := &StatsReadData{Spec: spec, Handle: h}
	t := &readStatsByRankTask{baseTask: newBaseTask("ReadStatsByRank", &s.Delegates.ReadOnlineStats, data), data: data}
	code = s.platform.EnumerateStats(h, &data.View, t.overlapped())
	if !s.issue(t, code) {
		s.currentStatsRead = nil
		return false
	}
	return true
}

type readStatsByRankTask struct {
	baseTask
	data *StatsReadData
}

func (t *readStatsByRankTask) ProcessAsyncResults(s *Subsystem) bool {
	if t.CompletionCode() == platform.Success {
		s.parseStatsView(&t.data.View)
	}
	s.currentStatsRead = nil
	log.Printf("🎮 EnumerateStats() returned 0x%08X", uint32(t.CompletionCode()))
	return true
}

func (t *readStatsByRankTask) onDelete(s *Subsystem) {
	s.platform.CloseEnumerator(t.data.Handle)
}

// CurrentStatsRead returns the read in progress or nil.
func (s *Subsystem) CurrentStatsRead() *StatsRead { return s.currentStatsRead }

// FreeStats empties the rows of a finished read.
func (s *Subsystem) FreeStats(read *StatsRead) {
	if read != nil {
		read.Rows = nil
	}
}

// validStatsWrite checks the view and property limits.
func validStatsWrite(views []int32, props []settings.Property) bool {
	if len(views) == 0 || len(views) > MaxStatsViews {
		log.Printf("⚠️ Stats write has %d views, 1 to %d are allowed", len(views), MaxStatsViews)
		return false
	}
	if len(props) == 0 || len(props) > MaxStatsPerView {
		log.Printf("⚠️ Stats write has %d stats per view, 1 to %d are allowed", len(props), MaxStatsPerView)
		return false
	}
	return true
}

// statsProperties converts stats to what the service stores. The rating
// is promoted to Int64; types the service can't hold become empty.
func statsProperties(props []settings.Property, ratingID int32) []settings.Property {
	out := make([]settings.Property, len(props))
	for i, p := range props {
		out[i] = settings.Property{ID: p.ID}
		switch p.Data.Type {
		case settings.TypeInt32:
			out[i].Data = p.Data
			if p.ID == ratingID {
				out[i].Data = settings.Int64Data(p.Data.Int)
			}
		case settings.TypeInt64, settings.TypeDouble:
			out[i].Data = p.Data
		default:
			log.Printf("⚠️ Ignoring stat %d of type %s, it is unsupported", p.ID, p.Data.Type)
		}
	}
	return out
}

// WriteOnlineStats caches stats for a player in the current session. They
// are stored once FlushOnlineStats runs or the session ends.
func (s *Subsystem) WriteOnlineStats(player settings.UniqueNetID, write *StatsWrite) bool {
	if s.gameSettings == nil || s.sessionInfo == nil || s.sessionInfo.Handle == 0 {
		log.Println("⚠️ Can't write stats without a session in progress")
		return false
	}
	if write == nil {
		log.Println("⚠️ Can't write stats using a nil write")
		return false
	}
	viewIDs := write.ViewIDs
	if s.gameSettings.UsesArbitration {
		viewIDs = write.ArbitratedViewIDs
	}
	if !validStatsWrite(viewIDs, write.Properties) {
		return false
	}
	props := statsProperties(write.Properties, write.RatingID)
	data := &StatsWriteData{Player: player}
	for _, id := range viewIDs {
		data.Views = append(data.Views, platform.StatsWrite{ViewID: id, Properties: props})
	}
	t := newSimpleTask("WriteStats", nil, nil)
	t.data = data
	code := s.platform.WriteStats(s.sessionInfo.Handle, player, data.Views, t.overlapped())
	log.Printf("🎮 WriteStats(%s, %d views) returned 0x%08X", player, len(data.Views), uint32(code))
	return s.issue(t, code)
}

// FlushOnlineStats commits the session's cached stats.
func (s *Subsystem) FlushOnlineStats() bool {
	if s.gameSettings == nil || s.sessionInfo == nil || s.sessionInfo.Handle == 0 {
		log.Println("⚠️ Can't flush stats without a session in progress")
		return false
	}
	t := newSimpleTask("FlushStats", &s.Delegates.FlushOnlineStats, nil)
	code := s.platform.FlushStats(s.sessionInfo.Handle, t.overlapped())
	return s.issue(t, code)
}
