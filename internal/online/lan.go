package online

import (
	"fmt"
	"log"
	"time"

	"online-subsystem/internal/nbo"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/syslink"
)

// LanStats counts LAN traffic handled by the subsystem.
type LanStats struct {
	PacketsIn  uint64 `json:"packetsIn"`
	PacketsOut uint64 `json:"packetsOut"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
}

// dropper is implemented by transports that count dropped packets.
type dropper interface {
	Drop()
}

// LanStats returns the LAN counters. Rejected counts queries refused by the
// per-source limiter.
func (s *Subsystem) LanStats() LanStats {
	st := s.lanStats
	st.Rejected = s.lanLimiter.Rejected()
	return st
}

func (s *Subsystem) startLanBeacon() error {
	if s.transport != nil {
		return nil
	}
	t, err := s.cfg.NewTransport()
	if err != nil {
		return fmt.Errorf("start lan beacon: %w", err)
	}
	s.transport = t
	return nil
}

func (s *Subsystem) stopLanBeacon() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			log.Printf("⚠️ Closing LAN beacon: %v", err)
		}
		s.transport = nil
	}
	s.setLanState(LanNotUsing)
}

// startLanHosting creates and registers the session keys and starts
// answering discovery queries.
func (s *Subsystem) startLanHosting() platform.Result {
	addr, code := s.platform.LocalAddress()
	if code != platform.Success {
		log.Printf("⚠️ LocalAddress returned 0x%08X", uint32(code))
		return code
	}
	id, key, code := s.platform.CreateKey()
	if code != platform.Success {
		log.Printf("⚠️ Failed to create key for secure connection 0x%08X", uint32(code))
		return code
	}
	if code = s.platform.RegisterKey(id, key); code != platform.Success {
		log.Printf("⚠️ Failed to register key for secure connection 0x%08X", uint32(code))
		return code
	}
	s.sessionInfo.SessionInfo = platform.SessionInfo{Host: addr, ID: id, Key: key}
	if err := s.startLanBeacon(); err != nil {
		log.Printf("⚠️ %v", err)
		s.platform.UnregisterKey(id)
		return platform.ConnectionLost
	}
	s.setLanState(LanHosting)
	log.Printf("📡 Hosting LAN game on %s", addr.IPString())
	return platform.Success
}

// findLanGames broadcasts a discovery query with a fresh nonce.
func (s *Subsystem) findLanGames(search *GameSearch) platform.Result {
	if s.lanState == LanHosting {
		log.Println("⚠️ Can't search the LAN while hosting a LAN game")
		return platform.WrongState
	}
	var raw [syslink.NonceSize]byte
	code := s.platform.Random(raw[:])
	if code == platform.Success {
		if err := s.startLanBeacon(); err != nil {
			log.Printf("⚠️ %v", err)
			code = platform.ConnectionLost
		}
	}
	if code == platform.Success {
		s.lanNonce = nbo.NewReader(raw[:]).Uint64()
		if err := s.transport.Broadcast(syslink.BuildQuery(s.lanNonce)); err != nil {
			log.Printf("⚠️ Failed to send discovery broadcast: %v", err)
			code = platform.ConnectionLost
		} else {
			s.lanStats.PacketsOut++
			s.gameSearch = search
			search.InProgress = true
			s.lanTimeLeft = s.cfg.LanQueryTimeout
			s.setLanState(LanSearching)
			log.Printf("📡 Sent LAN query (nonce 0x%016X)", s.lanNonce)
		}
	}
	if code != platform.Success {
		s.stopLanBeacon()
	}
	return code
}

// TickLanTasks drains the LAN socket, answers queries while hosting and
// collects responses while searching. Any packet restarts the search timer.
func (s *Subsystem) TickLanTasks(delta time.Duration) {
	if s.lanState == LanNotUsing || s.transport == nil {
		return
	}
	for s.transport != nil {
		n, from, err := s.transport.Poll(s.packetBuf)
		if err != nil {
			log.Printf("⚠️ LAN poll: %v", err)
			break
		}
		if n == 0 {
			break
		}
		s.lanStats.PacketsIn++
		s.lanTimeLeft = s.cfg.LanQueryTimeout
		source := ""
		if from != nil {
			source = from.String()
		}
		switch s.lanState {
		case LanHosting:
			s.processLanQuery(s.packetBuf[:n], source)
		case LanSearching:
			s.processLanResponse(s.packetBuf[:n], source)
		}
	}
	if s.lanState != LanSearching {
		return
	}
	s.lanTimeLeft -= delta
	if s.lanTimeLeft <= 0 {
		s.finishLanSearch()
	}
}

func (s *Subsystem) finishLanSearch() {
	found := 0
	if s.gameSearch != nil {
		s.gameSearch.InProgress = false
		found = len(s.gameSearch.Results)
	}
	s.stopLanBeacon()
	log.Printf("📡 LAN search finished with %d results", found)
	fire(&s.Delegates.FindOnlineGames, "FindOnlineGames", platform.Success, -1)
}

func (s *Subsystem) dropLanPacket(source, kind string, size int) {
	s.lanStats.Dropped++
	if d, ok := s.transport.(dropper); ok {
		d.Drop()
	}
	s.emit(EventTypeLanPacket, source, LanPacketPayload{From: source, Kind: kind, Size: size, Dropped: true})
}

// processLanQuery answers a discovery query while the session has room.
func (s *Subsystem) processLanQuery(p []byte, source string) {
	gs, si := s.gameSettings, s.sessionInfo
	if gs == nil || si == nil || gs.NumOpenPublicConnections <= 0 {
		s.dropLanPacket(source, "query", len(p))
		return
	}
	nonce, err := syslink.ParseQuery(p)
	if err != nil {
		s.dropLanPacket(source, "query", len(p))
		return
	}
	if !s.lanLimiter.Allow(source) {
		s.dropLanPacket(source, "query", len(p))
		return
	}
	resp, err := syslink.BuildResponse(&syslink.Response{
		Nonce:     nonce,
		Host:      si.Host,
		SessionID: si.ID,
		Key:       si.Key,
		Settings:  gs,
	})
	if err != nil {
		log.Printf("⚠️ %v", err)
		return
	}
	if err := s.transport.Broadcast(resp); err != nil {
		log.Printf("⚠️ Failed to send response packet: %v", err)
		return
	}
	s.lanStats.PacketsOut++
	s.emit(EventTypeLanPacket, source, LanPacketPayload{From: source, Kind: "query", Size: len(p)})
}

// processLanResponse adds a host that answered our query.
func (s *Subsystem) processLanResponse(p []byte, source string) {
	resp, err := syslink.ParseResponse(p, s.lanNonce)
	if err != nil || s.gameSearch == nil {
		s.dropLanPacket(source, "response", len(p))
		return
	}
	result := SearchResult{
		Settings: resp.Settings,
		Info:     platform.SessionInfo{Host: resp.Host, ID: resp.SessionID, Key: resp.Key},
	}
	s.gameSearch.Results = append(s.gameSearch.Results, result)
	log.Printf("📡 LAN game from %s hosted by %s (%d open)",
		resp.Host.IPString(), resp.Settings.OwningPlayerName, resp.Settings.NumOpenPublicConnections)
	s.emit(EventTypeLanPacket, source, LanPacketPayload{From: source, Kind: "response", Size: len(p)})
	s.emit(EventTypeSearchResult, source, SearchResultPayload{
		Owner:      resp.Settings.OwningPlayerName,
		OpenPublic: resp.Settings.NumOpenPublicConnections,
		Lan:        true,
	})
	fire(&s.Delegates.FindOnlineGames, "FindOnlineGames", platform.Success, -1)
}
