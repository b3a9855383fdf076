// Command lanquery broadcasts one system link discovery query and prints the
// sessions that answer before the timeout.
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"online-subsystem/internal/config"
	"online-subsystem/internal/syslink"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// hostEntry is one answering session as printed by -json.
type hostEntry struct {
	Host      string        `json:"host"`
	From      string        `json:"from"`
	SessionID string        `json:"sessionId"`
	Owner     string        `json:"owner"`
	OpenSlots int32         `json:"openSlots"`
	Slots     int32         `json:"slots"`
	Props     []interface{} `json:"properties"`
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	lanCfg := config.LanFromEnv()
	timeout := flag.Duration("timeout", lanCfg.QueryTimeout, "how long to wait for responses")
	port := flag.Int("port", lanCfg.AnnouncePort, "LAN announce port")
	broadcast := flag.String("broadcast", lanCfg.BroadcastAddr, "broadcast address")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Parse()

	beacon, err := syslink.NewBeacon(*port, *broadcast)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer beacon.Close()

	hosts, err := query(beacon, *timeout)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	stats := beacon.GetStats()
	log.Printf("📊 %d packets in, %d dropped, %d sessions found", stats.PacketsIn, stats.Dropped, len(hosts))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(hosts); err != nil {
			log.Fatalf("❌ encode: %v", err)
		}
		return
	}
	printTable(hosts)
}

// query broadcasts a fresh nonce and collects answers until timeout.
// Duplicate answers from one session are kept once.
func query(beacon *syslink.Beacon, timeout time.Duration) ([]hostEntry, error) {
	id := uuid.New()
	nonce := binary.BigEndian.Uint64(id[:8])
	if err := beacon.Broadcast(syslink.BuildQuery(nonce)); err != nil {
		return nil, err
	}
	log.Printf("📡 Query %016X sent, waiting %v", nonce, timeout)

	seen := make(map[syslink.SessionID]bool)
	hosts := []hostEntry{}
	buf := make([]byte, syslink.MaxPacketSize)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, from, err := beacon.Poll(buf)
		if err != nil {
			return hosts, err
		}
		if n == 0 {
			continue
		}
		// Our own query loops back on the broadcast address
		if _, err := syslink.ParseQuery(buf[:n]); err == nil {
			continue
		}
		resp, err := syslink.ParseResponse(buf[:n], nonce)
		if err != nil {
			if !errors.Is(err, syslink.ErrNonceMismatch) {
				beacon.Drop()
			}
			continue
		}
		if seen[resp.SessionID] {
			continue
		}
		seen[resp.SessionID] = true
		hosts = append(hosts, newHostEntry(resp, from.String()))
	}
	return hosts, nil
}

func newHostEntry(resp *syslink.Response, from string) hostEntry {
	gs := resp.Settings
	e := hostEntry{
		Host:      resp.Host.IPString(),
		From:      from,
		SessionID: fmt.Sprintf("%X", resp.SessionID[:]),
		Owner:     gs.OwningPlayerName,
		OpenSlots: gs.NumOpenPublicConnections + gs.NumOpenPrivateConnections,
		Slots:     gs.NumPublicConnections + gs.NumPrivateConnections,
		Props:     []interface{}{},
	}
	for _, c := range gs.LocalizedSettings {
		e.Props = append(e.Props, map[string]int32{"context": c.ID, "value": c.ValueIndex})
	}
	for _, p := range gs.Properties {
		e.Props = append(e.Props, map[string]interface{}{"property": p.ID, "value": p.Data.String()})
	}
	return e
}

func printTable(hosts []hostEntry) {
	if len(hosts) == 0 {
		fmt.Println("no sessions answered")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tHOST\tSESSION\tSLOTS\tSETTINGS")
	for _, h := range hosts {
		props, _ := json.Marshal(h.Props)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", h.Owner, h.Host, h.SessionID, h.OpenSlots, h.Slots, props)
	}
	tw.Flush()
}
