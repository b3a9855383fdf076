package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"online-subsystem/internal/api"
	"online-subsystem/internal/config"
	"online-subsystem/internal/online"
	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
	"online-subsystem/internal/syslink"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// Base of the ids handed to simulated local players
const simXUIDBase settings.UniqueNetID = 0x0009000000000001

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  ONLINE SUBSYSTEM")
	log.Println("🎮  Sessions + System Link")
	log.Println("🎮 ================================")

	appConfig := config.Load()

	sim := platform.NewSim(simConfig(appConfig.Sim))
	signInPlayers(sim, appConfig.Sim, appConfig.Session)

	sub, err := online.New(sim, platform.NewSimVoice(), onlineConfig(appConfig.Lan))
	if err != nil {
		log.Fatalf("❌ Failed to create online subsystem: %v", err)
	}
	sub.Init()

	engine := online.NewEngine(sub, appConfig.Engine.TickRate)
	log.Printf("✅ Engine created (%d ticks/s)", appConfig.Engine.TickRate)

	if path := appConfig.Debug.EventLogPath; path != "" {
		if err := engine.StartEventLog(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		}
	}

	metrics := api.NewSubsystemMetrics()
	engine.Do(func(s *online.Subsystem) { s.AddObserver(metrics) })
	tickRate := uint64(appConfig.Engine.TickRate)
	engine.OnTick(func(s *online.Subsystem, took time.Duration) {
		metrics.Observe(s, took)
		if s.TickCount()%tickRate == 0 {
			stats := engine.GetEventLogStats()
			total, _ := stats["total"].(uint64)
			dropped, _ := stats["dropped"].(uint64)
			metrics.UpdateEventLogStats(total, dropped)
		}
	})

	if appConfig.Session.AutoHost {
		autoHost(engine, appConfig.Session)
	}

	server := api.NewServer(engine, api.RateLimitConfig{
		RequestsPerSecond: appConfig.Server.RequestsPerSecond,
		Burst:             appConfig.Server.Burst,
		IdleTimeout:       api.DefaultRateLimitConfig.IdleTimeout,
	}, appConfig.Profile.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sim.Run(ctx, appConfig.Sim.StepInterval)
	})
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		return server.Run(ctx, fmt.Sprintf(":%d", appConfig.Server.Port))
	})
	g.Go(func() error {
		return api.RunDebugServer(ctx, api.ObservabilityConfig{
			Enabled:       appConfig.Debug.Enabled,
			ListenAddr:    appConfig.Debug.ListenAddr,
			AllowExternal: appConfig.Debug.AllowExternal,
			BasicAuthUser: appConfig.Debug.BasicAuthUser,
			BasicAuthPass: appConfig.Debug.BasicAuthPass,
		})
	})

	log.Println("✅ Server ready - press Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		log.Printf("⚠️ Shutdown after error: %v", err)
	}

	log.Println("🛑 Shutting down...")
	engine.StopEventLog()
	log.Println("👋 Goodbye!")
}

func simConfig(cfg config.SimConfig) platform.SimConfig {
	sc := platform.DefaultSimConfig()
	sc.Latency = cfg.LatencyTicks
	sc.FailRate = cfg.FailRate
	sc.Seed = cfg.Seed
	return sc
}

func onlineConfig(cfg config.LanConfig) online.Config {
	oc := online.DefaultConfig()
	oc.LanPort = cfg.AnnouncePort
	oc.BroadcastAddr = cfg.BroadcastAddr
	oc.LanQueryTimeout = cfg.QueryTimeout
	oc.Limiter = syslink.LimiterConfig{
		QueriesPerSecond: cfg.MaxQueriesPerSec,
		Burst:            cfg.QueryBurst,
		IdleTimeout:      syslink.DefaultLimiterConfig.IdleTimeout,
	}
	return oc
}

// signInPlayers signs in the first n local players. The host slot uses the
// configured name and account type.
func signInPlayers(sim *platform.Sim, cfg config.SimConfig, session config.SessionConfig) {
	for user := 0; user < cfg.SignedInPlayer; user++ {
		name, live := fmt.Sprintf("Player%d", user+1), true
		if user == session.HostPlayer {
			name, live = session.HostName, session.HostLive
		}
		sim.SignIn(user, simXUIDBase+settings.UniqueNetID(user), name, live)
		log.Printf("👤 Local player %d signed in as %s (live=%v)", user, name, live)
	}
}

func autoHost(engine *online.Engine, cfg config.SessionConfig) {
	gs := &settings.GameSettings{
		NumPublicConnections:  int32(cfg.PublicSlots),
		NumPrivateConnections: int32(cfg.PrivateSlots),
		ShouldAdvertise:       true,
		IsLanMatch:            cfg.Lan,
		AllowJoinInProgress:   true,
		AllowInvites:          true,
		UsesPresence:          !cfg.Lan,
	}
	var ok bool
	engine.Do(func(s *online.Subsystem) { ok = s.CreateOnlineGame(cfg.HostPlayer, gs) })
	if !ok {
		log.Printf("⚠️ Auto-host session could not be created for player %d", cfg.HostPlayer)
		return
	}
	log.Printf("🎮 Auto-hosting %d public / %d private slots (lan=%v)", cfg.PublicSlots, cfg.PrivateSlots, cfg.Lan)
}
