package config

import (
	"testing"
	"time"
)

// TestLoadDefaults verifies Load matches the defaults with no overrides
func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Engine != DefaultEngine() {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Lan != DefaultLan() {
		t.Errorf("Lan = %+v", cfg.Lan)
	}
	if cfg.Lan.AnnouncePort != 14001 || cfg.Lan.QueryTimeout != 5*time.Second {
		t.Errorf("LAN defaults changed: %+v", cfg.Lan)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Debug.ListenAddr != "127.0.0.1:6060" || cfg.Debug.AllowExternal {
		t.Errorf("Debug = %+v", cfg.Debug)
	}
}

// TestEnvOverrides verifies valid environment values replace defaults
func TestEnvOverrides(t *testing.T) {
	t.Setenv("ONLINE_TICK_RATE", "60")
	t.Setenv("LAN_ANNOUNCE_PORT", "15000")
	t.Setenv("LAN_BROADCAST_ADDR", "192.168.1.255")
	t.Setenv("LAN_QUERY_TIMEOUT", "750ms")
	t.Setenv("LAN_MAX_QUERIES_PER_SEC", "2.5")
	t.Setenv("SESSION_PUBLIC_SLOTS", "0")
	t.Setenv("SESSION_HOST_LIVE", "false")
	t.Setenv("SESSION_AUTO_HOST", "true")
	t.Setenv("SESSION_LAN", "false")
	t.Setenv("PROFILE_VERSION", "7")
	t.Setenv("SIM_FAIL_RATE", "0.25")
	t.Setenv("SIM_STEP_INTERVAL", "2")
	t.Setenv("PORT", "8080")
	t.Setenv("DEBUG_SERVER", "false")
	t.Setenv("EVENT_LOG_PATH", "/tmp/events.jsonl")

	cfg := Load()

	checks := []struct {
		name string
		ok   bool
	}{
		{"tick rate", cfg.Engine.TickRate == 60},
		{"port", cfg.Lan.AnnouncePort == 15000},
		{"broadcast", cfg.Lan.BroadcastAddr == "192.168.1.255"},
		{"query timeout", cfg.Lan.QueryTimeout == 750*time.Millisecond},
		{"query rate", cfg.Lan.MaxQueriesPerSec == 2.5},
		{"public slots", cfg.Session.PublicSlots == 0},
		{"host live", !cfg.Session.HostLive},
		{"auto host", cfg.Session.AutoHost && !cfg.Session.Lan},
		{"profile version", cfg.Profile.Version == 7},
		{"fail rate", cfg.Sim.FailRate == 0.25},
		{"step seconds", cfg.Sim.StepInterval == 2*time.Second},
		{"server port", cfg.Server.Port == 8080},
		{"debug off", !cfg.Debug.Enabled},
		{"event log", cfg.Debug.EventLogPath == "/tmp/events.jsonl"},
	}
	for _, c := range checks {
		if !c.ok {
			t.Errorf("%s override not applied: %+v", c.name, cfg)
		}
	}
}

// TestInvalidEnvIgnored verifies malformed or out of range values keep the
// defaults
func TestInvalidEnvIgnored(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(AppConfig) bool
	}{
		{"tick rate text", "ONLINE_TICK_RATE", "fast", func(c AppConfig) bool { return c.Engine.TickRate == 30 }},
		{"negative tick rate", "ONLINE_TICK_RATE", "-5", func(c AppConfig) bool { return c.Engine.TickRate == 30 }},
		{"port too big", "LAN_ANNOUNCE_PORT", "70000", func(c AppConfig) bool { return c.Lan.AnnouncePort == 14001 }},
		{"bad duration", "LAN_QUERY_TIMEOUT", "soon", func(c AppConfig) bool { return c.Lan.QueryTimeout == 5*time.Second }},
		{"fail rate above one", "SIM_FAIL_RATE", "1.5", func(c AppConfig) bool { return c.Sim.FailRate == 0 }},
		{"host player out of range", "SESSION_HOST_PLAYER", "4", func(c AppConfig) bool { return c.Session.HostPlayer == 0 }},
		{"bool text", "SESSION_HOST_LIVE", "maybe", func(c AppConfig) bool { return c.Session.HostLive }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if cfg := Load(); !tt.check(cfg) {
				t.Errorf("%s=%q changed the config: %+v", tt.key, tt.value, cfg)
			}
		})
	}
}
