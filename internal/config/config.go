// Package config provides centralized configuration management.
// Every tunable of the server and the LAN client starts here.
//
// Defaults live in the DefaultX functions; XFromEnv applies environment
// overrides on top of them.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// ENGINE CONFIGURATION
// =============================================================================

// EngineConfig controls the subsystem tick loop.
type EngineConfig struct {
	TickRate int // Subsystem ticks per second
}

// DefaultEngine returns the default engine configuration.
func DefaultEngine() EngineConfig {
	return EngineConfig{TickRate: 30}
}

// EngineFromEnv returns engine configuration with environment overrides.
func EngineFromEnv() EngineConfig {
	cfg := DefaultEngine()
	if tr := getEnvInt("ONLINE_TICK_RATE", 0); tr > 0 {
		cfg.TickRate = tr
	}
	return cfg
}

// =============================================================================
// LAN CONFIGURATION
// =============================================================================

// LanConfig holds system link settings.
type LanConfig struct {
	AnnouncePort  int
	BroadcastAddr string
	QueryTimeout  time.Duration // How long a search waits for responses

	// Per-source query limiting on the hosting beacon
	MaxQueriesPerSec float64
	QueryBurst       int
}

// DefaultLan returns the default LAN configuration.
func DefaultLan() LanConfig {
	return LanConfig{
		AnnouncePort:     14001,
		BroadcastAddr:    "255.255.255.255",
		QueryTimeout:     5 * time.Second,
		MaxQueriesPerSec: 5,
		QueryBurst:       10,
	}
}

// LanFromEnv returns LAN configuration with environment overrides.
func LanFromEnv() LanConfig {
	cfg := DefaultLan()

	if p := getEnvInt("LAN_ANNOUNCE_PORT", 0); p > 0 && p < 65536 {
		cfg.AnnouncePort = p
	}
	if addr := os.Getenv("LAN_BROADCAST_ADDR"); addr != "" {
		cfg.BroadcastAddr = addr
	}
	if d := getEnvDuration("LAN_QUERY_TIMEOUT", 0); d > 0 {
		cfg.QueryTimeout = d
	}
	if q := getEnvFloat("LAN_MAX_QUERIES_PER_SEC", 0); q > 0 {
		cfg.MaxQueriesPerSec = q
	}
	if b := getEnvInt("LAN_QUERY_BURST", 0); b > 0 {
		cfg.QueryBurst = b
	}

	return cfg
}

// =============================================================================
// SESSION DEFAULTS
// =============================================================================

// SessionConfig holds defaults for sessions created by the server.
type SessionConfig struct {
	PublicSlots  int
	PrivateSlots int
	HostPlayer   int // Local player index that hosts
	HostName     string
	HostLive     bool // Whether the host signs in to Live or locally
	AutoHost     bool // Create a session at startup
	Lan          bool // Auto-hosted sessions are LAN matches
}

// DefaultSession returns the default session configuration.
func DefaultSession() SessionConfig {
	return SessionConfig{
		PublicSlots:  8,
		PrivateSlots: 0,
		HostPlayer:   0,
		HostName:     "Host",
		HostLive:     true,
		AutoHost:     false,
		Lan:          true,
	}
}

// SessionFromEnv returns session configuration with environment overrides.
func SessionFromEnv() SessionConfig {
	cfg := DefaultSession()

	if v := getEnvInt("SESSION_PUBLIC_SLOTS", -1); v >= 0 {
		cfg.PublicSlots = v
	}
	if v := getEnvInt("SESSION_PRIVATE_SLOTS", -1); v >= 0 {
		cfg.PrivateSlots = v
	}
	if v := getEnvInt("SESSION_HOST_PLAYER", -1); v >= 0 && v < 4 {
		cfg.HostPlayer = v
	}
	if name := os.Getenv("SESSION_HOST_NAME"); name != "" {
		cfg.HostName = name
	}
	cfg.HostLive = getEnvBool("SESSION_HOST_LIVE", cfg.HostLive)
	cfg.AutoHost = getEnvBool("SESSION_AUTO_HOST", cfg.AutoHost)
	cfg.Lan = getEnvBool("SESSION_LAN", cfg.Lan)

	return cfg
}

// =============================================================================
// PROFILE CONFIGURATION
// =============================================================================

// ProfileConfig holds profile settings versioning.
type ProfileConfig struct {
	Version int32 // Profiles stored with another version are reset to defaults
}

// DefaultProfile returns the default profile configuration.
func DefaultProfile() ProfileConfig {
	return ProfileConfig{Version: 1}
}

// ProfileFromEnv returns profile configuration with environment overrides.
func ProfileFromEnv() ProfileConfig {
	cfg := DefaultProfile()
	if v := getEnvInt("PROFILE_VERSION", 0); v > 0 {
		cfg.Version = int32(v)
	}
	return cfg
}

// =============================================================================
// SIMULATED PLATFORM
// =============================================================================

// SimConfig controls the simulated SDK the server runs against.
type SimConfig struct {
	LatencyTicks   int           // Steps before an issued call completes
	StepInterval   time.Duration // How often the sim completes calls
	SignedInPlayer int           // Number of local players signed in at start
	FailRate       float64       // Chance an operation fails (chaos testing)
	Seed           int64
}

// DefaultSim returns the default simulated platform configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		LatencyTicks:   2,
		StepInterval:   20 * time.Millisecond,
		SignedInPlayer: 1,
		FailRate:       0,
		Seed:           1,
	}
}

// SimFromEnv returns simulated platform configuration with environment overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if v := getEnvInt("SIM_LATENCY_TICKS", -1); v >= 0 {
		cfg.LatencyTicks = v
	}
	if d := getEnvDuration("SIM_STEP_INTERVAL", 0); d > 0 {
		cfg.StepInterval = d
	}
	if v := getEnvInt("SIM_SIGNED_IN", -1); v >= 0 && v <= 4 {
		cfg.SignedInPlayer = v
	}
	if v := getEnvFloat("SIM_FAIL_RATE", -1); v >= 0 && v <= 1 {
		cfg.FailRate = v
	}
	if v := getEnvInt("SIM_SEED", 0); v != 0 {
		cfg.Seed = int64(v)
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port              int
	RequestsPerSecond float64 // Per-IP API rate limit
	Burst             int
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:              3000,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if v := getEnvFloat("API_RATE_LIMIT", 0); v > 0 {
		cfg.RequestsPerSecond = v
	}
	if v := getEnvInt("API_RATE_BURST", 0); v > 0 {
		cfg.Burst = v
	}

	return cfg
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

// DebugConfig holds the pprof and metrics server settings.
type DebugConfig struct {
	Enabled       bool
	ListenAddr    string
	AllowExternal bool
	BasicAuthUser string
	BasicAuthPass string
	EventLogPath  string // Empty disables the event log file
}

// DefaultDebug returns the default observability configuration.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// DebugFromEnv returns observability configuration with environment overrides.
func DebugFromEnv() DebugConfig {
	cfg := DefaultDebug()

	cfg.Enabled = getEnvBool("DEBUG_SERVER", cfg.Enabled)
	if addr := os.Getenv("DEBUG_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.AllowExternal = getEnvBool("ALLOW_DEBUG_EXTERNAL", false)
	cfg.BasicAuthUser = os.Getenv("DEBUG_USER")
	cfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
	cfg.EventLogPath = os.Getenv("EVENT_LOG_PATH")

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Engine  EngineConfig
	Lan     LanConfig
	Session SessionConfig
	Profile ProfileConfig
	Sim     SimConfig
	Server  ServerConfig
	Debug   DebugConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Engine:  EngineFromEnv(),
		Lan:     LanFromEnv(),
		Session: SessionFromEnv(),
		Profile: ProfileFromEnv(),
		Sim:     SimFromEnv(),
		Server:  ServerFromEnv(),
		Debug:   DebugFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("750ms") or whole seconds ("5").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}
