package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"online-subsystem/internal/online"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality: task names and session states are
// fixed sets, and nothing is labelled per player or per address.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "online_tick_duration_seconds",
		Help:    "Time spent in a subsystem tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.033},
	})

	queuedTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "online_queued_tasks",
		Help: "Async tasks waiting on the platform",
	})

	tasksFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "online_tasks_finalized_total",
		Help: "Async tasks finalized by name and result",
	}, []string{"task", "result"})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "online_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	lanPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "online_lan_packets_total",
		Help: "LAN beacon packets by direction",
	}, []string{"direction"}) // Bounded: "in", "out", "dropped", "rejected"

	searchResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "online_search_results_total",
		Help: "Sessions found by LAN and Live searches",
	})

	notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "online_notifications_total",
		Help: "System notifications drained",
	})

	// Event log metrics
	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

var sessionStates = []online.SessionState{
	online.StateNoSession,
	online.StatePending,
	online.StateInProgress,
	online.StateEnding,
	online.StateEnded,
}

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Loopback only unless AllowExternal is set
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// isLoopback reports whether addr binds a loopback interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DebugHandler serves pprof, /metrics and /health.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// RunDebugServer serves DebugHandler until ctx is cancelled. A disabled
// server returns immediately.
func RunDebugServer(ctx context.Context, cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !isLoopback(cfg.ListenAddr) && !cfg.AllowExternal {
		log.Println("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = DefaultObservabilityConfig().ListenAddr
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
	log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
	log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Subsystem metrics
// ============================================================================

// SubsystemMetrics turns ticks and events into prometheus metrics. Install
// Observe with Engine.OnTick and register the value as an observer.
type SubsystemMetrics struct {
	mu        sync.Mutex
	lastLan   online.LanStats
	lastTotal uint64
	lastDrop  uint64
}

// NewSubsystemMetrics returns an empty recorder.
func NewSubsystemMetrics() *SubsystemMetrics {
	return &SubsystemMetrics{}
}

// Observe records one tick. It runs under the engine lock.
func (m *SubsystemMetrics) Observe(s *online.Subsystem, took time.Duration) {
	tickDuration.Observe(took.Seconds())
	queuedTasks.Set(float64(s.QueuedTasks()))

	current := s.State()
	for _, st := range sessionStates {
		v := 0.0
		if st == current {
			v = 1
		}
		sessionState.WithLabelValues(st.String()).Set(v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	lan := s.LanStats()
	addDelta(lanPackets.WithLabelValues("in"), lan.PacketsIn, m.lastLan.PacketsIn)
	addDelta(lanPackets.WithLabelValues("out"), lan.PacketsOut, m.lastLan.PacketsOut)
	addDelta(lanPackets.WithLabelValues("dropped"), lan.Dropped, m.lastLan.Dropped)
	addDelta(lanPackets.WithLabelValues("rejected"), lan.Rejected, m.lastLan.Rejected)
	m.lastLan = lan
}

// UpdateEventLogStats records event log totals, which only ever grow.
func (m *SubsystemMetrics) UpdateEventLogStats(total, dropped uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addDelta(eventLogTotal, total, m.lastTotal)
	addDelta(eventLogDropped, dropped, m.lastDrop)
	m.lastTotal, m.lastDrop = total, dropped
}

// OnEvent counts finalized tasks, search hits and notifications.
func (m *SubsystemMetrics) OnEvent(e online.Event) {
	switch e.Type {
	case online.EventTypeTaskComplete:
		var p online.TaskPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return
		}
		result := "ok"
		if !p.OK {
			result = "failed"
		}
		tasksFinalized.WithLabelValues(p.Name, result).Inc()
	case online.EventTypeSearchResult:
		searchResults.Inc()
	case online.EventTypeNotification:
		notifications.Inc()
	}
}

func addDelta(c prometheus.Counter, now, last uint64) {
	if now > last {
		c.Add(float64(now - last))
	}
}

// ============================================================================
// HTTP metrics
// ============================================================================

// metricsMiddleware records latency and status by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
