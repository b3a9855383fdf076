package api

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"online-subsystem/internal/syslink"
)

// RateLimitConfig configures per-IP request limiting on the API
type RateLimitConfig struct {
	RequestsPerSecond float64       // Requests allowed per second per IP
	Burst             int           // Maximum burst size
	IdleTimeout       time.Duration // Clients idle this long are forgotten
}

// DefaultRateLimitConfig suits a local admin console
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	IdleTimeout:       5 * time.Minute,
}

// IPRateLimiter limits HTTP requests per client IP. It shares the token
// bucket table the LAN beacon uses to limit discovery queries.
type IPRateLimiter struct {
	sources *syslink.SourceLimiter
	allowed uint64 // atomic
}

// NewIPRateLimiter creates a limiter. Idle clients are swept lazily, so
// there is nothing to stop.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	return &IPRateLimiter{
		sources: syslink.NewSourceLimiter(syslink.LimiterConfig{
			QueriesPerSecond: cfg.RequestsPerSecond,
			Burst:            cfg.Burst,
			IdleTimeout:      cfg.IdleTimeout,
		}),
	}
}

// Allow reports whether a request from ip may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	if !rl.sources.Allow(ip) {
		return false
	}
	atomic.AddUint64(&rl.allowed, 1)
	return true
}

// Middleware rejects clients over their budget with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns rate limiter statistics
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  atomic.LoadUint64(&rl.allowed),
		"rejected": rl.sources.Rejected(),
	}
}

// GetClientIP returns the host part of RemoteAddr. Proxy headers are
// folded into RemoteAddr by middleware.RealIP on the router.
func GetClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter caps concurrent WebSocket connections per IP
type WebSocketRateLimiter struct {
	mu       sync.Mutex
	open     map[string]int
	maxPerIP int
	rejected uint64
}

// NewWebSocketRateLimiter creates a WebSocket connection limiter
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{open: make(map[string]int), maxPerIP: maxPerIP}
}

// Allow reserves a connection slot for ip.
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	if wrl.open[ip] >= wrl.maxPerIP {
		wrl.rejected++
		return false
	}
	wrl.open[ip]++
	return true
}

// Release frees a slot reserved by Allow.
func (wrl *WebSocketRateLimiter) Release(ip string) {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	switch n := wrl.open[ip]; {
	case n > 1:
		wrl.open[ip] = n - 1
	case n == 1:
		delete(wrl.open, ip)
	}
}

// GetConnectionCount returns the open connections of ip
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return wrl.open[ip]
}

// GetStats returns WebSocket rate limiter statistics
func (wrl *WebSocketRateLimiter) GetStats() map[string]uint64 {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return map[string]uint64{
		"rejected": wrl.rejected,
		"ips":      uint64(len(wrl.open)),
	}
}

// LocalOrigins are the CORS patterns matching IsAllowedOrigin.
var LocalOrigins = []string{
	"http://localhost",
	"http://localhost:*",
	"http://127.0.0.1",
	"http://127.0.0.1:*",
}

// IsAllowedOrigin accepts plain http origins on a loopback host, any port.
func IsAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "http" || u.Path != "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
