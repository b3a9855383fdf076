package syslink

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig configures per-source query limiting on a hosting beacon
type LimiterConfig struct {
	QueriesPerSecond float64       // Queries answered per second per source
	Burst            int           // Maximum burst size
	IdleTimeout      time.Duration // Sources idle this long are forgotten
}

// DefaultLimiterConfig answers a handful of queries per second per host
var DefaultLimiterConfig = LimiterConfig{
	QueriesPerSecond: 4,
	Burst:            8,
	IdleTimeout:      time.Minute,
}

type sourceEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SourceLimiter caps how often one LAN source can make the host answer.
type SourceLimiter struct {
	mu        sync.Mutex
	sources   map[string]*sourceEntry
	config    LimiterConfig
	lastSweep time.Time
	now       func() time.Time

	rejected uint64 // atomic
}

// NewSourceLimiter creates a limiter. A zero QueriesPerSecond disables limiting.
func NewSourceLimiter(cfg LimiterConfig) *SourceLimiter {
	return &SourceLimiter{
		sources: make(map[string]*sourceEntry),
		config:  cfg,
		now:     time.Now,
	}
}

// Allow reports whether a query from source should be answered.
func (l *SourceLimiter) Allow(source string) bool {
	if l == nil || l.config.QueriesPerSecond <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.config.IdleTimeout {
		l.sweep(now)
	}
	e, ok := l.sources[source]
	if !ok {
		e = &sourceEntry{limiter: rate.NewLimiter(rate.Limit(l.config.QueriesPerSecond), l.config.Burst)}
		l.sources[source] = e
	}
	e.lastSeen = now
	if e.limiter.AllowN(now, 1) {
		return true
	}
	atomic.AddUint64(&l.rejected, 1)
	return false
}

// sweep forgets idle sources. Caller holds mu.
func (l *SourceLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.config.IdleTimeout)
	for k, e := range l.sources {
		if e.lastSeen.Before(cutoff) {
			delete(l.sources, k)
		}
	}
	l.lastSweep = now
}

// Rejected returns the number of queries refused so far.
func (l *SourceLimiter) Rejected() uint64 {
	return atomic.LoadUint64(&l.rejected)
}
