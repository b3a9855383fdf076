package online

import (
	"context"
	"log"
	"sync"
	"time"
)

// TickStats describes the last tick for monitoring.
type TickStats struct {
	TickCount    uint64        `json:"tickCount"`
	LastDuration time.Duration `json:"lastDuration"`
	QueuedTasks  int           `json:"queuedTasks"`
	State        string        `json:"state"`
	LanState     string        `json:"lanState"`
}

// Engine drives a Subsystem from one goroutine. Every external call goes
// through Do so the subsystem only ever runs under the engine lock.
type Engine struct {
	mu  sync.Mutex
	sub *Subsystem

	tickRate int
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}
	lastTick time.Time

	// onTick runs under the lock after every tick.
	onTick func(s *Subsystem, took time.Duration)
	stats  TickStats

	eventLog *EventLog
}

// NewEngine wraps sub. tickRate is in ticks per second.
func NewEngine(sub *Subsystem, tickRate int) *Engine {
	if tickRate <= 0 {
		tickRate = 30
	}
	e := &Engine{
		sub:      sub,
		tickRate: tickRate,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		eventLog: NewEventLog(),
	}
	sub.AddObserver(e.eventLog)
	return e
}

// OnTick sets the hook run after every tick.
func (e *Engine) OnTick(fn func(s *Subsystem, took time.Duration)) {
	e.mu.Lock()
	e.onTick = fn
	e.mu.Unlock()
}

// Start begins the tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.lastTick = time.Now()
	e.ticker = time.NewTicker(time.Second / time.Duration(e.tickRate))
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Online engine started at %d TPS", e.tickRate)
}

// Stop ends the tick loop and shuts the subsystem down.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	e.mu.Unlock()

	<-e.done
	e.mu.Lock()
	e.sub.Shutdown()
	e.mu.Unlock()
	log.Println("🛑 Online engine stopped")
}

// Run starts the engine and stops it once ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.Start()
	<-ctx.Done()
	e.Stop()
	return nil
}

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	delta := now.Sub(e.lastTick)
	e.lastTick = now

	e.sub.Tick(delta)

	took := time.Since(now)
	e.stats = TickStats{
		TickCount:    e.sub.TickCount(),
		LastDuration: took,
		QueuedTasks:  e.sub.QueuedTasks(),
		State:        e.sub.State().String(),
		LanState:     e.sub.LanState().String(),
	}
	if e.onTick != nil {
		e.onTick(e.sub, took)
	}
}

// Do runs fn on the subsystem under the engine lock.
func (e *Engine) Do(fn func(s *Subsystem)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.sub)
}

// Stats returns the last tick's stats.
func (e *Engine) Stats() TickStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// StartEventLog starts recording subsystem events.
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog flushes and stops the event log.
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (e *Engine) RecentEvents(limit int) []Event {
	return e.eventLog.Recent(limit)
}

// GetEventLogStats returns event log statistics for monitoring.
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}
