package online

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"online-subsystem/internal/syslink"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 1024                   // Events kept in memory
	MaxEventsPerSec    = 5000                   // Global rate limit
	MaxEventsPerSource = 200                    // Per-source rate limit per second
	BatchFlushInterval = 100 * time.Millisecond // How often the file writer runs
	SourceIdleTimeout  = 5 * time.Minute        // Quiet sources are forgotten
)

// EventLog keeps the latest subsystem events in a ring for queries. Once
// started with a path it also appends every recorded event to a JSON lines
// file from a writer goroutine. LAN peers are rate limited per source so a
// flooding host cannot push session history out of the ring.
type EventLog struct {
	mu      sync.Mutex
	ring    [EventBufferSize]Event
	seq     uint64 // sequence of the newest event
	written uint64 // sequence of the newest event handed to the file

	globalLimiter *rate.Limiter
	sources       *syslink.SourceLimiter

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	writerWg sync.WaitGroup
	file     *os.File
	out      *bufio.Writer

	totalCount   uint64 // atomic
	droppedCount uint64 // atomic
}

// NewEventLog creates an in-memory event log with no file attached
func NewEventLog() *EventLog {
	return &EventLog{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		sources: syslink.NewSourceLimiter(syslink.LimiterConfig{
			QueriesPerSecond: MaxEventsPerSource,
			Burst:            MaxEventsPerSource / 10,
			IdleTimeout:      SourceIdleTimeout,
		}),
		stopChan: make(chan struct{}),
	}
}

// Start appends events recorded from now on to filePath.
func (el *EventLog) Start(filePath string) error {
	if filePath == "" || el.running.Load() {
		return nil
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	el.file = file
	el.out = bufio.NewWriter(file)

	el.mu.Lock()
	el.written = el.seq
	el.mu.Unlock()

	el.running.Store(true)
	el.writerWg.Add(1)
	go el.writerLoop()
	log.Printf("✅ Event log writing to %s", filePath)
	return nil
}

// Stop writes pending events and closes the file
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		close(el.stopChan)
		el.writerWg.Wait()
		el.running.Store(false)

		if el.file == nil {
			return
		}
		if err := el.out.Flush(); err != nil {
			log.Printf("⚠️ Event log flush: %v", err)
		}
		el.file.Close()
	})
}

// Emit records an event and stamps its sequence. It returns false when the
// event was rate limited.
func (el *EventLog) Emit(event Event) bool {
	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}
	if event.Source != "" && !el.sources.Allow(event.Source) {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	el.mu.Lock()
	el.seq++
	event.Sequence = el.seq
	el.ring[el.seq%EventBufferSize] = event
	if el.running.Load() && el.seq-el.written > EventBufferSize {
		// The writer fell a full ring behind; the oldest unwritten event is gone
		el.written = el.seq - EventBufferSize
		atomic.AddUint64(&el.droppedCount, 1)
	}
	el.mu.Unlock()

	atomic.AddUint64(&el.totalCount, 1)
	return true
}

// OnEvent lets the log be registered as a subsystem observer
func (el *EventLog) OnEvent(e Event) {
	el.Emit(e)
}

// Recent returns up to limit of the newest events, oldest first.
func (el *EventLog) Recent(limit int) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	n := uint64(limit)
	if limit <= 0 || n > EventBufferSize {
		n = EventBufferSize
	}
	if n > el.seq {
		n = el.seq
	}
	out := make([]Event, 0, n)
	for s := el.seq - n + 1; s <= el.seq && n > 0; s++ {
		out = append(out, el.ring[s%EventBufferSize])
	}
	return out
}

func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-el.stopChan:
			el.writePending()
			return
		case <-ticker.C:
			el.writePending()
		}
	}
}

// writePending encodes everything recorded since the last pass. Only the
// writer goroutine calls it.
func (el *EventLog) writePending() {
	el.mu.Lock()
	var batch []Event
	for s := el.written + 1; s <= el.seq; s++ {
		batch = append(batch, el.ring[s%EventBufferSize])
	}
	el.written = el.seq
	el.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	enc := json.NewEncoder(el.out)
	for _, event := range batch {
		if err := enc.Encode(event); err != nil {
			log.Printf("⚠️ Event log write: %v", err)
			return
		}
	}
	if err := el.out.Flush(); err != nil {
		log.Printf("⚠️ Event log flush: %v", err)
	}
}

// GetStats returns counters for monitoring
func (el *EventLog) GetStats() map[string]interface{} {
	el.mu.Lock()
	pending := uint64(0)
	if el.running.Load() {
		pending = el.seq - el.written
	}
	el.mu.Unlock()
	return map[string]interface{}{
		"total":   atomic.LoadUint64(&el.totalCount),
		"dropped": atomic.LoadUint64(&el.droppedCount),
		"pending": pending,
		"running": el.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events
func (el *EventLog) GetDroppedCount() uint64 {
	return atomic.LoadUint64(&el.droppedCount)
}
