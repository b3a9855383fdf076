package online

import (
	"encoding/json"
	"time"
)

// EventType classifies subsystem events
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeStateChange
	EventTypeTaskQueued
	EventTypeTaskComplete
	EventTypeSearchResult
	EventTypeLanPacket
	EventTypeNotification
	EventTypeTalking
	EventTypePlayer
)

// EventVersion for backwards compatibility of the log format
const EventVersion uint8 = 1

// Event is one entry of the event log and the observer stream
type Event struct {
	Version   uint8     `json:"version"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // Unix nano
	Sequence  uint64    `json:"sequence"`
	TickNum   uint64    `json:"tickNum"`
	Source    string    `json:"source"` // rate limiting key
	Payload   []byte    `json:"payload"`
}

// String returns the wire name used by observers
func (t EventType) String() string {
	switch t {
	case EventTypeStateChange:
		return "session:state"
	case EventTypeTaskQueued:
		return "task:queued"
	case EventTypeTaskComplete:
		return "task:complete"
	case EventTypeSearchResult:
		return "search:result"
	case EventTypeLanPacket:
		return "lan:packet"
	case EventTypeNotification:
		return "system:notification"
	case EventTypeTalking:
		return "voice:talking"
	case EventTypePlayer:
		return "session:player"
	default:
		return "unknown"
	}
}

// StatePayload records a session or LAN state transition
type StatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Lan  string `json:"lan"`
}

// TaskPayload describes a queued or finalized task
type TaskPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
	OK   bool   `json:"ok"`
}

// SearchResultPayload summarizes one search hit
type SearchResultPayload struct {
	Owner      string `json:"owner"`
	OpenPublic int32  `json:"openPublic"`
	PingMs     int32  `json:"pingMs"`
	Lan        bool   `json:"lan"`
}

// LanPacketPayload describes a handled or dropped LAN packet
type LanPacketPayload struct {
	From    string `json:"from"`
	Kind    string `json:"kind"`
	Size    int    `json:"size"`
	Dropped bool   `json:"dropped"`
}

// NotificationPayload records a drained system notification
type NotificationPayload struct {
	Kind  string `json:"kind"`
	Param uint32 `json:"param"`
}

// PlayerPayload records a player registration change
type PlayerPayload struct {
	Player     string `json:"player"`
	Registered bool   `json:"registered"`
}

// TalkingPayload records a talker that sent voice this frame
type TalkingPayload struct {
	User   int    `json:"user"`
	Player string `json:"player"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, tickNum uint64, source string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Source:    source,
		Payload:   EncodePayload(payload),
	}
}

// Observer receives every event the subsystem emits. Observers run on the
// tick goroutine and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }
