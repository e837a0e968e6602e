// Package events is a publish/subscribe bus for operational
// observability. The agent loop, channels and consolidation publish;
// the gateway's /v1/events WebSocket subscribes. A nil *Bus is valid
// and drops everything, so publishers never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent   = "agent"
	SourceMemory  = "memory"
	SourceChannel = "channel"
	SourceWatch   = "connwatch"
)

// Kinds.
const (
	// KindRequestStart: session, channel, request_id.
	KindRequestStart = "request_start"
	// KindLLMCall: request_id, iter, model, stream.
	KindLLMCall = "llm_call"
	// KindToolCall: request_id, iter, tool.
	KindToolCall = "tool_call"
	// KindToolDone: request_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete: request_id, iterations, outcome, elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindRequestFailed: request_id, error.
	KindRequestFailed = "request_failed"
	// KindConsolidated: session, entries.
	KindConsolidated = "consolidated"
	// KindChannelStarted: channel.
	KindChannelStarted = "channel_started"
	// KindServiceReady: service.
	KindServiceReady = "service_ready"
	// KindServiceDown: service, error.
	KindServiceDown = "service_down"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. A subscriber whose buffer is
// full misses events; publishers never wait.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	// C receives events until Close is called.
	C <-chan Event

	ch   chan Event
	bus  *Bus
	once sync.Once
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size.
// Subscribing to a nil bus returns a subscription that never delivers.
func (b *Bus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	s := &Subscription{C: ch, ch: ch, bus: b}
	if b == nil {
		return s
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Close removes the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.bus != nil {
			s.bus.mu.Lock()
			delete(s.bus.subs, s)
			s.bus.mu.Unlock()
		}
		close(s.ch)
	})
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
