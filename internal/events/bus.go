// Package events provides the explicit notification channel between the
// memory substrate and the orchestration layer. Pattern-discovered and
// evolution-completed notifications are delivered over a bounded channel
// with explicit overflow accounting instead of implicit broadcast.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies a substrate notification.
type EventType string

const (
	EventPatternDiscovered  EventType = "pattern_discovered"
	EventEvolutionCompleted EventType = "evolution_completed"
	EventEpisodePromoted    EventType = "episode_promoted"
	EventContaminationFound EventType = "contamination_found"
)

// Event is one substrate notification.
type Event struct {
	Type      EventType      `json:"type"`
	AgentID   int64          `json:"agent_id"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config configures the event bus.
type Config struct {
	BufferSize int `json:"buffer_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// Bus delivers events to a single subscriber channel. Publishing never
// blocks producers: when the subscriber cannot keep up the event is
// dropped and counted, keeping backpressure visible instead of silent.
type Bus struct {
	ch     chan Event
	now    func() time.Time
	closed atomic.Bool
	mu     sync.Mutex

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates an event bus.
func NewBus(cfg Config) *Bus {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	return &Bus{
		ch:  make(chan Event, size),
		now: time.Now,
	}
}

// Publish offers an event to the subscriber without blocking.
// It reports whether the event was accepted. Safe to call concurrently
// with Close; the send is serialized with channel shutdown.
func (b *Bus) Publish(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return false
	}

	select {
	case b.ch <- ev:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Subscribe returns the receive side of the bus for select statements.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// Receive blocks until an event arrives or the context is cancelled.
func (b *Bus) Receive(ctx context.Context) (Event, error) {
	select {
	case ev := <-b.ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close stops the bus. Pending events remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.CompareAndSwap(false, true) {
		close(b.ch)
	}
}

// Stats reports publish and drop counts.
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Buffered  int   `json:"buffered"`
}

// GetStats returns bus statistics.
func (b *Bus) GetStats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Buffered:  len(b.ch),
	}
}
