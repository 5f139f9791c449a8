package events

import (
	"sync"
	"time"
)

// EventType names a notification published to UI surfaces.
type EventType string

const (
	BookmarkProcessingStarted EventType = "bookmark:processing_started"
	BookmarkReady             EventType = "bookmark:ready"
	BookmarkProcessingFailed  EventType = "bookmark:processing_failed"
	SyncStarted               EventType = "sync:started"
	SyncCompleted             EventType = "sync:completed"
	SyncFailed                EventType = "sync:failed"
)

// Event is a fire-and-forget notification.
type Event struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	BookmarkID    string    `json:"bookmarkId,omitempty"`
	URL           string    `json:"url,omitempty"`
	Status        string    `json:"status,omitempty"`
	Error         string    `json:"error,omitempty"`
	Manual        bool      `json:"manual,omitempty"`
	Action        string    `json:"action,omitempty"`
	Message       string    `json:"message,omitempty"`
	BookmarkCount int       `json:"bookmarkCount,omitempty"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(event Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}

// SafeEmit delivers an event and swallows any panic raised by the sink.
func SafeEmit(sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	defer func() {
		_ = recover()
	}()
	sink.Emit(event)
}

// Bus fans events out to subscribers. Slow subscribers lose events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *Logger
}

// NewBus creates an event bus.
func NewBus(logger *Logger) *Bus {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.WithField("component", "event_bus"),
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Emit implements Sink.
func (b *Bus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber full, drop event
			b.logger.WithField("type", string(event.Type)).Debug("Event channel full, dropping event")
		}
	}
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements Sink.
func (r *Recorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of one type.
func (r *Recorder) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
