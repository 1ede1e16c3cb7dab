package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventRequestSuccess       EventType = "request_success"
	EventRequestError         EventType = "request_error"
	EventCredentialCooldown   EventType = "credential_cooldown"
	EventCredentialDisabled   EventType = "credential_disabled"
	EventPressureAlert        EventType = "pressure_alert"
	EventBreakerTransition    EventType = "breaker_transition"
	EventDeliberationComplete EventType = "deliberation_complete"
	EventEnrichmentRefresh    EventType = "enrichment_refresh"
)

// Event is a single orchestration event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Dispatch fields (populated for request events).
	Provider        string  `json:"provider,omitempty"`
	TaskType        string  `json:"task_type,omitempty"`
	CredentialIndex int     `json:"credential_index,omitempty"`
	LatencyMs       float64 `json:"latency_ms,omitempty"`
	CostUSD         float64 `json:"cost_usd,omitempty"`
	ErrorKind       string  `json:"error_kind,omitempty"`
	ErrorMsg        string  `json:"error_msg,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`

	// Pool fields (cooldown / disable / pressure events).
	SecretName   string  `json:"secret_name,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	CooldownSecs float64 `json:"cooldown_secs,omitempty"`
	Cooling      int     `json:"cooling,omitempty"`
	Total        int     `json:"total,omitempty"`

	// Breaker fields.
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`

	// Deliberation fields.
	Decision   string  `json:"decision,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rounds     int     `json:"rounds,omitempty"`

	// Enrichment fields.
	CacheKey string `json:"cache_key,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C chan Event
}

// Bus is an in-memory pub/sub event bus for orchestration events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{C: make(chan Event, bufSize)}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. The channel is left open; Publish can
// no longer reach it once the subscriber is out of the map.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
