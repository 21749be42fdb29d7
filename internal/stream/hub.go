package stream

import (
	"sync"
	"time"

	"breakout-scanner/internal/models"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 256,
	}
}

// Hub fans scanner events out to registered observers and channel
// subscribers. Observers are called synchronously in registration order;
// channel sends never block, so a slow subscriber loses events instead of
// stalling the scanner.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	observers   []Observer
	subscribers map[string]*Subscriber
	stopped     bool

	// Metrics
	published uint64
	delivered uint64
	dropped   uint64
	metricsMu sync.Mutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan Event
	Types        map[EventType]bool // empty means all types
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
	}
}

// Register adds an observer.
func (h *Hub) Register(obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, obs)
}

// Unregister removes an observer. obs must be of a comparable type.
func (h *Hub) Unregister(obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, o := range h.observers {
		if o == obs {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			break
		}
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is given. Subscribing an existing id replaces it.
func (h *Hub) Subscribe(id string, types ...EventType) <-chan Event {
	sub := &Subscriber{
		ID:        id,
		Channel:   make(chan Event, h.config.SubscriberBufferSize),
		Types:     make(map[EventType]bool, len(types)),
		CreatedAt: time.Now(),
	}
	for _, t := range types {
		sub.Types[t] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subscribers[id]; ok {
		close(old.Channel)
	}
	if h.stopped {
		close(sub.Channel)
		return sub.Channel
	}
	h.subscribers[id] = sub
	return sub.Channel
}

// Unsubscribe closes and removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Publish delivers ev to every observer and matching subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	h.metricsMu.Lock()
	h.published++
	h.metricsMu.Unlock()

	for _, obs := range h.observers {
		Dispatch(obs, ev)
	}

	for _, sub := range h.subscribers {
		if len(sub.Types) > 0 && !sub.Types[ev.Type] {
			continue
		}
		select {
		case sub.Channel <- ev:
			h.metricsMu.Lock()
			h.delivered++
			h.metricsMu.Unlock()
		default:
			// Skip slow consumers - non-blocking
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.dropped++
			h.metricsMu.Unlock()
		}
	}
}

// Stop closes all subscriber channels. Later publishes are ignored.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// SubscriberCount returns the number of channel subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub delivery counters.
type HubMetrics struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	h.metricsMu.Lock()
	m := HubMetrics{
		Published: h.published,
		Delivered: h.delivered,
		Dropped:   h.dropped,
	}
	h.metricsMu.Unlock()
	m.Subscribers = h.SubscriberCount()
	return m
}

// The Hub is itself an Observer so it can be handed to the scanner directly.

func (h *Hub) CandleUpdated(s Scope, c models.Candle) {
	h.Publish(Event{Type: EventCandleUpdated, Scope: s, Candle: c})
}

func (h *Hub) PatternFound(s Scope, set models.PatternSet) {
	h.Publish(Event{Type: EventPatternFound, Scope: s, Patterns: set})
}

func (h *Hub) BreakoutDetected(s Scope, ev models.BreakoutEvent) {
	h.Publish(Event{Type: EventBreakoutDetected, Scope: s, Breakout: &ev})
}

func (h *Hub) TradeResolved(s Scope, t models.SimulatedTrade) {
	h.Publish(Event{Type: EventTradeResolved, Scope: s, Trade: &t})
}

func (h *Hub) TimeframeAdvanced(s Scope, from, to int) {
	h.Publish(Event{Type: EventTimeframeAdvanced, Scope: s, From: from, To: to})
}

func (h *Hub) SessionFinished(session models.ScannerSession) {
	h.Publish(Event{
		Type:    EventSessionFinished,
		Scope:   Scope{SessionID: session.ID, Symbol: session.Symbol, Timeframe: session.CurrentTimeframe, At: session.FinishedAt},
		Session: &session,
	})
}

var _ Observer = (*Hub)(nil)

// ObserverFunc adapts a function receiving channel-form events to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) CandleUpdated(s Scope, c models.Candle) {
	f(Event{Type: EventCandleUpdated, Scope: s, Candle: c})
}

func (f ObserverFunc) PatternFound(s Scope, set models.PatternSet) {
	f(Event{Type: EventPatternFound, Scope: s, Patterns: set})
}

func (f ObserverFunc) BreakoutDetected(s Scope, ev models.BreakoutEvent) {
	f(Event{Type: EventBreakoutDetected, Scope: s, Breakout: &ev})
}

func (f ObserverFunc) TradeResolved(s Scope, t models.SimulatedTrade) {
	f(Event{Type: EventTradeResolved, Scope: s, Trade: &t})
}

func (f ObserverFunc) TimeframeAdvanced(s Scope, from, to int) {
	f(Event{Type: EventTimeframeAdvanced, Scope: s, From: from, To: to})
}

func (f ObserverFunc) SessionFinished(session models.ScannerSession) {
	f(Event{Type: EventSessionFinished, Scope: Scope{SessionID: session.ID, Symbol: session.Symbol}, Session: &session})
}
