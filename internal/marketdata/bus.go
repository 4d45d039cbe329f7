package marketdata

import (
	"sync"
)

// EventType names the kinds of events the engine publishes. WebSocket clients
// match on these strings, so they are part of the wire contract.
type EventType string

const (
	EventTick           EventType = "tick"
	EventOrderBook      EventType = "orderbook"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventOrderPlaced    EventType = "order_placed"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCancelled EventType = "order_cancelled"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

const subscriberBuffer = 100

// Bus fans out engine events (ticks, books, position and order updates) to
// connected WebSocket clients. Slow subscribers drop events rather than
// blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
