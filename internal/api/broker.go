package api

import (
	"sync"
)

// Event is pushed to stream subscribers when alerts fire or quotes move.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans events out to per-user stream subscribers.
type EventBroker interface {
	Subscribe(userID string) chan Event
	Unsubscribe(userID string, ch chan Event)
	Publish(userID string, evt Event)
}

// Broker is the in-memory EventBroker used when REDIS_URL is unset.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // userID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(userID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = map[chan Event]struct{}{}
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(userID string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[userID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, userID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(userID string, evt Event) {
	b.mu.Lock()
	m := b.subs[userID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
