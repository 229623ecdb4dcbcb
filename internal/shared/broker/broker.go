package broker

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is one message on a topic. Data is already JSON encoded.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes data into an Event.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

// Broker fans events out to live subscribers. Delivery is best effort: a slow
// subscriber loses its oldest buffered events, never the newest.
type Broker interface {
	Publish(ctx context.Context, topic string, ev Event) error
	// Subscribe returns a channel of events and a cancel func that closes it.
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}

const subscriberBuffer = 32

// MemoryBroker delivers within one process.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[*subscriber]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, ev Event) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[topic] {
		offer(sub.ch, ev)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	_ = ctx
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*subscriber]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.topics[topic], sub)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// offer sends without blocking, evicting the oldest buffered event when full.
func offer(ch chan Event, ev Event) {
	for i := 0; i < 2; i++ {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
