package realtime

import "sync"

// Event is a change notification for one topic. It carries no payload:
// subscribers re-read the document they care about, the same way a snapshot
// listener would.
type Event struct {
	Topic string
}

// Bus multiplexes feeds by topic name.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*Feed[Event]
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*Feed[Event])}
}

// Subscribe returns a subscription to topic.
func (b *Bus) Subscribe(topic string) *Subscription[Event] {
	b.mu.Lock()
	feed, ok := b.topics[topic]
	if !ok {
		feed = NewFeed[Event]()
		b.topics[topic] = feed
	}
	b.mu.Unlock()

	return feed.Subscribe()
}

// Publish notifies every subscriber of each topic. Topics nobody listens to
// are skipped.
func (b *Bus) Publish(topics ...string) {
	for _, topic := range topics {
		b.mu.Lock()
		feed, ok := b.topics[topic]
		b.mu.Unlock()
		if !ok {
			continue
		}
		feed.Publish(Event{Topic: topic})
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	feed, ok := b.topics[topic]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return feed.Len()
}
