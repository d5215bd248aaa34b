// Package eventbus is the composition root's in-process publish/subscribe
// fabric, breaking the cyclic references between the intervalometer
// session, the report manager, and the broadcast fabric (spec §9 design
// note) that a direct-call wiring between them would otherwise create.
// Grounded on the teacher's nats_publisher.go Publish/subject shape,
// adapted from an out-of-process NATS subject to an in-process topic
// string since this service has no second process to publish across.
package eventbus

import "sync"

// Topic names the closed set of subjects this service's components
// publish typed events under. Subscribers type-assert the payload
// themselves; the bus carries `any` so each subsystem's own typed event
// (discovery.Event, intervalometer.Event, timesync events) passes through
// unchanged rather than being re-wrapped in a bus-owned envelope.
type Topic string

const (
	TopicDiscovery      Topic = "discovery"
	TopicIntervalometer Topic = "intervalometer"
	TopicReports        Topic = "reports"
	TopicTimeSync       Topic = "timesync"
)

// Bus is a minimal synchronous pub/sub fabric: Publish calls every
// subscriber of a topic in registration order, on the publisher's own
// goroutine. Handlers that need to avoid blocking the publisher should
// hand off to their own goroutine or channel.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]func(any)
}

func New() *Bus {
	return &Bus{subscribers: make(map[Topic][]func(any))}
}

// Subscribe registers fn to be called for every event published to topic.
func (b *Bus) Subscribe(topic Topic, fn func(any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], fn)
}

// Publish fans event out to every current subscriber of topic.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	handlers := append([]func(any){}, b.subscribers[topic]...)
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(event)
	}
}
