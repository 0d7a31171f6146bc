package zhmc

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one resource change delivered on the client's event bus. The
// auto-update dispatcher publishes an event for every notification it
// applies, under "<class>.<object-id>.<notification-type>" topics, so
// callers can observe change streams without polling.
type Event struct {
	Topic      string
	Class      string
	URI        string
	Kind       string         // property-change, status-change, inventory-change
	Properties map[string]any // the applied property values, if any
	Received   time.Time
}

type eventSubscriber struct {
	id string
	ch chan Event

	mu     sync.Mutex
	closed bool
}

func (s *eventSubscriber) send(ev Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *eventSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// EventBus fans resource change events out to topic subscribers. Topic
// patterns are dot-separated; a "*" segment matches any one segment and a
// bare "*" matches everything. Publishing never blocks the dispatcher for
// longer than the per-subscriber send timeout; slow subscribers lose
// events rather than stalling delivery.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*eventSubscriber // pattern → id → sub
	counter     uint64
}

func newEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[string]*eventSubscriber),
	}
}

// Subscribe registers for events matching the topic pattern and returns
// the event channel and an unsubscribe function. The channel is closed on
// unsubscribe.
func (b *EventBus) Subscribe(pattern string, bufferSize int) (<-chan Event, func()) {
	id := fmt.Sprintf("sub-%d", atomic.AddUint64(&b.counter, 1))
	sub := &eventSubscriber{
		id: id,
		ch: make(chan Event, bufferSize),
	}

	b.mu.Lock()
	if _, ok := b.subscribers[pattern]; !ok {
		b.subscribers[pattern] = make(map[string]*eventSubscriber)
	}
	b.subscribers[pattern][id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[pattern]; ok {
			if s, ok := subs[id]; ok {
				s.close()
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subscribers, pattern)
				}
			}
		}
	}
	return sub.ch, unsubscribe
}

// publish delivers the event to all subscribers whose pattern matches its
// topic.
func (b *EventBus) publish(ev Event, timeout time.Duration) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for pattern, subs := range b.subscribers {
		if !matchTopic(pattern, ev.Topic) {
			continue
		}
		for _, sub := range subs {
			sub.send(ev, timeout)
		}
	}
}

// shutdown closes all subscriber channels and clears the bus.
func (b *EventBus) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.subscribers = make(map[string]map[string]*eventSubscriber)
}

func matchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	if pattern == "*" || pattern == topic {
		return true
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] == "*" {
			continue
		}
		if pp[i] != tp[i] {
			return false
		}
	}
	return true
}
