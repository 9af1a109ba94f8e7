package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHistoryCapacity  = 256
	defaultSubscriberBufCap = 100
)

// bus fans events out to subscribers and keeps a bounded history.
type bus struct {
	mu          sync.Mutex
	history     *RingBuffer
	subscribers map[string]chan Event
	closed      bool
}

func newBus(capacity int) *bus {
	return &bus{
		history:     NewRingBuffer(capacity),
		subscribers: make(map[string]chan Event),
	}
}

// publish records event and offers it to every subscriber. A subscriber
// whose buffer is full misses the event.
func (b *bus) publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.history.Write(event)
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// subscribe registers a subscriber. History and registration happen under
// one lock so no event is both replayed and delivered, or lost in between.
func (b *bus) subscribe() (string, <-chan Event, []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)
	history := b.history.ReadAll()
	if b.closed {
		close(ch)
		return id, ch, history
	}
	b.subscribers[id] = ch
	return id, ch, history
}

func (b *bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// close ends every subscription. Later publishes are dropped.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
