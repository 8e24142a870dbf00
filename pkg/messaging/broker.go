package messaging

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Broker fans frames out to in-process subscribers. Subscribers are keyed by
// ID; each owns a buffered channel and is never waited on.
type Broker struct {
	subscribers map[string]chan<- []byte
	mu          sync.RWMutex
	dropped     atomic.Uint64
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]chan<- []byte),
	}
}

// Publish offers payload to every subscriber and returns how many accepted
// it. A subscriber whose channel is full misses this frame.
func (b *Broker) Publish(payload []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subscribers {
		// Non-blocking send
		select {
		case ch <- payload:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribe registers ch under a fresh ID
func (b *Broker) Subscribe(ch chan<- []byte) string {
	id := "sub-" + uuid.New().String()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = ch
	return id
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("subscriber %s is not subscribed", id)
	}

	delete(b.subscribers, id)
	return nil
}

// Len returns the number of current subscribers
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many frames were skipped for slow subscribers
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]chan<- []byte)
}
