// Package notify provides an in-process notification bus for queue changes.
// The flusher subscribes to it to drain a full window without waiting for
// its next tick.
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Kind identifies what changed in the queue.
type Kind int

const (
	EventsEnqueued Kind = iota
	EventsTrimmed
	QueueCleared
)

func (k Kind) String() string {
	switch k {
	case EventsEnqueued:
		return "events_enqueued"
	case EventsTrimmed:
		return "events_trimmed"
	case QueueCleared:
		return "queue_cleared"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification describes one queue change.
type Notification struct {
	Kind Kind
	// Added is the number of rows written by the change.
	Added int
	// Queued is the queue depth after the change.
	Queued int
	// BoundaryID is set for trims.
	BoundaryID int64
	// Timestamp is the change time in milliseconds since the epoch.
	Timestamp int64
}

// Bus is an in-process pub/sub bus. Publishing never blocks. A subscription's
// channel is only closed under the write lock, so no send can race the close.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	nextID      atomic.Uint64
}

// Subscription receives the notifications matching its kinds.
type Subscription struct {
	ID    string
	Kinds []Kind // empty means every kind
	C     chan Notification
}

// NewBus creates a bus whose subscriptions buffer bufferSize notifications.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Publish delivers n to every matching subscription. If a subscription's
// buffer is full the notification is dropped for it.
func (b *Bus) Publish(n Notification) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !sub.matches(n.Kind) {
			continue
		}
		select {
		case sub.C <- n:
		default:
		}
	}
}

// Subscribe registers a subscription for kinds.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		ID:    fmt.Sprintf("sub_%d", b.nextID.Add(1)),
		Kinds: kinds,
		C:     make(chan Notification, b.bufferSize),
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.C)
	}
}

func (s *Subscription) matches(k Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, want := range s.Kinds {
		if want == k {
			return true
		}
	}
	return false
}
