package events

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Subscriber receives events matching its filter.
type Subscriber struct {
	ID     string
	Target string
	Kinds  []Kind
	Events chan Event
}

func (s *Subscriber) wants(e Event) bool {
	if s.Target != "" && e.TargetName() != "" && e.TargetName() != s.Target {
		return false
	}
	return len(s.Kinds) == 0 || slices.Contains(s.Kinds, e.Kind())
}

// Broadcaster fans events out to subscribers. Slow subscribers lose events
// rather than stall the engine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	dropped     atomic.Uint64
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a subscriber for target ("" for all targets) and kinds
// (none for all kinds). It returns nil once the broadcaster is closed.
func (b *Broadcaster) Subscribe(target string, kinds ...Kind) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Target: target,
		Kinds:  kinds,
		Events: make(chan Event, DefaultBufferSize),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Emit delivers e to every matching subscriber without blocking.
func (b *Broadcaster) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.Events <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscription. Later Emit calls are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
