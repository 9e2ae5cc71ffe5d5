// Package bus carries change notifications between components in process.
// Delivery is best-effort per subscriber: a full subscriber buffer drops
// the event rather than blocking the publisher, so observers treat events
// as a change signal and re-read the store for authoritative state.
package bus

import (
	"strings"
	"sync"
)

type subscriber struct {
	prefix string
	ch     chan Event
}

// Bus fans events out to subscribers filtered by kind prefix.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Never blocks; a lagging subscriber misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Buffer full; the subscriber catches up from the store.
		}
	}
}

// Subscribe registers interest in all event kinds starting with prefix
// (for example "store." or "net."). The returned function unsubscribes and
// is safe to call more than once; the channel is never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
