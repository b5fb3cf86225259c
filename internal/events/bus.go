package events

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Bus fans events out to any number of subscribers. Slow subscribers lose
// events instead of blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	dropped atomic.Uint64
}

func NewBus() *Bus { return &Bus{subs: make(map[uint64]chan Event)} }

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	publishedTotal.WithLabelValues(e.Name).Inc()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			droppedTotal.Inc()
		}
	}
}

// Subscribe returns a channel receiving events until ctx is done, at which
// point the channel is closed. buffer <= 0 selects a default.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	subscribersGauge.Inc()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
		subscribersGauge.Dec()
	}()
	return ch
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Guard returns a Publisher that forwards to p only while ctx is live. Once
// ctx is done nothing more reaches p.
func Guard(ctx context.Context, p Publisher) Publisher {
	p = OrNop(p)
	return PublisherFunc(func(e Event) {
		if ctx.Err() != nil {
			return
		}
		p.Publish(e)
	})
}
