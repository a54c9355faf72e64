package market

import (
	"sync"
	"time"
)

// Bus is an in-process Notifier. Handlers run synchronously on the
// publishing goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(ProviderChanged)
	order    []uint64
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]func(ProviderChanged))}
}

func (b *Bus) Subscribe(fn func(ProviderChanged)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.order = append(b.order, id)
	return &busSubscription{bus: b, id: id}, nil
}

// Publish fans ev out to every live subscriber. A zero At is stamped with now.
func (b *Bus) Publish(ev ProviderChanged) {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	b.mu.RLock()
	fns := make([]func(ProviderChanged), 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.handlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return
	}
	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

type busSubscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

func (s *busSubscription) Unsubscribe() error {
	s.once.Do(func() { s.bus.remove(s.id) })
	return nil
}
