// Package event provides the in-process pub/sub channel for session
// lifecycle notifications, built on watermill.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Subscriber is a function that receives events.
type Subscriber func(event ChatUpdated)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus manages pub/sub using watermill's gochannel for infrastructure while
// keeping direct subscriber calls so type information is preserved.
// Delivery is at-least-once to subscribers registered at publish time; there
// is no back-pressure beyond in-process fan-out.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[UpdateType][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// globalBus is the default event bus instance.
var globalBus = newBus()

func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[UpdateType][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return newBus()
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for one update type on the global bus.
// Returns an unsubscribe function.
func Subscribe(updateType UpdateType, fn Subscriber) func() {
	return globalBus.Subscribe(updateType, fn)
}

func (b *Bus) Subscribe(updateType UpdateType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[updateType] = append(b.subscribers[updateType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(updateType, id)
	}
}

// SubscribeAll registers a subscriber for all updates on the global bus.
func SubscribeAll(fn Subscriber) func() {
	return globalBus.SubscribeAll(fn)
}

func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(updateType UpdateType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[updateType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[updateType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish sends an event to all subscribers asynchronously.
// Each subscriber is called in its own goroutine so emitters never block.
func Publish(event ChatUpdated) {
	globalBus.Publish(event)
}

func (b *Bus) Publish(event ChatUpdated) {
	for _, sub := range b.collect(event.UpdateType) {
		go sub(event)
	}
}

// PublishSync sends an event to all subscribers in the current goroutine.
// Used where deterministic ordering matters, e.g. tests.
func PublishSync(event ChatUpdated) {
	globalBus.PublishSync(event)
}

func (b *Bus) PublishSync(event ChatUpdated) {
	for _, sub := range b.collect(event.UpdateType) {
		sub(event)
	}
}

func (b *Bus) collect(updateType UpdateType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	subs := make([]Subscriber, 0, len(b.subscribers[updateType])+len(b.global))
	for _, entry := range b.subscribers[updateType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// Reset clears all subscribers from the global bus (for testing).
func Reset() {
	globalBus.mu.Lock()
	globalBus.closed = true
	globalBus.closedCancel()
	globalBus.mu.Unlock()

	_ = globalBus.pubsub.Close()

	// Small delay to allow goroutines to clean up.
	time.Sleep(10 * time.Millisecond)

	globalBus = newBus()
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	b.subscribers = make(map[UpdateType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use cases
// such as middleware or a future distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
