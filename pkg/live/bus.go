package live

import (
	"context"
	"sync"

	"github.com/eventinspect/eventinspect/pkg/observability/logger"
)

// ChannelKey joins a project and environment into the bus channel key.
// Config validation guarantees neither id contains the separator.
func ChannelKey(projectID, environmentID string) string {
	return projectID + ":" + environmentID
}

// Handler receives events published on a subscribed channel.
type Handler func(Event)

// Bus is the publish/subscribe contract both variants satisfy. Which
// variant backs a deployment is a configuration decision; the ingestion
// and stream endpoints only see this interface.
type Bus interface {
	// Publish delivers the event to every current subscriber of the
	// (projectID, environmentID) channel. Publishing to a channel with no
	// subscribers is a no-op, not an error. Delivery never blocks on a
	// subscriber.
	Publish(ctx context.Context, projectID, environmentID string, evt Event) error

	// Subscribe registers a handler on the channel. The returned
	// subscription removes exactly this registration; closing it twice is
	// safe.
	Subscribe(ctx context.Context, projectID, environmentID string, fn Handler) (Subscription, error)

	// Close releases the bus and any background work it owns.
	Close() error
}

// Subscription is a cancelable channel registration. Close is idempotent.
type Subscription interface {
	Close() error
}

// MemoryBus is the direct, in-process bus variant: publish fans out
// synchronously to subscribers registered in the same process. Valid only
// when ingestion and streaming share a process.
//
// Locking is per channel: publishers on distinct channels never contend.
// The registry mutex is held only to look up, create, or remove a channel
// entry.
type MemoryBus struct {
	log logger.Logger

	mu       sync.RWMutex
	channels map[string]*memoryChannel
	nextID   uint64
}

type memoryChannel struct {
	mu   sync.RWMutex
	subs map[uint64]Handler
}

// NewMemoryBus creates the in-process bus variant.
func NewMemoryBus(log logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.NewNop()
	}
	return &MemoryBus{
		log:      log,
		channels: make(map[string]*memoryChannel),
	}
}

// Publish delivers evt to every subscriber of the channel. A panicking
// subscriber is skipped; the remaining subscribers still receive the event
// and the publisher never sees the failure.
func (b *MemoryBus) Publish(_ context.Context, projectID, environmentID string, evt Event) error {
	key := ChannelKey(projectID, environmentID)

	b.mu.RLock()
	ch := b.channels[key]
	b.mu.RUnlock()
	if ch == nil {
		return nil
	}

	ch.mu.RLock()
	snapshot := make([]Handler, 0, len(ch.subs))
	for _, fn := range ch.subs {
		snapshot = append(snapshot, fn)
	}
	ch.mu.RUnlock()

	for _, fn := range snapshot {
		b.deliver(key, fn, evt)
	}
	return nil
}

func (b *MemoryBus) deliver(key string, fn Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked during delivery",
				"channel", key,
				"event_id", evt.ID,
				"panic", r,
			)
		}
	}()
	fn(evt)
}

// Subscribe registers fn on the channel, creating the channel lazily.
func (b *MemoryBus) Subscribe(_ context.Context, projectID, environmentID string, fn Handler) (Subscription, error) {
	key := ChannelKey(projectID, environmentID)

	// The subscriber is inserted under the registry lock so a concurrent
	// remove cannot drop the channel entry between lookup and insert.
	b.mu.Lock()
	ch := b.channels[key]
	if ch == nil {
		ch = &memoryChannel{subs: make(map[uint64]Handler)}
		b.channels[key] = ch
	}
	b.nextID++
	id := b.nextID
	ch.mu.Lock()
	ch.subs[id] = fn
	ch.mu.Unlock()
	b.mu.Unlock()

	return &memorySubscription{closeFn: func() {
		b.remove(key, id)
	}}, nil
}

// remove detaches one subscriber and drops the channel entry when it was
// the last one, so idle channels retain no memory.
func (b *MemoryBus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.channels[key]
	if ch == nil {
		return
	}

	ch.mu.Lock()
	delete(ch.subs, id)
	empty := len(ch.subs) == 0
	ch.mu.Unlock()

	if empty {
		delete(b.channels, key)
	}
}

// Close drops every channel. Existing subscriptions become inert; closing
// them afterwards is still safe.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.channels = make(map[string]*memoryChannel)
	b.mu.Unlock()
	return nil
}

// subscriberCount reports the number of subscribers on a channel. Test hook.
func (b *MemoryBus) subscriberCount(projectID, environmentID string) int {
	b.mu.RLock()
	ch := b.channels[ChannelKey(projectID, environmentID)]
	b.mu.RUnlock()
	if ch == nil {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.subs)
}

type memorySubscription struct {
	once    sync.Once
	closeFn func()
}

func (s *memorySubscription) Close() error {
	s.once.Do(s.closeFn)
	return nil
}
