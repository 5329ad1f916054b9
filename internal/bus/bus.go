// Package bus announces bucket changes to every interested observer.
//
// A publish first writes the bucket through the configured Writer and only
// then notifies subscribers, so a handler that reads the bucket back always
// sees the new value. Handlers run synchronously on the publishing
// goroutine. Delivery to other execution contexts (browser tabs connected
// over the event hub) is done by a subscriber that forwards events
// asynchronously and is best-effort.
package bus

import (
	"context"
	"fmt"
	"sync"
)

// Event announces that a named bucket changed.
type Event struct {
	Namespace string
	Key       string
	// Value is the new raw bucket content, nil when the bucket was removed.
	Value []byte
	// Origin identifies the execution context that published the change.
	Origin string
}

// Removed reports whether the event is a bucket deletion.
func (e Event) Removed() bool { return e.Value == nil }

// Handler reacts to a published event. Handlers receive every event and
// filter by key themselves.
type Handler func(Event)

// Writer persists buckets.
type Writer interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// Bus is a process-wide publish/subscribe mechanism for bucket changes.
type Bus struct {
	w Writer

	mu       sync.RWMutex
	handlers map[uint64]Handler
	order    []uint64
	next     uint64
}

// New creates a bus that writes through w.
func New(w Writer) *Bus {
	return &Bus{
		w:        w,
		handlers: make(map[uint64]Handler),
	}
}

// Subscribe registers h for every future publish. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish writes the bucket and then notifies subscribers.
func (b *Bus) Publish(ctx context.Context, namespace, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := b.w.Put(ctx, namespace, key, value); err != nil {
		return fmt.Errorf("publishing %s: %w", key, err)
	}
	b.notify(Event{Namespace: namespace, Key: key, Value: value, Origin: OriginFrom(ctx)})
	return nil
}

// Remove deletes the bucket and then notifies subscribers.
func (b *Bus) Remove(ctx context.Context, namespace, key string) error {
	if err := b.w.Delete(ctx, namespace, key); err != nil {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	b.notify(Event{Namespace: namespace, Key: key, Origin: OriginFrom(ctx)})
	return nil
}

// Notify delivers an event without writing anything. It is used for
// derived state that has no bucket of its own, such as dashboard counters.
func (b *Bus) Notify(e Event) {
	b.notify(e)
}

func (b *Bus) notify(e Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

type originKey struct{}

// WithOrigin tags ctx with the id of the publishing execution context.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin set by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
