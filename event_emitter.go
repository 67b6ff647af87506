package pinws

import (
	"sync"
)

// EventType is a connection lifecycle event.
type EventType uint8

const (
	// EventConnect fires when the first transport opens.
	EventConnect EventType = iota + 1
	// EventReconnect fires when a later transport opens.
	EventReconnect
	// EventClose fires whenever the current transport goes away.
	EventClose
)

func (e EventType) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventReconnect:
		return "reconnect"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

type (
	callback[T any] func(T)

	emitter[K comparable, V any] interface {
		Emit(K, V)
	}

	listenerEntry[V any] struct {
		id uint64
		fn callback[V]
	}
)

// EventEmitterCallback is a simple event emitter. It maps events (of type K) to
// callbacks receiving values of type V, invoked in registration order.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]listenerEntry[V]
	nextID    uint64
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]listenerEntry[V]),
	}
}

// On registers a new listener for the given event. The returned function
// removes it; calling it more than once is harmless.
func (e *EventEmitterCallback[K, V]) On(event K, listener callback[V]) (off func()) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listenerEntry[V]{id: id, fn: listener})

	return func() { e.off(event, id) }
}

func (e *EventEmitterCallback[K, V]) off(event K, id uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	entries := e.listeners[event]
	for i, entry := range entries {
		if entry.id == id {
			e.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit triggers all listeners registered for the given event synchronously.
// Listeners run outside the lock, so they may register or remove listeners.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	listeners := append([]listenerEntry[V](nil), e.listeners[event]...)
	e.lock.RUnlock()

	for _, listener := range listeners {
		listener.fn(data)
	}
}

// Close removes all listeners to prevent memory leaks.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]listenerEntry[V])
}
