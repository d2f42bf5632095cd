// Package watch provides watchable containers: values and sets that
// readers can subscribe to. Subscriptions are edge-triggered wakeups,
// not change streams; a woken subscriber re-reads the container and
// may observe several changes collapsed into one wakeup.
package watch

import "sync"

// Value holds a single value of type T.
type Value[T any] struct {
	mu    sync.Mutex
	value T
	subs  map[*Subscription]struct{}
}

// Subscription delivers wakeups on a buffered channel.
type Subscription struct {
	ch     chan struct{}
	cancel func()
}

// NewValue return a watchable holding v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{
		value: v,
		subs:  make(map[*Subscription]struct{}),
	}
}

// Get return the current value.
func (w *Value[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Set replace the value and wake subscribers.
func (w *Value[T]) Set(v T) {
	w.mu.Lock()
	w.value = v
	w.notifyLocked()
	w.mu.Unlock()
}

// AtomicOp apply op to the value in place. Subscribers are woken only
// when op reports that it changed something.
func (w *Value[T]) AtomicOp(op func(*T) bool) {
	w.mu.Lock()
	if op(&w.value) {
		w.notifyLocked()
	}
	w.mu.Unlock()
}

// Subscribe register for wakeups. The caller must Cancel the
// subscription when done with it.
func (w *Value[T]) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan struct{}, 1)}
	sub.cancel = func() {
		w.mu.Lock()
		delete(w.subs, sub)
		w.mu.Unlock()
	}
	w.mu.Lock()
	w.subs[sub] = struct{}{}
	w.mu.Unlock()
	return sub
}

func (w *Value[T]) notifyLocked() {
	for sub := range w.subs {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// Wakeup return the channel a wakeup is delivered on.
func (s *Subscription) Wakeup() <-chan struct{} {
	return s.ch
}

// Cancel unregister the subscription.
func (s *Subscription) Cancel() {
	s.cancel()
}
