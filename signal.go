package zenq

import "sync"

// Signal is an observable value: get, set, subscribe. Every piece of query
// state the UI can watch (data, error, status, fetchStatus) is a Signal, so
// change notification is implemented once instead of ad hoc listener lists
// per component.
type Signal[T any] struct {
	mu        sync.Mutex
	value     T
	nextID    int
	listeners map[int]func(T)
}

// NewSignal creates a Signal holding the given initial value.
func NewSignal[T any](initial T) *Signal[T] {
	return &Signal[T]{value: initial, listeners: make(map[int]func(T))}
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores a new value and notifies every subscriber synchronously.
// Listeners run outside the signal's lock so they may read the signal again.
func (s *Signal[T]) Set(value T) {
	s.mu.Lock()
	s.value = value
	fns := make([]func(T), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

// Subscribe registers a listener invoked on every Set. It returns an
// unsubscribe function; calling it more than once is harmless.
func (s *Signal[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// ListenerCount returns the number of active subscribers. Diagnostic only.
func (s *Signal[T]) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
