package zenq

import (
	"log"
	"sync"
)

// CancelToken is a cooperative cancellation signal passed into fetch
// operations. Fetchers treat IsCancelled as advisory: the engine never
// forcibly interrupts foreign I/O, but it discards results observed after
// cancellation and will not apply them to the cache.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	listeners []func()
	done      chan struct{}
}

// NewCancelToken creates a token in the non-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// IsCancelled reports whether Cancel has been called.
func (t *CancelToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token is cancelled. Convenient for
// select-based waits (retry delays, stream loops).
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// OnCancel registers a cleanup callback invoked at most once, at the moment
// of cancellation. If the token is already cancelled the callback runs
// immediately and synchronously.
func (t *CancelToken) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		runCancelListener(fn)
		return
	}
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Cancel marks the token cancelled and runs registered callbacks. Idempotent:
// subsequent calls are no-ops and callbacks never run twice.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	fns := t.listeners
	t.listeners = nil
	close(t.done)
	t.mu.Unlock()
	for _, fn := range fns {
		runCancelListener(fn)
	}
}

// runCancelListener isolates listener panics so one failing listener cannot
// prevent the others from running.
func runCancelListener(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARN: cancel listener panicked: %v", r)
		}
	}()
	fn()
}
