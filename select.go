package zenq

import (
	"reflect"
	"sync"
)

// DerivedQuery is the read-only projection produced by Select. It has no key
// or fetcher of its own; it observes the parent's data and exposes the
// selected value through its own signals.
type DerivedQuery[R any] struct {
	data   *Signal[R]
	errSig *Signal[error]
	status *Signal[Status]

	mu          sync.Mutex
	hasValue    bool
	unsubscribe func()
	disposed    bool
}

// Select produces a read-only query whose data is selector(parent.Data()).
// The selector is recomputed only when the parent's data changes, and the
// derived data signal fires only when the selected value itself changes.
// Selector errors become the derived query's own error state without
// affecting the parent. Disposing the derived query detaches its parent
// listener only; the parent is untouched.
func Select[T, R any](parent *Query[T], selector func(T) (R, error)) *DerivedQuery[R] {
	d := &DerivedQuery[R]{
		data:   NewSignal(*new(R)),
		errSig: NewSignal[error](nil),
		status: NewSignal(StatusIdle),
	}
	var lastInput T
	var hasInput bool
	apply := func(value T) {
		d.mu.Lock()
		if d.disposed {
			d.mu.Unlock()
			return
		}
		// Recompute only when the parent's data actually changed.
		if hasInput && reflect.DeepEqual(lastInput, value) {
			d.mu.Unlock()
			return
		}
		lastInput = value
		hasInput = true
		d.mu.Unlock()

		selected, err := runSelector(selector, value)
		d.mu.Lock()
		if d.disposed {
			d.mu.Unlock()
			return
		}
		if err != nil {
			d.mu.Unlock()
			d.errSig.Set(err)
			d.status.Set(StatusError)
			return
		}
		changed := !d.hasValue || !reflect.DeepEqual(d.data.Get(), selected)
		d.hasValue = true
		d.mu.Unlock()
		if changed {
			d.data.Set(selected)
		}
		if d.errSig.Get() != nil {
			d.errSig.Set(nil)
		}
		if d.status.Get() != StatusSuccess {
			d.status.Set(StatusSuccess)
		}
	}
	d.unsubscribe = parent.DataSignal().Subscribe(apply)
	if parent.HasData() {
		apply(parent.Data())
	}
	return d
}

// runSelector converts selector panics into errors so a throwing projection
// surfaces as the derived query's error state instead of crashing.
func runSelector[T, R any](selector func(T) (R, error), value T) (selected R, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = &selectorPanicError{value: r}
			}
		}
	}()
	return selector(value)
}

type selectorPanicError struct{ value any }

func (e *selectorPanicError) Error() string { return "zenq: selector panicked" }

func (d *DerivedQuery[R]) Data() R               { return d.data.Get() }
func (d *DerivedQuery[R]) Error() error          { return d.errSig.Get() }
func (d *DerivedQuery[R]) Status() Status        { return d.status.Get() }
func (d *DerivedQuery[R]) DataSignal() *Signal[R] { return d.data }
func (d *DerivedQuery[R]) ErrorSignal() *Signal[error] { return d.errSig }

// Dispose detaches the parent listener. Idempotent.
func (d *DerivedQuery[R]) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	unsub := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
