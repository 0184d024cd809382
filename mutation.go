// mutation.go
// Mutation: a one-shot asynchronous action with lifecycle callbacks, plus the
// optimistic-update helpers that pre-apply a mutation's expected effect to a
// cached query value and roll it back on failure.

package zenq

import (
	"context"
	"sync"
	"time"
)

// MutationFn performs the mutation's side effect and returns its result.
type MutationFn[In, Out any] func(ctx context.Context, input In) (Out, error)

// MutationCallbacks are the lifecycle hooks around a mutation run. The same
// struct is used for definition-time callbacks (on MutationOptions) and
// call-time callbacks (passed to Mutate); for each kind the definition-time
// callback runs first.
type MutationCallbacks[In, Out any] struct {
	// OnMutate runs before the mutation function. Its result (the mutation
	// context, e.g. a rollback snapshot) is passed through untouched to the
	// later callbacks. An OnMutate error aborts the run and flows through
	// the error callbacks.
	OnMutate func(ctx context.Context, input In) (any, error)
	// OnSuccess runs after the mutation function succeeds.
	OnSuccess func(ctx context.Context, data Out, input In, mutationCtx any)
	// OnError runs after the mutation function (or OnMutate) fails.
	OnError func(ctx context.Context, err error, input In, mutationCtx any)
	// OnSettled always runs last; data is the zero value on failure.
	OnSettled func(ctx context.Context, data Out, err error, input In, mutationCtx any)
}

// MutationOptions configures a Mutation.
type MutationOptions[In, Out any] struct {
	Fn        MutationFn[In, Out]
	Callbacks MutationCallbacks[In, Out]
}

// Mutation is ephemeral: not cached by key, instantiated and invoked zero or
// more times via Mutate.
type Mutation[In, Out any] struct {
	fn        MutationFn[In, Out]
	callbacks MutationCallbacks[In, Out]

	status *Signal[Status]
	data   *Signal[Out]
	errSig *Signal[error]

	mu       sync.Mutex
	disposed bool
}

// NewMutation constructs a Mutation in the idle state.
func NewMutation[In, Out any](opts MutationOptions[In, Out]) *Mutation[In, Out] {
	return &Mutation[In, Out]{
		fn:        opts.Fn,
		callbacks: opts.Callbacks,
		status:    NewSignal(StatusIdle),
		data:      NewSignal(*new(Out)),
		errSig:    NewSignal[error](nil),
	}
}

// Mutate runs one invocation: onMutate -> mutationFn -> (onSuccess | onError)
// -> onSettled, definition-time callbacks before call-time ones of the same
// kind. The failure is captured into the mutation's own error state and also
// returned, so callers may check it or ignore it.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, input In, callTime ...MutationCallbacks[In, Out]) (Out, error) {
	var zero Out
	if ctx == nil {
		return zero, ErrNilContext
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return zero, ErrDisposed
	}
	m.mu.Unlock()

	var call MutationCallbacks[In, Out]
	if len(callTime) > 0 {
		call = callTime[0]
	}

	m.errSig.Set(nil)
	m.status.Set(StatusLoading)

	var mctx any
	var err error
	if m.callbacks.OnMutate != nil {
		mctx, err = m.callbacks.OnMutate(ctx, input)
	}
	if err == nil && call.OnMutate != nil {
		var callCtx any
		callCtx, err = call.OnMutate(ctx, input)
		if mctx == nil {
			mctx = callCtx
		}
	}

	var out Out
	if err == nil {
		if m.fn == nil {
			err = ErrNoFetcher
		} else {
			out, err = m.fn(ctx, input)
		}
	}

	if err != nil {
		m.errSig.Set(err)
		m.status.Set(StatusError)
		if m.callbacks.OnError != nil {
			m.callbacks.OnError(ctx, err, input, mctx)
		}
		if call.OnError != nil {
			call.OnError(ctx, err, input, mctx)
		}
		if m.callbacks.OnSettled != nil {
			m.callbacks.OnSettled(ctx, zero, err, input, mctx)
		}
		if call.OnSettled != nil {
			call.OnSettled(ctx, zero, err, input, mctx)
		}
		return zero, err
	}

	m.data.Set(out)
	m.status.Set(StatusSuccess)
	if m.callbacks.OnSuccess != nil {
		m.callbacks.OnSuccess(ctx, out, input, mctx)
	}
	if call.OnSuccess != nil {
		call.OnSuccess(ctx, out, input, mctx)
	}
	if m.callbacks.OnSettled != nil {
		m.callbacks.OnSettled(ctx, out, nil, input, mctx)
	}
	if call.OnSettled != nil {
		call.OnSettled(ctx, out, nil, input, mctx)
	}
	return out, nil
}

// Reset returns status, data and error to the initial idle state.
func (m *Mutation[In, Out]) Reset() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.data.Set(*new(Out))
	m.errSig.Set(nil)
	m.status.Set(StatusIdle)
}

// Dispose marks the mutation unusable; Mutate fails fast afterwards.
func (m *Mutation[In, Out]) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
}

func (m *Mutation[In, Out]) Data() Out      { return m.data.Get() }
func (m *Mutation[In, Out]) Error() error   { return m.errSig.Get() }
func (m *Mutation[In, Out]) Status() Status { return m.status.Get() }
func (m *Mutation[In, Out]) IsLoading() bool { return m.status.Get() == StatusLoading }
func (m *Mutation[In, Out]) IsError() bool   { return m.status.Get() == StatusError }
func (m *Mutation[In, Out]) IsSuccess() bool { return m.status.Get() == StatusSuccess }
func (m *Mutation[In, Out]) IsDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}
func (m *Mutation[In, Out]) DataSignal() *Signal[Out]    { return m.data }
func (m *Mutation[In, Out]) ErrorSignal() *Signal[error] { return m.errSig }
func (m *Mutation[In, Out]) StatusSignal() *Signal[Status] { return m.status }

// --- Optimistic update helpers ---

// cacheSnapshot captures a full entry state for rollback: restoring it makes
// the cache indistinguishable from the pre-mutation state.
type cacheSnapshot struct {
	data    any
	hasData bool
	ts      time.Time
}

// optimisticCallbacks builds the snapshot/apply/rollback callback set shared
// by every helper. apply runs synchronously inside onMutate, so the
// optimistic value is visible to listeners before the mutation function
// starts.
func optimisticCallbacks[In, Out any](cache *QueryCache, key Key, apply func(input In)) MutationCallbacks[In, Out] {
	return MutationCallbacks[In, Out]{
		OnMutate: func(ctx context.Context, input In) (any, error) {
			data, hasData, ts := cache.entrySnapshot(key)
			snap := cacheSnapshot{data: data, hasData: hasData, ts: ts}
			apply(input)
			return snap, nil
		},
		OnError: func(ctx context.Context, err error, input In, mctx any) {
			if snap, ok := mctx.(cacheSnapshot); ok {
				cache.restoreEntry(key, snap.data, snap.hasData, snap.ts)
			}
		},
	}
}

// NewListPutMutation inserts item(input) at the head of the cached list under
// key before the mutation runs, and rolls the list back on failure. On
// success the optimistic value is left in place.
func NewListPutMutation[E, In, Out any](cache *QueryCache, key Key, fn MutationFn[In, Out], item func(In) E) *Mutation[In, Out] {
	if cache == nil {
		cache = DefaultCache
	}
	return NewMutation(MutationOptions[In, Out]{
		Fn: fn,
		Callbacks: optimisticCallbacks[In, Out](cache, key, func(input In) {
			cur, _ := GetCachedData[[]E](cache, key)
			next := append([]E{item(input)}, cur...)
			cache.UpdateCache(key, next, time.Now())
		}),
	})
}

// NewListAddMutation appends item(input) to the tail of the cached list.
func NewListAddMutation[E, In, Out any](cache *QueryCache, key Key, fn MutationFn[In, Out], item func(In) E) *Mutation[In, Out] {
	if cache == nil {
		cache = DefaultCache
	}
	return NewMutation(MutationOptions[In, Out]{
		Fn: fn,
		Callbacks: optimisticCallbacks[In, Out](cache, key, func(input In) {
			cur, _ := GetCachedData[[]E](cache, key)
			next := append(append([]E{}, cur...), item(input))
			cache.UpdateCache(key, next, time.Now())
		}),
	})
}

// NewListRemoveMutation removes every element matching match(input, elem)
// from the cached list.
func NewListRemoveMutation[E, In, Out any](cache *QueryCache, key Key, fn MutationFn[In, Out], match func(In, E) bool) *Mutation[In, Out] {
	if cache == nil {
		cache = DefaultCache
	}
	return NewMutation(MutationOptions[In, Out]{
		Fn: fn,
		Callbacks: optimisticCallbacks[In, Out](cache, key, func(input In) {
			cur, ok := GetCachedData[[]E](cache, key)
			if !ok {
				return
			}
			next := make([]E, 0, len(cur))
			for _, e := range cur {
				if !match(input, e) {
					next = append(next, e)
				}
			}
			cache.UpdateCache(key, next, time.Now())
		}),
	})
}

// NewListUpdateMutation replaces every element matching match(input, elem)
// with update(input, elem) in the cached list.
func NewListUpdateMutation[E, In, Out any](cache *QueryCache, key Key, fn MutationFn[In, Out], match func(In, E) bool, update func(In, E) E) *Mutation[In, Out] {
	if cache == nil {
		cache = DefaultCache
	}
	return NewMutation(MutationOptions[In, Out]{
		Fn: fn,
		Callbacks: optimisticCallbacks[In, Out](cache, key, func(input In) {
			cur, ok := GetCachedData[[]E](cache, key)
			if !ok {
				return
			}
			next := make([]E, len(cur))
			for i, e := range cur {
				if match(input, e) {
					next[i] = update(input, e)
				} else {
					next[i] = e
				}
			}
			cache.UpdateCache(key, next, time.Now())
		}),
	})
}

// NewPutMutation sets the cached single value under key to value(input).
func NewPutMutation[E, In, Out any](cache *QueryCache, key Key, fn MutationFn[In, Out], value func(In) E) *Mutation[In, Out] {
	if cache == nil {
		cache = DefaultCache
	}
	return NewMutation(MutationOptions[In, Out]{
		Fn: fn,
		Callbacks: optimisticCallbacks[In, Out](cache, key, func(input In) {
			cache.UpdateCache(key, value(input), time.Now())
		}),
	})
}

// NewRemoveMutation clears the cached value under key (restored on failure).
func NewRemoveMutation[E, In, Out any](cache *QueryCache, key Key, fn MutationFn[In, Out]) *Mutation[In, Out] {
	if cache == nil {
		cache = DefaultCache
	}
	return NewMutation(MutationOptions[In, Out]{
		Fn: fn,
		Callbacks: optimisticCallbacks[In, Out](cache, key, func(In) {
			cache.restoreEntry(key, nil, false, time.Time{})
		}),
	})
}
