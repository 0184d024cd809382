// streamquery.go
// StreamQuery: a query sourced by subscribing to a push stream instead of
// invoking a pull fetcher. Reuses the status/data/error contract and the
// pause/resume lifecycle; pause holds the subscription without discarding
// last-known data, and events emitted while paused are lost (no buffering).

package zenq

import (
	"context"
	"log"
	"sync"
	"time"
)

// StreamEvent is one emission from a push source: a value or an error.
type StreamEvent[T any] struct {
	Value T
	Err   error
}

// StreamFn opens the push source. The returned channel must be closed when
// ctx is cancelled; closing it ends the subscription cleanly.
type StreamFn[T any] func(ctx context.Context) (<-chan StreamEvent[T], error)

// StreamQueryOptions configures a StreamQuery.
type StreamQueryOptions[T any] struct {
	Key    Key
	Stream StreamFn[T]
	// AutoSubscribe controls whether the subscription opens on construction.
	// Defaults to true.
	AutoSubscribe *bool
	// ClearDataOnError discards last-known data when the stream errors.
	// Default keeps it.
	ClearDataOnError bool
	Config           *QueryConfig
	Override         *ConfigOverride
	ScopeID          string
}

// StreamQuery subscribes to a push-based source and mirrors each emission
// into its data/status signals.
type StreamQuery[T any] struct {
	cache      *QueryCache
	entry      *CacheEntry
	key        Key
	stream     StreamFn[T]
	cfg        QueryConfig
	scopeID    string
	clearOnErr bool

	status      *Signal[Status]
	fetchStatus *Signal[FetchStatus]
	data        *Signal[T]
	errSig      *Signal[error]

	mu       sync.Mutex
	hasData  bool
	cancel   context.CancelFunc
	gen      int
	disposed bool
}

var _ queryObserver = (*StreamQuery[int])(nil)

// NewStreamQuery constructs a StreamQuery and, unless AutoSubscribe is false,
// opens the subscription immediately.
func NewStreamQuery[T any](cache *QueryCache, opts StreamQueryOptions[T]) *StreamQuery[T] {
	if cache == nil {
		cache = DefaultCache
	}
	cfg := cache.DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if opts.Override != nil {
		cfg = cfg.Merge(*opts.Override)
	}
	sq := &StreamQuery[T]{
		cache:       cache,
		key:         opts.Key,
		stream:      opts.Stream,
		cfg:         cfg,
		scopeID:     opts.ScopeID,
		clearOnErr:  opts.ClearDataOnError,
		status:      NewSignal(StatusIdle),
		fetchStatus: NewSignal(FetchIdle),
		data:        NewSignal(*new(T)),
		errSig:      NewSignal[error](nil),
	}
	sq.entry = cache.registerObserver(sq, opts.ScopeID)
	if data, hasData, _ := sq.entry.snapshot(); hasData {
		if typed, ok := data.(T); ok {
			sq.mu.Lock()
			sq.hasData = true
			sq.mu.Unlock()
			sq.data.Set(typed)
			sq.status.Set(StatusSuccess)
		}
	}
	autoSubscribe := true
	if opts.AutoSubscribe != nil {
		autoSubscribe = *opts.AutoSubscribe
	}
	if autoSubscribe {
		sq.subscribe()
	}
	return sq
}

// subscribe opens the push source and pumps events into the signals until
// the subscription is cancelled or the channel closes.
func (sq *StreamQuery[T]) subscribe() {
	sq.mu.Lock()
	if sq.disposed || sq.cancel != nil {
		sq.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sq.cancel = cancel
	sq.gen++
	gen := sq.gen
	sq.mu.Unlock()

	ch, err := sq.stream(ctx)
	if err != nil {
		sq.mu.Lock()
		if sq.cancel != nil && sq.gen == gen {
			sq.cancel = nil
		}
		sq.mu.Unlock()
		cancel()
		sq.errSig.Set(err)
		sq.status.Set(StatusError)
		return
	}
	sq.fetchStatus.Set(FetchFetching)

	go func() {
		for ev := range ch {
			sq.mu.Lock()
			stale := sq.disposed || sq.gen != gen
			sq.mu.Unlock()
			if stale {
				return
			}
			if ev.Err != nil {
				sq.errSig.Set(ev.Err)
				sq.status.Set(StatusError)
				if sq.clearOnErr {
					sq.mu.Lock()
					sq.hasData = false
					sq.mu.Unlock()
					sq.data.Set(*new(T))
				}
				continue
			}
			sq.cache.updateEntry(sq.key, ev.Value, time.Now(), sq)
			sq.mu.Lock()
			sq.hasData = true
			sq.mu.Unlock()
			sq.data.Set(ev.Value)
			sq.errSig.Set(nil)
			sq.status.Set(StatusSuccess)
		}
	}()
}

// Pause cancels the underlying subscription without discarding last-known
// data. Events emitted while paused are lost; Resume only reflects events
// emitted after it. Idempotent.
func (sq *StreamQuery[T]) Pause() {
	sq.mu.Lock()
	if sq.disposed {
		sq.mu.Unlock()
		return
	}
	cancel := sq.cancel
	sq.cancel = nil
	sq.gen++
	sq.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	sq.fetchStatus.Set(FetchPaused)
}

// Resume re-opens the subscription. Idempotent.
func (sq *StreamQuery[T]) Resume() {
	sq.mu.Lock()
	if sq.disposed {
		sq.mu.Unlock()
		return
	}
	sq.mu.Unlock()
	sq.fetchStatus.Set(FetchIdle)
	sq.subscribe()
}

// Dispose cancels the subscription and unregisters from the cache. Further
// calls are no-ops.
func (sq *StreamQuery[T]) Dispose() {
	sq.mu.Lock()
	if sq.disposed {
		sq.mu.Unlock()
		return
	}
	sq.disposed = true
	cancel := sq.cancel
	sq.cancel = nil
	sq.gen++
	sq.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	sq.cache.unregisterObserver(sq, sq.scopeID)
}

// --- Accessors ---

func (sq *StreamQuery[T]) Key() Key                 { return sq.key }
func (sq *StreamQuery[T]) Data() T                  { return sq.data.Get() }
func (sq *StreamQuery[T]) Error() error             { return sq.errSig.Get() }
func (sq *StreamQuery[T]) Status() Status           { return sq.status.Get() }
func (sq *StreamQuery[T]) FetchStatus() FetchStatus { return sq.fetchStatus.Get() }
func (sq *StreamQuery[T]) DataSignal() *Signal[T]   { return sq.data }
func (sq *StreamQuery[T]) ErrorSignal() *Signal[error] { return sq.errSig }

// --- queryObserver plumbing ---

func (sq *StreamQuery[T]) queryKey() Key            { return sq.key }
func (sq *StreamQuery[T]) queryConfig() QueryConfig { return sq.cfg }
func (sq *StreamQuery[T]) disposeInternal()         { sq.Dispose() }

func (sq *StreamQuery[T]) applyExternalData(value any, ts time.Time) {
	typed, ok := value.(T)
	if !ok {
		log.Printf("WARN: cache update for key '%s' has type %T, stream query expects different type; ignoring", sq.key, value)
		return
	}
	sq.mu.Lock()
	if sq.disposed {
		sq.mu.Unlock()
		return
	}
	sq.hasData = true
	sq.mu.Unlock()
	sq.data.Set(typed)
	sq.status.Set(StatusSuccess)
}

func (sq *StreamQuery[T]) restoreSnapshot(value any, hasData bool, ts time.Time) {
	if !hasData {
		sq.mu.Lock()
		sq.hasData = false
		sq.mu.Unlock()
		sq.data.Set(*new(T))
		sq.status.Set(StatusIdle)
		return
	}
	sq.applyExternalData(value, ts)
}

// Stream queries never hydrate, so there is nothing to write through.
func (sq *StreamQuery[T]) persistExternal(value any, ts time.Time) {}

// A push source has nothing to refetch; invalidation and scope refetches are
// no-ops for stream queries.
func (sq *StreamQuery[T]) scheduleRefetch()                        {}
func (sq *StreamQuery[T]) refetchBlocking(ctx context.Context) error { return nil }

func (sq *StreamQuery[T]) IsStale() bool {
	return sq.entry.isStale(sq.cfg.StaleTime)
}

func (sq *StreamQuery[T]) onNetworkOnline() {}

func (sq *StreamQuery[T]) onLifecycle(state LifecycleState) {
	if !sq.cfg.AutoPauseOnBackground {
		return
	}
	if state.Background() {
		sq.Pause()
		return
	}
	if state == LifecycleResumed {
		sq.Resume()
	}
}
