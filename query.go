// query.go
// Query[T]: the fetch/retry/pause state machine bound to one cache key. Owns
// retry orchestration, deduplication of concurrent fetches, staleness checks,
// network-mode gating and persistence write-through.

package zenq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// Status reflects whether a query has settled data. A failed refetch moves
// status to error even when prior data exists; the data itself is retained
// and still served.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// FetchStatus reflects current activity, orthogonal to Status.
type FetchStatus int

const (
	FetchIdle FetchStatus = iota
	FetchFetching
	FetchPaused
)

func (s FetchStatus) String() string {
	switch s {
	case FetchIdle:
		return "idle"
	case FetchFetching:
		return "fetching"
	case FetchPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Fetcher loads the value for a query. Implementations should treat the
// token as advisory and abandon work once it reports cancelled; the engine
// discards results observed after cancellation either way.
type Fetcher[T any] func(ctx context.Context, token *CancelToken) (T, error)

// QueryOptions configures a Query.
type QueryOptions[T any] struct {
	Key     Key
	Fetcher Fetcher[T]
	// Config replaces the cache's default config entirely when set.
	Config *QueryConfig
	// Override is merged on top of the effective config (explicit fields
	// win, unset fields inherit).
	Override *ConfigOverride
	// ScopeID registers the query into a cache scope partition.
	ScopeID string
	// InitialData seeds the cache entry as if it had just been fetched.
	InitialData *T
	// PlaceholderData is surfaced through the data signal until real data
	// arrives; it is never written to the cache.
	PlaceholderData *T
	// ToJSON/FromJSON override the persistence codecs. Default encoding/json.
	ToJSON   func(T) ([]byte, error)
	FromJSON func([]byte) (T, error)
}

// fetchCall is the shared in-flight record concurrent Fetch calls join.
type fetchCall[T any] struct {
	done chan struct{}
	data T
	err  error
}

// Query is a cached, key-addressed asynchronous value.
type Query[T any] struct {
	cache   *QueryCache
	entry   *CacheEntry
	key     Key
	fetcher Fetcher[T]
	cfg     QueryConfig
	scopeID string

	status      *Signal[Status]
	fetchStatus *Signal[FetchStatus]
	data        *Signal[T]
	errSig      *Signal[error]

	mu              sync.Mutex
	hasData         bool
	inflight        *fetchCall[T]
	token           *CancelToken
	intervalStop    chan struct{}
	disposed        bool
	pausedByOffline bool
	backgrounded    bool

	toJSON   func(T) ([]byte, error)
	fromJSON func([]byte) (T, error)
	hydrated chan struct{}
}

var _ queryObserver = (*Query[int])(nil)

// NewQuery constructs a query bound to key and registers it with the cache
// (DefaultCache when cache is nil). If the entry already holds data from a
// previous query with the same key, it is adopted; if persistence is enabled
// and the cache is empty, hydration from storage starts in the background
// (wait on Hydrated if you need it settled).
func NewQuery[T any](cache *QueryCache, opts QueryOptions[T]) *Query[T] {
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
	q := &Query[T]{
		cache:       cache,
		key:         opts.Key,
		fetcher:     opts.Fetcher,
		cfg:         cfg,
		scopeID:     opts.ScopeID,
		status:      NewSignal(StatusIdle),
		fetchStatus: NewSignal(FetchIdle),
		data:        NewSignal(*new(T)),
		errSig:      NewSignal[error](nil),
		toJSON:      opts.ToJSON,
		fromJSON:    opts.FromJSON,
		hydrated:    make(chan struct{}),
	}
	if q.toJSON == nil {
		q.toJSON = func(v T) ([]byte, error) { return json.Marshal(v) }
	}
	if q.fromJSON == nil {
		q.fromJSON = func(b []byte) (T, error) {
			var v T
			err := json.Unmarshal(b, &v)
			return v, err
		}
	}
	q.entry = cache.registerObserver(q, opts.ScopeID)

	// Adopt data already sitting in the shared entry.
	if data, hasData, _ := q.entry.snapshot(); hasData {
		if typed, ok := data.(T); ok {
			q.adoptData(typed)
		}
	}
	if !q.hasData && opts.InitialData != nil {
		q.cache.updateEntry(q.key, *opts.InitialData, time.Now(), q)
		q.adoptData(*opts.InitialData)
	}
	if !q.hasData && opts.PlaceholderData != nil {
		q.data.Set(*opts.PlaceholderData)
	}

	if cfg.Persist && !q.hasData {
		go q.hydrate()
	} else {
		close(q.hydrated)
		q.applyMountPolicy()
	}

	if cfg.RefetchInterval > 0 {
		q.mu.Lock()
		q.startIntervalLocked()
		q.mu.Unlock()
	}
	return q
}

// GetQuery returns the live Query currently registered for key, or nil when
// none exists (or the registered query has a different type parameter).
func GetQuery[T any](c *QueryCache, key Key) *Query[T] {
	q, _ := c.observerFor(key).(*Query[T])
	return q
}

// adoptData seeds the typed signals from already-cached data without going
// through a fetch.
func (q *Query[T]) adoptData(value T) {
	q.mu.Lock()
	q.hasData = true
	q.mu.Unlock()
	q.data.Set(value)
	q.status.Set(StatusSuccess)
}

// hydrate restores state from the persisted envelope, then applies the
// mount-time refetch policy.
func (q *Query[T]) hydrate() {
	defer close(q.hydrated)
	ctx := context.Background()
	payload, ts, ok := hydrateEntry(ctx, q.cache.Storage(), q.key, q.cfg.CacheTime)
	if ok {
		value, err := q.fromJSON(payload)
		if err != nil {
			log.Printf("WARN: hydrate decode failed for key '%s', ignoring persisted data: %v", q.key, err)
		} else {
			q.mu.Lock()
			already := q.hasData || q.disposed
			q.mu.Unlock()
			// A fetch that settled before hydration wins.
			if !already {
				log.Printf("HYDRATE: Key: %s (stored %s)", q.key, ts.Format(time.RFC3339))
				q.cache.updateEntry(q.key, value, ts, q)
				q.adoptData(value)
			}
		}
	}
	q.applyMountPolicy()
}

// applyMountPolicy triggers the mount-time background refetch when the
// refetchOnMount policy and staleness require it.
func (q *Query[T]) applyMountPolicy() {
	q.mu.Lock()
	hasData := q.hasData
	q.mu.Unlock()
	if !hasData {
		return
	}
	switch q.cfg.RefetchOnMount {
	case RefetchAlways:
		q.scheduleRefetch()
	case RefetchIfStale:
		if q.IsStale() {
			q.scheduleRefetch()
		}
	}
}

// Hydrated is closed once hydration has settled (immediately for
// non-persisting queries).
func (q *Query[T]) Hydrated() <-chan struct{} { return q.hydrated }

// --- Accessors ---

func (q *Query[T]) Key() Key                 { return q.key }
func (q *Query[T]) Config() QueryConfig      { return q.cfg }
func (q *Query[T]) Data() T                  { return q.data.Get() }
func (q *Query[T]) Error() error             { return q.errSig.Get() }
func (q *Query[T]) Status() Status           { return q.status.Get() }
func (q *Query[T]) FetchStatus() FetchStatus { return q.fetchStatus.Get() }
func (q *Query[T]) IsLoading() bool          { return q.status.Get() == StatusLoading }
func (q *Query[T]) IsSuccess() bool          { return q.status.Get() == StatusSuccess }
func (q *Query[T]) IsError() bool            { return q.status.Get() == StatusError }

// Signals expose the observable state for UI bindings.
func (q *Query[T]) DataSignal() *Signal[T]                { return q.data }
func (q *Query[T]) ErrorSignal() *Signal[error]           { return q.errSig }
func (q *Query[T]) StatusSignal() *Signal[Status]         { return q.status }
func (q *Query[T]) FetchStatusSignal() *Signal[FetchStatus] { return q.fetchStatus }

// HasData reports whether real (non-placeholder) data is present.
func (q *Query[T]) HasData() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasData
}

// IsStale reports whether the freshness window has elapsed. A query with no
// data is always stale.
func (q *Query[T]) IsStale() bool {
	return q.entry.isStale(q.cfg.StaleTime)
}

func (q *Query[T]) IsDisposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposed
}

// --- Fetching ---

// Fetch returns cached data when it is fresh, otherwise runs the
// retry-wrapped fetcher. Concurrent calls share one underlying fetch.
func (q *Query[T]) Fetch(ctx context.Context) (T, error) {
	return q.fetch(ctx, false)
}

// Refetch always runs the fetcher, bypassing the freshness short-circuit.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	return q.fetch(ctx, true)
}

func (q *Query[T]) fetch(ctx context.Context, force bool) (T, error) {
	var zero T
	if ctx == nil {
		return zero, ErrNilContext
	}

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return q.data.Get(), nil
	}

	// Paused short-circuit: no new work while paused, unless forced or the
	// network mode ignores connectivity entirely.
	if q.fetchStatus.Get() == FetchPaused && !force && q.cfg.NetworkMode != NetworkModeAlways {
		if q.hasData {
			q.mu.Unlock()
			return q.data.Get(), nil
		}
		q.mu.Unlock()
		return zero, ErrOffline
	}

	// Dedup: join the in-flight fetch instead of racing a second call.
	if call := q.inflight; call != nil {
		q.mu.Unlock()
		select {
		case <-call.done:
			return call.data, call.err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	// Freshness short-circuit.
	if !force && q.hasData && !q.entry.isStale(q.cfg.StaleTime) {
		q.mu.Unlock()
		return q.data.Get(), nil
	}

	// Network-mode gate.
	if !q.cache.IsOnline() && q.cfg.NetworkMode != NetworkModeAlways {
		if q.cfg.NetworkMode == NetworkModeOfflineFirst && q.hasData {
			// Serve the cache without attempting network and without pausing.
			q.mu.Unlock()
			return q.data.Get(), nil
		}
		q.pausedByOffline = true
		q.mu.Unlock()
		q.fetchStatus.Set(FetchPaused)
		return zero, ErrOffline
	}

	call := &fetchCall[T]{done: make(chan struct{})}
	token := NewCancelToken()
	q.inflight = call
	q.token = token
	hadData := q.hasData
	q.mu.Unlock()

	if !hadData {
		q.status.Set(StatusLoading)
	}
	q.fetchStatus.Set(FetchFetching)

	value, err := q.runFetch(ctx, token)

	q.mu.Lock()
	if q.inflight == call {
		q.inflight = nil
	}
	if q.token == token {
		q.token = nil
	}
	disposed := q.disposed
	q.mu.Unlock()

	switch {
	case errors.Is(err, ErrCancelled) || token.IsCancelled() || disposed:
		// Abandoned: no state change, no user-visible error.
		current := q.data.Get()
		call.data, call.err = current, nil
		close(call.done)
		return current, nil
	case err != nil:
		q.errSig.Set(err)
		q.status.Set(StatusError)
		q.settleFetchStatus(token)
		call.err = err
		close(call.done)
		return zero, err
	default:
		now := time.Now()
		q.cache.updateEntry(q.key, value, now, q)
		q.mu.Lock()
		q.hasData = true
		q.mu.Unlock()
		q.data.Set(value)
		q.errSig.Set(nil)
		q.status.Set(StatusSuccess)
		q.settleFetchStatus(token)
		q.persistValue(value, now)
		call.data = value
		close(call.done)
		return value, nil
	}
}

// settleFetchStatus returns fetchStatus to idle after a fetch epilogue unless
// a Pause raced it. Pause cancels the token before flipping to paused, so a
// cancelled token here means the paused state must stand.
func (q *Query[T]) settleFetchStatus(token *CancelToken) {
	if token.IsCancelled() {
		return
	}
	q.fetchStatus.Set(FetchIdle)
}

// runFetch invokes the fetcher with retry orchestration. The token is checked
// after every suspension point (post-fetch, pre-delay, post-delay) so paused
// or disposed queries abandon promptly instead of completing stale work.
func (q *Query[T]) runFetch(ctx context.Context, token *CancelToken) (T, error) {
	var zero T
	if q.fetcher == nil {
		return zero, ErrNoFetcher
	}
	policy := PolicyFromConfig(q.cfg)
	attempt := 0
	for {
		value, err := q.fetcher(ctx, token)
		if token.IsCancelled() {
			return zero, ErrCancelled
		}
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrCancelled) {
			return zero, ErrCancelled
		}
		if !policy.ShouldRetry(attempt) {
			return zero, err
		}
		delay := policy.DelayFor(attempt, err)
		select {
		case <-time.After(delay):
		case <-token.Done():
			return zero, ErrCancelled
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if token.IsCancelled() {
			return zero, ErrCancelled
		}
		attempt++
	}
}

// persistValue writes the freshly fetched value back through the envelope
// format. Persistence failures never fail the fetch.
func (q *Query[T]) persistValue(value T, ts time.Time) {
	if !q.cfg.Persist {
		return
	}
	payload, err := q.toJSON(value)
	if err != nil {
		log.Printf("WARN: persist encode failed for key '%s': %v", q.key, err)
		return
	}
	if err := persistEntry(context.Background(), q.cache.Storage(), q.key, payload, ts); err != nil {
		log.Printf("WARN: persist write failed for key '%s': %v", q.key, err)
	}
}

// persistExternal routes a value produced by Prefetch through the same
// write-through as a fetch success.
func (q *Query[T]) persistExternal(value any, ts time.Time) {
	typed, ok := value.(T)
	if !ok {
		return
	}
	q.persistValue(typed, ts)
}

// --- Manual updates and invalidation ---

// SetData applies an optimistic or manual override: cache and observable data
// update synchronously, the entry is marked fresh, fetchStatus is untouched.
func (q *Query[T]) SetData(value T) {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.cache.updateEntry(q.key, value, time.Now(), q)
	q.mu.Lock()
	q.hasData = true
	q.mu.Unlock()
	q.data.Set(value)
	q.errSig.Set(nil)
	q.status.Set(StatusSuccess)
}

// Invalidate synchronously marks the entry stale, then triggers a background
// refetch when the query is not paused, fetching or disposed. Displayed data
// is untouched until the refetch resolves.
func (q *Query[T]) Invalidate() {
	q.entry.markStale()
	q.scheduleRefetch()
}

// --- Pause / resume ---

// Pause sets fetchStatus to paused, cancels the in-flight fetch's token
// (aborting pending retries) and stops the periodic refetch timer. Idempotent.
func (q *Query[T]) Pause() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	token := q.token
	q.stopIntervalLocked()
	q.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
	q.fetchStatus.Set(FetchPaused)
}

// Resume sets fetchStatus back to idle, restarts the periodic refetch timer
// and, when refetchOnResume is configured and data is stale, triggers a
// background fetch. Idempotent.
func (q *Query[T]) Resume() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.pausedByOffline = false
	if q.cfg.RefetchInterval > 0 {
		q.startIntervalLocked()
	}
	q.mu.Unlock()
	q.fetchStatus.Set(FetchIdle)
	if q.cfg.RefetchOnResume && q.IsStale() {
		q.scheduleRefetch()
	}
}

func (q *Query[T]) startIntervalLocked() {
	if q.intervalStop != nil || q.cfg.RefetchInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	q.intervalStop = stop
	interval := q.cfg.RefetchInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				q.mu.Lock()
				skip := q.backgrounded && !q.cfg.EnableBackgroundRefetch
				q.mu.Unlock()
				if skip {
					continue
				}
				q.scheduleRefetch()
			}
		}
	}()
}

func (q *Query[T]) stopIntervalLocked() {
	if q.intervalStop != nil {
		close(q.intervalStop)
		q.intervalStop = nil
	}
}

// --- Disposal ---

// Dispose unregisters the query from the cache (stored data survives),
// cancels any in-flight work and stops timers. Further method calls are
// no-ops returning cached or zero state.
func (q *Query[T]) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	token := q.token
	q.token = nil
	q.stopIntervalLocked()
	q.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
	q.cache.unregisterObserver(q, q.scopeID)
}

// --- queryObserver plumbing ---

func (q *Query[T]) queryKey() Key              { return q.key }
func (q *Query[T]) queryConfig() QueryConfig   { return q.cfg }
func (q *Query[T]) disposeInternal()           { q.Dispose() }

func (q *Query[T]) applyExternalData(value any, ts time.Time) {
	typed, ok := value.(T)
	if !ok {
		log.Printf("WARN: cache update for key '%s' has type %T, query expects different type; ignoring", q.key, value)
		return
	}
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.hasData = true
	q.mu.Unlock()
	q.data.Set(typed)
	q.errSig.Set(nil)
	q.status.Set(StatusSuccess)
}

func (q *Query[T]) restoreSnapshot(value any, hasData bool, ts time.Time) {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	if !hasData {
		q.hasData = false
		q.mu.Unlock()
		q.data.Set(*new(T))
		q.status.Set(StatusIdle)
		return
	}
	q.mu.Unlock()
	if typed, ok := value.(T); ok {
		q.mu.Lock()
		q.hasData = true
		q.mu.Unlock()
		q.data.Set(typed)
		q.status.Set(StatusSuccess)
	}
}

func (q *Query[T]) scheduleRefetch() {
	q.mu.Lock()
	if q.disposed || q.inflight != nil || q.fetchStatus.Get() == FetchPaused {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	go func() {
		if _, err := q.fetch(context.Background(), true); err != nil && !errors.Is(err, ErrOffline) {
			log.Printf("WARN: background refetch failed for key '%s': %v", q.key, err)
		}
	}()
}

func (q *Query[T]) refetchBlocking(ctx context.Context) error {
	_, err := q.fetch(ctx, true)
	return err
}

// onNetworkOnline resumes a query paused by an offline fetch attempt and
// applies the refetchOnReconnect policy.
func (q *Query[T]) onNetworkOnline() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	wasOfflinePaused := q.pausedByOffline
	q.pausedByOffline = false
	q.mu.Unlock()
	if wasOfflinePaused && q.fetchStatus.Get() == FetchPaused {
		q.fetchStatus.Set(FetchIdle)
	}
	switch q.cfg.RefetchOnReconnect {
	case RefetchAlways:
		q.scheduleRefetch()
	case RefetchIfStale:
		if q.IsStale() {
			q.scheduleRefetch()
		}
	}
}

// onLifecycle applies autoPauseOnBackground, the refetchOnFocus policy and
// the backgrounded flag that gates interval refetching when
// enableBackgroundRefetch is off.
func (q *Query[T]) onLifecycle(state LifecycleState) {
	q.mu.Lock()
	if state.Background() {
		q.backgrounded = true
	} else if state == LifecycleResumed {
		q.backgrounded = false
	}
	q.mu.Unlock()
	if q.cfg.AutoPauseOnBackground {
		if state.Background() {
			q.Pause()
			return
		}
		if state == LifecycleResumed {
			q.Resume()
		}
	}
	if state == LifecycleResumed {
		switch q.cfg.RefetchOnFocus {
		case RefetchAlways:
			q.scheduleRefetch()
		case RefetchIfStale:
			if q.IsStale() {
				q.scheduleRefetch()
			}
		}
	}
}
