// cache.go
// QueryCache: the registry mapping normalized keys to cache entries and the
// live query observing each key. Routes cross-cutting events (connectivity,
// app lifecycle, scope disposal) to interested queries.

package zenq

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// CacheEntry is the per-key record shared by every query observing that key:
// last-known data, last-fetch timestamp and the subscriber count. At most one
// entry exists per normalized key per cache.
type CacheEntry struct {
	mu          sync.Mutex
	data        any
	hasData     bool
	timestamp   time.Time
	subscribers int
}

func (e *CacheEntry) snapshot() (any, bool, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data, e.hasData, e.timestamp
}

func (e *CacheEntry) set(data any, ts time.Time) {
	e.mu.Lock()
	e.data = data
	e.hasData = true
	e.timestamp = ts
	e.mu.Unlock()
}

func (e *CacheEntry) restore(data any, hasData bool, ts time.Time) {
	e.mu.Lock()
	e.data = data
	e.hasData = hasData
	e.timestamp = ts
	e.mu.Unlock()
}

// markStale resets the effective last-fresh time to the epoch. Data is kept.
func (e *CacheEntry) markStale() {
	e.mu.Lock()
	e.timestamp = time.Time{}
	e.mu.Unlock()
}

func (e *CacheEntry) isStale(staleTime time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasData || e.timestamp.IsZero() {
		return true
	}
	return time.Since(e.timestamp) > staleTime
}

// queryObserver is the type-erased contract the cache uses to talk to live
// Query/InfiniteQuery/StreamQuery instances.
type queryObserver interface {
	queryKey() Key
	queryConfig() QueryConfig
	// applyExternalData pushes a cache write (UpdateCache, SetData from
	// another holder of the same key) into the observer's typed signals.
	applyExternalData(value any, ts time.Time)
	// restoreSnapshot rolls the observer back to a captured cache state.
	restoreSnapshot(value any, hasData bool, ts time.Time)
	// persistExternal writes a value produced outside the observer's own
	// fetch path (prefetch) through its persistence codec.
	persistExternal(value any, ts time.Time)
	// scheduleRefetch starts a background refetch unless the observer is
	// already fetching, paused or disposed.
	scheduleRefetch()
	refetchBlocking(ctx context.Context) error
	IsStale() bool
	onNetworkOnline()
	onLifecycle(state LifecycleState)
	// disposeInternal tears the observer down without re-entering the
	// cache's unregister path (the cache already holds its lock).
	disposeInternal()
}

// prefetchFlight is the shared in-flight record concurrent Prefetch calls for
// the same key join instead of issuing a second fetch.
type prefetchFlight struct {
	done chan struct{}
	err  error
}

// CacheStats counts live queries and entries. Diagnostic only.
type CacheStats struct {
	TotalQueries  int
	GlobalQueries int
	ScopedQueries int
	ActiveScopes  int
	Entries       int
}

// ScopeStats describes one scope partition. Diagnostic only.
type ScopeStats struct {
	ScopeID    string
	QueryCount int
	StaleCount int
}

// CacheOptions configures a QueryCache.
type CacheOptions struct {
	// Storage backs persistence and the offline mutation queue. Defaults to
	// DefaultStorage.
	Storage Storage
	// Defaults is the client-level QueryConfig queries fall back to when no
	// explicit config is given. Defaults to DefaultQueryConfig().
	Defaults *QueryConfig
}

// QueryCache is the registry of cache entries and live queries. Construct one
// with NewQueryCache and pass it by reference to every query and mutation; a
// process-default instance is available as DefaultCache.
type QueryCache struct {
	mu             sync.Mutex
	entries        map[string]*CacheEntry
	observers      map[string]queryObserver
	scopes         map[string]map[string]queryObserver
	inflight       map[string]*prefetchFlight
	storage        Storage
	defaults       QueryConfig
	online         bool
	netStop        chan struct{}
	lifeStop       chan struct{}
	reconnectHooks []func()
}

// NewQueryCache creates an empty cache. Absence of a network source means the
// engine assumes always-online.
func NewQueryCache(opts CacheOptions) *QueryCache {
	storage := opts.Storage
	if storage == nil {
		storage = DefaultStorage
	}
	defaults := DefaultQueryConfig()
	if opts.Defaults != nil {
		defaults = *opts.Defaults
	}
	return &QueryCache{
		entries:   make(map[string]*CacheEntry),
		observers: make(map[string]queryObserver),
		scopes:    make(map[string]map[string]queryObserver),
		inflight:  make(map[string]*prefetchFlight),
		storage:   storage,
		defaults:  defaults,
		online:    true,
	}
}

// DefaultCache is the process-default cache instance.
var DefaultCache = NewQueryCache(CacheOptions{})

// DefaultConfig returns the client-level default QueryConfig.
func (c *QueryCache) DefaultConfig() QueryConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaults
}

// SetDefaultConfig replaces the client-level default QueryConfig. Queries
// already constructed keep their merged config.
func (c *QueryCache) SetDefaultConfig(cfg QueryConfig) {
	c.mu.Lock()
	c.defaults = cfg
	c.mu.Unlock()
}

// Storage returns the persistence backend wired into the cache.
func (c *QueryCache) Storage() Storage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage
}

// IsOnline reports the last connectivity signal (true when no source is set).
func (c *QueryCache) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// --- Registration ---

// entryLocked returns (creating if needed) the entry for key. Caller holds c.mu.
func (c *QueryCache) entryLocked(key Key) *CacheEntry {
	e, ok := c.entries[key.String()]
	if !ok {
		e = &CacheEntry{}
		c.entries[key.String()] = e
	}
	return e
}

// registerObserver attaches a live query to its entry. A new observer for an
// existing key replaces the previous one; the entry's data is preserved.
func (c *QueryCache) registerObserver(o queryObserver, scopeID string) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(o.queryKey())
	e.mu.Lock()
	e.subscribers++
	e.mu.Unlock()
	c.observers[o.queryKey().String()] = o
	if scopeID != "" {
		set, ok := c.scopes[scopeID]
		if !ok {
			set = make(map[string]queryObserver)
			c.scopes[scopeID] = set
		}
		set[o.queryKey().String()] = o
	}
	return e
}

// unregisterObserver detaches a query from the cache. The entry's stored data
// survives; only the observer slot is cleared (and only when it still points
// at the same query).
func (c *QueryCache) unregisterObserver(o queryObserver, scopeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keyStr := o.queryKey().String()
	if e, ok := c.entries[keyStr]; ok {
		e.mu.Lock()
		if e.subscribers > 0 {
			e.subscribers--
		}
		e.mu.Unlock()
	}
	if cur, ok := c.observers[keyStr]; ok && cur == o {
		delete(c.observers, keyStr)
	}
	if scopeID != "" {
		if set, ok := c.scopes[scopeID]; ok {
			if cur, ok := set[keyStr]; ok && cur == o {
				delete(set, keyStr)
			}
			if len(set) == 0 {
				delete(c.scopes, scopeID)
			}
		}
	}
}

func (c *QueryCache) observerFor(key Key) queryObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observers[key.String()]
}

// --- Direct cache access ---

// GetCachedData returns the typed data cached under key, bypassing any query
// lifecycle. The second result is false when no data is cached or the cached
// value has a different type.
func GetCachedData[T any](c *QueryCache, key Key) (T, bool) {
	var zero T
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	c.mu.Unlock()
	if !ok {
		return zero, false
	}
	data, hasData, _ := e.snapshot()
	if !hasData {
		return zero, false
	}
	typed, ok := data.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// EntryTimestamp returns the last-fetch timestamp recorded for key, if any.
func (c *QueryCache) EntryTimestamp(key Key) (time.Time, bool) {
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	_, hasData, ts := e.snapshot()
	return ts, hasData
}

// UpdateCache writes a value directly into the cache entry for key with the
// given timestamp and notifies the live query observing it. Used by prefetch,
// optimistic mutations and tests; fetch success goes through the same entry
// but skips self-notification.
func (c *QueryCache) UpdateCache(key Key, value any, ts time.Time) {
	c.updateEntry(key, value, ts, nil)
}

func (c *QueryCache) updateEntry(key Key, value any, ts time.Time, exclude queryObserver) {
	c.mu.Lock()
	e := c.entryLocked(key)
	o := c.observers[key.String()]
	c.mu.Unlock()
	e.set(value, ts)
	if o != nil && o != exclude {
		o.applyExternalData(value, ts)
	}
}

// restoreEntry rolls the entry for key back to a captured snapshot (including
// the no-data state) and notifies the live observer. Used by optimistic
// mutation rollback.
func (c *QueryCache) restoreEntry(key Key, value any, hasData bool, ts time.Time) {
	c.mu.Lock()
	e := c.entryLocked(key)
	o := c.observers[key.String()]
	c.mu.Unlock()
	e.restore(value, hasData, ts)
	if o != nil {
		o.restoreSnapshot(value, hasData, ts)
	}
}

// entrySnapshot captures the current entry state for key for later rollback.
func (c *QueryCache) entrySnapshot(key Key) (any, bool, time.Time) {
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	c.mu.Unlock()
	if !ok {
		return nil, false, time.Time{}
	}
	return e.snapshot()
}

// --- Invalidation ---

// InvalidateQuery marks the entry for key stale (synchronously, so an
// immediate IsStale check is true) and schedules a background refetch on the
// live query when one is mounted and not already fetching. Data is never
// deleted by invalidation.
func (c *QueryCache) InvalidateQuery(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key.String()]
	o := c.observers[key.String()]
	c.mu.Unlock()
	if ok {
		e.markStale()
	}
	if o != nil {
		o.scheduleRefetch()
	}
}

// InvalidateQueriesWithPrefix invalidates every entry whose serialized key
// starts with prefix. Used for hierarchical keys like "user:1", "user:2".
func (c *QueryCache) InvalidateQueriesWithPrefix(prefix string) {
	c.mu.Lock()
	var stale []*CacheEntry
	var refetch []queryObserver
	for keyStr, e := range c.entries {
		if strings.HasPrefix(keyStr, prefix) {
			stale = append(stale, e)
			if o, ok := c.observers[keyStr]; ok {
				refetch = append(refetch, o)
			}
		}
	}
	c.mu.Unlock()
	for _, e := range stale {
		e.markStale()
	}
	for _, o := range refetch {
		o.scheduleRefetch()
	}
}

// Clear deletes every entry and disposes every live query. Unlike
// invalidation, clearing does delete data.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	observers := make([]queryObserver, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.observers = make(map[string]queryObserver)
	c.entries = make(map[string]*CacheEntry)
	c.scopes = make(map[string]map[string]queryObserver)
	c.mu.Unlock()
	for _, o := range observers {
		o.disposeInternal()
	}
}

// --- Prefetch ---

// Prefetch fetches and caches key only if no fresh entry exists (fresh
// meaning younger than staleTime). Concurrent prefetches for the same key
// share one underlying fetch. Prefetch is best-effort: fetcher errors are
// logged, not returned.
func Prefetch[T any](ctx context.Context, c *QueryCache, key Key, fetcher func(ctx context.Context) (T, error), staleTime time.Duration) {
	c.mu.Lock()
	if e, ok := c.entries[key.String()]; ok && !e.isStale(staleTime) {
		c.mu.Unlock()
		return
	}
	if flight, ok := c.inflight[key.String()]; ok {
		c.mu.Unlock()
		select {
		case <-flight.done:
		case <-ctx.Done():
		}
		return
	}
	flight := &prefetchFlight{done: make(chan struct{})}
	c.inflight[key.String()] = flight
	c.mu.Unlock()

	value, err := fetcher(ctx)
	if err == nil {
		now := time.Now()
		c.UpdateCache(key, value, now)
		c.persistForObserver(key, value, now)
	} else {
		log.Printf("WARN: prefetch failed for key '%s': %v", key, err)
	}

	c.mu.Lock()
	flight.err = err
	delete(c.inflight, key.String())
	c.mu.Unlock()
	close(flight.done)
}

// persistForObserver routes a prefetched value into the registered query's
// persistence write-through so a persisting query survives restarts with the
// prefetched data, not just the in-memory copy.
func (c *QueryCache) persistForObserver(key Key, value any, ts time.Time) {
	c.mu.Lock()
	o := c.observers[key.String()]
	c.mu.Unlock()
	if o != nil && o.queryConfig().Persist {
		o.persistExternal(value, ts)
	}
}

// --- Scope partitions ---

// GetScopeQueries returns the keys of every query registered to scopeID.
func (c *QueryCache) GetScopeQueries(scopeID string) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.scopes[scopeID]
	if !ok {
		return nil
	}
	keys := make([]Key, 0, len(set))
	for _, o := range set {
		keys = append(keys, o.queryKey())
	}
	return keys
}

// InvalidateScope invalidates every query registered to scopeID.
func (c *QueryCache) InvalidateScope(scopeID string) {
	for _, key := range c.GetScopeQueries(scopeID) {
		c.InvalidateQuery(key)
	}
}

// RefetchScope refetches every query in the scope and waits for all of them
// to settle, returning the first error encountered.
func (c *QueryCache) RefetchScope(ctx context.Context, scopeID string) error {
	c.mu.Lock()
	set := c.scopes[scopeID]
	observers := make([]queryObserver, 0, len(set))
	for _, o := range set {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(observers))
	for _, o := range observers {
		wg.Add(1)
		go func(o queryObserver) {
			defer wg.Done()
			if err := o.refetchBlocking(ctx); err != nil {
				errCh <- err
			}
		}(o)
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// ClearScope disposes every query in the scope and deletes their entries,
// including persisted envelopes for persisting queries.
func (c *QueryCache) ClearScope(ctx context.Context, scopeID string) {
	c.mu.Lock()
	set := c.scopes[scopeID]
	delete(c.scopes, scopeID)
	observers := make([]queryObserver, 0, len(set))
	for keyStr, o := range set {
		observers = append(observers, o)
		delete(c.entries, keyStr)
		if cur, ok := c.observers[keyStr]; ok && cur == o {
			delete(c.observers, keyStr)
		}
	}
	storage := c.storage
	c.mu.Unlock()
	for _, o := range observers {
		if o.queryConfig().Persist {
			deletePersisted(ctx, storage, o.queryKey())
		}
		o.disposeInternal()
	}
}

// DisposeScope tears down the queries registered to scopeID whose config has
// AutoDispose set. Called when the owning DI scope is disposed; cached data
// survives, only the live queries go away.
func (c *QueryCache) DisposeScope(scopeID string) {
	c.mu.Lock()
	set := c.scopes[scopeID]
	var doomed []queryObserver
	for keyStr, o := range set {
		if !o.queryConfig().AutoDispose {
			continue
		}
		delete(set, keyStr)
		if cur, ok := c.observers[keyStr]; ok && cur == o {
			delete(c.observers, keyStr)
		}
		doomed = append(doomed, o)
	}
	if len(set) == 0 {
		delete(c.scopes, scopeID)
	}
	c.mu.Unlock()
	for _, o := range doomed {
		o.disposeInternal()
	}
}

// GetScopeStats returns per-scope query counts. Diagnostic only.
func (c *QueryCache) GetScopeStats(scopeID string) ScopeStats {
	c.mu.Lock()
	set := c.scopes[scopeID]
	observers := make([]queryObserver, 0, len(set))
	for _, o := range set {
		observers = append(observers, o)
	}
	c.mu.Unlock()
	stats := ScopeStats{ScopeID: scopeID, QueryCount: len(observers)}
	for _, o := range observers {
		if o.IsStale() {
			stats.StaleCount++
		}
	}
	return stats
}

// GetStats returns cache-wide counts. Diagnostic only.
func (c *QueryCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	scoped := 0
	for _, set := range c.scopes {
		scoped += len(set)
	}
	return CacheStats{
		TotalQueries:  len(c.observers),
		GlobalQueries: len(c.observers) - scoped,
		ScopedQueries: scoped,
		ActiveScopes:  len(c.scopes),
		Entries:       len(c.entries),
	}
}

// --- Connectivity and lifecycle wiring ---

// SetNetworkSource subscribes the cache to an online/offline signal (true =
// online). On a transition to online, queries are refetched per their
// refetchOnReconnect policy and registered reconnect hooks (the offline
// mutation queue) replay. Calling it again replaces the previous source.
func (c *QueryCache) SetNetworkSource(ch <-chan bool) {
	c.mu.Lock()
	if c.netStop != nil {
		close(c.netStop)
	}
	stop := make(chan struct{})
	c.netStop = stop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case online, ok := <-ch:
				if !ok {
					return
				}
				c.handleConnectivity(online)
			}
		}
	}()
}

func (c *QueryCache) handleConnectivity(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	var observers []queryObserver
	var hooks []func()
	if online && !was {
		observers = make([]queryObserver, 0, len(c.observers))
		for _, o := range c.observers {
			observers = append(observers, o)
		}
		hooks = append(hooks, c.reconnectHooks...)
	}
	c.mu.Unlock()
	for _, o := range observers {
		o.onNetworkOnline()
	}
	for _, hook := range hooks {
		hook()
	}
}

// SetLifecycleSource subscribes the cache to app-lifecycle transitions. On
// resume, queries are refetched per their refetchOnFocus policy and
// auto-pausing queries resume; background states pause them.
func (c *QueryCache) SetLifecycleSource(ch <-chan LifecycleState) {
	c.mu.Lock()
	if c.lifeStop != nil {
		close(c.lifeStop)
	}
	stop := make(chan struct{})
	c.lifeStop = stop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case state, ok := <-ch:
				if !ok {
					return
				}
				c.handleLifecycle(state)
			}
		}
	}()
}

func (c *QueryCache) handleLifecycle(state LifecycleState) {
	c.mu.Lock()
	observers := make([]queryObserver, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()
	for _, o := range observers {
		o.onLifecycle(state)
	}
}

// addReconnectHook registers a callback run after every offline-to-online
// transition. Used by MutationQueue for replay.
func (c *QueryCache) addReconnectHook(fn func()) {
	c.mu.Lock()
	c.reconnectHooks = append(c.reconnectHooks, fn)
	c.mu.Unlock()
}

// Stop detaches the cache from its network and lifecycle sources.
func (c *QueryCache) Stop() {
	c.mu.Lock()
	if c.netStop != nil {
		close(c.netStop)
		c.netStop = nil
	}
	if c.lifeStop != nil {
		close(c.lifeStop)
		c.lifeStop = nil
	}
	c.mu.Unlock()
}
