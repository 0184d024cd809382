// infinite.go
// InfiniteQuery: page-cursor bookkeeping layered over the base Query state
// machine. The base query holds the ordered page sequence; this type adds the
// next-page cursor and its fetch orchestration.

package zenq

import (
	"context"
	"sync"
)

// InfiniteQueryOptions configures an InfiniteQuery. T is the page type, P the
// page-param (cursor) type.
type InfiniteQueryOptions[T, P any] struct {
	Key Key
	// FetchPage loads one page for the given cursor.
	FetchPage func(ctx context.Context, token *CancelToken, param P) (T, error)
	// InitialPageParam is the cursor for the first page.
	InitialPageParam P
	// GetNextPageParam returns the cursor for the page after lastPage, or
	// nil when no further page exists.
	GetNextPageParam func(lastPage T, allPages []T) *P
	Config           *QueryConfig
	Override         *ConfigOverride
	ScopeID          string
}

// InfiniteQuery is a Query over an ordered sequence of pages. Pages are
// strictly appended in fetch order; Refetch resets to exactly the first page.
type InfiniteQuery[T, P any] struct {
	q *Query[[]T]

	mu           sync.Mutex
	fetchPage    func(ctx context.Context, token *CancelToken, param P) (T, error)
	getNext      func(T, []T) *P
	initialParam P
	nextParam    *P
	hasNext      bool
	fetchingNext bool
	nextToken    *CancelToken

	pageErr        *Signal[error]
	isFetchingNext *Signal[bool]
}

// NewInfiniteQuery constructs an InfiniteQuery registered with the cache
// (DefaultCache when nil).
func NewInfiniteQuery[T, P any](cache *QueryCache, opts InfiniteQueryOptions[T, P]) *InfiniteQuery[T, P] {
	iq := &InfiniteQuery[T, P]{
		fetchPage:      opts.FetchPage,
		getNext:        opts.GetNextPageParam,
		initialParam:   opts.InitialPageParam,
		pageErr:        NewSignal[error](nil),
		isFetchingNext: NewSignal(false),
	}
	iq.q = NewQuery(cache, QueryOptions[[]T]{
		Key: opts.Key,
		Fetcher: func(ctx context.Context, token *CancelToken) ([]T, error) {
			// The base fetch loads exactly the first page, discarding any
			// accumulated pages: this is the Refetch reset semantics.
			page, err := iq.fetchPage(ctx, token, iq.initialParam)
			if err != nil {
				return nil, err
			}
			pages := []T{page}
			iq.updateCursor(pages)
			return pages, nil
		},
		Config:   opts.Config,
		Override: opts.Override,
		ScopeID:  opts.ScopeID,
	})
	return iq
}

// updateCursor recomputes the next-page cursor from a fresh call to
// GetNextPageParam.
func (iq *InfiniteQuery[T, P]) updateCursor(pages []T) {
	var next *P
	if iq.getNext != nil && len(pages) > 0 {
		next = iq.getNext(pages[len(pages)-1], pages)
	}
	iq.mu.Lock()
	iq.nextParam = next
	iq.hasNext = next != nil
	iq.mu.Unlock()
	iq.pageErr.Set(nil)
}

// Fetch loads the first page (or returns the cached page sequence while it
// is fresh). Concurrent calls are deduplicated by the base query.
func (iq *InfiniteQuery[T, P]) Fetch(ctx context.Context) ([]T, error) {
	return iq.q.Fetch(ctx)
}

// Refetch discards all pages and reloads exactly the first one.
func (iq *InfiniteQuery[T, P]) Refetch(ctx context.Context) ([]T, error) {
	return iq.q.Refetch(ctx)
}

// FetchNextPage fetches the page after the current last one and appends it.
// No-op when hasNextPage is false or a next-page fetch is already in flight.
// On failure the existing pages are preserved and the error is recorded in
// PageError, separate from the aggregate status, so existing pages remain
// renderable.
func (iq *InfiniteQuery[T, P]) FetchNextPage(ctx context.Context) ([]T, error) {
	// With no pages loaded yet, the "next" page is the first one.
	if !iq.q.HasData() {
		return iq.Fetch(ctx)
	}
	iq.mu.Lock()
	if iq.fetchingNext || !iq.hasNext || iq.nextParam == nil {
		iq.mu.Unlock()
		return iq.q.Data(), nil
	}
	param := *iq.nextParam
	iq.fetchingNext = true
	token := NewCancelToken()
	iq.nextToken = token
	iq.mu.Unlock()
	iq.isFetchingNext.Set(true)

	page, err := iq.fetchPage(ctx, token, param)

	iq.mu.Lock()
	iq.fetchingNext = false
	if iq.nextToken == token {
		iq.nextToken = nil
	}
	iq.mu.Unlock()
	iq.isFetchingNext.Set(false)

	if token.IsCancelled() {
		return iq.q.Data(), nil
	}
	if err != nil {
		iq.pageErr.Set(err)
		return iq.q.Data(), err
	}
	pages := append(append([]T{}, iq.q.Data()...), page)
	iq.q.SetData(pages)
	iq.updateCursor(pages)
	return pages, nil
}

// --- Accessors ---

func (iq *InfiniteQuery[T, P]) Key() Key       { return iq.q.Key() }
func (iq *InfiniteQuery[T, P]) Data() []T      { return iq.q.Data() }
func (iq *InfiniteQuery[T, P]) Status() Status { return iq.q.Status() }
func (iq *InfiniteQuery[T, P]) Error() error   { return iq.q.Error() }

// PageError holds the most recent next-page failure, cleared on the next
// successful page or refetch.
func (iq *InfiniteQuery[T, P]) PageError() error { return iq.pageErr.Get() }

func (iq *InfiniteQuery[T, P]) HasNextPage() bool {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	return iq.hasNext
}

func (iq *InfiniteQuery[T, P]) IsFetchingNextPage() bool { return iq.isFetchingNext.Get() }

// Query exposes the underlying base query for signal subscription.
func (iq *InfiniteQuery[T, P]) Query() *Query[[]T] { return iq.q }

func (iq *InfiniteQuery[T, P]) Pause()  { iq.cancelNext(); iq.q.Pause() }
func (iq *InfiniteQuery[T, P]) Resume() { iq.q.Resume() }

func (iq *InfiniteQuery[T, P]) Dispose() {
	iq.cancelNext()
	iq.q.Dispose()
}

func (iq *InfiniteQuery[T, P]) cancelNext() {
	iq.mu.Lock()
	token := iq.nextToken
	iq.mu.Unlock()
	if token != nil {
		token.Cancel()
	}
}
