package zenq

import "errors"

// ErrNotFound is returned when a requested item (e.g., a storage key or cache
// entry) is not found.
var ErrNotFound = errors.New("zenq: requested item not found")

// Additional package-level errors
var (
	// ErrOffline indicates a fetch was refused because the device is offline
	// and the query's network mode requires connectivity.
	ErrOffline = errors.New("zenq: offline and no usable cached data")
	// ErrCancelled indicates an in-flight fetch observed its cancel token.
	// It is internal to the engine and never surfaced as a query error state.
	ErrCancelled = errors.New("zenq: fetch cancelled")
	// ErrDisposed indicates an operation on a disposed query or mutation.
	ErrDisposed = errors.New("zenq: already disposed")
	// ErrNoFetcher indicates a query was constructed without a fetch function.
	ErrNoFetcher = errors.New("zenq: fetcher not set")
	// ErrNoNextPage indicates FetchNextPage was called with no next cursor.
	ErrNoNextPage    = errors.New("zenq: no next page available")
	ErrStorageNotSet = errors.New("zenq: storage backend not set")
	ErrNilContext    = errors.New("zenq: nil context provided")
)
