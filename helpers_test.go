package zenq_test

import (
	"testing"
	"time"

	"zenq"
)

// waitFor polls cond until it reports true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func ptr[T any](v T) *T { return &v }

// newTestCache returns a cache with isolated in-memory storage so tests do
// not leak state into DefaultCache or DefaultStorage.
func newTestCache() *zenq.QueryCache {
	return zenq.NewQueryCache(zenq.CacheOptions{Storage: zenq.NewMemoryStorage()})
}
