package zenq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// envelopeVersion is the on-disk format version written with every persisted
// entry.
const envelopeVersion = 1

// Storage key namespaces. Query data and queued mutation intents share one
// Storage backend, so each gets its own prefix.
const (
	queryStoragePrefix    = "q:"
	mutationStoragePrefix = "mq:"
)

// envelope is the persisted record for a query: serialized data, the epoch-ms
// fetch timestamp and the format version.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Version   int             `json:"version"`
}

func queryStorageKey(key Key) string {
	return queryStoragePrefix + key.String()
}

// persistEntry writes the payload through the envelope format with the given
// fetch timestamp.
func persistEntry(ctx context.Context, storage Storage, key Key, payload []byte, ts time.Time) error {
	if storage == nil {
		return ErrStorageNotSet
	}
	env := envelope{
		Data:      payload,
		Timestamp: ts.UnixMilli(),
		Version:   envelopeVersion,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for key '%s': %w", key, err)
	}
	if err := storage.Write(ctx, queryStorageKey(key), raw); err != nil {
		return fmt.Errorf("failed to persist key '%s': %w", key, err)
	}
	return nil
}

// hydrateEntry reads a persisted envelope back. It returns (payload,
// timestamp, true) on a usable hit. Expired envelopes (older than cacheTime)
// are deleted from storage and reported as misses. Corrupt payloads are
// likewise deleted and reported as misses; hydration never fails a query.
func hydrateEntry(ctx context.Context, storage Storage, key Key, cacheTime time.Duration) ([]byte, time.Time, bool) {
	if storage == nil {
		return nil, time.Time{}, false
	}
	storageKey := queryStorageKey(key)
	raw, err := storage.Read(ctx, storageKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("WARN: hydrate read failed for key '%s': %v", key, err)
		}
		return nil, time.Time{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("WARN: corrupt persisted envelope for key '%s', deleting: %v", key, err)
		_ = storage.Delete(ctx, storageKey)
		return nil, time.Time{}, false
	}
	if env.Version != envelopeVersion {
		log.Printf("WARN: unsupported envelope version %d for key '%s', deleting", env.Version, key)
		_ = storage.Delete(ctx, storageKey)
		return nil, time.Time{}, false
	}
	ts := time.UnixMilli(env.Timestamp)
	if cacheTime > 0 && time.Since(ts) > cacheTime {
		log.Printf("HYDRATE EXPIRED: Key: %s (age %s > cacheTime %s)", key, time.Since(ts).Round(time.Millisecond), cacheTime)
		_ = storage.Delete(ctx, storageKey)
		return nil, time.Time{}, false
	}
	return env.Data, ts, true
}

// deletePersisted removes a persisted entry. Used when a scope is cleared.
func deletePersisted(ctx context.Context, storage Storage, key Key) {
	if storage == nil {
		return
	}
	if err := storage.Delete(ctx, queryStorageKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("WARN: failed to delete persisted entry for key '%s': %v", key, err)
	}
}
