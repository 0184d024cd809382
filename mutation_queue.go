// mutation_queue.go
// MutationQueue: offline support for writes. Mutation intents recorded while
// the device is offline are persisted through Storage and replayed in FIFO
// order once connectivity returns.

package zenq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// mutationQueueStorageKey is the single Storage key holding the serialized
// queue.
const mutationQueueStorageKey = mutationStoragePrefix + "queue"

// defaultReplayAttempts bounds how often a failing intent is re-queued
// before it is dropped.
const defaultReplayAttempts = 3

// MutationIntent is one queued offline mutation: an opaque payload plus the
// query key it targets, persisted until replayed.
type MutationIntent struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
	Attempts  int             `json:"attempts"`
}

// IntentHandler performs the real side effect for a replayed intent.
type IntentHandler func(ctx context.Context, intent MutationIntent) error

// MutationQueueOptions configures a MutationQueue.
type MutationQueueOptions struct {
	// Storage defaults to the cache's storage backend.
	Storage Storage
	// Handler executes intents (immediately while online, on replay after
	// reconnect). Required.
	Handler IntentHandler
	// MaxReplayAttempts bounds re-queues of a failing intent. Defaults to 3.
	MaxReplayAttempts int
}

// MutationQueue persists mutation intents while offline and replays them
// once connectivity returns. It registers itself with the cache's reconnect
// hook, so wiring a network source into the cache is enough.
type MutationQueue struct {
	mu          sync.Mutex
	cache       *QueryCache
	storage     Storage
	handler     IntentHandler
	maxAttempts int
	pending     []MutationIntent
	nextSeq     int64
}

// NewMutationQueue constructs a queue bound to the cache, loading any intents
// persisted by a previous process.
func NewMutationQueue(cache *QueryCache, opts MutationQueueOptions) (*MutationQueue, error) {
	if cache == nil {
		cache = DefaultCache
	}
	if opts.Handler == nil {
		return nil, errors.New("zenq: mutation queue requires a handler")
	}
	storage := opts.Storage
	if storage == nil {
		storage = cache.Storage()
	}
	maxAttempts := opts.MaxReplayAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReplayAttempts
	}
	q := &MutationQueue{
		cache:       cache,
		storage:     storage,
		handler:     opts.Handler,
		maxAttempts: maxAttempts,
	}
	q.load(context.Background())
	cache.addReconnectHook(func() {
		if err := q.Replay(context.Background()); err != nil {
			log.Printf("WARN: mutation queue replay after reconnect failed: %v", err)
		}
	})
	return q, nil
}

// load restores the persisted queue. Corrupt payloads are discarded.
func (q *MutationQueue) load(ctx context.Context) {
	raw, err := q.storage.Read(ctx, mutationQueueStorageKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("WARN: mutation queue load failed: %v", err)
		}
		return
	}
	var pending []MutationIntent
	if err := json.Unmarshal(raw, &pending); err != nil {
		log.Printf("WARN: corrupt mutation queue payload, discarding: %v", err)
		_ = q.storage.Delete(ctx, mutationQueueStorageKey)
		return
	}
	q.mu.Lock()
	q.pending = pending
	q.mu.Unlock()
}

// persistLocked writes the queue back. Caller holds q.mu.
func (q *MutationQueue) persistLocked(ctx context.Context) {
	if len(q.pending) == 0 {
		if err := q.storage.Delete(ctx, mutationQueueStorageKey); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("WARN: mutation queue delete failed: %v", err)
		}
		return
	}
	raw, err := json.Marshal(q.pending)
	if err != nil {
		log.Printf("ERROR: mutation queue marshal failed: %v", err)
		return
	}
	if err := q.storage.Write(ctx, mutationQueueStorageKey, raw); err != nil {
		log.Printf("WARN: mutation queue persist failed: %v", err)
	}
}

// Enqueue runs the intent immediately while online; while offline it is
// persisted for replay. The payload must be JSON-serializable.
func (q *MutationQueue) Enqueue(ctx context.Context, key Key, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation payload for key '%s': %w", key, err)
	}
	intent := q.newIntent(key, raw)
	if q.cache.IsOnline() {
		return q.handler(ctx, intent)
	}
	q.mu.Lock()
	q.pending = append(q.pending, intent)
	q.persistLocked(ctx)
	q.mu.Unlock()
	log.Printf("QUEUE: offline, queued mutation intent %s for key '%s'", intent.ID, key)
	return nil
}

func (q *MutationQueue) newIntent(key Key, payload json.RawMessage) MutationIntent {
	q.mu.Lock()
	q.nextSeq++
	seq := q.nextSeq
	q.mu.Unlock()
	return MutationIntent{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq),
		Key:       key.String(),
		Payload:   payload,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// Replay drains the queue FIFO. A failing intent is re-queued at the tail
// until its attempt count reaches the bound, then dropped with a log. The
// returned error is the first handler failure, for observability; the queue
// state is consistent either way.
func (q *MutationQueue) Replay(ctx context.Context) error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	log.Printf("REPLAY: %d queued mutation intent(s)", len(batch))

	var firstErr error
	var requeue []MutationIntent
	for _, intent := range batch {
		if err := q.handler(ctx, intent); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			intent.Attempts++
			if intent.Attempts >= q.maxAttempts {
				log.Printf("ERROR: dropping mutation intent %s for key '%s' after %d attempts: %v", intent.ID, intent.Key, intent.Attempts, err)
				continue
			}
			requeue = append(requeue, intent)
		}
	}

	q.mu.Lock()
	// Intents enqueued during replay stay behind the re-queued failures'
	// original order.
	q.pending = append(requeue, q.pending...)
	q.persistLocked(ctx)
	q.mu.Unlock()
	return firstErr
}

// Pending returns a copy of the queued intents. Diagnostic only.
func (q *MutationQueue) Pending() []MutationIntent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]MutationIntent, len(q.pending))
	copy(out, q.pending)
	return out
}
