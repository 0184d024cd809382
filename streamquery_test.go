package zenq_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"zenq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream hands out a fresh event channel per subscription so tests can
// emit into whichever subscription is current.
type fakeStream struct {
	mu    sync.Mutex
	ch    chan zenq.StreamEvent[int]
	opens int
}

func (f *fakeStream) fn(ctx context.Context) (<-chan zenq.StreamEvent[int], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.ch = make(chan zenq.StreamEvent[int], 16)
	return f.ch, nil
}

func (f *fakeStream) emit(ev zenq.StreamEvent[int]) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeStream) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func TestStreamQuery_EventsUpdateData(t *testing.T) {
	cache := newTestCache()
	src := &fakeStream{}
	sq := zenq.NewStreamQuery(cache, zenq.StreamQueryOptions[int]{
		Key:    zenq.K("ticks"),
		Stream: src.fn,
	})
	defer sq.Dispose()

	require.Equal(t, 1, src.openCount(), "autoSubscribe opens on construction")

	src.emit(zenq.StreamEvent[int]{Value: 1})
	waitFor(t, func() bool { return sq.Data() == 1 }, "first event applied")
	assert.Equal(t, zenq.StatusSuccess, sq.Status())

	src.emit(zenq.StreamEvent[int]{Value: 2})
	waitFor(t, func() bool { return sq.Data() == 2 }, "second event applied")

	// Values flow into the shared cache entry too.
	cached, ok := zenq.GetCachedData[int](cache, zenq.K("ticks"))
	require.True(t, ok)
	assert.Equal(t, 2, cached)
}

func TestStreamQuery_ErrorEventKeepsData(t *testing.T) {
	cache := newTestCache()
	src := &fakeStream{}
	sq := zenq.NewStreamQuery(cache, zenq.StreamQueryOptions[int]{
		Key:    zenq.K("ticks-err"),
		Stream: src.fn,
	})
	defer sq.Dispose()

	src.emit(zenq.StreamEvent[int]{Value: 7})
	waitFor(t, func() bool { return sq.Data() == 7 }, "value applied")

	errStream := errors.New("stream hiccup")
	src.emit(zenq.StreamEvent[int]{Err: errStream})
	waitFor(t, func() bool { return sq.Status() == zenq.StatusError }, "error surfaced")

	// Last-known data is retained by default.
	assert.Equal(t, 7, sq.Data())
	assert.ErrorIs(t, sq.Error(), errStream)

	// The stream keeps delivering after an error event.
	src.emit(zenq.StreamEvent[int]{Value: 8})
	waitFor(t, func() bool { return sq.Data() == 8 }, "recovery event applied")
}

func TestStreamQuery_ClearDataOnError(t *testing.T) {
	cache := newTestCache()
	src := &fakeStream{}
	sq := zenq.NewStreamQuery(cache, zenq.StreamQueryOptions[int]{
		Key:              zenq.K("ticks-clear"),
		Stream:           src.fn,
		ClearDataOnError: true,
	})
	defer sq.Dispose()

	src.emit(zenq.StreamEvent[int]{Value: 7})
	waitFor(t, func() bool { return sq.Data() == 7 }, "value applied")

	src.emit(zenq.StreamEvent[int]{Err: errors.New("fatal")})
	waitFor(t, func() bool { return sq.Status() == zenq.StatusError }, "error surfaced")
	assert.Equal(t, 0, sq.Data(), "data cleared on error")
}

func TestStreamQuery_PauseDropsEvents(t *testing.T) {
	cache := newTestCache()
	src := &fakeStream{}
	sq := zenq.NewStreamQuery(cache, zenq.StreamQueryOptions[int]{
		Key:    zenq.K("ticks-pause"),
		Stream: src.fn,
	})
	defer sq.Dispose()

	src.emit(zenq.StreamEvent[int]{Value: 1})
	waitFor(t, func() bool { return sq.Data() == 1 }, "value applied")

	sq.Pause()
	assert.Equal(t, zenq.FetchPaused, sq.FetchStatus())

	// Events emitted while paused are lost, data is preserved.
	src.emit(zenq.StreamEvent[int]{Value: 99})
	assert.Equal(t, 1, sq.Data())

	sq.Resume()
	require.Equal(t, 2, src.openCount(), "resume re-opens the subscription")

	src.emit(zenq.StreamEvent[int]{Value: 3})
	waitFor(t, func() bool { return sq.Data() == 3 }, "post-resume event applied")
	assert.Equal(t, zenq.StatusSuccess, sq.Status())
}

func TestStreamQuery_ManualSubscribe(t *testing.T) {
	cache := newTestCache()
	src := &fakeStream{}
	sq := zenq.NewStreamQuery(cache, zenq.StreamQueryOptions[int]{
		Key:           zenq.K("ticks-manual"),
		Stream:        src.fn,
		AutoSubscribe: ptr(false),
	})
	defer sq.Dispose()

	assert.Equal(t, 0, src.openCount(), "no subscription until resumed")

	sq.Resume()
	assert.Equal(t, 1, src.openCount())
}

func TestStreamQuery_DisposeStopsDelivery(t *testing.T) {
	cache := newTestCache()
	src := &fakeStream{}
	sq := zenq.NewStreamQuery(cache, zenq.StreamQueryOptions[int]{
		Key:    zenq.K("ticks-dispose"),
		Stream: src.fn,
	})

	src.emit(zenq.StreamEvent[int]{Value: 5})
	waitFor(t, func() bool { return sq.Data() == 5 }, "value applied")

	sq.Dispose()
	src.emit(zenq.StreamEvent[int]{Value: 6})
	assert.Equal(t, 5, sq.Data(), "no state mutation after dispose")
}
