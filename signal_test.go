package zenq_test

import (
	"testing"

	"zenq"

	"github.com/stretchr/testify/assert"
)

func TestSignal_GetSet(t *testing.T) {
	s := zenq.NewSignal(10)
	assert.Equal(t, 10, s.Get())

	s.Set(42)
	assert.Equal(t, 42, s.Get())
}

func TestSignal_Subscribe(t *testing.T) {
	s := zenq.NewSignal("initial")

	var seen []string
	unsubscribe := s.Subscribe(func(v string) { seen = append(seen, v) })

	s.Set("a")
	s.Set("b")
	assert.Equal(t, []string{"a", "b"}, seen)

	// After unsubscribing no further notifications arrive.
	unsubscribe()
	s.Set("c")
	assert.Equal(t, []string{"a", "b"}, seen)

	// Unsubscribing twice is harmless.
	unsubscribe()
}

func TestSignal_ListenerCount(t *testing.T) {
	s := zenq.NewSignal(0)
	assert.Equal(t, 0, s.ListenerCount())

	unsub1 := s.Subscribe(func(int) {})
	unsub2 := s.Subscribe(func(int) {})
	assert.Equal(t, 2, s.ListenerCount())

	unsub1()
	assert.Equal(t, 1, s.ListenerCount())
	unsub2()
	assert.Equal(t, 0, s.ListenerCount())
}

func TestSignal_ListenerMayReadSignal(t *testing.T) {
	// Listeners run outside the lock, so reading the signal from inside one
	// must not deadlock.
	s := zenq.NewSignal(0)
	var observed int
	s.Subscribe(func(int) { observed = s.Get() })
	s.Set(7)
	assert.Equal(t, 7, observed)
}
