package zenq_test

import (
	"testing"

	"zenq"

	"github.com/stretchr/testify/assert"
)

func TestCancelToken_Cancel(t *testing.T) {
	token := zenq.NewCancelToken()
	assert.False(t, token.IsCancelled())

	token.Cancel()
	assert.True(t, token.IsCancelled())

	// Done channel is closed after cancellation.
	select {
	case <-token.Done():
	default:
		t.Fatal("Done channel should be closed after Cancel")
	}
}

func TestCancelToken_OnCancel(t *testing.T) {
	token := zenq.NewCancelToken()

	calls := 0
	token.OnCancel(func() { calls++ })
	assert.Equal(t, 0, calls, "listener must not run before cancellation")

	token.Cancel()
	assert.Equal(t, 1, calls)

	// Cancel is idempotent; listeners never run twice.
	token.Cancel()
	assert.Equal(t, 1, calls)
}

func TestCancelToken_OnCancelAfterCancelled(t *testing.T) {
	token := zenq.NewCancelToken()
	token.Cancel()

	// Registering after cancellation runs the listener immediately.
	calls := 0
	token.OnCancel(func() { calls++ })
	assert.Equal(t, 1, calls)
}

func TestCancelToken_PanickingListener(t *testing.T) {
	token := zenq.NewCancelToken()

	ran := false
	token.OnCancel(func() { panic("boom") })
	token.OnCancel(func() { ran = true })

	// A panicking listener must not prevent the others from running.
	token.Cancel()
	assert.True(t, ran)
}
