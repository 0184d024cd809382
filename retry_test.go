package zenq_test

import (
	"errors"
	"testing"
	"time"

	"zenq"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := zenq.RetryPolicy{Count: 3}
	// With Count = 3 the fetcher runs 4 times: attempts 0..2 each permit a
	// retry, attempt 3 does not.
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))

	assert.False(t, zenq.RetryPolicy{Count: 0}.ShouldRetry(0))
}

func TestRetryPolicy_DelayFor_Exponential(t *testing.T) {
	p := zenq.RetryPolicy{
		Delay:       100 * time.Millisecond,
		MaxDelay:    250 * time.Millisecond,
		Multiplier:  2,
		Exponential: true,
	}
	errFail := errors.New("fail")

	// min(d * m^i, maxDelay) without jitter.
	assert.Equal(t, 100*time.Millisecond, p.DelayFor(0, errFail))
	assert.Equal(t, 200*time.Millisecond, p.DelayFor(1, errFail))
	assert.Equal(t, 250*time.Millisecond, p.DelayFor(2, errFail))
	assert.Equal(t, 250*time.Millisecond, p.DelayFor(7, errFail))
}

func TestRetryPolicy_DelayFor_Flat(t *testing.T) {
	p := zenq.RetryPolicy{Delay: 50 * time.Millisecond}
	errFail := errors.New("fail")

	assert.Equal(t, 50*time.Millisecond, p.DelayFor(0, errFail))
	assert.Equal(t, 50*time.Millisecond, p.DelayFor(5, errFail))
}

func TestRetryPolicy_DelayFor_Jitter(t *testing.T) {
	p := zenq.RetryPolicy{
		Delay:       100 * time.Millisecond,
		Multiplier:  2,
		Exponential: true,
		Jitter:      true,
	}
	errFail := errors.New("fail")

	// Jitter keeps the delay within +/-20% of the deterministic value.
	for i := 0; i < 50; i++ {
		d := p.DelayFor(1, errFail)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestRetryPolicy_DelayFor_CustomFunc(t *testing.T) {
	var gotAttempt int
	var gotErr error
	p := zenq.RetryPolicy{
		Delay: time.Hour,
		DelayFunc: func(attempt int, err error) time.Duration {
			gotAttempt, gotErr = attempt, err
			return 5 * time.Millisecond
		},
	}
	errFail := errors.New("fail")

	// A custom delay func overrides the built-in computation entirely.
	assert.Equal(t, 5*time.Millisecond, p.DelayFor(2, errFail))
	assert.Equal(t, 2, gotAttempt)
	assert.Equal(t, errFail, gotErr)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := zenq.DefaultQueryConfig()
	p := zenq.PolicyFromConfig(cfg)

	assert.Equal(t, cfg.RetryCount, p.Count)
	assert.Equal(t, cfg.RetryDelay, p.Delay)
	assert.Equal(t, cfg.MaxRetryDelay, p.MaxDelay)
	assert.Equal(t, cfg.RetryBackoffMultiplier, p.Multiplier)
	assert.Equal(t, cfg.ExponentialBackoff, p.Exponential)
	assert.Equal(t, cfg.RetryWithJitter, p.Jitter)
}
