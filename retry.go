package zenq

import (
	"math/rand"
	"time"
)

// jitterFraction bounds the random jitter applied to retry delays (±20%).
const jitterFraction = 0.2

// RetryDelayFunc computes a fully custom retry delay for a given attempt
// index (0-based) and the error that triggered the retry. When set on a
// config it overrides the built-in backoff computation entirely.
type RetryDelayFunc func(attempt int, err error) time.Duration

// RetryPolicy is the pure delay/should-retry computation extracted from a
// QueryConfig. It has no side effects and is safe to share.
type RetryPolicy struct {
	Count       int
	Delay       time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Exponential bool
	Jitter      bool
	DelayFunc   RetryDelayFunc
}

// PolicyFromConfig extracts the retry policy fields from a QueryConfig.
func PolicyFromConfig(cfg QueryConfig) RetryPolicy {
	return RetryPolicy{
		Count:       cfg.RetryCount,
		Delay:       cfg.RetryDelay,
		MaxDelay:    cfg.MaxRetryDelay,
		Multiplier:  cfg.RetryBackoffMultiplier,
		Exponential: cfg.ExponentialBackoff,
		Jitter:      cfg.RetryWithJitter,
		DelayFunc:   cfg.RetryDelayFunc,
	}
}

// ShouldRetry reports whether another attempt is permitted after the given
// 0-based attempt index failed. With Count = k the fetcher runs k+1 times.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.Count
}

// DelayFor computes the wait before retrying after attempt (0-based) failed
// with err: the custom DelayFunc when present, otherwise
// min(Delay * Multiplier^attempt, MaxDelay) for exponential backoff or the
// flat Delay, with optional bounded jitter on top.
func (p RetryPolicy) DelayFor(attempt int, err error) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(attempt, err)
	}
	d := p.Delay
	if p.Exponential {
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2
		}
		f := float64(p.Delay)
		for i := 0; i < attempt; i++ {
			f *= mult
			if p.MaxDelay > 0 && f >= float64(p.MaxDelay) {
				f = float64(p.MaxDelay)
				break
			}
		}
		d = time.Duration(f)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// Scale into [1-jitterFraction, 1+jitterFraction).
		factor := 1 - jitterFraction + 2*jitterFraction*rand.Float64()
		d = time.Duration(float64(d) * factor)
	}
	if d < 0 {
		d = 0
	}
	return d
}
