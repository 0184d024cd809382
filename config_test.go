package zenq_test

import (
	"testing"
	"time"

	"zenq"

	"github.com/stretchr/testify/assert"
)

func TestDefaultQueryConfig(t *testing.T) {
	cfg := zenq.DefaultQueryConfig()

	assert.Equal(t, time.Duration(0), cfg.StaleTime, "data is stale immediately by default")
	assert.Equal(t, 8*time.Hour, cfg.CacheTime)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 2.0, cfg.RetryBackoffMultiplier)
	assert.True(t, cfg.ExponentialBackoff)
	assert.Equal(t, zenq.NetworkModeOnline, cfg.NetworkMode)
	assert.Equal(t, zenq.RefetchIfStale, cfg.RefetchOnMount)
	assert.Equal(t, zenq.RefetchNever, cfg.RefetchOnFocus)
	assert.Equal(t, zenq.RefetchIfStale, cfg.RefetchOnReconnect)
	assert.False(t, cfg.Persist)
	assert.True(t, cfg.AutoDispose)
}

func TestQueryConfig_Merge(t *testing.T) {
	base := zenq.DefaultQueryConfig()

	merged := base.Merge(zenq.ConfigOverride{
		StaleTime:   ptr(5 * time.Minute),
		RetryCount:  ptr(1),
		NetworkMode: ptr(zenq.NetworkModeOfflineFirst),
		Persist:     ptr(true),
	})

	// Explicitly set fields win.
	assert.Equal(t, 5*time.Minute, merged.StaleTime)
	assert.Equal(t, 1, merged.RetryCount)
	assert.Equal(t, zenq.NetworkModeOfflineFirst, merged.NetworkMode)
	assert.True(t, merged.Persist)

	// Unset fields inherit from the base.
	assert.Equal(t, base.CacheTime, merged.CacheTime)
	assert.Equal(t, base.RetryDelay, merged.RetryDelay)
	assert.Equal(t, base.RefetchOnMount, merged.RefetchOnMount)

	// The base is untouched.
	assert.Equal(t, time.Duration(0), base.StaleTime)
}

func TestQueryConfig_Merge_ZeroValuesExplicit(t *testing.T) {
	base := zenq.DefaultQueryConfig()

	// A pointer to a zero value is an explicit override, distinct from an
	// unset field.
	merged := base.Merge(zenq.ConfigOverride{
		RetryCount:  ptr(0),
		AutoDispose: ptr(false),
	})
	assert.Equal(t, 0, merged.RetryCount)
	assert.False(t, merged.AutoDispose)
}

func TestQueryConfig_Merge_RetryDelayFunc(t *testing.T) {
	base := zenq.DefaultQueryConfig()
	custom := func(attempt int, err error) time.Duration { return time.Millisecond }

	merged := base.Merge(zenq.ConfigOverride{RetryDelayFunc: custom})
	assert.NotNil(t, merged.RetryDelayFunc)
	assert.Equal(t, time.Millisecond, merged.RetryDelayFunc(0, nil))
}
