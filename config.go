package zenq

import "time"

// NetworkMode governs whether a fetch is attempted under connectivity
// constraints.
type NetworkMode int

const (
	// NetworkModeOnline fails fast with ErrOffline while the device is
	// offline and sets fetchStatus to paused. Default.
	NetworkModeOnline NetworkMode = iota
	// NetworkModeAlways ignores connectivity and always attempts the fetch.
	NetworkModeAlways
	// NetworkModeOfflineFirst returns cached data while offline when any
	// exists; with an empty cache it behaves exactly like NetworkModeOnline.
	NetworkModeOfflineFirst
)

// RefetchPolicy governs automatic refetching on mount, focus and reconnect.
type RefetchPolicy int

const (
	RefetchIfStale RefetchPolicy = iota
	RefetchNever
	RefetchAlways
)

// Default durations applied by DefaultQueryConfig.
const (
	defaultCacheTime     = 8 * time.Hour
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 30 * time.Second
)

// QueryConfig is the immutable configuration record attached to a query.
// Zero values are meaningful (StaleTime 0 means data is stale immediately
// after fetch), so overrides use the pointer-field ConfigOverride instead of
// comparing against zero.
type QueryConfig struct {
	// StaleTime is how long data counts as fresh after a successful fetch.
	StaleTime time.Duration
	// CacheTime is how long a persisted envelope survives before it is
	// treated as expired at hydration time.
	CacheTime time.Duration

	RetryCount             int
	RetryDelay             time.Duration
	MaxRetryDelay          time.Duration
	RetryBackoffMultiplier float64
	ExponentialBackoff     bool
	RetryWithJitter        bool
	RetryDelayFunc         RetryDelayFunc

	NetworkMode NetworkMode

	RefetchOnMount     RefetchPolicy
	RefetchOnFocus     RefetchPolicy
	RefetchOnReconnect RefetchPolicy
	RefetchOnResume    bool

	AutoPauseOnBackground   bool
	EnableBackgroundRefetch bool
	// RefetchInterval enables periodic background refetching when > 0.
	RefetchInterval time.Duration

	// Persist enables write-through persistence and hydration via Storage.
	Persist bool

	// AutoDispose ties the query's lifetime to its owning scope.
	AutoDispose bool
}

// DefaultQueryConfig returns the engine defaults queries fall back to when no
// client-level default is configured.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		StaleTime:              0,
		CacheTime:              defaultCacheTime,
		RetryCount:             3,
		RetryDelay:             defaultRetryDelay,
		MaxRetryDelay:          defaultMaxRetryDelay,
		RetryBackoffMultiplier: 2,
		ExponentialBackoff:     true,
		RetryWithJitter:        false,
		NetworkMode:            NetworkModeOnline,
		RefetchOnMount:         RefetchIfStale,
		RefetchOnFocus:         RefetchNever,
		RefetchOnReconnect:     RefetchIfStale,
		AutoDispose:            true,
	}
}

// ConfigOverride carries explicit per-query overrides. Set fields replace the
// base config's values during Merge; nil fields inherit.
type ConfigOverride struct {
	StaleTime               *time.Duration
	CacheTime               *time.Duration
	RetryCount              *int
	RetryDelay              *time.Duration
	MaxRetryDelay           *time.Duration
	RetryBackoffMultiplier  *float64
	ExponentialBackoff      *bool
	RetryWithJitter         *bool
	RetryDelayFunc          RetryDelayFunc
	NetworkMode             *NetworkMode
	RefetchOnMount          *RefetchPolicy
	RefetchOnFocus          *RefetchPolicy
	RefetchOnReconnect      *RefetchPolicy
	RefetchOnResume         *bool
	AutoPauseOnBackground   *bool
	EnableBackgroundRefetch *bool
	RefetchInterval         *time.Duration
	Persist                 *bool
	AutoDispose             *bool
}

// Merge returns a copy of the base config with every explicitly set override
// field applied.
func (c QueryConfig) Merge(o ConfigOverride) QueryConfig {
	out := c
	if o.StaleTime != nil {
		out.StaleTime = *o.StaleTime
	}
	if o.CacheTime != nil {
		out.CacheTime = *o.CacheTime
	}
	if o.RetryCount != nil {
		out.RetryCount = *o.RetryCount
	}
	if o.RetryDelay != nil {
		out.RetryDelay = *o.RetryDelay
	}
	if o.MaxRetryDelay != nil {
		out.MaxRetryDelay = *o.MaxRetryDelay
	}
	if o.RetryBackoffMultiplier != nil {
		out.RetryBackoffMultiplier = *o.RetryBackoffMultiplier
	}
	if o.ExponentialBackoff != nil {
		out.ExponentialBackoff = *o.ExponentialBackoff
	}
	if o.RetryWithJitter != nil {
		out.RetryWithJitter = *o.RetryWithJitter
	}
	if o.RetryDelayFunc != nil {
		out.RetryDelayFunc = o.RetryDelayFunc
	}
	if o.NetworkMode != nil {
		out.NetworkMode = *o.NetworkMode
	}
	if o.RefetchOnMount != nil {
		out.RefetchOnMount = *o.RefetchOnMount
	}
	if o.RefetchOnFocus != nil {
		out.RefetchOnFocus = *o.RefetchOnFocus
	}
	if o.RefetchOnReconnect != nil {
		out.RefetchOnReconnect = *o.RefetchOnReconnect
	}
	if o.RefetchOnResume != nil {
		out.RefetchOnResume = *o.RefetchOnResume
	}
	if o.AutoPauseOnBackground != nil {
		out.AutoPauseOnBackground = *o.AutoPauseOnBackground
	}
	if o.EnableBackgroundRefetch != nil {
		out.EnableBackgroundRefetch = *o.EnableBackgroundRefetch
	}
	if o.RefetchInterval != nil {
		out.RefetchInterval = *o.RefetchInterval
	}
	if o.Persist != nil {
		out.Persist = *o.Persist
	}
	if o.AutoDispose != nil {
		out.AutoDispose = *o.AutoDispose
	}
	return out
}
