// interfaces.go
// External collaborator contracts for the zenq engine: Storage backends,
// connectivity and app-lifecycle signal sources. These are public and intended
// for use by users and driver developers.

package zenq

import (
	"context"
)

// Storage defines the interface for persistence backends. The engine writes
// versioned envelopes through it and reads them back at hydration time.
// Implementations must return ErrNotFound (or an error wrapping it) from Read
// when the key is absent.
type Storage interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// StorageStatsProvider is optionally implemented by Storage backends that
// track operation counters for monitoring.
type StorageStatsProvider interface {
	GetStorageStats(ctx context.Context) StorageStats
}

// StorageStats holds storage operation counters for monitoring.
type StorageStats struct {
	Counters map[string]int // Operation name to count
}

// LifecycleState mirrors the host application's foreground/background state.
type LifecycleState int

const (
	LifecycleResumed LifecycleState = iota
	LifecycleInactive
	LifecyclePaused
	LifecycleHidden
	LifecycleDetached
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleResumed:
		return "resumed"
	case LifecycleInactive:
		return "inactive"
	case LifecyclePaused:
		return "paused"
	case LifecycleHidden:
		return "hidden"
	case LifecycleDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Background reports whether the state counts as backgrounded for
// auto-pause purposes.
func (s LifecycleState) Background() bool {
	return s == LifecyclePaused || s == LifecycleInactive || s == LifecycleHidden
}
