// Package cache provides fixed-window counters used by the rate-limit policy.
// Supports both local (in-memory) and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"time"
)

// Counter counts events per key inside a time window.
// Implementations must be safe for concurrent use.
type Counter interface {
	// Incr adds one to key and returns the new count. The key expires
	// window after its first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Close releases any resources held by the counter.
	Close() error
}
