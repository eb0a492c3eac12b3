package auditlog

import (
	"sync"
	"time"
)

// CleanupInterval is how often retention cleanup runs.
const CleanupInterval = 1 * time.Hour

// RunCleanupLoop calls cleanupFn immediately and then every interval until
// stop is closed.
func RunCleanupLoop(stop <-chan struct{}, interval time.Duration, cleanupFn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}

// retention owns the cleanup goroutine shared by the SQL stores.
type retention struct {
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func startRetention(days int, cleanupFn func()) *retention {
	r := &retention{}
	if days <= 0 {
		return r
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		RunCleanupLoop(r.stop, CleanupInterval, cleanupFn)
	}()
	return r
}

// retentionCutoff returns the oldest timestamp kept.
func retentionCutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days).UTC()
}

// close stops the goroutine and waits for an in-flight cleanup. Safe to call
// multiple times.
func (r *retention) close() {
	if r.stop == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}
