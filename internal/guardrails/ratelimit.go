package guardrails

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"piishield/internal/core"
)

// RateLimitedReason is the denial reason returned by the rate-limit rule.
const RateLimitedReason = "Rate limit exceeded."

// Counter is the storage the rate-limit rule counts requests in.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitRule allows at most Limit requests per client in each fixed window.
// Counter failures let the request through.
type RateLimitRule struct {
	counter Counter
	limit   int64
	window  time.Duration
	now     func() time.Time
}

// NewRateLimitRule returns nil when limit or window is not positive.
func NewRateLimitRule(counter Counter, limit int, window time.Duration) *RateLimitRule {
	if counter == nil || limit <= 0 || window <= 0 {
		return nil
	}
	return &RateLimitRule{
		counter: counter,
		limit:   int64(limit),
		window:  window,
		now:     time.Now,
	}
}

// Name implements Rule.
func (r *RateLimitRule) Name() string { return "rate_limit" }

// Evaluate implements Rule.
func (r *RateLimitRule) Evaluate(ctx context.Context, _ *core.ChatRequest, clientIP string) Decision {
	n, err := r.counter.Incr(ctx, r.key(clientIP), r.window)
	if err != nil {
		slog.Warn("rate limit counter unavailable, allowing request",
			"request_id", core.GetRequestID(ctx),
			"error", err,
		)
		return Allow()
	}
	if n > r.limit {
		return Deny(r.Name(), http.StatusTooManyRequests, RateLimitedReason)
	}
	return Allow()
}

// key buckets a client into the current window. The client address is
// hashed so counter keys never carry it in clear.
func (r *RateLimitRule) key(clientIP string) string {
	bucket := r.now().UnixNano() / int64(r.window)
	return "ratelimit:" +
		strconv.FormatUint(xxhash.Sum64String(clientIP), 16) + ":" +
		strconv.FormatInt(bucket, 10)
}
