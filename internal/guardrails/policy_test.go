package guardrails

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piishield/internal/core"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
	keys   []string
}

func (f *fakeCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func chatReq(model string) *core.ChatRequest {
	return &core.ChatRequest{Model: model, Messages: []core.Message{}}
}

func TestGate_ModelAllowlist(t *testing.T) {
	gate := BuildGate(PolicyConfig{AllowedModels: []string{"llama3.1:8b"}}, nil)
	ctx := context.Background()

	t.Run("allowed model", func(t *testing.T) {
		d := gate.Check(ctx, chatReq("llama3.1:8b"), "10.0.0.1")
		assert.True(t, d.Allowed)
		assert.Nil(t, d.Err())
	})

	t.Run("blocked model", func(t *testing.T) {
		d := gate.Check(ctx, chatReq("blocked-model"), "10.0.0.1")
		require.False(t, d.Allowed)
		assert.Equal(t, http.StatusForbidden, d.StatusCode)
		assert.Equal(t, "Model not allowed by policy.", d.Reason)
		assert.Equal(t, "model_allowlist", d.Rule)

		gwErr := d.Err()
		require.NotNil(t, gwErr)
		assert.Equal(t, core.ErrorTypePolicyDenied, gwErr.Type)
		assert.Equal(t, map[string]interface{}{"detail": "Model not allowed by policy."}, gwErr.ToJSON())
	})
}

func TestGate_NoRestriction(t *testing.T) {
	gate := BuildGate(PolicyConfig{}, nil)
	assert.Empty(t, gate.Rules())
	assert.True(t, gate.Check(context.Background(), chatReq("anything"), "").Allowed)

	var nilGate *Gate
	assert.True(t, nilGate.Check(context.Background(), chatReq("anything"), "").Allowed)
}

func TestGate_FirstDenialWins(t *testing.T) {
	counter := &fakeCounter{}
	gate := BuildGate(PolicyConfig{
		AllowedModels: []string{"ok"},
		RateLimit:     RateLimitConfig{Requests: 1, Window: time.Minute},
	}, counter)

	assert.Equal(t, []string{"model_allowlist", "rate_limit"}, gate.Rules())

	d := gate.Check(context.Background(), chatReq("nope"), "10.0.0.1")
	assert.Equal(t, "model_allowlist", d.Rule)
	assert.Empty(t, counter.keys, "rate limit must not be consulted after a denial")
}

func TestRateLimitRule(t *testing.T) {
	ctx := context.Background()

	t.Run("denies after limit", func(t *testing.T) {
		rule := NewRateLimitRule(&fakeCounter{}, 2, time.Minute)
		rule.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

		assert.True(t, rule.Evaluate(ctx, chatReq("m"), "10.0.0.1").Allowed)
		assert.True(t, rule.Evaluate(ctx, chatReq("m"), "10.0.0.1").Allowed)

		d := rule.Evaluate(ctx, chatReq("m"), "10.0.0.1")
		require.False(t, d.Allowed)
		assert.Equal(t, http.StatusTooManyRequests, d.StatusCode)
		assert.Equal(t, RateLimitedReason, d.Reason)
		assert.Equal(t, core.ErrorTypeRateLimited, d.Err().Type)

		assert.True(t, rule.Evaluate(ctx, chatReq("m"), "10.0.0.2").Allowed, "other clients are counted separately")
	})

	t.Run("new window resets", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		rule := NewRateLimitRule(&fakeCounter{}, 1, time.Minute)
		rule.now = func() time.Time { return now }

		assert.True(t, rule.Evaluate(ctx, chatReq("m"), "c").Allowed)
		assert.False(t, rule.Evaluate(ctx, chatReq("m"), "c").Allowed)

		now = now.Add(time.Minute)
		assert.True(t, rule.Evaluate(ctx, chatReq("m"), "c").Allowed)
	})

	t.Run("counter failure fails open", func(t *testing.T) {
		rule := NewRateLimitRule(&fakeCounter{err: errors.New("connection refused")}, 1, time.Minute)
		for i := 0; i < 3; i++ {
			assert.True(t, rule.Evaluate(ctx, chatReq("m"), "c").Allowed)
		}
	})

	t.Run("key does not contain the client address", func(t *testing.T) {
		counter := &fakeCounter{}
		rule := NewRateLimitRule(counter, 5, time.Minute)
		rule.Evaluate(ctx, chatReq("m"), "192.168.1.77")
		require.Len(t, counter.keys, 1)
		assert.NotContains(t, counter.keys[0], "192.168.1.77")
	})

	t.Run("disabled configurations", func(t *testing.T) {
		assert.Nil(t, NewRateLimitRule(nil, 1, time.Minute))
		assert.Nil(t, NewRateLimitRule(&fakeCounter{}, 0, time.Minute))
		assert.Nil(t, NewRateLimitRule(&fakeCounter{}, 1, 0))
	})
}

func TestBuildRedactor(t *testing.T) {
	r, err := BuildRedactor(Config{Detectors: []string{"email", "ssn"}})
	require.NoError(t, err)
	require.Len(t, r.Rules(), 2)

	_, err = BuildRedactor(Config{Detectors: []string{"bogus"}})
	assert.Error(t, err)

	_, err = BuildRedactor(Config{RulesFile: "/nonexistent/rules.yaml"})
	assert.Error(t, err)
}
