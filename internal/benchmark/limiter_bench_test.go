package benchmark

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/vnykmshr/goquota/internal/loadtest"
	"github.com/vnykmshr/goquota/internal/testutil"
	"github.com/vnykmshr/goquota/pkg/ratelimit/composite"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

func newLimiter(b *testing.B) *limiter.Limiter {
	b.Helper()
	r := testutil.NewRedis(b)
	l, err := limiter.NewWithRedis(r.Client)
	if err != nil {
		b.Fatalf("failed to create limiter: %v", err)
	}
	return l
}

// Limits are large so every iteration does the full admission path.
var benchParams = map[string]model.Params{
	"sliding_window": model.SlidingWindowParams(time.Hour, 1<<40),
	"token_bucket":   model.TokenBucketParams(1<<40, 1),
	"fixed_window":   model.FixedWindowParams(time.Hour, 1<<40),
	"leaky_bucket":   model.LeakyBucketParams(1<<40, 1),
	"distributed":    model.DistributedParams(time.Hour, 1<<40, 4, 0),
}

// BenchmarkEvaluate measures one round trip per algorithm.
func BenchmarkEvaluate(b *testing.B) {
	for name, p := range benchParams {
		b.Run(name, func(b *testing.B) {
			l := newLimiter(b)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := l.Evaluate(ctx, "bench", p, 1); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkEvaluateParallel measures contention on one key versus spread keys.
func BenchmarkEvaluateParallel(b *testing.B) {
	for _, spread := range []int{1, 64} {
		b.Run(fmt.Sprintf("keys-%d", spread), func(b *testing.B) {
			l := newLimiter(b)
			ctx := context.Background()
			p := benchParams["token_bucket"]

			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					key := "k" + strconv.Itoa(i%spread)
					if _, err := l.Evaluate(ctx, key, p, 1); err != nil {
						b.Error(err)
						return
					}
					i++
				}
			})
		})
	}
}

// BenchmarkRuleBasedLimit measures a three-rule evaluation.
func BenchmarkRuleBasedLimit(b *testing.B) {
	l := newLimiter(b)
	ctx := context.Background()
	rules := []model.Rule{
		model.NewRule("per-second", 1, model.TokenBucketParams(1<<40, 1)),
		model.NewRule("per-minute", 2, model.SlidingWindowParams(time.Minute, 1<<40)),
		model.NewRule("per-day", 3, model.FixedWindowParams(24*time.Hour, 1<<40)),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := l.RuleBasedLimit(ctx, "bench", rules, 1); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkKeyBuilder measures storage key derivation.
func BenchmarkKeyBuilder(b *testing.B) {
	kb := keys.New("goquota")

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = kb.State(model.SlidingWindow, "tenant:42:user:7", "seq")
	}
}

// BenchmarkComposite measures combining results in process.
func BenchmarkComposite(b *testing.B) {
	now := time.Now()
	results := []model.Result{
		{Allowed: true, Key: "k", RemainingQuota: 5, Limit: 10, ResetTime: now.Add(time.Second)},
		{Allowed: true, Key: "k", RemainingQuota: 2, Limit: 100, ResetTime: now.Add(time.Minute)},
		{Allowed: false, Key: "k", RemainingQuota: 0, Limit: 1000, ResetTime: now.Add(time.Hour), RetryAfter: time.Hour},
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = composite.Combine("k", results...)
	}
}

// BenchmarkLoadTest measures a full worker pool run of 100 checks.
func BenchmarkLoadTest(b *testing.B) {
	for _, workers := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("workers-%d", workers), func(b *testing.B) {
			l := newLimiter(b)
			ctx := context.Background()
			config := loadtest.Config{
				Workers:  workers,
				Requests: 100,
				Keys:     []string{"a", "b", "c", "d"},
				Params:   benchParams["sliding_window"],
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := loadtest.Run(ctx, l, config); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
