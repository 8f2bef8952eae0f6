/*
Package goquota provides distributed rate limiting for Go services that share
a Redis deployment. Every decision runs as one atomic server-side procedure,
so all instances of a service enforce the same quota without coordinating
with each other.

Rate Limiting (pkg/ratelimit):
  - limiter: Facade over every algorithm, with admin operations
  - algorithm: Sliding window, token bucket, fixed window, leaky bucket and
    distributed sliding window procedures
  - rules: Ordered, prioritized rule sets
  - composite: Most restrictive combination of results
  - warmup: Limits that ramp up after startup
  - keys, store, model: Storage layout, Redis executor and shared types

Supporting packages:
  - metrics: Prometheus instrumentation
  - common: Errors, validation, clock and context helpers

Example usage:

	import (
		"github.com/redis/go-redis/v9"
		"github.com/vnykmshr/goquota/pkg/ratelimit/limiter"
	)

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	l, _ := limiter.NewWithRedis(client)

	res, err := l.SlidingWindowLimit(ctx, "user:42", time.Minute, 100, 1)
	if err == nil && !res.Allowed {
		// reject, retry after res.RetryAfter
	}

The goquota command (cmd/goquota) exposes the same operations from the shell
and as an HTTP server.
*/
package goquota
