/*
Package ratelimit groups the packages of the goquota rate limiting engine.

Most applications only import the limiter facade:

	l, err := limiter.New(limiter.Config{Redis: client})
	res, err := l.TokenBucketLimit(ctx, "tenant:42", 100, 10, 1)

The engine is layered leaf-first:

  - model: algorithm parameters, rules, results and status value types
  - keys: storage key layout with Redis Cluster hash tags
  - store: atomic procedure execution and key inspection over go-redis
  - algorithm: the five algorithms as Lua procedures plus reply decoding
  - rules: ordered, prioritized rule evaluation with short-circuit
  - composite: AND-combination of precomputed results, no I/O
  - warmup: quadratic cold-start threshold ramp
  - limiter: the facade, failure policy, status and reset operations

Token Bucket vs Leaky Bucket:

Token bucket allows controlled bursts and suits interactive traffic:

	res, _ := l.TokenBucketLimit(ctx, "user:1", 10, 5, 1) // burst 10, 5 tokens/sec

Leaky bucket sheds anything that does not fit a steadily draining level:

	res, _ := l.LeakyBucketLimit(ctx, "user:1", 10, 5, 1) // level 10, drains 5/sec

All state lives in Redis. Every evaluation is one round trip, and the
limiter is safe for concurrent use across goroutines and processes.
*/
package ratelimit
