/*
Package limiter is the goquota rate limiting facade.

A Limiter decides whether a unit of work for a logical key may proceed. It
exposes one operation per algorithm:

  - SlidingWindowLimit: trailing-window log, the smoothest admission curve
  - TokenBucketLimit: bursts up to capacity after idle periods
  - FixedWindowLimit: calendar windows, up to 2x the cap across a boundary
  - LeakyBucketLimit: sheds requests that do not fit the draining bucket
  - DistributedSlidingWindowLimit: a global window plus a per-instance share

and the composition operations RuleBasedLimit, CompositeLimit and
WarmUpLimit.

# Shared state

The limiter keeps no counters in memory and takes no locks. Every decision
is a single atomic Lua procedure executed by Redis against the server clock,
so any number of goroutines and processes may evaluate the same key:

	l, err := limiter.New(limiter.Config{
		Redis:         redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
		FailurePolicy: limiter.FailClosed,
	})

	res, err := l.SlidingWindowLimit(ctx, "sender:alice", time.Minute, 60, 1)
	if err != nil {
		return err
	}
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(res.RetryAfterSeconds(), 10))
		w.WriteHeader(http.StatusTooManyRequests)
		return nil
	}

# Errors

Invalid parameters are rejected before any store call and unwrap to
errors.ErrInvalidConfiguration. Store outages unwrap to
errors.ErrStoreUnavailable and failures inside a procedure to
errors.ErrProcedureFailed. A rejection is a normal result, never an error.

With FailOpen a store outage yields an allowed result whose reason is
"store-unavailable". Procedure failures and the caller's own cancellation
are always returned as errors.

# Administration

GetLimitStatus and GetLimitMetrics read state without side effects.
ResetLimit deletes every record of a key and is not atomic with respect to
concurrent evaluations. PreloadProcedures and FlushProcedures manage the
store's script cache.
*/
package limiter
