package algorithm

import (
	"context"

	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// tokenBucketScript refills continuously at rate tokens per second up to
// capacity. A fresh bucket starts full. The refill is persisted even when the
// request is rejected; nothing else changes on rejection.
//
// KEYS: bucket, stats
// ARGV: capacity, refillRate, requestTokens, statsTTLMillis, ttlMillis
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local statsTTL = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end
if now > last then
  tokens = math.min(capacity, tokens + (now - last) * rate / 1000)
  last = now
end

local admitted = 0
local reset
if tokens >= n then
  tokens = tokens - n
  admitted = 1
  reset = now + math.ceil((capacity - tokens) * 1000 / rate)
elseif n > capacity then
  reset = now + math.ceil(capacity * 1000 / rate)
else
  reset = now + math.ceil((n - tokens) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', last)
redis.call('PEXPIRE', KEYS[1], ttl)

record(KEYS[2], admitted, statsTTL)
return {admitted, math.floor(tokens), reset, now, math.ceil(capacity - tokens)}
`

func (s *Set) tokenBucket(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	k := s.cfg.Keys
	reply, err := s.run(ctx, model.TokenBucket,
		[]string{k.State(model.TokenBucket, key), k.Stats(key)},
		p.Capacity, p.Rate, n, millis(s.cfg.StatsTTL), bucketTTL(p.Capacity, p.Rate),
	)
	if err != nil {
		return model.Result{}, err
	}
	return decode(key, model.TokenBucket, n, p.Capacity, reply)
}
