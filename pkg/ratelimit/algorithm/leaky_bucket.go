package algorithm

import (
	"context"

	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// leakyBucketScript drains the level at rate units per second and sheds any
// request that would overflow capacity. There is no queueing and no partial
// admission.
//
// KEYS: bucket, stats
// ARGV: capacity, leakRate, requestCount, statsTTLMillis, ttlMillis
const leakyBucketScript = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local statsTTL = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'level', 'ts')
local level = tonumber(state[1]) or 0
local last = tonumber(state[2]) or now
if now > last then
  level = math.max(0, level - (now - last) * rate / 1000)
  last = now
end

local admitted = 0
local reset
if level + n <= capacity then
  level = level + n
  admitted = 1
  reset = now + math.ceil(level * 1000 / rate)
elseif n > capacity then
  reset = now + math.ceil(capacity * 1000 / rate)
else
  reset = now + math.ceil((level + n - capacity) * 1000 / rate)
end

redis.call('HSET', KEYS[1], 'level', level, 'ts', last)
redis.call('PEXPIRE', KEYS[1], ttl)

record(KEYS[2], admitted, statsTTL)
return {admitted, math.floor(capacity - level), reset, now, math.ceil(level)}
`

func (s *Set) leakyBucket(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	k := s.cfg.Keys
	reply, err := s.run(ctx, model.LeakyBucket,
		[]string{k.State(model.LeakyBucket, key), k.Stats(key)},
		p.Capacity, p.Rate, n, millis(s.cfg.StatsTTL), bucketTTL(p.Capacity, p.Rate),
	)
	if err != nil {
		return model.Result{}, err
	}
	return decode(key, model.LeakyBucket, n, p.Capacity, reply)
}
