package algorithm

import (
	"context"

	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// fixedWindowScript counts units in the window floor(now / window). The
// counter hash remembers which window it belongs to, so a stale counter
// from an earlier window reads as zero. An over-limit request leaves the
// counter untouched. Up to 2x maxRequests can pass across a boundary.
//
// KEYS: counter, stats
// ARGV: windowMillis, maxRequests, requestCount, statsTTLMillis
const fixedWindowScript = `
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local statsTTL = tonumber(ARGV[4])

local index = math.floor(now / window)
local windowEnd = (index + 1) * window

local count = 0
local state = redis.call('HMGET', KEYS[1], 'window', 'count')
if tonumber(state[1]) == index then
  count = tonumber(state[2]) or 0
end

local admitted = 0
if count + n <= limit then
  count = count + n
  admitted = 1
  redis.call('HSET', KEYS[1], 'window', index, 'count', count)
  redis.call('PEXPIREAT', KEYS[1], windowEnd)
end

record(KEYS[2], admitted, statsTTL)
return {admitted, math.max(0, limit - count), windowEnd, now, count}
`

func (s *Set) fixedWindow(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	k := s.cfg.Keys
	reply, err := s.run(ctx, model.FixedWindow,
		[]string{k.State(model.FixedWindow, key), k.Stats(key)},
		millis(p.WindowSize), p.MaxRequests, n, millis(s.cfg.StatsTTL),
	)
	if err != nil {
		return model.Result{}, err
	}
	return decode(key, model.FixedWindow, n, p.MaxRequests, reply)
}
