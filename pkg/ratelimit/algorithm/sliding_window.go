package algorithm

import (
	"context"

	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// slidingWindowScript keeps one log entry per admission, scored by admission
// time. An entry counts while its score lies in (now - window, now]. The
// totals hash holds the admission sequence ("seq") and the units in the
// window ("count").
//
// KEYS: log, totals, stats
// ARGV: windowMillis, maxRequests, requestCount, statsTTLMillis
const slidingWindowScript = `
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local statsTTL = tonumber(ARGV[4])

local count = prune(KEYS[1], KEYS[2], 'count', window)

local admitted = 0
local reset
if count + n <= limit then
  admit(KEYS[1], redis.call('HINCRBY', KEYS[2], 'seq', 1), n)
  count = count + n
  redis.call('HSET', KEYS[2], 'count', count)
  redis.call('PEXPIRE', KEYS[1], window)
  redis.call('PEXPIRE', KEYS[2], window)
  admitted = 1
  reset = release(KEYS[1], 1, window)
elseif n > limit then
  reset = now + window
else
  reset = release(KEYS[1], count + n - limit, window)
end

record(KEYS[3], admitted, statsTTL)
return {admitted, math.max(0, limit - count), reset, now, count}
`

func (s *Set) slidingWindow(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	k := s.cfg.Keys
	reply, err := s.run(ctx, model.SlidingWindow,
		[]string{
			k.State(model.SlidingWindow, key),
			k.State(model.SlidingWindow, key, keys.SeqSuffix),
			k.Stats(key),
		},
		millis(p.WindowSize), p.MaxRequests, n, millis(s.cfg.StatsTTL),
	)
	if err != nil {
		return model.Result{}, err
	}
	return decode(key, model.SlidingWindow, n, p.MaxRequests, reply)
}
