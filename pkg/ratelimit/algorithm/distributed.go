package algorithm

import (
	"context"

	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/ratelimit/keys"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// distributedScript extends the sliding window with a second log scoped to
// the calling instance. A request is admitted only when both the global and
// the instance log stay within their caps, and both logs are updated in the
// same step. On rejection the reset time follows whichever cap is violated
// (the later of the two when both are). The totals hash holds the admission
// sequence ("seq"), the global units ("global") and each instance's units
// ("instance:<id>").
//
// KEYS: globalLog, instanceLog, totals, stats
// ARGV: windowMillis, globalMax, instanceMax, requestCount, statsTTLMillis, instanceId
const distributedScript = `
local window = tonumber(ARGV[1])
local globalLimit = tonumber(ARGV[2])
local instanceLimit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local statsTTL = tonumber(ARGV[5])
local instanceField = 'instance:' .. ARGV[6]

local global = prune(KEYS[1], KEYS[3], 'global', window)
local instance = prune(KEYS[2], KEYS[3], instanceField, window)

local admitted = 0
local reset
if global + n <= globalLimit and instance + n <= instanceLimit then
  local id = redis.call('HINCRBY', KEYS[3], 'seq', 1)
  admit(KEYS[1], id, n)
  admit(KEYS[2], id, n)
  global = global + n
  instance = instance + n
  redis.call('HSET', KEYS[3], 'global', global, instanceField, instance)
  redis.call('PEXPIRE', KEYS[1], window)
  redis.call('PEXPIRE', KEYS[2], window)
  redis.call('PEXPIRE', KEYS[3], window)
  admitted = 1
  reset = release(KEYS[1], 1, window)
elseif n > instanceLimit then
  reset = now + window
else
  reset = now
  if global + n > globalLimit then
    reset = math.max(reset, release(KEYS[1], global + n - globalLimit, window))
  end
  if instance + n > instanceLimit then
    reset = math.max(reset, release(KEYS[2], instance + n - instanceLimit, window))
  end
end

local globalRemaining = math.max(0, globalLimit - global)
local instanceRemaining = math.max(0, instanceLimit - instance)

record(KEYS[4], admitted, statsTTL)
return {admitted, math.min(globalRemaining, instanceRemaining), reset, now, global, globalRemaining, instanceRemaining}
`

func (s *Set) distributed(ctx context.Context, key string, p model.Params, n int64) (model.Result, error) {
	instanceID := p.InstanceID
	if instanceID == "" {
		instanceID = s.cfg.InstanceID
	}
	if err := validation.ValidateNotEmpty("algorithm", "instanceId", instanceID); err != nil {
		return model.Result{}, err
	}
	instanceCap := p.InstanceCap(s.cfg.InstanceCount)

	k := s.cfg.Keys
	reply, err := s.run(ctx, model.DistributedSlidingWindow,
		[]string{
			k.State(model.DistributedSlidingWindow, key, keys.GlobalSuffix),
			k.Instance(key, instanceID),
			k.State(model.DistributedSlidingWindow, key, keys.SeqSuffix),
			k.Stats(key),
		},
		millis(p.WindowSize), p.MaxRequests, instanceCap, n, millis(s.cfg.StatsTTL), instanceID,
	)
	if err != nil {
		return model.Result{}, err
	}

	res, err := decode(key, model.DistributedSlidingWindow, n, p.MaxRequests, reply)
	if err != nil {
		return model.Result{}, err
	}
	res.Metadata[model.MetaGlobalQuota] = reply[replyGlobalRemaining]
	res.Metadata[model.MetaInstanceQuota] = reply[replyInstanceRemaining]
	res.Metadata[model.MetaInstanceID] = instanceID
	res.Metadata["instanceLimit"] = instanceCap
	return res, nil
}
