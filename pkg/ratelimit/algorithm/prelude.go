package algorithm

// prelude is prepended to every procedure. It reads the store clock in
// milliseconds so all instances agree on "now", and defines the helpers the
// procedures share:
//
//	record(statsKey, admitted, ttl)        bump the per-key stats hash
//	admit(logKey, id, n)                   log one admission of n units
//	prune(logKey, totals, field, window)   drop expired admissions and return
//	                                       the units still in the window
//	release(logKey, need, window)          when at least need units will have
//	                                       left the window
//
// A log is a sorted set with one member "<seq>:<units>" per admission, scored
// by admission time. Unit totals live in the totals hash so an admission costs
// one ZADD whatever its size.
const prelude = `
if redis.replicate_commands then
  redis.replicate_commands()
end

local clock = redis.call('TIME')
local now = tonumber(clock[1]) * 1000 + math.floor(tonumber(clock[2]) / 1000)

local function record(statsKey, admitted, ttl)
  redis.call('HINCRBY', statsKey, 'total_requests', 1)
  if admitted == 1 then
    redis.call('HINCRBY', statsKey, 'allowed_requests', 1)
  else
    redis.call('HINCRBY', statsKey, 'denied_requests', 1)
  end
  redis.call('HSET', statsKey, 'last_request_ms', now)
  redis.call('PEXPIRE', statsKey, ttl)
end

local function units(member)
  local n = string.match(member, ':(%d+)$')
  return n and tonumber(n) or 1
end

local function admit(logKey, id, n)
  redis.call('ZADD', logKey, now, id .. ':' .. n)
end

local function prune(logKey, totals, field, window)
  local cutoff = now - window
  local raw = redis.call('HGET', totals, field)
  local stored = raw and tonumber(raw)
  local total = stored
  if total then
    for _, member in ipairs(redis.call('ZRANGEBYSCORE', logKey, '-inf', cutoff)) do
      total = total - units(member)
    end
  end
  redis.call('ZREMRANGEBYSCORE', logKey, '-inf', cutoff)
  if not total or total < 0 or redis.call('EXISTS', logKey) == 0 then
    total = 0
    for _, member in ipairs(redis.call('ZRANGE', logKey, 0, -1)) do
      total = total + units(member)
    end
  end
  if total ~= (stored or 0) then
    redis.call('HSET', totals, field, total)
    redis.call('PEXPIRE', totals, window)
  end
  return total
end

local function release(logKey, need, window)
  local freed = 0
  local start = 0
  while true do
    local page = redis.call('ZRANGE', logKey, start, start + 99, 'WITHSCORES')
    if #page == 0 then
      return now + window
    end
    for i = 1, #page, 2 do
      freed = freed + units(page[i])
      if freed >= need then
        return tonumber(page[i + 1]) + window
      end
    end
    start = start + 100
  end
end
`
