package queue

import "github.com/go-redis/redis/v8"

// KEYS[1] ready-ZSET, KEYS[2] active-SET
// ARGV[1] now ms, ARGV[2] lease-until ms, ARGV[3] key prefix, ARGV[4] lease token
var claimScript = redis.NewScript(`
while true do
  local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
  if #ids == 0 then
    return false
  end
  local id = ids[1]
  local key = ARGV[3] .. 'job:' .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[1], ARGV[2], id)
    redis.call('SADD', KEYS[2], id)
    redis.call('HINCRBY', key, 'attempts', 1)
    redis.call('HSET', key, 'state', 'active', 'token', ARGV[4])
    return id
  end
  redis.call('ZREM', KEYS[1], id)
end
`)

// Gibt einen Kind-Job im Eltern-Job frei; der Eltern-Job wird sichtbar, sobald kein Kind mehr offen ist.
const releaseParent = `
local function release(prefix, id, parent, now)
  local pkey = prefix .. 'job:' .. parent
  redis.call('SREM', pkey .. ':pending', id)
  if redis.call('SCARD', pkey .. ':pending') == 0 and redis.call('HGET', pkey, 'state') == 'waiting-children' then
    local pq = redis.call('HGET', pkey, 'queue')
    redis.call('HSET', pkey, 'state', 'waiting')
    redis.call('ZADD', prefix .. 'q:' .. pq .. ':ready', now, parent)
  end
end
`

// KEYS[1] ready-ZSET, KEYS[2] active-SET, KEYS[3] completed-ZSET
// ARGV[1] id, ARGV[2] token, ARGV[3] result, ARGV[4] now ms, ARGV[5] prefix
var completeScript = redis.NewScript(releaseParent + `
local key = ARGV[5] .. 'job:' .. ARGV[1]
if redis.call('HGET', key, 'token') ~= ARGV[2] then
  return -1
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
local parent = redis.call('HGET', key, 'parent')
if parent and parent ~= '' then
  local index = redis.call('HGET', key, 'index')
  redis.call('HSET', ARGV[5] .. 'job:' .. parent .. ':results', index .. ':' .. ARGV[1], ARGV[3])
  release(ARGV[5], ARGV[1], parent, ARGV[4])
end
if redis.call('HGET', key, 'remove_on_complete') == '1' then
  redis.call('DEL', key, key .. ':pending', key .. ':results')
else
  redis.call('HSET', key, 'state', 'completed', 'result', ARGV[3], 'finished_at', ARGV[4], 'token', '')
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
end
return 1
`)

// KEYS[1] ready-ZSET, KEYS[2] active-SET, KEYS[3] failed-ZSET
// ARGV[1] id, ARGV[2] token, ARGV[3] reason, ARGV[4] now ms, ARGV[5] prefix, ARGV[6] retry delay ms (-1 = endgültig), ARGV[7] visible-at ms bei Wiederholung
var failScript = redis.NewScript(releaseParent + `
local key = ARGV[5] .. 'job:' .. ARGV[1]
if redis.call('HGET', key, 'token') ~= ARGV[2] then
  return -1
end
redis.call('SREM', KEYS[2], ARGV[1])
local delay = tonumber(ARGV[6])
if delay >= 0 then
  local state = 'waiting'
  if delay > 0 then
    state = 'delayed'
  end
  redis.call('HSET', key, 'state', state, 'failed_reason', ARGV[3], 'token', '')
  redis.call('ZADD', KEYS[1], ARGV[7], ARGV[1])
  return 1
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', key, 'state', 'failed', 'failed_reason', ARGV[3], 'finished_at', ARGV[4], 'token', '')
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
local parent = redis.call('HGET', key, 'parent')
if parent and parent ~= '' then
  release(ARGV[5], ARGV[1], parent, ARGV[4])
end
return 0
`)

// KEYS[1] ready-ZSET
// ARGV[1] id, ARGV[2] token, ARGV[3] visible-until ms, ARGV[4] prefix
var extendScript = redis.NewScript(`
local key = ARGV[4] .. 'job:' .. ARGV[1]
if redis.call('HGET', key, 'token') ~= ARGV[2] then
  return -1
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)
