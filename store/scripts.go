package store

import "github.com/redis/go-redis/v9"

// attachScript seats a player in the oldest open session of a matchmaking
// tag, creating one when none is open. Selection, membership and the
// capacity decrement happen in one script so concurrent arrivals for the
// same tag can neither create duplicate sessions nor overfill one. A player
// still listed in any session of the tag, ready or not, is reported as a
// redelivery of that seat.
//
// KEYS: player hash, player timestamps, tag bucket, ready set, session timestamps
// ARGV: player id, name, tag, new session id, capacity, unix now,
// session hash prefix, session players prefix
//
// Returns {session id, remaining capacity, created, redelivered}.
var attachScript = redis.NewScript(`
local sessionPrefix = ARGV[7]
local membersPrefix = ARGV[8]

local prior = redis.call('HGET', KEYS[1], 'Session')
if prior and redis.call('SISMEMBER', membersPrefix .. prior, ARGV[1]) == 1 then
	local remaining = tonumber(redis.call('HGET', sessionPrefix .. prior, 'Capacity') or '0')
	return {prior, remaining, 0, 1}
end

redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'GUID', ARGV[1], 'Name', ARGV[2], 'MatchmakingSettings', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])

-- a flushed player may still be listed in a full session awaiting a server
for _, id in ipairs(redis.call('SINTER', KEYS[3], KEYS[4])) do
	if redis.call('SISMEMBER', membersPrefix .. id, ARGV[1]) == 1 then
		redis.call('HSET', KEYS[1], 'Session', id)
		local remaining = tonumber(redis.call('HGET', sessionPrefix .. id, 'Capacity') or '0')
		return {id, remaining, 0, 1}
	end
end

local open = {}
local seated = nil
for _, id in ipairs(redis.call('SDIFF', KEYS[3], KEYS[4])) do
	if redis.call('EXISTS', sessionPrefix .. id) == 1 then
		if redis.call('SISMEMBER', membersPrefix .. id, ARGV[1]) == 1 then
			seated = id
		end
		table.insert(open, {id = id, ts = tonumber(redis.call('ZSCORE', KEYS[5], id) or '0')})
	else
		-- bucket entry left behind by a session that no longer exists
		redis.call('SREM', KEYS[3], id)
	end
end

local sid = seated
local created = 0
if sid == nil and #open > 0 then
	table.sort(open, function(a, b)
		if a.ts == b.ts then
			return a.id < b.id
		end
		return a.ts < b.ts
	end)
	sid = open[1].id
end
if sid == nil then
	sid = ARGV[4]
	created = 1
	redis.call('DEL', sessionPrefix .. sid, membersPrefix .. sid)
	redis.call('HSET', sessionPrefix .. sid, 'GUID', sid, 'Capacity', ARGV[5], 'MatchmakingSettings', ARGV[3])
	redis.call('SADD', KEYS[3], sid)
	redis.call('ZADD', KEYS[5], ARGV[6], sid)
end

local remaining = tonumber(redis.call('HGET', sessionPrefix .. sid, 'Capacity'))
if remaining > 0 and redis.call('SADD', membersPrefix .. sid, ARGV[1]) == 1 then
	remaining = redis.call('HINCRBY', sessionPrefix .. sid, 'Capacity', -1)
end
if remaining <= 0 then
	redis.call('SADD', KEYS[4], sid)
end
redis.call('HSET', KEYS[1], 'Session', sid)
return {sid, remaining, created, 0}
`)

// flushSessionScript removes a session from every index it was written to.
//
// KEYS: ready set, session timestamps
// ARGV: session id, session hash prefix, session players prefix, bucket prefix
//
// Returns the number of entries removed; 0 when the session was already gone.
var flushSessionScript = redis.NewScript(`
local skey = ARGV[2] .. ARGV[1]
local removed = redis.call('SREM', KEYS[1], ARGV[1])
removed = removed + redis.call('ZREM', KEYS[2], ARGV[1])
local tag = redis.call('HGET', skey, 'MatchmakingSettings')
if tag then
	removed = removed + redis.call('SREM', ARGV[4] .. tag, ARGV[1])
end
removed = removed + redis.call('DEL', skey, ARGV[3] .. ARGV[1])
return removed
`)

var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
