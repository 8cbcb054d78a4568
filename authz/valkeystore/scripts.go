package valkeystore

// luaRedeemCode consumes a one-time authorization code atomically.
//
// KEYS[1] = code index key (code -> grant id)
// ARGV[1] = current unix timestamp in seconds
// ARGV[2] = key prefix, used to derive the grant key from the stored id
//
// Returns:
//   - the updated grant JSON on success
//   - "NOT_FOUND" if the code index or grant is gone
//   - "EXPIRED" if the code lapsed (the grant is moved to EXPIRED)
//   - "REDEEMED" on replay (the grant is moved to REVOKED so tokens
//     minted from the first redemption stop working)
const luaRedeemCode = `
local id = redis.call('GET', KEYS[1])
if not id then
  return 'NOT_FOUND'
end
local grantKey = ARGV[2] .. 'grant:' .. id
local raw = redis.call('GET', grantKey)
if not raw then
  return 'NOT_FOUND'
end
local grant = cjson.decode(raw)
local now = tonumber(ARGV[1])

if grant.status == 'CODE_ISSUED' then
  if grant.code_expires_unix and now > grant.code_expires_unix then
    grant.status = 'EXPIRED'
    grant.updated_unix = now
    redis.call('SET', grantKey, cjson.encode(grant), 'KEEPTTL')
    return 'EXPIRED'
  end
  grant.status = 'CODE_REDEEMED'
  grant.updated_unix = now
  local out = cjson.encode(grant)
  redis.call('SET', grantKey, out, 'KEEPTTL')
  return out
elseif grant.status == 'EXPIRED' then
  return 'EXPIRED'
else
  if grant.status ~= 'REVOKED' then
    grant.status = 'REVOKED'
    grant.updated_unix = now
    redis.call('SET', grantKey, cjson.encode(grant), 'KEEPTTL')
  end
  return 'REDEEMED'
end
`

// luaRotateRefresh swaps a refresh token atomically: the old index key
// is deleted, the superseded access token id is unindexed and the new
// credentials are bound, all in one script so a concurrent replay of
// the old token cannot succeed twice.
//
// KEYS[1] = old refresh token index key (token -> grant id)
// ARGV[1] = current unix timestamp in seconds
// ARGV[2] = key prefix
// ARGV[3] = expected client id
// ARGV[4] = new refresh token
// ARGV[5] = new refresh expiry, unix seconds
// ARGV[6] = new access token id (jti)
// ARGV[7] = new access expiry, unix seconds
//
// Returns the updated grant JSON on success, or one of "NOT_FOUND",
// "WRONG_CLIENT", "REVOKED", "EXPIRED".
const luaRotateRefresh = `
local id = redis.call('GET', KEYS[1])
if not id then
  return 'NOT_FOUND'
end
local grantKey = ARGV[2] .. 'grant:' .. id
local raw = redis.call('GET', grantKey)
if not raw then
  return 'NOT_FOUND'
end
local grant = cjson.decode(raw)
local now = tonumber(ARGV[1])

if grant.client_id ~= ARGV[3] then
  return 'WRONG_CLIENT'
end
if grant.status == 'REVOKED' then
  return 'REVOKED'
end
if grant.status ~= 'TOKEN_ACTIVE' then
  return 'NOT_FOUND'
end
if grant.refresh_expires_unix and now > grant.refresh_expires_unix then
  grant.status = 'EXPIRED'
  grant.updated_unix = now
  redis.call('SET', grantKey, cjson.encode(grant), 'KEEPTTL')
  return 'EXPIRED'
end

redis.call('DEL', KEYS[1])
if grant.access_token_id and grant.access_token_id ~= '' then
  redis.call('DEL', ARGV[2] .. 'jti:' .. grant.access_token_id)
end

grant.refresh_token = ARGV[4]
grant.refresh_expires_unix = tonumber(ARGV[5])
grant.access_token_id = ARGV[6]
grant.access_expires_unix = tonumber(ARGV[7])
grant.updated_unix = now

local out = cjson.encode(grant)
redis.call('SET', grantKey, out, 'KEEPTTL')
redis.call('SET', ARGV[2] .. 'refresh:' .. ARGV[4], id, 'EX', tonumber(ARGV[5]) - now)
redis.call('SET', ARGV[2] .. 'jti:' .. ARGV[6], id, 'EX', tonumber(ARGV[5]) - now)
return out
`
