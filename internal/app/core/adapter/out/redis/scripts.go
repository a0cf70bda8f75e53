package redis

import goredis "github.com/redis/go-redis/v9"

// 回傳碼
const (
	codeOK            = 1
	codeNotFound      = -1
	codeLimitExceeded = -2
	codeOverflow      = -3
)

// applyScript 在 Redis 內原子地檢查額度、寫入交易並更新餘額
//
//	KEYS[1] = {cliente:<id>}              hash: limite, saldo, seq, ultima
//	KEYS[2] = {cliente:<id>}:transacoes   list: 最新的在最前面，只保留 keep 筆
//	ARGV    = effect, now_ms, valor, tipo, ref_id, descricao, keep
//
// ultima 記錄最後一筆交易時間 (ms)，時間不會倒退，讓 list 順序與 (realizada_em, seq) 一致
var applyScript = goredis.NewScript(`
local c = redis.call('HMGET', KEYS[1], 'limite', 'saldo', 'ultima')
if not c[1] then
	return {-1}
end
local limite = tonumber(c[1])
local effect = tonumber(ARGV[1])
if tonumber(c[2]) + effect < -limite then
	return {-2}
end
local ts = ARGV[2]
if c[3] and tonumber(c[3]) > tonumber(ts) then
	ts = c[3]
end
local novo = redis.pcall('HINCRBY', KEYS[1], 'saldo', effect)
if type(novo) == 'table' and novo.err then
	return {-3}
end
local seq = redis.call('HINCRBY', KEYS[1], 'seq', 1)
redis.call('HSET', KEYS[1], 'ultima', ts)
redis.call('LPUSH', KEYS[2], seq .. '|' .. ARGV[3] .. '|' .. ARGV[4] .. '|' .. ts .. '|' .. ARGV[5] .. '|' .. ARGV[6])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[7]) - 1)
return {1, novo, limite, seq, tonumber(ts)}
`)

// snapshotScript 在同一次執行內讀取餘額與最近的交易
//
//	KEYS 同 applyScript
//	ARGV = size
var snapshotScript = goredis.NewScript(`
local c = redis.call('HMGET', KEYS[1], 'limite', 'saldo')
if not c[1] then
	return {-1}
end
local recent = redis.call('LRANGE', KEYS[2], 0, tonumber(ARGV[1]) - 1)
return {1, tonumber(c[1]), tonumber(c[2]), recent}
`)
