package deduplication

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Records live in two keys: a hash fingerprint -> state ("c" for committed,
// "p:<owner>" for pending) and a sorted set fingerprint -> first-seen unix
// time used for retention.
var (
	claimScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local mine = 'p:' .. ARGV[2]
if not cur then
  redis.call('HSET', KEYS[1], ARGV[1], mine)
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
  return 1
end
if cur == 'c' or cur == mine then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], mine)
return 1
`)

	commitScript = redis.NewScript(`
for i, fp in ipairs(ARGV) do
  if i > 1 then
    redis.call('HSET', KEYS[1], fp, 'c')
    redis.call('ZADD', KEYS[2], 'NX', ARGV[1], fp)
  end
end
return #ARGV - 1
`)

	releaseScript = redis.NewScript(`
local mine = 'p:' .. ARGV[1]
local n = 0
for i, fp in ipairs(ARGV) do
  if i > 1 and redis.call('HGET', KEYS[1], fp) == mine then
    redis.call('HDEL', KEYS[1], fp)
    redis.call('ZREM', KEYS[2], fp)
    n = n + 1
  end
end
return n
`)

	pruneScript = redis.NewScript(`
local fps = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[1])
local n = 0
for _, fp in ipairs(fps) do
  if redis.call('HGET', KEYS[1], fp) == 'c' then
    redis.call('HDEL', KEYS[1], fp)
    redis.call('ZREM', KEYS[2], fp)
    n = n + 1
  end
end
return n
`)
)

// RedisStore is a Store shared by every process pointed at the same Redis.
// Each operation is a single script, so check-and-record is atomic across
// partitions and processes.
type RedisStore struct {
	client   redis.UniversalClient
	stateKey string
	seenKey  string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client:   client,
		stateKey: prefix + ":dedup:state",
		seenKey:  prefix + ":dedup:seen",
	}
}

func (r *RedisStore) keys() []string { return []string{r.stateKey, r.seenKey} }

func (r *RedisStore) Claim(ctx context.Context, fp, owner string, now time.Time) (bool, error) {
	n, err := claimScript.Run(ctx, r.client, r.keys(), fp, owner, now.Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("claim fingerprint: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Commit(ctx context.Context, fps []string) error {
	if len(fps) == 0 {
		return nil
	}
	args := make([]any, 0, len(fps)+1)
	args = append(args, strconv.FormatInt(time.Now().Unix(), 10))
	for _, fp := range fps {
		args = append(args, fp)
	}
	if err := commitScript.Run(ctx, r.client, r.keys(), args...).Err(); err != nil {
		return fmt.Errorf("commit fingerprints: %w", err)
	}
	return nil
}

func (r *RedisStore) Release(ctx context.Context, fps []string, owner string) error {
	if len(fps) == 0 {
		return nil
	}
	args := make([]any, 0, len(fps)+1)
	args = append(args, owner)
	for _, fp := range fps {
		args = append(args, fp)
	}
	if err := releaseScript.Run(ctx, r.client, r.keys(), args...).Err(); err != nil {
		return fmt.Errorf("release fingerprints: %w", err)
	}
	return nil
}

func (r *RedisStore) Prune(ctx context.Context, before time.Time) (int, error) {
	n, err := pruneScript.Run(ctx, r.client, r.keys(), before.Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("prune fingerprints: %w", err)
	}
	return n, nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.stateKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return int(n), nil
}
