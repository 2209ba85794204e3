package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"newsindex/types"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps all checkpoints in one hash, field = partition id,
// value = JSON checkpoint.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, key: prefix + ":checkpoints"}
}

func (r *RedisStore) Load(ctx context.Context, partitionID string) (types.Checkpoint, bool, error) {
	raw, err := r.client.HGet(ctx, r.key, partitionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Checkpoint{}, false, nil
	}
	if err != nil {
		return types.Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", partitionID, err)
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return types.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", partitionID, err)
	}
	return cp, true, nil
}

func (r *RedisStore) LoadAll(ctx context.Context) (map[string]types.Checkpoint, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	out := make(map[string]types.Checkpoint, len(all))
	for id, raw := range all {
		var cp types.Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
		}
		out[id] = cp
	}
	return out, nil
}

func (r *RedisStore) Save(ctx context.Context, cp types.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.key, cp.PartitionID, raw).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.PartitionID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, partitionID string) error {
	if err := r.client.HDel(ctx, r.key, partitionID).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", partitionID, err)
	}
	return nil
}
