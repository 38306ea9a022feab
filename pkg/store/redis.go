package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const samplesKeyPrefix = "pulsar:samples:"

// RedisStore keeps samples in a sorted set scored by timestamp
type RedisStore struct {
	client   *redis.Client
	key      string
	capacity int64 // 0 = unbounded
}

// NewRedisStore creates a store under pulsar:samples:{node}
func NewRedisStore(client *redis.Client, node string, capacity int) *RedisStore {
	return &RedisStore{
		client:   client,
		key:      samplesKeyPrefix + node,
		capacity: int64(capacity),
	}
}

// Append adds the sample and trims the set to capacity in one transaction
func (r *RedisStore) Append(ctx context.Context, s types.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return &StoreError{Backend: DriverRedis, Op: "append", Err: fmt.Errorf("marshal sample: %w", err)}
	}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, r.key, redis.Z{Score: float64(s.Timestamp.UnixNano()), Member: data})
	if r.capacity > 0 {
		// Drop everything below the newest `capacity` members
		pipe.ZRemRangeByRank(ctx, r.key, 0, -r.capacity-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Backend: DriverRedis, Op: "append", Err: err}
	}
	return nil
}

// QueryRecent returns at most n samples, newest first
func (r *RedisStore) QueryRecent(ctx context.Context, n int) ([]types.Sample, error) {
	if n <= 0 {
		return []types.Sample{}, nil
	}

	members, err := r.client.ZRevRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, &StoreError{Backend: DriverRedis, Op: "query", Err: err}
	}

	out := make([]types.Sample, 0, len(members))
	for _, m := range members {
		var s types.Sample
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			return nil, &StoreError{Backend: DriverRedis, Op: "query", Err: fmt.Errorf("decode sample: %w", err)}
		}
		out = append(out, s)
	}
	return out, nil
}

// Close is a no-op; the client is owned by the caller
func (r *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
