package command

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Cursor is the highest fully processed update id. It never decreases.
type Cursor struct {
	v atomic.Int64
}

// NewCursor starts a cursor at the given id
func NewCursor(start int64) *Cursor {
	c := &Cursor{}
	c.v.Store(start)
	return c
}

// Value returns the current watermark
func (c *Cursor) Value() int64 {
	return c.v.Load()
}

// Advance moves the cursor to id if id is greater; it reports whether it moved
func (c *Cursor) Advance(id int64) bool {
	for {
		cur := c.v.Load()
		if id <= cur {
			return false
		}
		if c.v.CompareAndSwap(cur, id) {
			return true
		}
	}
}

// OffsetStore persists the cursor across restarts
type OffsetStore interface {
	GetOffset(ctx context.Context) (int64, error)
	SaveOffset(ctx context.Context, offset int64) error
}

// DefaultOffsetKey is the redis key holding the persisted cursor
const DefaultOffsetKey = "pulsar:telegram:offset"

// RedisOffsetStore keeps the cursor in a single redis string
type RedisOffsetStore struct {
	client *redis.Client
	key    string
}

// NewRedisOffsetStore creates a store; an empty key means DefaultOffsetKey
func NewRedisOffsetStore(client *redis.Client, key string) *RedisOffsetStore {
	if key == "" {
		key = DefaultOffsetKey
	}
	return &RedisOffsetStore{client: client, key: key}
}

// GetOffset returns the last saved offset, or 0 if not found.
func (s *RedisOffsetStore) GetOffset(ctx context.Context) (int64, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get polling offset: %w", err)
	}

	offset, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse polling offset: %w", err)
	}
	return offset, nil
}

// SaveOffset persists the current offset.
func (s *RedisOffsetStore) SaveOffset(ctx context.Context, offset int64) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatInt(offset, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to save polling offset: %w", err)
	}
	return nil
}

var _ OffsetStore = (*RedisOffsetStore)(nil)
