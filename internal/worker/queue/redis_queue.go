package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrphanBatch lists object keys left behind by an upload that failed
// partway.
type OrphanBatch struct {
	Name      string    `json:"name"`
	Keys      []string  `json:"keys"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisQueue is a FIFO of orphan batches on a redis list: LPUSH in, BRPOP
// out.
type RedisQueue struct {
	rdb       redis.UniversalClient
	queueName string
}

func NewRedisQueue(rdb redis.UniversalClient, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

func (q *RedisQueue) Push(ctx context.Context, b OrphanBatch) error {
	if len(b.Keys) == 0 {
		return nil
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode orphan batch: %w", err)
	}
	return q.rdb.LPush(ctx, q.queueName, payload).Err()
}

// Pop blocks for up to timeout waiting for a batch. It returns (nil, nil)
// when nothing arrived in time.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*OrphanBatch, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}

	var b OrphanBatch
	if err := json.Unmarshal([]byte(res[1]), &b); err != nil {
		return nil, fmt.Errorf("decode orphan batch: %w", err)
	}
	return &b, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}
