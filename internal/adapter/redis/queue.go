package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cwygoda/haul/internal/domain"
)

// Queue is a strict FIFO on a Redis list: RPUSH to enqueue, BLPOP to claim.
type Queue struct {
	client goredis.UniversalClient
	key    string
}

func NewQueue(client goredis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{client: client, key: key}
}

func (q *Queue) Push(ctx context.Context, id string) error {
	if err := q.client.RPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// Pop blocks server-side for up to timeout. Redis rounds the timeout to
// seconds with a minimum of one.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", domain.ErrQueueEmpty
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("blpop %s: %w", q.key, err)
	}
	// res is [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("blpop %s: unexpected reply %v", q.key, res)
	}
	return res[1], nil
}

// Len reports the number of pending IDs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
