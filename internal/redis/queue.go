package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Pop when nothing arrived within the wait.
var ErrQueueEmpty = errors.New("queue empty")

// Queue is a FIFO of opaque payloads on a Redis list, with a sibling
// "<name>:dead" list for payloads that could not be processed.
type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.name, err)
	}
	return nil
}

// Pop blocks up to wait for the oldest payload.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, wait, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("pop %s: %w", q.name, err)
	}
	// BRPOP answers [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("pop %s: unexpected reply of %d elements", q.name, len(res))
	}
	return []byte(res[1]), nil
}

func (q *Queue) DeadLetter(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.name+":dead", payload).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", q.name, err)
	}
	return nil
}
