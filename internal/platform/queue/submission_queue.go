package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmissionQueue is a FIFO of submission ids awaiting grading, kept in a
// Redis sorted set scored by enqueue time. A member is stored at most once.
type SubmissionQueue struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

func NewSubmissionQueue(rdb *redis.Client, key string) *SubmissionQueue {
	return &SubmissionQueue{rdb: rdb, key: key, now: time.Now}
}

// Enqueue adds id unless it is already queued. It reports whether it was added.
func (q *SubmissionQueue) Enqueue(ctx context.Context, id string) (bool, error) {
	added, err := q.rdb.ZAddNX(ctx, q.key, redis.Z{
		Score:  float64(q.now().UnixMicro()),
		Member: id,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("SubmissionQueue.Enqueue: %w", err)
	}
	return added == 1, nil
}

// Pop removes and returns up to n of the oldest ids. Concurrent callers never
// receive the same id.
func (q *SubmissionQueue) Pop(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := q.rdb.ZPopMin(ctx, q.key, int64(n)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("SubmissionQueue.Pop: %w", err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if id, ok := m.Member.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Position returns the 1-based position of id, or 0 when it is not queued.
func (q *SubmissionQueue) Position(ctx context.Context, id string) (int64, error) {
	rank, err := q.rdb.ZRank(ctx, q.key, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("SubmissionQueue.Position: %w", err)
	}
	return rank + 1, nil
}

func (q *SubmissionQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("SubmissionQueue.Len: %w", err)
	}
	return n, nil
}
