package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miniflow-io/miniflow/internal/platform/cache"
	"github.com/miniflow-io/miniflow/internal/platform/config"
)

// RedisQueue implements Queue over Redis lists. Tasks are pushed onto
// the task list in one pipeline so workers see the batch whole;
// results are popped from the result list the workers push to.
type RedisQueue struct {
	client    *cache.Client
	taskKey   string
	resultKey string
}

// NewRedisQueue creates a Redis-backed queue on the shared client.
func NewRedisQueue(client *cache.Client, cfg config.RedisConfig) *RedisQueue {
	return &RedisQueue{
		client:    client,
		taskKey:   cfg.TaskQueueKey,
		resultKey: cfg.ResultQueueKey,
	}
}

// SubmitTasks pushes the batch in one transactional pipeline.
func (q *RedisQueue) SubmitTasks(ctx context.Context, tasks []TaskPayload) error {
	if len(tasks) == 0 {
		return nil
	}

	encoded := make([]interface{}, 0, len(tasks))
	for i := range tasks {
		data, err := json.Marshal(&tasks[i])
		if err != nil {
			return fmt.Errorf("failed to marshal task for node %s: %w", tasks[i].NodeID, err)
		}
		encoded = append(encoded, data)
	}

	pipe := q.client.Raw().TxPipeline()
	pipe.LPush(ctx, q.taskKey, encoded...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to submit %d tasks: %w", len(tasks), err)
	}
	return nil
}

// PollResults blocks up to timeout for the first result, then drains
// whatever else is immediately available up to maxItems.
func (q *RedisQueue) PollResults(ctx context.Context, maxItems int, timeout time.Duration) ([]ResultPayload, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	popped, err := q.client.Raw().BRPop(ctx, timeout, q.resultKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to poll results: %w", err)
	}

	// BRPop returns [key, value].
	raw := []string{popped[1]}
	for len(raw) < maxItems {
		value, err := q.client.Raw().RPop(ctx, q.resultKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return nil, fmt.Errorf("failed to drain results: %w", err)
		}
		raw = append(raw, value)
	}

	results := make([]ResultPayload, 0, len(raw))
	for _, value := range raw {
		var result ResultPayload
		if err := json.Unmarshal([]byte(value), &result); err != nil {
			return results, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// HealthCheck pings the Redis server behind the queue.
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	return q.client.HealthCheck(ctx)
}

// Close is a no-op; the shared Redis client is closed by its owner.
func (q *RedisQueue) Close() error {
	return nil
}
