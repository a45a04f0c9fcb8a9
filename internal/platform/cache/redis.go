// Package cache provides the shared Redis client and the distributed
// lock used to coordinate scheduler replicas.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

// Client wraps the Redis connection shared by the engine queue and
// the trigger scheduler.
type Client struct {
	rdb       *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:       rdb,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Raw exposes the underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// HealthCheck pings the Redis server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}

func (c *Client) buildKey(key string) string {
	if c.keyPrefix != "" {
		return fmt.Sprintf("%s:%s", c.keyPrefix, key)
	}
	return key
}

// Lock is a Redis-backed distributed lock. Acquire wins on at most one
// replica; Release only deletes a lock the holder still owns.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock creates a lock on key with the given TTL.
func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	return &Lock{
		client: c,
		key:    c.buildKey(fmt.Sprintf("lock:%s", key)),
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire tries to take the lock. Returns false when another holder
// owns it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Release frees the lock if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.rdb.Eval(ctx, script, []string{l.key}, l.token).Result()
	return err
}
