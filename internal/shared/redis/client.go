package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const rateLimitWindow = time.Minute

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping reports whether Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CheckRateLimit counts one request for the principal in the current
// fixed one-minute window and reports whether the limit was exceeded.
// A limit <= 0 disables the check.
func (c *Client) CheckRateLimit(ctx context.Context, principalID string, limit int) (bool, int, error) {
	if limit <= 0 {
		return false, 0, nil
	}

	window := time.Now().Unix() / int64(rateLimitWindow/time.Second)
	key := fmt.Sprintf("ratelimit:%s:%d", principalID, window)

	// INCR and EXPIRE go out together so a crash between them cannot
	// leave a counter without a TTL.
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateLimitWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	count := int(incr.Val())
	if count > limit {
		return true, 0, nil
	}

	return false, limit - count, nil
}
