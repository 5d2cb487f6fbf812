// Package cache wraps the Redis client used for sessions and the token
// denylist.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix = "session:"
	denyPrefix    = "denylist:"
)

type Cache struct {
	rdb *redis.Client
	log *slog.Logger
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connected", "label", "cache", "addr", opts.Addr)
	return &Cache{rdb: rdb, log: logger.With("label", "cache")}, nil
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// StoreSession records an issued token's session until it expires.
func (c *Cache) StoreSession(ctx context.Context, jti, userID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, sessionPrefix+jti, userID, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// DropSession removes a session record on logout.
func (c *Cache) DropSession(ctx context.Context, jti string) error {
	if err := c.rdb.Del(ctx, sessionPrefix+jti).Err(); err != nil {
		return fmt.Errorf("dropping session: %w", err)
	}
	return nil
}

// DenyToken blocks a token id until its natural expiry.
func (c *Cache) DenyToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired; nothing to deny.
		return nil
	}
	if err := c.rdb.Set(ctx, denyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denying token: %w", err)
	}
	return nil
}

// IsDenied reports whether a token id has been logged out.
func (c *Cache) IsDenied(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, denyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("checking denylist: %w", err)
	}
	return n > 0, nil
}
