// Package redis dials the enumeration cache. Redis is optional
// everywhere it is used; an unconfigured URL yields a nil client and
// callers fall through to the database.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"spectralog/internal/platform/config"
)

// Client wraps the go-redis client so callers get the project's health
// check vocabulary alongside the raw commands.
type Client struct {
	*redis.Client
}

// New dials Redis from the configuration and verifies the connection.
// Returns nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: client}, nil
}

// Healthy reports whether the connection is usable.
func (c *Client) Healthy(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Unwrap returns the underlying go-redis client, nil-safe for the
// unconfigured case.
func (c *Client) Unwrap() *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}
