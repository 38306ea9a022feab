// Package redis provides Redis client utilities for pulsar.
package redis

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// ParseRedisURL parses a redis://, rediss:// or bare host[:port] address
func ParseRedisURL(rawURL string) (*redis.Options, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty Redis URL")
	}

	if strings.Contains(rawURL, "://") {
		// go-redis handles TLS, passwords, db index and query options
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		return opts, nil
	}

	// Default port if not specified
	if _, _, err := net.SplitHostPort(rawURL); err != nil {
		return &redis.Options{Addr: net.JoinHostPort(rawURL, "6379")}, nil
	}
	return &redis.Options{Addr: rawURL}, nil
}

// NewClient creates a client and checks the connection
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	client, err := NewClientLazy(redisURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewClientLazy creates a client without testing connection
func NewClientLazy(redisURL string) (*redis.Client, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
