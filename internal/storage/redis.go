// Package storage wraps the small set of cross-cutting operational state
// that doesn't belong in the header tables: the trusted-IP whitelist
// consulted by internal/policy when rate-limiting the mine-block endpoint.
// Header persistence itself lives in internal/headerstore, which owns its
// own Redis connection scoped to the header-tree schema.
package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

const (
	keyPrefix    = "headerwatch:ops:"
	keyWhitelist = keyPrefix + "whitelist"
)

// RedisClient wraps the operational-state Redis operations.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(url, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to operational-state Redis at ", url)
	return &RedisClient{client: client, ctx: ctx}, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// GetWhitelist returns all whitelisted IPs.
func (r *RedisClient) GetWhitelist() ([]string, error) {
	return r.client.SMembers(r.ctx, keyWhitelist).Result()
}

// AddToWhitelist adds an IP to the whitelist.
func (r *RedisClient) AddToWhitelist(ip string) error {
	return r.client.SAdd(r.ctx, keyWhitelist, ip).Err()
}

// RemoveFromWhitelist removes an IP from the whitelist.
func (r *RedisClient) RemoveFromWhitelist(ip string) error {
	return r.client.SRem(r.ctx, keyWhitelist, ip).Err()
}

// IsWhitelisted checks if an IP is whitelisted.
func (r *RedisClient) IsWhitelisted(ip string) (bool, error) {
	return r.client.SIsMember(r.ctx, keyWhitelist, ip).Result()
}
