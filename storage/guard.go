package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"propertybridge/utils"
)

const (
	guardPrefix       = "propertybridge:seen:"
	connectionTimeout = 5 * time.Second
)

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

// RedisConfig holds Redis connection settings for the seen guard.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisGuard claims dedup keys in Redis so every process sharing the
// instance agrees on which messages were already taken.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard connects to Redis and verifies the connection.
func NewRedisGuard(cfg RedisConfig) (*RedisGuard, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisGuard{client: client, ttl: cfg.TTL}, nil
}

// Claim sets the key if absent. It returns false when another caller holds it.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, guardPrefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so the message can be processed again.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, guardPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: release %s: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard is the single-process guard used when Redis is not configured.
type MemoryGuard struct {
	keys *utils.KeySet
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{keys: utils.NewKeySet()}
}

func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	return g.keys.Add(key), nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.keys.Remove(key)
	return nil
}
