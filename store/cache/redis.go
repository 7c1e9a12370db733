package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisSlotConfig holds the Redis connection configuration.
type RedisSlotConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisSlotConfig {
	return &RedisSlotConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "rentflow:",
		PoolSize:     4,
		MinIdleConns: 1,
	}
}

// RedisSlot keeps the snapshot under a single Redis key, shared by every instance using the same prefix.
type RedisSlot struct {
	client *redis.Client
	key    string
}

// NewRedisSlot connects to Redis and verifies the connection.
func NewRedisSlot(ctx context.Context, config *RedisSlotConfig) (*RedisSlot, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	slog.Info("redis cache snapshot slot connected", "addr", config.Addr)

	return &RedisSlot{
		client: client,
		key:    config.KeyPrefix + "cache:snapshot",
	}, nil
}

// Save overwrites the snapshot key.
func (r *RedisSlot) Save(ctx context.Context, payload []byte) error {
	if err := r.client.Set(ctx, r.key, payload, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set snapshot")
	}
	return nil
}

// Load reads the snapshot key.
func (r *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get snapshot")
	}
	return data, nil
}

// Close closes the Redis connection pool.
func (r *RedisSlot) Close() error {
	return r.client.Close()
}
