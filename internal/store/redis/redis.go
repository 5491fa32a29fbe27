package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/demostore/storegate/internal/store"
	"github.com/redis/go-redis/v9"
)

// Redis implements a Redis Store.
type Redis struct {
	client *redis.Client
	conf   Conf
}

// Conf contains Redis configuration fields.
type Conf struct {
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	MaxActive int           `json:"max_active"`
	MaxIdle   int           `json:"max_idle"`
	Timeout   time.Duration `json:"timeout"`
	KeyPrefix string        `json:"key_prefix"`
}

// New returns a Redis implementation of store.
func New(c Conf) *Redis {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "STOREGATE"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.Host, c.Port),
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.Timeout,
		WriteTimeout: c.Timeout,
		ReadTimeout:  c.Timeout,
	})

	return &Redis{
		conf:   c,
		client: client,
	}
}

// Ping checks if the Redis server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Set stores a value against a key with a TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.makeKey(key), value, ttl).Err()
}

// Get retrieves the value stored against a key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := r.client.Get(ctx, r.makeKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotExist
		}
		return nil, err
	}
	return out, nil
}

// Delete removes a key. Absent keys are not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.makeKey(key)).Err()
}

// TTL returns the remaining lifetime of a key.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.makeKey(key)).Result()
	if err != nil {
		return 0, err
	}

	// go-redis passes through the TTL command's integer replies -2
	// (key doesn't exist) and -1 (no expiry set) as raw durations
	// without scaling them to seconds.
	if ttl == time.Duration(-2) {
		return 0, store.ErrNotExist
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// makeKey makes the Redis key for a record.
func (r *Redis) makeKey(key string) string {
	return fmt.Sprintf("%s:%s", r.conf.KeyPrefix, key)
}
