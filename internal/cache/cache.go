package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/redis/go-redis/v9"
)

// ErrCorruptRecord is returned when a stored task record cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt task record")

// Cache is the status store interface. All status store operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetTaskStatus(ctx context.Context, taskID uuid.UUID, rec models.TaskRecord, ttl time.Duration) error
	GetTaskStatus(ctx context.Context, taskID uuid.UUID) (models.TaskRecord, bool, error)
	DeleteTaskStatus(ctx context.Context, taskID uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// NewRedisCacheFromConfig builds a client from the discrete connection fields,
// or from cfg.URL when it is set.
func NewRedisCacheFromConfig(cfg config.RedisConfig) (*RedisCache, error) {
	if cfg.URL != "" {
		return NewRedisCache(cfg.URL)
	}
	opts := &redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetTaskStatus(ctx context.Context, taskID uuid.UUID, rec models.TaskRecord, ttl time.Duration) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	return c.Set(ctx, TaskStatusKey(taskID), data, ttl)
}

func (c *RedisCache) GetTaskStatus(ctx context.Context, taskID uuid.UUID) (models.TaskRecord, bool, error) {
	data, found, err := c.Get(ctx, TaskStatusKey(taskID))
	if err != nil || !found {
		return models.TaskRecord{}, false, err
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return models.TaskRecord{}, false, err
	}
	return rec, true, nil
}

func (c *RedisCache) DeleteTaskStatus(ctx context.Context, taskID uuid.UUID) error {
	return c.Delete(ctx, TaskStatusKey(taskID))
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// EncodeRecord serializes a task record as the flat JSON object stored per task.
func EncodeRecord(rec models.TaskRecord) ([]byte, error) {
	if !rec.Valid() {
		return nil, fmt.Errorf("invalid task record shape: %+v", rec)
	}
	return json.Marshal(rec)
}

// DecodeRecord parses a stored task record.
func DecodeRecord(data []byte) (models.TaskRecord, error) {
	var rec models.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.TaskRecord{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Status == "" {
		return models.TaskRecord{}, fmt.Errorf("%w: missing status", ErrCorruptRecord)
	}
	return rec, nil
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
