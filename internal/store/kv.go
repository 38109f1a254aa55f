package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

// ErrQuotaExceeded 同步存储层容量不足（对应浏览器 localStorage 的 QuotaExceededError）
var ErrQuotaExceeded = errors.New("local storage quota exceeded")

// KV 同步存储层：会话、用户、对象、同步时间
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	err := r.c.Set(ctx, key, value, ttl).Err()
	if err != nil && isRedisOOM(err) {
		return ErrQuotaExceeded
	}
	return err
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

func (r *RedisKV) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		k, next, err := r.c.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// maxmemory 达到上限时 Redis 返回 "OOM command not allowed ..."
func isRedisOOM(err error) bool {
	msg := err.Error()
	return len(msg) >= 3 && msg[:3] == "OOM"
}
