package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pr-poehali-dev/emergency-visit-tracker/common/config"
)

const defaultTimeout = 2 * time.Second

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端；本地缓存只重试一次，失败尽快返回
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, client.Options().DialTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
