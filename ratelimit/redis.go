package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tsukikage7/eventkit/logger"
)

// RedisLimiter 基于 Redis 的分布式固定窗口限流器.
//
// 多个进程共享同一份窗口计数，适合多副本部署。窗口由 Redis 键的
// 过期时间界定：首次计数时设置过期，键过期即窗口重置.
//
// Redis 不可用时默认放行（fail-open），限流不阻断正常业务.
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	ceiling int
	window  time.Duration
	logger  logger.Logger
}

// RedisLimiterOption RedisLimiter 配置选项.
type RedisLimiterOption func(*RedisLimiter)

// WithRedisLimiterLogger 设置日志记录器.
func WithRedisLimiterLogger(log logger.Logger) RedisLimiterOption {
	return func(l *RedisLimiter) {
		l.logger = log
	}
}

// NewRedisLimiter 创建分布式限流器.
func NewRedisLimiter(client redis.Cmdable, cfg *Config, opts ...RedisLimiterOption) (*RedisLimiter, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ratelimit"
	}

	l := &RedisLimiter{
		client:  client,
		prefix:  prefix,
		ceiling: cfg.Ceiling,
		window:  cfg.Window,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow 检查客户端的请求是否允许通过.
//
// 原子递增客户端的窗口计数，首次计数时设置窗口过期。计数超过
// 上限时拒绝，剩余等待时间取键的剩余过期时间.
func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration) {
	key := fmt.Sprintf("%s:%s", l.prefix, clientID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		// Redis 故障时放行，避免限流阻断正常业务
		if l.logger != nil {
			l.logger.With(
				logger.String("clientID", clientID),
				logger.Err(err),
			).Warn("[RateLimit] Redis 不可用，请求放行")
		}
		return true, 0
	}

	if count == 1 {
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil && l.logger != nil {
			l.logger.With(logger.Err(err)).Warn("[RateLimit] 设置窗口过期失败")
		}
	}

	if count <= int64(l.ceiling) {
		return true, 0
	}

	retryAfter := l.window
	if ttl, err := l.client.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return false, retryAfter
}
