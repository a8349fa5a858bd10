package ratelimit

import "errors"

// 预定义错误.
var (
	// ErrRateLimited 请求被限流.
	ErrRateLimited = errors.New("ratelimit: 请求被限流")

	// ErrNilLimiter 限流器为空.
	ErrNilLimiter = errors.New("ratelimit: 限流器不能为空")

	// ErrInvalidConfig 配置无效.
	ErrInvalidConfig = errors.New("ratelimit: 配置无效")

	// ErrNilClient 分布式限流需要 redis 客户端.
	ErrNilClient = errors.New("ratelimit: 分布式限流需要 redis 客户端")
)
