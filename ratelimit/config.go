package ratelimit

import (
	"fmt"
	"time"
)

// Config 限流配置.
type Config struct {
	// Ceiling 窗口内每个客户端允许的最大请求数
	Ceiling int `mapstructure:"ceiling" json:"ceiling" yaml:"ceiling"`

	// Window 窗口大小
	Window time.Duration `mapstructure:"window" json:"window" yaml:"window"`

	// Prefix 分布式限流键前缀
	Prefix string `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Ceiling <= 0 {
		return fmt.Errorf("%w: ceiling 必须大于 0", ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window 必须大于 0", ErrInvalidConfig)
	}
	return nil
}

// NewLimiter 根据配置创建本地限流器.
func NewLimiter(cfg *Config) (*ClientLimiter, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewClientLimiter(cfg.Ceiling, cfg.Window)
}

// MustNewLimiter 根据配置创建本地限流器，失败时 panic.
func MustNewLimiter(cfg *Config) *ClientLimiter {
	limiter, err := NewLimiter(cfg)
	if err != nil {
		panic(err)
	}
	return limiter
}
