package config

import "strings"

// Options 加载选项.
type Options struct {
	// ConfigType 显式指定配置类型（覆盖扩展名推断）.
	ConfigType string

	// EnvPrefix 环境变量前缀.
	EnvPrefix string

	// AutomaticEnv 是否启用环境变量覆盖.
	AutomaticEnv bool

	// Defaults 默认值.
	Defaults map[string]any
}

// Option 加载选项函数.
type Option func(*Options)

// DefaultOptions 返回默认选项.
func DefaultOptions() *Options {
	return &Options{
		Defaults: make(map[string]any),
	}
}

// WithConfigType 显式指定配置类型.
func WithConfigType(configType string) Option {
	return func(o *Options) {
		o.ConfigType = configType
	}
}

// WithEnvPrefix 设置环境变量前缀并启用环境变量覆盖.
//
// 例如前缀 EVENTKIT 时，EVENTKIT_KAFKA_BROKERS 覆盖 kafka.brokers.
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = strings.ToUpper(prefix)
		o.AutomaticEnv = true
	}
}

// WithDefault 设置默认值.
func WithDefault(key string, value any) Option {
	return func(o *Options) {
		o.Defaults[key] = value
	}
}
