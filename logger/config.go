package logger

// Config 日志配置.
//
// 示例:
//
//	log := logger.MustNewLogger(&logger.Config{
//	    Level:  logger.LevelInfo,
//	    Format: logger.FormatJSON,
//	})
type Config struct {
	// Level 最低日志级别: debug, info, warn, error, fatal.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format 输出格式: json, console.
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// ServiceName 服务名，作为固定字段附加到每条日志.
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`

	// EnableCaller 是否记录调用位置.
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller" mapstructure:"enable_caller"`

	// EnableStacktrace 是否在 error 及以上级别记录堆栈.
	EnableStacktrace bool `json:"enable_stacktrace" yaml:"enable_stacktrace" mapstructure:"enable_stacktrace"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatConsole,
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	switch c.Level {
	case "", LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
	default:
		return &ConfigError{Field: "level", Message: "不支持的日志级别: " + c.Level}
	}

	switch c.Format {
	case "", FormatJSON, FormatConsole:
	default:
		return &ConfigError{Field: "format", Message: "不支持的输出格式: " + c.Format}
	}

	return nil
}

// ApplyDefaults 填充默认值.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = LevelInfo
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
}
