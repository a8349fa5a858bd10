package logger

// ConfigError 配置错误.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "logger: 配置错误 [" + e.Field + "]: " + e.Message
}
