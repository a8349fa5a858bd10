package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load 从文件加载配置.
// yaml 和 json 根据文件扩展名自动识别，其他格式用 WithConfigType 指定.
// 如果配置类型实现了 Validatable 接口，会自动进行验证.
func Load[T any](configPath string, opts ...Option) (*T, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	// 检查文件是否存在
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	// 显式指定的类型优先，否则按扩展名推断，无法识别时启动即失败
	if options.ConfigType != "" {
		v.SetConfigType(options.ConfigType)
	} else {
		inferred, err := configType(configPath)
		if err != nil {
			return nil, err
		}
		v.SetConfigType(inferred)
	}

	applyOptions(v, options)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: 读取配置文件失败: %w", err)
	}

	return unmarshalAndValidate[T](v)
}

// MustLoad 加载配置，失败时 panic.
func MustLoad[T any](configPath string, opts ...Option) *T {
	config, err := Load[T](configPath, opts...)
	if err != nil {
		panic(err)
	}
	return config
}

// LoadFromBytes 从字节数组加载配置.
func LoadFromBytes[T any](data []byte, configType string, opts ...Option) (*T, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	v := viper.New()
	v.SetConfigType(configType)

	applyOptions(v, options)

	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("config: 读取配置失败: %w", err)
	}

	return unmarshalAndValidate[T](v)
}

// applyOptions 应用通用选项到 viper 实例.
func applyOptions(v *viper.Viper, options *Options) {
	for key, value := range options.Defaults {
		v.SetDefault(key, value)
	}

	if options.EnvPrefix != "" {
		v.SetEnvPrefix(options.EnvPrefix)
	}

	if options.AutomaticEnv {
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
}

// unmarshalAndValidate 解析配置并执行验证.
func unmarshalAndValidate[T any](v *viper.Viper) (*T, error) {
	var config T
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: 解析配置失败: %w", err)
	}

	if validatable, ok := any(&config).(Validatable); ok {
		if err := validatable.Validate(); err != nil {
			return nil, err
		}
	}

	return &config, nil
}
