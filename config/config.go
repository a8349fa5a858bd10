// Package config 提供配置加载和管理功能.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// 常见错误.
var (
	ErrFileNotFound = errors.New("config: 配置文件不存在")
	ErrInvalidType  = errors.New("config: 不支持的配置文件类型")
)

// Validatable 可验证的配置接口.
//
// 实现该接口的配置类型在加载后会自动验证.
type Validatable interface {
	Validate() error
}

// configType 根据文件扩展名识别配置类型.
// 其他格式需通过 WithConfigType 显式指定.
func configType(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidType, filename)
	}
}
