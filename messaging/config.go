package messaging

import (
	"fmt"
	"net/url"
	"time"
)

// 消息队列类型.
const (
	TypeKafka    = "kafka"
	TypeRabbitMQ = "rabbitmq"
)

// 位点重置策略（Kafka 首次订阅时）.
const (
	OffsetResetEarliest = "earliest"
	OffsetResetLatest   = "latest"
)

// Config 消息队列配置.
//
// Kafka 示例:
//
//	cfg := &messaging.Config{
//	    Type:  "kafka",
//	    Kafka: &messaging.KafkaConfig{Brokers: []string{"localhost:9092"}},
//	}
//
// RabbitMQ 示例:
//
//	cfg := &messaging.Config{
//	    Type: "rabbitmq",
//	    RabbitMQ: &messaging.RabbitMQConfig{
//	        Host: "localhost", Port: 5672,
//	        Username: "guest", Password: "guest", VHost: "/",
//	    },
//	}
type Config struct {
	// Type 消息队列类型.
	// 支持: kafka（默认）、rabbitmq.
	Type string `json:"type" yaml:"type" mapstructure:"type"`

	// Kafka Kafka 特定配置.
	Kafka *KafkaConfig `json:"kafka" yaml:"kafka" mapstructure:"kafka"`

	// RabbitMQ RabbitMQ 特定配置.
	RabbitMQ *RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" mapstructure:"rabbitmq"`
}

// KafkaConfig Kafka 特定配置.
type KafkaConfig struct {
	// Brokers 服务器地址列表.
	// 格式为 host:port，例如 "localhost:9092".
	Brokers []string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`

	// OffsetReset 首次订阅时的位点重置策略: earliest（默认）、latest.
	OffsetReset string `json:"offset_reset" yaml:"offset_reset" mapstructure:"offset_reset"`
}

// RabbitMQConfig RabbitMQ 特定配置.
type RabbitMQConfig struct {
	// Host 服务器地址.
	Host string `json:"host" yaml:"host" mapstructure:"host"`

	// Port 端口，默认 5672.
	Port int `json:"port" yaml:"port" mapstructure:"port"`

	// Username 用户名.
	Username string `json:"username" yaml:"username" mapstructure:"username"`

	// Password 密码.
	Password string `json:"password" yaml:"password" mapstructure:"password"`

	// VHost 虚拟主机，默认 "/".
	VHost string `json:"vhost" yaml:"vhost" mapstructure:"vhost"`

	// Exchange 交换机名称，空字符串使用默认交换机.
	Exchange string `json:"exchange" yaml:"exchange" mapstructure:"exchange"`

	// RecoveryInterval 连接断开后的自动恢复间隔，默认 5 秒.
	RecoveryInterval time.Duration `json:"recovery_interval" yaml:"recovery_interval" mapstructure:"recovery_interval"`

	// ConfirmTimeout 等待发布确认的超时时间，默认 5 秒.
	ConfirmTimeout time.Duration `json:"confirm_timeout" yaml:"confirm_timeout" mapstructure:"confirm_timeout"`

	// MaxRedeliveries 单条消息的最大重投次数，0 表示不限制.
	// 超过上限的消息被路由到 <queue>.dlq 死信队列.
	MaxRedeliveries int `json:"max_redeliveries" yaml:"max_redeliveries" mapstructure:"max_redeliveries"`
}

// Validate 验证配置.
//
// 配置缺失在创建时报错，不会延迟到发送时.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeKafka, "":
		if c.Kafka == nil || len(c.Kafka.Brokers) == 0 {
			return ErrNoBrokers
		}
		switch c.Kafka.OffsetReset {
		case "", OffsetResetEarliest, OffsetResetLatest:
		default:
			return fmt.Errorf("%w: 不支持的位点重置策略 %s", ErrInvalidConfig, c.Kafka.OffsetReset)
		}
	case TypeRabbitMQ:
		if c.RabbitMQ == nil || c.RabbitMQ.Host == "" {
			return ErrNoBrokers
		}
	default:
		return ErrUnsupportedType
	}
	return nil
}

// ApplyDefaults 填充 RabbitMQ 默认值.
func (c *RabbitMQConfig) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 5672
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 5 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 5 * time.Second
	}
}

// URL 从各项参数组装 AMQP 连接地址.
func (c *RabbitMQConfig) URL() string {
	vhost := c.VHost
	if vhost == "/" || vhost == "" {
		vhost = ""
	} else {
		vhost = url.PathEscape(vhost)
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Host, c.Port, vhost)
}
