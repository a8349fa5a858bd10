// Package messaging 提供可靠的领域事件投递能力.
//
// 支持 Kafka 与 RabbitMQ 两种消息队列，通过配置切换。生产者保证消息
// 持久化投递（幂等生产 / 发布确认），消费者保证至少一次处理：消息
// 处理成功后才提交位点 / 确认投递，失败时依赖 broker 重投.
//
// 示例:
//
//	// 创建生产者
//	producer, _ := messaging.NewProducer(cfg, messaging.WithProducerLogger(log))
//	defer producer.Close()
//
//	// 封装并发送领域事件
//	env, _ := messaging.Seal("p-1", "ProductCreated", product)
//	receipt, _ := producer.SendEnvelope(ctx, "ProductCreated", env)
//
//	// 创建消费者并启动工作者
//	consumer, _ := messaging.NewConsumer(cfg, messaging.GroupForType("ProductCreated"))
//	dispatcher := messaging.NewDispatcher(factory)
//	worker, _ := messaging.NewWorker(consumer, dispatcher, "ProductCreated")
//	worker.Start(ctx)
//	defer worker.Stop()
package messaging

import (
	"context"
)

// MessageHandler 消息处理函数.
//
// ctx 携带取消信号，消费者关闭时处理中的消息可以及时中止.
// 返回 nil 表示处理成功，消息会被确认；返回错误表示处理失败，
// 消息不会被确认，会按 broker 的重投策略重新投递.
type MessageHandler func(ctx context.Context, msg *Message) error

// Producer 生产者接口.
type Producer interface {
	// SendMessage 发送单条消息，返回包含投递回执（分区和偏移量）的消息.
	SendMessage(ctx context.Context, msg *Message) (*Message, error)
	// SendEnvelope 发送事件信封，类型和关联 ID 作为消息头传输.
	SendEnvelope(ctx context.Context, topic string, env *Envelope) (*Message, error)
	// Close 关闭生产者.
	Close() error
}

// Consumer 消费者接口.
type Consumer interface {
	// Consume 开始消费消息，handler 处理每条消息.
	Consume(ctx context.Context, topics []string, handler MessageHandler) error
	// Close 关闭消费者.
	Close() error
}

// NewProducer 根据配置创建生产者.
//
// 配置缺失或无效时立即返回错误，不会延迟到发送时.
func NewProducer(cfg *Config, opts ...ProducerOption) (Producer, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeKafka, "":
		return NewKafkaProducer(cfg.Kafka.Brokers, opts...)
	case TypeRabbitMQ:
		return newRabbitMQProducer(cfg.RabbitMQ, extractProducerOptions(opts))
	default:
		return nil, ErrUnsupportedType
	}
}

// NewConsumer 根据配置创建消费者.
func NewConsumer(cfg *Config, groupID string, opts ...ConsumerOption) (Consumer, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeKafka, "":
		kafkaOpts := opts
		if cfg.Kafka.OffsetReset != "" {
			kafkaOpts = append([]ConsumerOption{WithOffsetReset(cfg.Kafka.OffsetReset)}, opts...)
		}
		return NewKafkaConsumer(cfg.Kafka.Brokers, groupID, kafkaOpts...)
	case TypeRabbitMQ:
		return newRabbitMQConsumer(cfg.RabbitMQ, groupID, extractConsumerOptions(opts))
	default:
		return nil, ErrUnsupportedType
	}
}

// extractProducerOptions 从选项中提取通用生产者选项.
func extractProducerOptions(opts []ProducerOption) *producerOptions {
	options := &producerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// extractConsumerOptions 从选项中提取通用消费者选项.
func extractConsumerOptions(opts []ConsumerOption) *consumerOptions {
	options := &consumerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
