package messaging

import (
	"errors"
	"testing"
)

func TestNewProducerValidation(t *testing.T) {
	t.Run("nil 配置", func(t *testing.T) {
		if _, err := NewProducer(nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("期望 ErrInvalidConfig, 实际 %v", err)
		}
	})

	t.Run("不支持的类型", func(t *testing.T) {
		_, err := NewProducer(&Config{Type: "nats"})
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("期望 ErrUnsupportedType, 实际 %v", err)
		}
	})

	t.Run("kafka 缺少 brokers", func(t *testing.T) {
		_, err := NewProducer(&Config{Type: TypeKafka, Kafka: &KafkaConfig{}})
		if !errors.Is(err, ErrNoBrokers) {
			t.Errorf("期望 ErrNoBrokers, 实际 %v", err)
		}
	})

	t.Run("rabbitmq 缺少 host", func(t *testing.T) {
		_, err := NewProducer(&Config{Type: TypeRabbitMQ, RabbitMQ: &RabbitMQConfig{}})
		if !errors.Is(err, ErrNoBrokers) {
			t.Errorf("期望 ErrNoBrokers, 实际 %v", err)
		}
	})
}

func TestNewConsumerValidation(t *testing.T) {
	t.Run("nil 配置", func(t *testing.T) {
		if _, err := NewConsumer(nil, "g"); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("期望 ErrInvalidConfig, 实际 %v", err)
		}
	})

	t.Run("不支持的类型", func(t *testing.T) {
		_, err := NewConsumer(&Config{Type: "nats"}, "g")
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("期望 ErrUnsupportedType, 实际 %v", err)
		}
	})

	t.Run("kafka 空 groupID", func(t *testing.T) {
		cfg := &Config{Type: TypeKafka, Kafka: &KafkaConfig{Brokers: []string{"localhost:9092"}}}
		if _, err := NewConsumer(cfg, ""); !errors.Is(err, ErrEmptyGroupID) {
			t.Errorf("期望 ErrEmptyGroupID, 实际 %v", err)
		}
	})

	t.Run("rabbitmq 空 groupID", func(t *testing.T) {
		cfg := &Config{Type: TypeRabbitMQ, RabbitMQ: &RabbitMQConfig{Host: "localhost"}}
		if _, err := NewConsumer(cfg, ""); !errors.Is(err, ErrEmptyGroupID) {
			t.Errorf("期望 ErrEmptyGroupID, 实际 %v", err)
		}
	})
}
