package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/eventkit/logger"
)

// ProducerOption 生产者配置选项.
//
// 使用函数选项模式配置生产者.
type ProducerOption func(*producerOptions)

type producerOptions struct {
	logger      logger.Logger
	registry    prometheus.Registerer
	serviceName string
	linger      time.Duration // 批量发送的等待时间
	batchSize   int           // 单批最大消息数
	maxRetries  int           // 发送重试次数
}

// WithProducerLogger 设置日志记录器.
//
// 用于记录生产者启动、发布、错误等日志.
func WithProducerLogger(log logger.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = log
	}
}

// WithProducerMetrics 启用 Prometheus 指标记录.
func WithProducerMetrics(reg prometheus.Registerer) ProducerOption {
	return func(o *producerOptions) {
		o.registry = reg
	}
}

// WithProducerTracing 启用 OpenTelemetry 追踪.
func WithProducerTracing(serviceName string) ProducerOption {
	return func(o *producerOptions) {
		o.serviceName = serviceName
	}
}

// WithLinger 设置批量发送的等待时间.
//
// 生产者最多等待该时间以积累一批消息，提高吞吐量.
func WithLinger(linger time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.linger = linger
	}
}

// WithBatchSize 设置单批最大消息数.
func WithBatchSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.batchSize = size
	}
}

// WithProducerRetries 设置发送重试次数.
func WithProducerRetries(retries int) ProducerOption {
	return func(o *producerOptions) {
		o.maxRetries = retries
	}
}

// KafkaProducer Kafka 生产者.
//
// 使用同步发送模式，保证消息可靠投递。单个实例持有一个长期存活的
// broker 连接，可以被多个 goroutine 并发调用，无需外部加锁.
//
// 内置可靠性配置：
//   - Idempotent: true (幂等生产，重试不产生重复记录)
//   - RequiredAcks: WaitForAll (等待所有副本确认)
//   - Retry.Max: 3 (有界重试，带退避)
//   - Compression: Snappy (载荷压缩)
//   - Flush.Frequency / Flush.MaxMessages (linger + 批量，提高吞吐)
type KafkaProducer struct {
	producer sarama.SyncProducer
	closed   bool
	mu       sync.RWMutex
	logger   logger.Logger
	metrics  *messagingMetrics
	tracer   *messagingTracer
}

// NewKafkaProducer 创建 Kafka 生产者.
//
// 参数:
//   - brokers: Kafka 服务器地址列表
//   - opts: 可选配置项
//
// 返回创建的生产者实例，使用完毕后需调用 Close 关闭.
func NewKafkaProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	options := &producerOptions{
		linger:     5 * time.Millisecond,
		batchSize:  100,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(options)
	}

	config := sarama.NewConfig()
	config.Version = sarama.V3_8_0_0
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = options.maxRetries
	config.Producer.Retry.Backoff = 100 * time.Millisecond
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Producer.Flush.Frequency = options.linger
	config.Producer.Flush.MaxMessages = options.batchSize
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.Join(ErrCreateProducer, err)
	}

	p := &KafkaProducer{
		producer: producer,
		logger:   options.logger,
	}
	if options.registry != nil {
		p.metrics = newMessagingMetrics(options.registry)
	}
	if options.serviceName != "" {
		p.tracer = newMessagingTracer(options.serviceName, TypeKafka)
	}

	if p.logger != nil {
		p.logger.Debugf("[Messaging] Kafka生产者启动: brokers=%v", brokers)
	}

	return p, nil
}

// SendMessage 发送消息.
//
// 同步发送消息并等待所有副本确认，返回包含分区和偏移量回执的消息.
// 重试耗尽后的失败会附带 broker 报告的原因返回，不会被吞掉.
func (p *KafkaProducer) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrProducerClosed
	}

	if msg == nil {
		return nil, ErrNilMessage
	}
	if msg.Topic == "" {
		return nil, ErrEmptyTopic
	}

	// Tracing: 开始 span
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.startProducerSpan(ctx, msg.Topic)
		defer span.End()
	}

	saramaMsg := p.buildSaramaMessage(ctx, msg)

	partition, offset, err := p.producer.SendMessage(saramaMsg)
	if err != nil {
		if p.tracer != nil {
			p.tracer.setError(span, err)
		}
		if p.metrics != nil {
			p.metrics.RecordSendError(msg.Topic)
		}
		if p.logger != nil {
			p.logger.With(
				logger.String("topic", msg.Topic),
				logger.String("type", msg.Headers[HeaderMessageType]),
				logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
				logger.Err(err),
			).Error("[Messaging] 发布失败")
		}
		return nil, errors.Join(ErrProduce, err)
	}

	if p.metrics != nil {
		p.metrics.RecordSend(msg.Topic, time.Since(startTime))
	}
	if p.logger != nil {
		p.logger.With(
			logger.String("topic", msg.Topic),
			logger.String("type", msg.Headers[HeaderMessageType]),
			logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
			logger.Int32("partition", partition),
			logger.Int64("offset", offset),
		).Debug("[Messaging] 发布成功")
	}

	return &Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   msg.Headers,
		Partition: partition,
		Offset:    offset,
		Timestamp: time.Now(),
	}, nil
}

// SendEnvelope 发送事件信封.
//
// 信封的类型和关联 ID 作为消息头附加到消息上（不进入载荷体），
// 消费者无需反序列化即可分发。信封没有路由键时生成随机键，
// 该消息放弃顺序保证.
func (p *KafkaProducer) SendEnvelope(ctx context.Context, topic string, env *Envelope) (*Message, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	key := env.Key
	if key == "" {
		key = uuid.NewString()
		if p.logger != nil {
			p.logger.With(
				logger.String("topic", topic),
				logger.String("correlationId", env.CorrelationID),
			).Debug("[Messaging] 信封无路由键，使用随机键（放弃顺序保证）")
		}
	}

	return p.SendMessage(ctx, &Message{
		Topic:     topic,
		Key:       []byte(key),
		Value:     env.Payload,
		Headers:   env.Headers(),
		Timestamp: env.Timestamp,
	})
}

// buildSaramaMessage 构建 sarama 消息.
func (p *KafkaProducer) buildSaramaMessage(ctx context.Context, msg *Message) *sarama.ProducerMessage {
	headers := msg.Headers
	if p.tracer != nil {
		headers = p.tracer.injectHeaders(ctx, headers)
	}

	saramaMsg := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.ByteEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: time.Now(),
	}
	for k, v := range headers {
		saramaMsg.Headers = append(saramaMsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return saramaMsg
}

// Close 关闭生产者.
//
// 关闭与 Kafka 的连接，释放资源.
// 关闭后不能再发送消息，重复调用是安全的.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
