package messaging

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/eventkit/logger"
)

// ConsumerOption 消费者配置选项.
//
// 使用函数选项模式配置消费者.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	logger            logger.Logger
	registry          prometheus.Registerer
	serviceName       string
	maxRedeliveries   int           // 最大重投次数，0 表示不限制
	redeliveryPause   time.Duration // 重投前的固定暂停
	reconnectInterval time.Duration // 消费循环重连间隔
	offsetReset       string        // 首次订阅时的位点重置策略
	deadLetterTopic   string        // 死信队列主题
	dlqProducer       Producer      // 死信队列生产者
}

// WithConsumerLogger 设置日志记录器.
//
// 用于记录消费者启动、投递、提交、失败等日志.
func WithConsumerLogger(log logger.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = log
	}
}

// WithConsumerMetrics 启用 Prometheus 指标记录.
func WithConsumerMetrics(reg prometheus.Registerer) ConsumerOption {
	return func(o *consumerOptions) {
		o.registry = reg
	}
}

// WithConsumerTracing 启用 OpenTelemetry 追踪.
func WithConsumerTracing(serviceName string) ConsumerOption {
	return func(o *consumerOptions) {
		o.serviceName = serviceName
	}
}

// WithMaxRedeliveries 设置单条消息的最大重投次数.
//
// 处理失败的消息在原地按固定暂停重投，最多 maxRedeliveries 次.
// 耗尽后若配置了死信队列则路由过去并跳过该消息，否则不提交位点，
// 消息在下个轮询周期继续重投.
//
// maxRedeliveries 为 0（默认）表示不限制：失败的消息永不提交，
// 一直重投直到处理成功或人工干预.
func WithMaxRedeliveries(maxRedeliveries int) ConsumerOption {
	return func(o *consumerOptions) {
		o.maxRedeliveries = maxRedeliveries
	}
}

// WithRedeliveryPause 设置重投前的固定暂停时长.
//
// 避免毒消息导致热循环，默认 1 秒.
func WithRedeliveryPause(pause time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.redeliveryPause = pause
	}
}

// WithReconnectInterval 设置消费循环重连间隔.
//
// 当消费循环发生传输层错误时，等待指定时间后重试，默认 1 秒.
func WithReconnectInterval(interval time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.reconnectInterval = interval
	}
}

// WithOffsetReset 设置首次订阅时的位点重置策略.
//
// 支持 earliest（默认）、latest.
func WithOffsetReset(policy string) ConsumerOption {
	return func(o *consumerOptions) {
		o.offsetReset = policy
	}
}

// WithDeadLetterQueue 设置死信队列.
//
// 与 WithMaxRedeliveries 配合使用：重投耗尽的消息发送到死信队列，
// 附带原始主题、分区、位点和错误信息.
func WithDeadLetterQueue(topic string, producer Producer) ConsumerOption {
	return func(o *consumerOptions) {
		o.deadLetterTopic = topic
		o.dlqProducer = producer
	}
}

// KafkaConsumer Kafka 消费者.
//
// 使用消费者组模式，支持自动重平衡。状态流转:
// 订阅 → 轮询 → 分发 → (提交 | 重投) → 轮询，取消时停止.
//
// 内置可靠性配置：
//   - AutoCommit: 禁用（处理成功后才同步提交位点，严格至少一次）
//   - Offsets.Initial: Oldest（首次订阅从最早位点开始）
//
// 单分区内消息按位点顺序投递和处理；失败的消息不提交位点，
// 后续位点不会先于它提交，重投不会导致乱序.
type KafkaConsumer struct {
	consumerGroup     sarama.ConsumerGroup
	groupID           string
	handler           MessageHandler
	topics            []string
	cancel            context.CancelFunc
	wg                sync.WaitGroup
	logger            logger.Logger
	maxRedeliveries   int
	redeliveryPause   time.Duration
	reconnectInterval time.Duration
	deadLetterTopic   string
	dlqProducer       Producer
	metrics           *messagingMetrics
	tracer            *messagingTracer
}

// NewKafkaConsumer 创建 Kafka 消费者.
//
// 参数:
//   - brokers: Kafka 服务器地址列表
//   - groupID: 消费者组ID，通常用 GroupForType 从消息类型推导
//   - opts: 可选配置项
//
// 返回创建的消费者实例，使用完毕后需调用 Close 关闭.
func NewKafkaConsumer(brokers []string, groupID string, opts ...ConsumerOption) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if groupID == "" {
		return nil, ErrEmptyGroupID
	}

	options := &consumerOptions{
		redeliveryPause:   time.Second,
		reconnectInterval: time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	config := sarama.NewConfig()
	config.Version = sarama.V3_8_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.AutoCommit.Enable = false
	if options.offsetReset == OffsetResetLatest {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	} else {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, errors.Join(ErrCreateConsumer, err)
	}

	if options.redeliveryPause <= 0 {
		options.redeliveryPause = time.Second
	}
	if options.reconnectInterval <= 0 {
		options.reconnectInterval = time.Second
	}

	c := &KafkaConsumer{
		consumerGroup:     consumerGroup,
		groupID:           groupID,
		logger:            options.logger,
		maxRedeliveries:   options.maxRedeliveries,
		redeliveryPause:   options.redeliveryPause,
		reconnectInterval: options.reconnectInterval,
		deadLetterTopic:   options.deadLetterTopic,
		dlqProducer:       options.dlqProducer,
	}
	if options.registry != nil {
		c.metrics = newMessagingMetrics(options.registry)
	}
	if options.serviceName != "" {
		c.tracer = newMessagingTracer(options.serviceName, TypeKafka)
	}

	if c.logger != nil {
		c.logger.With(
			logger.Any("brokers", brokers),
			logger.String("groupID", groupID),
		).Debug("[Messaging] Kafka消费者启动")
	}

	return c, nil
}

// Consume 开始消费消息.
//
// 该方法会启动后台 goroutine 消费消息，调用后立即返回.
// 消息处理成功（handler 返回 nil）后同步提交位点；处理失败的消息
// 不提交位点，会被重投.
//
// 参数:
//   - ctx: 上下文，取消时停止消费；处理中的未确认消息留待重启后重投
//   - topics: 要消费的主题列表
//   - handler: 消息处理函数，返回 nil 表示处理成功
func (c *KafkaConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	if handler == nil {
		return ErrNilHandler
	}

	c.topics = topics
	c.handler = handler
	ctx, c.cancel = context.WithCancel(ctx)

	// 消费循环
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recoverPanic("消费循环")
		for {
			if err := c.consumerGroup.Consume(ctx, c.topics, c); err != nil {
				if ctx.Err() != nil {
					return
				}
				if c.logger != nil {
					c.logger.With(logger.Err(errors.Join(ErrConsume, err))).Error("[Messaging] 消费失败，稍后重试")
				}
				// 短暂停顿后从未提交的位点继续轮询，工作者不退出
				time.Sleep(c.reconnectInterval)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	// 错误监听
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.recoverPanic("错误监听")
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				if c.logger != nil {
					c.logger.With(logger.Err(err)).Warn("[Messaging] 消费者错误")
				}
			}
		}
	}()

	return nil
}

// Close 关闭消费者.
//
// 停止轮询并等待所有 goroutine 退出，释放连接.
// 处理中的未提交消息保持未提交，重启后重投。重复调用是安全的.
func (c *KafkaConsumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if c.consumerGroup != nil {
		return c.consumerGroup.Close()
	}
	return nil
}

// Setup 实现 sarama.ConsumerGroupHandler 接口.
// 在消费开始前调用.
func (c *KafkaConsumer) Setup(session sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现 sarama.ConsumerGroupHandler 接口.
// 在消费结束后调用。此时只有处理成功的消息被标记过，提交是安全的.
func (c *KafkaConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	session.Commit()
	return nil
}

// ConsumeClaim 实现 sarama.ConsumerGroupHandler 接口.
// 按位点顺序处理分区消息.
func (c *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if msg == nil {
				// 分区结束标记，跳过
				continue
			}
			if err := c.processMessage(session, msg); err != nil {
				// 位点未提交，退出本次轮询，下个周期重投同一条消息
				return err
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

// processMessage 处理单条消息.
//
// 成功时同步提交位点（严格在处理之后）；失败时在原地按固定暂停
// 重投。重投耗尽后路由到死信队列（如果配置了）并跳过，否则返回
// 错误且不提交位点.
func (c *KafkaConsumer) processMessage(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	message := &Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
	}
	for _, header := range msg.Headers {
		message.Headers[string(header.Key)] = string(header.Value)
	}

	// Tracing: 从 Headers 提取追踪上下文并开始 span
	ctx := session.Context()
	var span trace.Span
	if c.tracer != nil {
		ctx = c.tracer.extractContext(ctx, message.Headers)
		ctx, span = c.tracer.startConsumerSpan(ctx, msg.Topic,
			attribute.Int64("messaging.kafka.partition", int64(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		)
		defer span.End()
	}

	lastErr := c.handleWithRedelivery(ctx, message)
	if lastErr == nil {
		// 提交严格在处理之后，绝不提前
		session.MarkMessage(msg, "")
		session.Commit()
		if c.metrics != nil {
			c.metrics.RecordConsume(msg.Topic, c.groupID)
		}
		if c.logger != nil {
			c.logger.With(
				logger.String("topic", msg.Topic),
				logger.String("type", message.Headers[HeaderMessageType]),
				logger.String("correlationId", message.Headers[HeaderCorrelationID]),
				logger.Int64("offset", msg.Offset),
			).Debug("[Messaging] 位点已提交")
		}
		return nil
	}

	if c.tracer != nil {
		c.tracer.setError(span, lastErr)
	}
	if c.metrics != nil {
		c.metrics.RecordConsumeError(msg.Topic, c.groupID)
	}
	if c.logger != nil {
		c.logger.With(
			logger.String("topic", msg.Topic),
			logger.String("type", message.Headers[HeaderMessageType]),
			logger.String("correlationId", message.Headers[HeaderCorrelationID]),
			logger.Int64("offset", msg.Offset),
			logger.Err(lastErr),
		).Error("[Messaging] 消息处理失败，重投耗尽")
	}

	// 死信队列：跳过该消息，提交位点以便后续消息继续
	if c.dlqProducer != nil && c.deadLetterTopic != "" {
		c.sendToDeadLetterQueue(ctx, message, lastErr)
		if c.metrics != nil {
			c.metrics.RecordDeadLetter(msg.Topic)
		}
		session.MarkMessage(msg, "")
		session.Commit()
		return nil
	}

	// 未配置死信队列：不提交位点，暂停一个重连间隔后
	// 同一条消息在下个轮询周期重投
	return errors.Join(ErrRedeliveryExhausted, lastErr)
}

// handleWithRedelivery 调用处理器，失败时在原地重投.
//
// maxRedeliveries 为 0 表示不在原地重投（依赖轮询周期重投）.
// 每次尝试使用独立的、可取消的处理上下文.
func (c *KafkaConsumer) handleWithRedelivery(ctx context.Context, message *Message) error {
	var lastErr error
	maxAttempts := c.maxRedeliveries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msgCtx, cancel := context.WithCancel(ctx)
		err := c.handler(msgCtx, message)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if c.metrics != nil {
				c.metrics.RecordRedelivery(message.Topic)
			}
			if c.logger != nil {
				c.logger.With(
					logger.String("topic", message.Topic),
					logger.String("correlationId", message.Headers[HeaderCorrelationID]),
					logger.Int64("offset", message.Offset),
					logger.Int("attempt", attempt),
					logger.Duration("pause", c.redeliveryPause),
					logger.Err(err),
				).Warn("[Messaging] 消息处理失败，暂停后重投")
			}

			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(c.redeliveryPause):
			}
		}
	}
	return lastErr
}

// recoverPanic 恢复 goroutine panic 并记录日志.
func (c *KafkaConsumer) recoverPanic(goroutineName string) {
	if r := recover(); r != nil {
		if c.logger != nil {
			c.logger.With(
				logger.String("goroutine", goroutineName),
				logger.Any("panic", r),
			).Error("[Messaging] goroutine panic")
		}
	}
}

// sendToDeadLetterQueue 发送消息到死信队列.
func (c *KafkaConsumer) sendToDeadLetterQueue(ctx context.Context, msg *Message, cause error) {
	dlqMsg := &Message{
		Topic: c.deadLetterTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: map[string]string{
			"x-original-topic":     msg.Topic,
			"x-original-partition": strconv.FormatInt(int64(msg.Partition), 10),
			"x-original-offset":    strconv.FormatInt(msg.Offset, 10),
			"x-error-message":      cause.Error(),
			"x-consumer-group":     c.groupID,
		},
	}
	// 保留原始 headers
	for k, v := range msg.Headers {
		if _, exists := dlqMsg.Headers[k]; !exists {
			dlqMsg.Headers[k] = v
		}
	}

	if _, sendErr := c.dlqProducer.SendMessage(ctx, dlqMsg); sendErr != nil {
		if c.logger != nil {
			c.logger.With(
				logger.String("topic", msg.Topic),
				logger.Int64("offset", msg.Offset),
				logger.Err(sendErr),
			).Error("[Messaging] 发送死信队列失败")
		}
	} else if c.logger != nil {
		c.logger.With(
			logger.String("originalTopic", msg.Topic),
			logger.String("dlqTopic", c.deadLetterTopic),
			logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
		).Warn("[Messaging] 消息已发送到死信队列")
	}
}
