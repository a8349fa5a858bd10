package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/eventkit/logger"
)

// headerDeliveryCount 记录消息已被重投的次数，随重投递增.
const headerDeliveryCount = "x-delivery-count"

// deadLetterSuffix 死信队列名后缀.
const deadLetterSuffix = ".dlq"

// rabbitMQConsumer RabbitMQ 消费者.
//
// 队列持久化、非独占，名字即消息类型。预取数固定为 1：同一队列
// 上的消息严格按入队顺序逐条投递和确认，未确认的消息不会被后续
// 消息越过.
//
// 手动确认：处理成功后 Ack；失败时若配置了重投上限则带计数头
// 重新入队（原消息 Ack），超限后路由到 <队列名>.dlq 死信队列；
// 未配置上限时 Nack 重新入队，无限重投.
type rabbitMQConsumer struct {
	conn    *rabbitMQConnection
	channel *amqp.Channel
	mu      sync.RWMutex
	closed  atomic.Bool
	groupID string

	consuming atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	exchange        string
	maxRedeliveries int
	redeliveryPause time.Duration
	logger          logger.Logger
	metrics         *messagingMetrics
	tracer          *messagingTracer
}

func newRabbitMQConsumer(cfg *RabbitMQConfig, groupID string, options *consumerOptions) (*rabbitMQConsumer, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, ErrNoBrokers
	}
	if groupID == "" {
		return nil, ErrEmptyGroupID
	}
	cfg.ApplyDefaults()

	maxRedeliveries := options.maxRedeliveries
	if maxRedeliveries == 0 {
		maxRedeliveries = cfg.MaxRedeliveries
	}
	redeliveryPause := options.redeliveryPause
	if redeliveryPause <= 0 {
		redeliveryPause = time.Second
	}

	c := &rabbitMQConsumer{
		groupID:         groupID,
		exchange:        cfg.Exchange,
		maxRedeliveries: maxRedeliveries,
		redeliveryPause: redeliveryPause,
		logger:          options.logger,
	}
	if options.registry != nil {
		c.metrics = newMessagingMetrics(options.registry)
	}
	if options.serviceName != "" {
		c.tracer = newMessagingTracer(options.serviceName, TypeRabbitMQ)
	}

	conn, err := newRabbitMQConnection(cfg.URL(), cfg.RecoveryInterval, options.logger)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	if err := c.setupChannel(); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *rabbitMQConsumer) setupChannel() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateConsumer, err)
	}

	// 预取数固定为 1，保证单队列内逐条顺序处理
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("messaging: 设置 QoS 失败: %w", err)
	}

	if c.exchange != "" {
		err = ch.ExchangeDeclare(
			c.exchange,
			amqp.ExchangeDirect,
			true,  // durable
			false, // autoDelete
			false,
			false,
			nil,
		)
		if err != nil {
			ch.Close()
			return fmt.Errorf("messaging: 声明交换机失败: %w", err)
		}
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	return nil
}

// Consume 开始消费消息.
//
// 该方法启动后台 goroutine 逐条消费，调用后立即返回.
// 消息处理成功（handler 返回 nil）后确认；失败的消息重新入队，
// 配置了重投上限时超限消息路由到死信队列.
func (c *rabbitMQConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if c.closed.Load() {
		return ErrConsumerClosed
	}
	if len(topics) == 0 {
		return ErrNoTopics
	}
	if handler == nil {
		return ErrNilHandler
	}

	if c.consuming.Swap(true) {
		return ErrWorkerStarted
	}

	ctx, c.cancel = context.WithCancel(ctx)

	queueName, deliveries, err := c.setupQueue(topics)
	if err != nil {
		c.cancel()
		c.consuming.Store(false)
		return err
	}

	if c.logger != nil {
		c.logger.With(
			logger.String("queue", queueName),
			logger.String("groupID", c.groupID),
		).Debug("[Messaging] RabbitMQ消费者启动")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx, queueName, deliveries, topics, handler)
	}()

	return nil
}

func (c *rabbitMQConsumer) consumeLoop(ctx context.Context, queueName string, deliveries <-chan amqp.Delivery, topics []string, handler MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-c.conn.ReconnectNotify():
			if c.closed.Load() {
				return
			}
			c.log("[Messaging] 检测到重连，重新设置消费者...")

			name, d, err := c.rebuildConsume(topics)
			if err != nil {
				c.log("[Messaging] 重建消费订阅失败: %v", err)
				continue
			}
			queueName, deliveries = name, d

		case delivery, ok := <-deliveries:
			if !ok {
				if c.closed.Load() {
					return
				}
				// channel 被服务端单独关闭（如通道级异常）时不会有
				// 连接重连通知，停顿后主动重建 channel 与订阅
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}

				name, d, err := c.rebuildConsume(topics)
				if err != nil {
					c.log("[Messaging] 重建消费订阅失败: %v", err)
					continue
				}
				queueName, deliveries = name, d
				continue
			}
			c.processDelivery(ctx, queueName, &delivery, handler)
		}
	}
}

// rebuildConsume 关闭旧 channel 后重建 channel 与队列订阅.
func (c *rabbitMQConsumer) rebuildConsume(topics []string) (string, <-chan amqp.Delivery, error) {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.mu.Unlock()

	if err := c.setupChannel(); err != nil {
		return "", nil, err
	}
	return c.setupQueue(topics)
}

// processDelivery 处理单条投递.
//
// 成功后确认；失败时在配置了重投上限的情况下带计数头重新入队，
// 超限消息路由到死信队列并确认。未配置上限时 Nack 重新入队.
func (c *rabbitMQConsumer) processDelivery(ctx context.Context, queueName string, delivery *amqp.Delivery, handler MessageHandler) {
	msg := c.convertMessage(delivery)

	// Tracing: 从 Headers 提取追踪上下文并开始 span
	msgCtx := ctx
	var span trace.Span
	if c.tracer != nil {
		msgCtx = c.tracer.extractContext(ctx, msg.Headers)
		msgCtx, span = c.tracer.startConsumerSpan(msgCtx, msg.Topic,
			attribute.Int64("messaging.rabbitmq.delivery_tag", int64(msg.DeliveryTag)),
		)
		defer span.End()
	}
	if cid := msg.Headers[HeaderCorrelationID]; cid != "" {
		msgCtx = logger.ContextWithCorrelationID(msgCtx, cid)
	}

	err := handler(msgCtx, msg)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.log("[Messaging] 确认消息失败: %v", ackErr)
		}
		if c.metrics != nil {
			c.metrics.RecordConsume(msg.Topic, c.groupID)
		}
		return
	}

	if c.tracer != nil {
		c.tracer.setError(span, err)
	}
	if c.metrics != nil {
		c.metrics.RecordConsumeError(msg.Topic, c.groupID)
	}
	if c.logger != nil {
		c.logger.With(
			logger.String("queue", queueName),
			logger.String("type", msg.Headers[HeaderMessageType]),
			logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
			logger.Err(err),
		).Error("[Messaging] 消息处理失败")
	}

	// 毒消息防护：重投前固定暂停
	select {
	case <-ctx.Done():
		delivery.Nack(false, true)
		return
	case <-time.After(c.redeliveryPause):
	}

	if c.maxRedeliveries <= 0 {
		// 不限重投：重新入队，消息保留在队头继续重试
		delivery.Nack(false, true)
		if c.metrics != nil {
			c.metrics.RecordRedelivery(msg.Topic)
		}
		return
	}

	count := deliveryCount(delivery.Headers)
	if count < c.maxRedeliveries {
		if repubErr := c.republish(ctx, queueName, delivery, count+1); repubErr != nil {
			c.log("[Messaging] 重投失败，重新入队: %v", repubErr)
			delivery.Nack(false, true)
			return
		}
		delivery.Ack(false)
		if c.metrics != nil {
			c.metrics.RecordRedelivery(msg.Topic)
		}
		return
	}

	// 重投耗尽，路由到死信队列
	if dlqErr := c.sendToDeadLetterQueue(ctx, queueName, delivery, err); dlqErr != nil {
		c.log("[Messaging] 发送死信失败，重新入队: %v", dlqErr)
		delivery.Nack(false, true)
		return
	}
	delivery.Ack(false)
	if c.metrics != nil {
		c.metrics.RecordDeadLetter(msg.Topic)
	}
	if c.logger != nil {
		c.logger.With(
			logger.String("queue", queueName),
			logger.String("deadLetterQueue", queueName+deadLetterSuffix),
			logger.Int("redeliveries", count),
			logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
		).Warn("[Messaging] 重投耗尽，消息已路由到死信队列")
	}
}

// republish 带递增计数头把消息重新发布回原队列.
//
// 通过默认交换机按队列名直接路由，不经过业务交换机.
func (c *rabbitMQConsumer) republish(ctx context.Context, queueName string, delivery *amqp.Delivery, count int) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return ErrNotConnected
	}

	headers := make(amqp.Table, len(delivery.Headers)+1)
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[headerDeliveryCount] = int32(count)

	return ch.PublishWithContext(
		ctx,
		"",        // 默认交换机
		queueName, // 直接路由到队列
		false,
		false,
		amqp.Publishing{
			ContentType:  delivery.ContentType,
			Body:         delivery.Body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    delivery.Timestamp,
			MessageId:    delivery.MessageId,
			Headers:      headers,
		},
	)
}

// sendToDeadLetterQueue 把重投耗尽的消息发送到 <队列名>.dlq.
func (c *rabbitMQConsumer) sendToDeadLetterQueue(ctx context.Context, queueName string, delivery *amqp.Delivery, cause error) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return ErrNotConnected
	}

	headers := make(amqp.Table, len(delivery.Headers)+3)
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers["x-original-queue"] = queueName
	headers["x-consumer-group"] = c.groupID
	if cause != nil {
		headers["x-error-message"] = cause.Error()
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName+deadLetterSuffix,
		false,
		false,
		amqp.Publishing{
			ContentType:  delivery.ContentType,
			Body:         delivery.Body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    delivery.Timestamp,
			MessageId:    delivery.MessageId,
			Headers:      headers,
		},
	)
}

func (c *rabbitMQConsumer) setupQueue(topics []string) (string, <-chan amqp.Delivery, error) {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil {
		return "", nil, ErrNotConnected
	}

	// 队列名即消息类型（主题），持久化、非独占
	queueName := topics[0]

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false,
		nil,
	)
	if err != nil {
		return "", nil, fmt.Errorf("messaging: 声明队列失败: %w", err)
	}

	if c.exchange != "" {
		for _, topic := range topics {
			if err := ch.QueueBind(queue.Name, topic, c.exchange, false, nil); err != nil {
				return "", nil, fmt.Errorf("messaging: 绑定队列失败: %w", err)
			}
		}
	}

	if c.maxRedeliveries > 0 {
		_, err = ch.QueueDeclare(
			queue.Name+deadLetterSuffix,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return "", nil, fmt.Errorf("messaging: 声明死信队列失败: %w", err)
		}
	}

	deliveries, err := ch.Consume(
		queue.Name,
		c.groupID, // consumer tag
		false,     // 手动确认
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return "", nil, errors.Join(ErrConsume, err)
	}

	return queue.Name, deliveries, nil
}

func (c *rabbitMQConsumer) convertMessage(delivery *amqp.Delivery) *Message {
	msg := &Message{
		Topic:       delivery.RoutingKey,
		Key:         []byte(delivery.MessageId),
		Value:       delivery.Body,
		Timestamp:   delivery.Timestamp,
		DeliveryTag: delivery.DeliveryTag,
	}

	if len(delivery.Headers) > 0 {
		msg.Headers = make(map[string]string, len(delivery.Headers))
		for k, v := range delivery.Headers {
			switch val := v.(type) {
			case string:
				msg.Headers[k] = val
			case int32:
				msg.Headers[k] = strconv.Itoa(int(val))
			case int64:
				msg.Headers[k] = strconv.FormatInt(val, 10)
			}
		}
	}

	return msg
}

// deliveryCount 读取重投计数头，缺失或类型不符时按 0 处理.
func deliveryCount(headers amqp.Table) int {
	switch v := headers[headerDeliveryCount].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (c *rabbitMQConsumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}

	return c.conn.Close()
}

func (c *rabbitMQConsumer) log(format string, args ...any) {
	if c.logger != nil {
		c.logger.Info(fmt.Sprintf(format, args...))
	}
}
