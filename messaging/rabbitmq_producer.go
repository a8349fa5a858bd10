package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/eventkit/logger"
)

// rabbitMQProducer RabbitMQ 生产者.
//
// 交换机声明为持久化且幂等（相同参数重复声明是空操作）。消息以
// 持久化模式发布，每次发布通过 DeferredConfirmation 按投递标签
// 等待各自的确认，并发调用互不干扰；超时或否定确认作为发布错误
// 返回。连接断开期间发布立即失败，不在内存中排队.
type rabbitMQProducer struct {
	conn    *rabbitMQConnection
	channel *amqp.Channel
	mu      sync.RWMutex
	closed  atomic.Bool

	exchange       string
	confirmTimeout time.Duration
	logger         logger.Logger
	metrics        *messagingMetrics
	tracer         *messagingTracer
}

func newRabbitMQProducer(cfg *RabbitMQConfig, options *producerOptions) (*rabbitMQProducer, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, ErrNoBrokers
	}
	cfg.ApplyDefaults()

	p := &rabbitMQProducer{
		exchange:       cfg.Exchange,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         options.logger,
	}
	if options.registry != nil {
		p.metrics = newMessagingMetrics(options.registry)
	}
	if options.serviceName != "" {
		p.tracer = newMessagingTracer(options.serviceName, TypeRabbitMQ)
	}

	conn, err := newRabbitMQConnection(cfg.URL(), cfg.RecoveryInterval, options.logger)
	if err != nil {
		return nil, err
	}
	p.conn = conn

	if err := p.setupChannel(); err != nil {
		conn.Close()
		return nil, err
	}

	go p.handleReconnect()

	return p, nil
}

func (p *rabbitMQProducer) setupChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateProducer, err)
	}

	if p.exchange != "" {
		// 持久化交换机，重复声明（参数一致）是空操作
		err = ch.ExchangeDeclare(
			p.exchange,
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

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("messaging: 启用发布确认失败: %w", err)
	}

	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()

	return nil
}

func (p *rabbitMQProducer) handleReconnect() {
	for range p.conn.ReconnectNotify() {
		if p.closed.Load() {
			return
		}

		p.log("[Messaging] 检测到重连，重新创建 channel...")

		p.mu.Lock()
		if p.channel != nil {
			p.channel.Close()
			p.channel = nil
		}
		p.mu.Unlock()

		if err := p.setupChannel(); err != nil {
			p.log("[Messaging] 重建 channel 失败: %v", err)
		} else {
			p.log("[Messaging] channel 重建成功")
		}
	}
}

// SendMessage 发布消息到交换机并等待发布确认.
//
// msg.Topic 作为路由键。确认在 confirmTimeout 内未到达或为否定
// 确认时返回发布错误；连接断开期间立即失败.
func (p *rabbitMQProducer) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	startTime := time.Now()

	if p.closed.Load() {
		return nil, ErrProducerClosed
	}

	if msg == nil {
		return nil, ErrNilMessage
	}

	if msg.Topic == "" {
		return nil, ErrEmptyTopic
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()

	if ch == nil {
		return nil, ErrNotConnected
	}

	// Tracing: 开始 span 并把追踪上下文注入消息头
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.startProducerSpan(ctx, msg.Topic)
		defer span.End()
		msg.Headers = p.tracer.injectHeaders(ctx, msg.Headers)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg.Value,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    string(msg.Key),
	}

	if len(msg.Headers) > 0 {
		publishing.Headers = make(amqp.Table)
		for k, v := range msg.Headers {
			publishing.Headers[k] = v
		}
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		msg.Topic, // routing key
		false,
		false,
		publishing,
	)
	if err != nil {
		return nil, p.publishError(span, msg, errors.Join(ErrProduce, err))
	}

	if err := p.awaitConfirm(ctx, confirm); err != nil {
		if errors.Is(err, ErrProduce) {
			return nil, p.publishError(span, msg, err)
		}
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordSend(msg.Topic, time.Since(startTime))
	}

	if p.logger != nil {
		p.logger.With(
			logger.String("routingKey", msg.Topic),
			logger.String("type", msg.Headers[HeaderMessageType]),
			logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
		).Debug("[Messaging] 发布已确认")
	}

	msg.Timestamp = publishing.Timestamp
	return msg, nil
}

// confirmation 单次发布挂起的代理确认.
type confirmation interface {
	Done() <-chan struct{}
	Acked() bool
}

// awaitConfirm 在有界超时内等待单条消息各自的发布确认.
//
// 每次发布对应独立的确认对象（按投递标签配对），超时后残留的确认
// 不会被后续发布误认.
func (p *rabbitMQProducer) awaitConfirm(ctx context.Context, confirm confirmation) error {
	select {
	case <-confirm.Done():
		if !confirm.Acked() {
			return errors.Join(ErrProduce, ErrPublishRejected)
		}
		return nil
	case <-time.After(p.confirmTimeout):
		return errors.Join(ErrProduce, ErrConfirmTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendEnvelope 发布事件信封.
//
// routingKey 即队列/类型名。信封没有路由键时生成随机消息 ID.
func (p *rabbitMQProducer) SendEnvelope(ctx context.Context, routingKey string, env *Envelope) (*Message, error) {
	if env == nil {
		return nil, ErrNilMessage
	}

	key := env.Key
	if key == "" {
		key = uuid.NewString()
	}

	return p.SendMessage(ctx, &Message{
		Topic:     routingKey,
		Key:       []byte(key),
		Value:     env.Payload,
		Headers:   env.Headers(),
		Timestamp: env.Timestamp,
	})
}

func (p *rabbitMQProducer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}

	return p.conn.Close()
}

// publishError 记录发布失败的追踪、指标和日志.
func (p *rabbitMQProducer) publishError(span trace.Span, msg *Message, err error) error {
	if p.tracer != nil {
		p.tracer.setError(span, err)
	}
	if p.metrics != nil {
		p.metrics.RecordSendError(msg.Topic)
	}
	if p.logger != nil {
		p.logger.With(
			logger.String("routingKey", msg.Topic),
			logger.String("type", msg.Headers[HeaderMessageType]),
			logger.String("correlationId", msg.Headers[HeaderCorrelationID]),
			logger.Err(err),
		).Error("[Messaging] 发布失败")
	}
	return err
}

func (p *rabbitMQProducer) log(format string, args ...any) {
	if p.logger != nil {
		p.logger.Info(fmt.Sprintf(format, args...))
	}
}
