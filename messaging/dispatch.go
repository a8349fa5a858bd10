package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Tsukikage7/eventkit/logger"
)

// Handler 业务消息处理器.
//
// Handle 返回 nil 表示处理成功；返回错误表示处理失败，消息会按
// broker 的重投策略重新投递，不会在处理器层内联重试.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc 函数式处理器适配.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle 实现 Handler 接口.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// HandlerFactory 按消息类型解析处理器的工厂函数.
//
// 在构造 Dispatcher 时传入，替代运行时的容器查找.
// 返回 nil 表示该类型没有处理器.
type HandlerFactory func(messageType string) Handler

// Dispatcher 消息分发表.
//
// 维护消息类型到处理器的显式映射。分发依据消息头中的
// message-type，无需反序列化载荷即可路由.
type Dispatcher struct {
	handlers map[string]Handler
	factory  HandlerFactory
	mu       sync.RWMutex
	logger   logger.Logger
}

// DispatcherOption 分发表配置选项.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger 设置日志记录器.
func WithDispatcherLogger(log logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = log
	}
}

// NewDispatcher 创建分发表.
//
// factory 可以为 nil，此时只分发通过 Register 显式注册的类型.
func NewDispatcher(factory HandlerFactory, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		factory:  factory,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register 注册消息类型的处理器.
func (d *Dispatcher) Register(messageType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = handler
}

// Dispatch 分发单条消息到对应处理器.
//
// 每条消息在独立的、可取消的上下文中处理；关联 ID 注入该上下文
// 以便处理器内的日志追踪.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	messageType := msg.Headers[HeaderMessageType]
	if messageType == "" {
		messageType = msg.Topic
	}

	handler := d.resolve(messageType)
	if handler == nil {
		return errors.Join(ErrNoHandler, fmt.Errorf("type=%s", messageType))
	}

	// 每条消息独立的处理上下文
	msgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	correlationID := msg.Headers[HeaderCorrelationID]
	if correlationID != "" {
		msgCtx = logger.ContextWithCorrelationID(msgCtx, correlationID)
	}

	if d.logger != nil {
		d.logger.With(
			logger.String("type", messageType),
			logger.String("correlationId", correlationID),
		).Debug("[Messaging] 分发消息")
	}

	return handler.Handle(msgCtx, msg)
}

// resolve 查找处理器，未注册的类型尝试通过工厂解析并缓存.
func (d *Dispatcher) resolve(messageType string) Handler {
	d.mu.RLock()
	handler := d.handlers[messageType]
	d.mu.RUnlock()

	if handler != nil || d.factory == nil {
		return handler
	}

	handler = d.factory(messageType)
	if handler != nil {
		d.mu.Lock()
		d.handlers[messageType] = handler
		d.mu.Unlock()
	}
	return handler
}

// Types 返回已注册的消息类型列表.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}

// TopicForType 从消息类型确定性地推导主题名.
func TopicForType(messageType string) string {
	return messageType
}

// GroupForType 从消息类型确定性地推导消费者组 ID.
func GroupForType(messageType string) string {
	return messageType + ".consumer"
}
