package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tsukikage7/eventkit/logger"
)

// mockLogger 用于测试的模拟日志器.
type mockLogger struct {
	mu          sync.Mutex
	infoLogs    []string
	debugCalled bool
	errorCalled bool
	warnCalled  bool
}

func (m *mockLogger) Debug(args ...any)                 { m.debugCalled = true }
func (m *mockLogger) Debugf(format string, args ...any) { m.debugCalled = true }

func (m *mockLogger) Info(args ...any) {
	m.mu.Lock()
	m.infoLogs = append(m.infoLogs, fmt.Sprint(args...))
	m.mu.Unlock()
}

func (m *mockLogger) Infof(format string, args ...any) {}

func (m *mockLogger) infoMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.infoLogs...)
}
func (m *mockLogger) Warn(args ...any)                              { m.warnCalled = true }
func (m *mockLogger) Warnf(format string, args ...any)              { m.warnCalled = true }
func (m *mockLogger) Error(args ...any)                             { m.errorCalled = true }
func (m *mockLogger) Errorf(format string, args ...any)             { m.errorCalled = true }
func (m *mockLogger) Fatal(args ...any)                             {}
func (m *mockLogger) Fatalf(format string, args ...any)             {}
func (m *mockLogger) With(fields ...logger.Field) logger.Logger     { return m }
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger { return m }
func (m *mockLogger) Sync() error                                   { return nil }

// mockProducer 记录发送过的消息.
type mockProducer struct {
	mu       sync.Mutex
	sent     []*Message
	sendErr  error
	closed   bool
	closeErr error
}

func (m *mockProducer) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, msg)
	return msg, nil
}

func (m *mockProducer) SendEnvelope(ctx context.Context, topic string, env *Envelope) (*Message, error) {
	msg := &Message{
		Topic:   topic,
		Key:     []byte(env.Key),
		Value:   env.Payload,
		Headers: env.Headers(),
	}
	return m.SendMessage(ctx, msg)
}

func (m *mockProducer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

func (m *mockProducer) sentMessages() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Message(nil), m.sent...)
}

// mockConsumer 记录 Consume 调用参数.
type mockConsumer struct {
	mu         sync.Mutex
	topics     []string
	handler    MessageHandler
	consumeErr error
	closed     bool
}

func (m *mockConsumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return m.consumeErr
	}
	m.topics = topics
	m.handler = handler
	return nil
}

func (m *mockConsumer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
