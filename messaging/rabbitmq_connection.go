package messaging

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Tsukikage7/eventkit/logger"
)

// rabbitMQConnection RabbitMQ 连接管理器.
//
// 持有单个长期存活的连接；连接断开后按固定恢复间隔自动重连，
// 并通过 ReconnectNotify 通知生产者/消费者重建 channel.
type rabbitMQConnection struct {
	url              string
	conn             *amqp.Connection
	mu               sync.RWMutex
	closed           atomic.Bool
	recoveryInterval time.Duration
	logger           logger.Logger

	notifyClose chan *amqp.Error
	reconnectCh chan struct{}
}

func newRabbitMQConnection(url string, recoveryInterval time.Duration, log logger.Logger) (*rabbitMQConnection, error) {
	if recoveryInterval <= 0 {
		recoveryInterval = 5 * time.Second
	}

	c := &rabbitMQConnection{
		url:              url,
		recoveryInterval: recoveryInterval,
		logger:           log,
		reconnectCh:      make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}

	go c.handleReconnect()

	return c, nil
}

func (c *rabbitMQConnection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.notifyClose = make(chan *amqp.Error, 1)
	c.conn.NotifyClose(c.notifyClose)
	c.mu.Unlock()

	c.log("[Messaging] RabbitMQ 连接已建立")
	return nil
}

// handleReconnect 监听连接断开并按固定间隔重连.
func (c *rabbitMQConnection) handleReconnect() {
	for {
		c.mu.RLock()
		notifyClose := c.notifyClose
		c.mu.RUnlock()

		err, ok := <-notifyClose
		if !ok || c.closed.Load() {
			return
		}

		c.log("[Messaging] RabbitMQ 连接断开: %v, 开始恢复...", err)

		for {
			if c.closed.Load() {
				return
			}

			time.Sleep(c.recoveryInterval)

			if err := c.connect(); err != nil {
				c.log("[Messaging] RabbitMQ 恢复失败: %v", err)
				continue
			}

			c.mu.RLock()
			if !c.closed.Load() {
				select {
				case c.reconnectCh <- struct{}{}:
				default:
				}
			}
			c.mu.RUnlock()
			break
		}
	}
}

// Channel 在当前连接上打开新 channel.
//
// 连接断开期间返回 ErrNotConnected，调用方立即失败而不是排队等待.
func (c *rabbitMQConnection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	if c.conn == nil || c.conn.IsClosed() {
		return nil, ErrNotConnected
	}

	return c.conn.Channel()
}

func (c *rabbitMQConnection) ReconnectNotify() <-chan struct{} {
	return c.reconnectCh
}

func (c *rabbitMQConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 关闭通知通道，让监听重连的 goroutine 退出
	close(c.reconnectCh)

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *rabbitMQConnection) log(format string, args ...any) {
	if c.logger != nil {
		c.logger.Info(fmt.Sprintf(format, args...))
	}
}
