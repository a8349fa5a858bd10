// Package ratelimit 提供按客户端的固定窗口限流.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 限流器接口.
//
// Allow 检查指定客户端的请求是否允许通过.
// 返回 false 时附带建议的重试等待时长（当前窗口的剩余时间）.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, time.Duration)
}

// clientWindow 单个客户端的窗口状态.
//
// 每条记录持有自己的锁，热路径上不同客户端互不阻塞.
type clientWindow struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// ClientLimiter 按客户端的固定窗口限流器.
//
// 将时间划分为固定窗口，每个窗口内每个客户端限制请求数.
// 窗口按首次请求对齐，到期后在下一次请求时重置（惰性重置），
// 窗口边界的突发会被接受，这是固定窗口算法的已知取舍.
//
// 状态完全由实例持有，没有包级共享；不同实例各自独立计数.
type ClientLimiter struct {
	ceiling int
	window  time.Duration

	mu      sync.RWMutex
	clients map[string]*clientWindow
}

// NewClientLimiter 创建按客户端的固定窗口限流器.
//
// ceiling: 窗口内每个客户端允许的最大请求数
// window: 窗口大小
func NewClientLimiter(ceiling int, window time.Duration) (*ClientLimiter, error) {
	if ceiling <= 0 {
		return nil, ErrInvalidConfig
	}
	if window <= 0 {
		return nil, ErrInvalidConfig
	}

	return &ClientLimiter{
		ceiling: ceiling,
		window:  window,
		clients: make(map[string]*clientWindow),
	}, nil
}

// Allow 检查客户端的请求是否允许通过.
//
// 窗口过期时重置计数，计数达到上限后拒绝并返回窗口剩余时间.
// 外层锁只用于查找/创建记录，计数在记录自己的锁下进行.
func (l *ClientLimiter) Allow(_ context.Context, clientID string) (bool, time.Duration) {
	record := l.record(clientID)

	record.mu.Lock()
	defer record.mu.Unlock()

	now := time.Now()
	if now.Sub(record.windowStart) >= l.window {
		record.windowStart = now
		record.count = 0
	}

	if record.count >= l.ceiling {
		retryAfter := l.window - now.Sub(record.windowStart)
		return false, retryAfter
	}

	record.count++
	return true, 0
}

// record 查找或创建客户端记录.
func (l *ClientLimiter) record(clientID string) *clientWindow {
	l.mu.RLock()
	record := l.clients[clientID]
	l.mu.RUnlock()

	if record != nil {
		return record
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if record = l.clients[clientID]; record == nil {
		record = &clientWindow{}
		l.clients[clientID] = record
	}
	return record
}

// Len 返回当前跟踪的客户端数量.
func (l *ClientLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

// Prune 清理窗口已过期的客户端记录，返回清理数量.
//
// 限流器不会自动清理，长期运行的服务可以定期调用.
func (l *ClientLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	pruned := 0
	for clientID, record := range l.clients {
		record.mu.Lock()
		expired := now.Sub(record.windowStart) >= l.window
		record.mu.Unlock()
		if expired {
			delete(l.clients, clientID)
			pruned++
		}
	}
	return pruned
}
