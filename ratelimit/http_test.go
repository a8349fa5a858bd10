package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// stubLimiter 固定返回预设结果的限流器.
type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
	lastClient string
}

func (s *stubLimiter) Allow(_ context.Context, clientID string) (bool, time.Duration) {
	s.lastClient = clientID
	return s.allow, s.retryAfter
}

func TestMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("放行的请求转发下游", func(t *testing.T) {
		limiter := &stubLimiter{allow: true}
		handler := Middleware(limiter)(okHandler)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("状态码 = %d, 期望 200", rec.Code)
		}
	})

	t.Run("被限流返回 429 且不转发", func(t *testing.T) {
		forwarded := false
		limiter := &stubLimiter{allow: false, retryAfter: 30 * time.Second}
		handler := Middleware(limiter, WithMiddlewareLogger(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			forwarded = true
		}))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/products", nil)
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("状态码 = %d, 期望 429", rec.Code)
		}
		if forwarded {
			t.Error("被限流的请求不应转发给下游")
		}
		if got := rec.Header().Get("Retry-After"); got != "30" {
			t.Errorf("Retry-After = %q, 期望 30", got)
		}
	})

	t.Run("Retry-After 向上取整", func(t *testing.T) {
		limiter := &stubLimiter{allow: false, retryAfter: 1500 * time.Millisecond}
		handler := Middleware(limiter)(okHandler)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if got := rec.Header().Get("Retry-After"); got != "2" {
			t.Errorf("Retry-After = %q, 期望 2", got)
		}
	})

	t.Run("端到端固定窗口", func(t *testing.T) {
		l, err := NewClientLimiter(3, time.Minute)
		if err != nil {
			t.Fatalf("NewClientLimiter 失败: %v", err)
		}
		handler := Middleware(l)(okHandler)

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-API-Key", "key-1")
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("第 %d 个请求状态码 = %d, 期望 200", i+1, rec.Code)
			}
		}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "key-1")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("超限请求状态码 = %d, 期望 429", rec.Code)
		}
		if seconds, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || seconds < 1 || seconds > 60 {
			t.Errorf("Retry-After = %q, 应为 1..60 的秒数", rec.Header().Get("Retry-After"))
		}

		// 其他客户端不受影响
		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "key-2")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("其他客户端状态码 = %d, 期望 200", rec.Code)
		}
	})
}

func TestClientIdentity(t *testing.T) {
	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:52311"
		return req
	}

	t.Run("API Key 优先", func(t *testing.T) {
		req := newReq()
		req.Header.Set("X-API-Key", "key-1")
		req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
		req.Header.Set("X-Real-IP", "198.51.100.2")

		if got := ClientIdentity(req); got != "key-1" {
			t.Errorf("ClientIdentity = %q, 期望 key-1", got)
		}
	})

	t.Run("XFF 取第一跳", func(t *testing.T) {
		req := newReq()
		req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1, 10.0.0.2")
		req.Header.Set("X-Real-IP", "198.51.100.2")

		if got := ClientIdentity(req); got != "198.51.100.1" {
			t.Errorf("ClientIdentity = %q, 期望 198.51.100.1", got)
		}
	})

	t.Run("XFF 单跳", func(t *testing.T) {
		req := newReq()
		req.Header.Set("X-Forwarded-For", "198.51.100.1")

		if got := ClientIdentity(req); got != "198.51.100.1" {
			t.Errorf("ClientIdentity = %q, 期望 198.51.100.1", got)
		}
	})

	t.Run("X-Real-IP 次之", func(t *testing.T) {
		req := newReq()
		req.Header.Set("X-Real-IP", "198.51.100.2")

		if got := ClientIdentity(req); got != "198.51.100.2" {
			t.Errorf("ClientIdentity = %q, 期望 198.51.100.2", got)
		}
	})

	t.Run("RemoteAddr 去端口兜底", func(t *testing.T) {
		if got := ClientIdentity(newReq()); got != "203.0.113.7" {
			t.Errorf("ClientIdentity = %q, 期望 203.0.113.7", got)
		}
	})
}
