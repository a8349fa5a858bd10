package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Tsukikage7/eventkit/logger"
)

// IdentityFunc 从 HTTP 请求中提取限流客户端标识.
type IdentityFunc func(r *http.Request) string

// MiddlewareOption 中间件配置选项.
type MiddlewareOption func(*middlewareOptions)

type middlewareOptions struct {
	identity IdentityFunc
	logger   logger.Logger
}

// WithIdentityFunc 自定义客户端标识提取函数.
func WithIdentityFunc(fn IdentityFunc) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.identity = fn
	}
}

// WithMiddlewareLogger 设置日志记录器.
func WithMiddlewareLogger(log logger.Logger) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.logger = log
	}
}

// Middleware 创建按客户端限流的 HTTP 中间件.
//
// 被限流的请求返回 429 Too Many Requests，附带 Retry-After 响应头
// （秒，向上取整），请求不会转发给下游处理器.
//
// 默认客户端标识提取优先级:
//  1. X-API-Key header
//  2. X-Forwarded-For header（第一跳）
//  3. X-Real-IP header
//  4. RemoteAddr（去端口）
func Middleware(limiter Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := &middlewareOptions{identity: ClientIdentity}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := o.identity(r)

			ok, retryAfter := limiter.Allow(r.Context(), clientID)
			if !ok {
				seconds := int(retryAfter / time.Second)
				if retryAfter%time.Second > 0 {
					seconds++
				}
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))

				if o.logger != nil {
					o.logger.With(
						logger.String("clientID", clientID),
						logger.String("path", r.URL.Path),
						logger.Duration("retryAfter", retryAfter),
					).Warn("[RateLimit] 请求被限流")
				}

				http.Error(w, "请求过于频繁，请稍后重试", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIdentity 默认的客户端标识提取.
//
// API Key 优先于网络地址；X-Forwarded-For 只取第一跳.
func ClientIdentity(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
