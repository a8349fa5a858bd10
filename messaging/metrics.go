package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// messagingMetrics 消息队列指标记录器.
//
// 指标注册到传入的 Registerer，通常是 prometheus.DefaultRegisterer.
type messagingMetrics struct {
	sent          *prometheus.CounterVec
	sendErrors    *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	consumed      *prometheus.CounterVec
	consumeErrors *prometheus.CounterVec
	redeliveries  *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
}

// newMessagingMetrics 创建消息队列指标记录器.
func newMessagingMetrics(reg prometheus.Registerer) *messagingMetrics {
	factory := promauto.With(reg)
	return &messagingMetrics{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "发送成功的消息总数",
		}, []string{"topic"}),
		sendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_send_errors_total",
			Help: "发送失败的消息总数",
		}, []string{"topic"}),
		sendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "messaging_send_duration_seconds",
			Help:    "发送耗时（含 broker 确认）",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_messages_consumed_total",
			Help: "处理成功并确认的消息总数",
		}, []string{"topic", "group"}),
		consumeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_consume_errors_total",
			Help: "处理失败的消息总数",
		}, []string{"topic", "group"}),
		redeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_redeliveries_total",
			Help: "重投的消息总数",
		}, []string{"topic"}),
		deadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_dead_lettered_total",
			Help: "路由到死信队列的消息总数",
		}, []string{"topic"}),
	}
}

// RecordSend 记录消息发送.
func (m *messagingMetrics) RecordSend(topic string, latency time.Duration) {
	m.sent.WithLabelValues(topic).Inc()
	m.sendDuration.WithLabelValues(topic).Observe(latency.Seconds())
}

// RecordSendError 记录发送错误.
func (m *messagingMetrics) RecordSendError(topic string) {
	m.sendErrors.WithLabelValues(topic).Inc()
}

// RecordConsume 记录消息消费.
func (m *messagingMetrics) RecordConsume(topic, groupID string) {
	m.consumed.WithLabelValues(topic, groupID).Inc()
}

// RecordConsumeError 记录消费错误.
func (m *messagingMetrics) RecordConsumeError(topic, groupID string) {
	m.consumeErrors.WithLabelValues(topic, groupID).Inc()
}

// RecordRedelivery 记录重投.
func (m *messagingMetrics) RecordRedelivery(topic string) {
	m.redeliveries.WithLabelValues(topic).Inc()
}

// RecordDeadLetter 记录死信队列消息.
func (m *messagingMetrics) RecordDeadLetter(topic string) {
	m.deadLettered.WithLabelValues(topic).Inc()
}
