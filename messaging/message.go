package messaging

import "time"

// Message 消息结构.
//
// 用于生产者发送和消费者接收消息.
// Key 和 Value 均为 []byte 类型，序列化由调用方控制（通常通过 Envelope）.
type Message struct {
	// Topic 消息主题，必填.
	Topic string

	// Key 消息键，用于分区路由.
	// 相同 Key 的消息会路由到同一分区，保证顺序性.
	Key []byte

	// Value 消息内容（JSON 编码的事件载荷）.
	Value []byte

	// Headers 消息头，承载 message-type、correlation-id 等元数据.
	Headers map[string]string

	// Partition 分区号（Kafka）.
	// 发送后由服务端返回填充.
	Partition int32

	// Offset 消息偏移量（Kafka 的投递位点）.
	// 发送后由服务端返回填充.
	Offset int64

	// DeliveryTag 投递标签（RabbitMQ），投递时由 channel 分配.
	// 每个标签只能被确认或拒绝一次.
	DeliveryTag uint64

	// Timestamp 消息时间戳.
	Timestamp time.Time
}
