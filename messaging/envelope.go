package messaging

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// 传输层消息头名称.
//
// 关联元数据通过消息头传输而不是嵌入 JSON 载荷，
// 消费者无需反序列化即可完成分发.
const (
	// HeaderMessageType 消息类型头.
	HeaderMessageType = "message-type"

	// HeaderCorrelationID 关联 ID 头.
	HeaderCorrelationID = "correlation-id"
)

// Envelope 事件信封，消息的线上传输单元.
//
// 发布时创建，之后不可变。每次逻辑发布的 CorrelationID 唯一，
// Key 决定分区 / 路由亲和性（broker 支持时）.
//
// 示例:
//
//	env, err := messaging.Seal("p-1", "ProductCreated", product)
//	if err != nil {
//	    return err
//	}
//	receipt, err := producer.SendEnvelope(ctx, "ProductCreated", env)
type Envelope struct {
	// Key 路由键.
	// 为空时生产者会生成随机键，该消息放弃顺序保证.
	Key string `json:"key"`

	// Payload JSON 编码的事件载荷.
	Payload []byte `json:"payload"`

	// Type 消息类型标识，用于消费端分发.
	Type string `json:"type"`

	// CorrelationID 关联 ID（UUID），每次发布唯一.
	CorrelationID string `json:"correlation_id"`

	// Timestamp 信封创建时间.
	Timestamp time.Time `json:"timestamp"`
}

// Seal 将事件载荷封装为信封.
//
// 序列化 value 为 JSON 并生成新的关联 ID.
func Seal(key, messageType string, value any) (*Envelope, error) {
	if messageType == "" {
		return nil, ErrEmptyMessageType
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Join(ErrEncodePayload, err)
	}

	return &Envelope{
		Key:           key,
		Payload:       payload,
		Type:          messageType,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now(),
	}, nil
}

// Headers 返回信封的传输层消息头.
func (e *Envelope) Headers() map[string]string {
	return map[string]string{
		HeaderMessageType:   e.Type,
		HeaderCorrelationID: e.CorrelationID,
	}
}

// Decode 将载荷反序列化到 v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Join(ErrDecodePayload, err)
	}
	return nil
}

// OpenEnvelope 从接收到的消息还原信封.
//
// 类型和关联 ID 从消息头提取，不触碰载荷本身.
func OpenEnvelope(msg *Message) (*Envelope, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	messageType := msg.Headers[HeaderMessageType]
	if messageType == "" {
		return nil, ErrEmptyMessageType
	}

	return &Envelope{
		Key:           string(msg.Key),
		Payload:       msg.Value,
		Type:          messageType,
		CorrelationID: msg.Headers[HeaderCorrelationID],
		Timestamp:     msg.Timestamp,
	}, nil
}
