package messaging

import (
	"errors"
	"testing"
)

type testEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestSeal(t *testing.T) {
	t.Run("正常封装", func(t *testing.T) {
		env, err := Seal("p-1", "ProductCreated", &testEvent{ID: "p-1", Name: "键盘"})
		if err != nil {
			t.Fatalf("Seal 失败: %v", err)
		}

		if env.Key != "p-1" {
			t.Errorf("Key = %q, 期望 p-1", env.Key)
		}
		if env.Type != "ProductCreated" {
			t.Errorf("Type = %q, 期望 ProductCreated", env.Type)
		}
		if env.CorrelationID == "" {
			t.Error("CorrelationID 不应为空")
		}
		if env.Timestamp.IsZero() {
			t.Error("Timestamp 不应为零值")
		}

		var decoded testEvent
		if err := env.Decode(&decoded); err != nil {
			t.Fatalf("Decode 失败: %v", err)
		}
		if decoded.ID != "p-1" || decoded.Name != "键盘" {
			t.Errorf("载荷解码不一致: %+v", decoded)
		}
	})

	t.Run("空消息类型", func(t *testing.T) {
		_, err := Seal("k", "", struct{}{})
		if !errors.Is(err, ErrEmptyMessageType) {
			t.Errorf("期望 ErrEmptyMessageType, 实际 %v", err)
		}
	})

	t.Run("载荷无法序列化", func(t *testing.T) {
		_, err := Seal("k", "Bad", make(chan int))
		if !errors.Is(err, ErrEncodePayload) {
			t.Errorf("期望 ErrEncodePayload, 实际 %v", err)
		}
	})

	t.Run("关联ID每次唯一", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			env, err := Seal("k", "Evt", struct{}{})
			if err != nil {
				t.Fatalf("Seal 失败: %v", err)
			}
			if seen[env.CorrelationID] {
				t.Fatalf("关联 ID 重复: %s", env.CorrelationID)
			}
			seen[env.CorrelationID] = true
		}
	})
}

func TestEnvelopeHeaders(t *testing.T) {
	env, err := Seal("k", "OrderPaid", struct{}{})
	if err != nil {
		t.Fatalf("Seal 失败: %v", err)
	}

	headers := env.Headers()
	if headers[HeaderMessageType] != "OrderPaid" {
		t.Errorf("消息类型头 = %q, 期望 OrderPaid", headers[HeaderMessageType])
	}
	if headers[HeaderCorrelationID] != env.CorrelationID {
		t.Errorf("关联 ID 头 = %q, 期望 %q", headers[HeaderCorrelationID], env.CorrelationID)
	}
}

func TestOpenEnvelope(t *testing.T) {
	t.Run("从消息还原", func(t *testing.T) {
		original, err := Seal("p-2", "ProductCreated", &testEvent{ID: "p-2"})
		if err != nil {
			t.Fatalf("Seal 失败: %v", err)
		}

		msg := &Message{
			Topic:   "ProductCreated",
			Key:     []byte(original.Key),
			Value:   original.Payload,
			Headers: original.Headers(),
		}

		env, err := OpenEnvelope(msg)
		if err != nil {
			t.Fatalf("OpenEnvelope 失败: %v", err)
		}
		if env.Type != original.Type {
			t.Errorf("Type = %q, 期望 %q", env.Type, original.Type)
		}
		if env.CorrelationID != original.CorrelationID {
			t.Errorf("CorrelationID = %q, 期望 %q", env.CorrelationID, original.CorrelationID)
		}
		var decoded testEvent
		if err := env.Decode(&decoded); err != nil {
			t.Fatalf("Decode 失败: %v", err)
		}
		if decoded.ID != "p-2" {
			t.Errorf("载荷不一致: %+v", decoded)
		}
	})

	t.Run("nil 消息", func(t *testing.T) {
		_, err := OpenEnvelope(nil)
		if !errors.Is(err, ErrNilMessage) {
			t.Errorf("期望 ErrNilMessage, 实际 %v", err)
		}
	})

	t.Run("缺少类型头", func(t *testing.T) {
		_, err := OpenEnvelope(&Message{Topic: "t", Value: []byte("{}")})
		if !errors.Is(err, ErrEmptyMessageType) {
			t.Errorf("期望 ErrEmptyMessageType, 实际 %v", err)
		}
	})
}
