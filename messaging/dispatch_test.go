package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/Tsukikage7/eventkit/logger"
)

func TestDispatcherDispatch(t *testing.T) {
	t.Run("分发到注册的处理器", func(t *testing.T) {
		var handled *Message
		d := NewDispatcher(nil)
		d.Register("ProductCreated", HandlerFunc(func(ctx context.Context, msg *Message) error {
			handled = msg
			return nil
		}))

		msg := &Message{
			Topic:   "ProductCreated",
			Value:   []byte(`{"id":"p-1"}`),
			Headers: map[string]string{HeaderMessageType: "ProductCreated"},
		}
		if err := d.Dispatch(context.Background(), msg); err != nil {
			t.Fatalf("Dispatch 失败: %v", err)
		}
		if handled != msg {
			t.Error("处理器未收到消息")
		}
	})

	t.Run("无处理器", func(t *testing.T) {
		d := NewDispatcher(nil)
		err := d.Dispatch(context.Background(), &Message{
			Headers: map[string]string{HeaderMessageType: "Unknown"},
		})
		if !errors.Is(err, ErrNoHandler) {
			t.Errorf("期望 ErrNoHandler, 实际 %v", err)
		}
	})

	t.Run("nil 消息", func(t *testing.T) {
		d := NewDispatcher(nil)
		if err := d.Dispatch(context.Background(), nil); !errors.Is(err, ErrNilMessage) {
			t.Errorf("期望 ErrNilMessage, 实际 %v", err)
		}
	})

	t.Run("缺少类型头时按主题分发", func(t *testing.T) {
		called := false
		d := NewDispatcher(nil)
		d.Register("OrderPaid", HandlerFunc(func(ctx context.Context, msg *Message) error {
			called = true
			return nil
		}))

		if err := d.Dispatch(context.Background(), &Message{Topic: "OrderPaid"}); err != nil {
			t.Fatalf("Dispatch 失败: %v", err)
		}
		if !called {
			t.Error("处理器未被调用")
		}
	})

	t.Run("处理器错误透传", func(t *testing.T) {
		handleErr := errors.New("业务失败")
		d := NewDispatcher(nil)
		d.Register("Evt", HandlerFunc(func(ctx context.Context, msg *Message) error {
			return handleErr
		}))

		err := d.Dispatch(context.Background(), &Message{Topic: "Evt"})
		if !errors.Is(err, handleErr) {
			t.Errorf("期望透传处理器错误, 实际 %v", err)
		}
	})

	t.Run("关联ID注入上下文", func(t *testing.T) {
		var gotCtx context.Context
		d := NewDispatcher(nil)
		d.Register("Evt", HandlerFunc(func(ctx context.Context, msg *Message) error {
			gotCtx = ctx
			return nil
		}))

		msg := &Message{
			Topic: "Evt",
			Headers: map[string]string{
				HeaderMessageType:   "Evt",
				HeaderCorrelationID: "cid-123",
			},
		}
		if err := d.Dispatch(context.Background(), msg); err != nil {
			t.Fatalf("Dispatch 失败: %v", err)
		}
		if got := gotCtx.Value(logger.CorrelationIDKey); got != "cid-123" {
			t.Errorf("上下文中的关联 ID = %v, 期望 cid-123", got)
		}
	})
}

func TestDispatcherFactory(t *testing.T) {
	t.Run("工厂解析并缓存", func(t *testing.T) {
		factoryCalls := 0
		d := NewDispatcher(func(messageType string) Handler {
			factoryCalls++
			if messageType != "Lazy" {
				return nil
			}
			return HandlerFunc(func(ctx context.Context, msg *Message) error { return nil })
		})

		msg := &Message{Topic: "Lazy"}
		for i := 0; i < 3; i++ {
			if err := d.Dispatch(context.Background(), msg); err != nil {
				t.Fatalf("Dispatch 失败: %v", err)
			}
		}
		if factoryCalls != 1 {
			t.Errorf("工厂调用 %d 次, 期望缓存后只调用 1 次", factoryCalls)
		}
	})

	t.Run("工厂返回 nil", func(t *testing.T) {
		d := NewDispatcher(func(string) Handler { return nil })
		err := d.Dispatch(context.Background(), &Message{Topic: "Nope"})
		if !errors.Is(err, ErrNoHandler) {
			t.Errorf("期望 ErrNoHandler, 实际 %v", err)
		}
	})
}

func TestDispatcherTypes(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register("A", HandlerFunc(func(ctx context.Context, msg *Message) error { return nil }))
	d.Register("B", HandlerFunc(func(ctx context.Context, msg *Message) error { return nil }))

	types := d.Types()
	if len(types) != 2 {
		t.Errorf("Types 返回 %d 个, 期望 2", len(types))
	}
}

func TestTopicAndGroupForType(t *testing.T) {
	if got := TopicForType("ProductCreated"); got != "ProductCreated" {
		t.Errorf("TopicForType = %q", got)
	}
	if got := GroupForType("ProductCreated"); got != "ProductCreated.consumer" {
		t.Errorf("GroupForType = %q", got)
	}
}
