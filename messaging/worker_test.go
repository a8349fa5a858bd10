package messaging

import (
	"context"
	"errors"
	"testing"
)

func TestNewWorkerValidation(t *testing.T) {
	d := NewDispatcher(nil)

	t.Run("nil 消费者", func(t *testing.T) {
		if _, err := NewWorker(nil, d, "Evt"); err == nil {
			t.Error("期望错误")
		}
	})

	t.Run("nil 分发器", func(t *testing.T) {
		if _, err := NewWorker(&mockConsumer{}, nil, "Evt"); err == nil {
			t.Error("期望错误")
		}
	})

	t.Run("空消息类型", func(t *testing.T) {
		if _, err := NewWorker(&mockConsumer{}, d, ""); !errors.Is(err, ErrEmptyMessageType) {
			t.Errorf("期望 ErrEmptyMessageType, 实际 %v", err)
		}
	})
}

func TestWorkerStartStop(t *testing.T) {
	t.Run("启动订阅推导的主题", func(t *testing.T) {
		consumer := &mockConsumer{}
		d := NewDispatcher(nil)
		d.Register("ProductCreated", HandlerFunc(func(ctx context.Context, msg *Message) error {
			return nil
		}))

		w, err := NewWorker(consumer, d, "ProductCreated", WithWorkerLogger(&mockLogger{}))
		if err != nil {
			t.Fatalf("NewWorker 失败: %v", err)
		}

		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start 失败: %v", err)
		}

		if len(consumer.topics) != 1 || consumer.topics[0] != "ProductCreated" {
			t.Errorf("订阅主题 = %v, 期望 [ProductCreated]", consumer.topics)
		}
		if consumer.handler == nil {
			t.Error("消费者应收到分发器的处理函数")
		}

		if err := w.Stop(); err != nil {
			t.Fatalf("Stop 失败: %v", err)
		}
		if !consumer.closed {
			t.Error("Stop 应关闭底层消费者")
		}
	})

	t.Run("重复启动", func(t *testing.T) {
		w, err := NewWorker(&mockConsumer{}, NewDispatcher(nil), "Evt")
		if err != nil {
			t.Fatalf("NewWorker 失败: %v", err)
		}

		if err := w.Start(context.Background()); err != nil {
			t.Fatalf("Start 失败: %v", err)
		}
		if err := w.Start(context.Background()); !errors.Is(err, ErrWorkerStarted) {
			t.Errorf("期望 ErrWorkerStarted, 实际 %v", err)
		}
	})

	t.Run("消费失败时可重新启动", func(t *testing.T) {
		consumer := &mockConsumer{consumeErr: ErrNoTopics}
		w, err := NewWorker(consumer, NewDispatcher(nil), "Evt")
		if err != nil {
			t.Fatalf("NewWorker 失败: %v", err)
		}

		if err := w.Start(context.Background()); err == nil {
			t.Fatal("期望启动失败")
		}

		consumer.consumeErr = nil
		if err := w.Start(context.Background()); err != nil {
			t.Errorf("清除错误后应能启动, 实际 %v", err)
		}
	})

	t.Run("未启动时停止", func(t *testing.T) {
		w, err := NewWorker(&mockConsumer{}, NewDispatcher(nil), "Evt")
		if err != nil {
			t.Fatalf("NewWorker 失败: %v", err)
		}
		if err := w.Stop(); err != nil {
			t.Errorf("未启动的 Stop 应为空操作, 实际 %v", err)
		}
	})
}

func TestWorkerDispatchFlow(t *testing.T) {
	// 端到端：工作者把消息从消费者送到注册的处理器
	consumer := &mockConsumer{}
	var handled *Message
	d := NewDispatcher(nil)
	d.Register("OrderPaid", HandlerFunc(func(ctx context.Context, msg *Message) error {
		handled = msg
		return nil
	}))

	w, err := NewWorker(consumer, d, "OrderPaid")
	if err != nil {
		t.Fatalf("NewWorker 失败: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer w.Stop()

	msg := &Message{
		Topic:   "OrderPaid",
		Value:   []byte(`{"order":"o-1"}`),
		Headers: map[string]string{HeaderMessageType: "OrderPaid"},
	}
	if err := consumer.handler(context.Background(), msg); err != nil {
		t.Fatalf("分发失败: %v", err)
	}
	if handled != msg {
		t.Error("处理器未收到消息")
	}
}
