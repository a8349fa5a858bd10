package messaging

import (
	"context"
	"sync/atomic"

	"github.com/Tsukikage7/eventkit/logger"
)

// Worker 把一个消费者和一个分发器绑定到一个消息类型.
//
// 每个消息类型对应一个独立的工作者：订阅 TopicForType 推导出的
// 主题，把收到的消息交给分发器处理。工作者之间互不影响，单个
// 工作者的失败不会波及其他类型的消费.
//
// 用法:
//
//	worker, _ := messaging.NewWorker(consumer, dispatcher, "ProductCreated",
//		messaging.WithWorkerLogger(log))
//	worker.Start(ctx)
//	defer worker.Stop()
type Worker struct {
	consumer    Consumer
	dispatcher  *Dispatcher
	messageType string
	logger      logger.Logger

	started atomic.Bool
	cancel  context.CancelFunc
}

// WorkerOption 工作者配置选项.
type WorkerOption func(*Worker)

// WithWorkerLogger 设置日志记录器.
func WithWorkerLogger(log logger.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = log
	}
}

// NewWorker 创建绑定到单个消息类型的工作者.
func NewWorker(consumer Consumer, dispatcher *Dispatcher, messageType string, opts ...WorkerOption) (*Worker, error) {
	if consumer == nil {
		return nil, ErrCreateConsumer
	}
	if dispatcher == nil {
		return nil, ErrNilHandler
	}
	if messageType == "" {
		return nil, ErrEmptyMessageType
	}

	w := &Worker{
		consumer:    consumer,
		dispatcher:  dispatcher,
		messageType: messageType,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start 开始消费该类型的消息.
//
// 重复调用返回 ErrWorkerStarted。消费在后台进行，该方法立即返回.
func (w *Worker) Start(ctx context.Context) error {
	if w.started.Swap(true) {
		return ErrWorkerStarted
	}

	ctx, w.cancel = context.WithCancel(ctx)

	topic := TopicForType(w.messageType)
	if err := w.consumer.Consume(ctx, []string{topic}, w.dispatcher.Dispatch); err != nil {
		w.started.Store(false)
		w.cancel()
		return err
	}

	if w.logger != nil {
		w.logger.With(
			logger.String("type", w.messageType),
			logger.String("topic", topic),
		).Info("[Messaging] 工作者启动")
	}

	return nil
}

// Stop 停止消费并关闭底层消费者.
//
// 处理中的消息完成当前这条后停止；未确认的消息留待重启后重投.
func (w *Worker) Stop() error {
	if !w.started.Swap(false) {
		return nil
	}

	if w.cancel != nil {
		w.cancel()
	}

	err := w.consumer.Close()

	if w.logger != nil {
		w.logger.With(logger.String("type", w.messageType)).Info("[Messaging] 工作者停止")
	}

	return err
}
