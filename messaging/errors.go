package messaging

import "errors"

// 预定义错误.
//
// 所有错误均可通过 errors.Is 进行判断:
//
//	if errors.Is(err, messaging.ErrProduce) {
//	    // 处理发布失败的情况
//	}
var (
	// ErrUnsupportedType 不支持的消息队列类型.
	ErrUnsupportedType = errors.New("messaging: 不支持的消息队列类型")

	// ErrInvalidConfig 配置无效.
	ErrInvalidConfig = errors.New("messaging: 配置无效")

	// ErrNoBrokers 未配置服务器地址.
	ErrNoBrokers = errors.New("messaging: 未配置服务器地址")

	// ErrCreateProducer 创建生产者失败.
	ErrCreateProducer = errors.New("messaging: 创建生产者失败")

	// ErrCreateConsumer 创建消费者失败.
	ErrCreateConsumer = errors.New("messaging: 创建消费者失败")

	// ErrCreateClient 创建客户端失败.
	ErrCreateClient = errors.New("messaging: 创建客户端失败")

	// ErrClientClosed 客户端已关闭.
	ErrClientClosed = errors.New("messaging: 客户端已关闭")

	// ErrProducerClosed 生产者已关闭.
	ErrProducerClosed = errors.New("messaging: 生产者已关闭")

	// ErrConsumerClosed 消费者已关闭.
	ErrConsumerClosed = errors.New("messaging: 消费者已关闭")

	// ErrNilMessage 消息为空.
	ErrNilMessage = errors.New("messaging: 消息为空")

	// ErrEmptyTopic 消息主题为空.
	ErrEmptyTopic = errors.New("messaging: 消息主题为空")

	// ErrEmptyMessageType 消息类型为空.
	ErrEmptyMessageType = errors.New("messaging: 消息类型为空")

	// ErrEmptyGroupID 消费者组ID为空.
	ErrEmptyGroupID = errors.New("messaging: 消费者组ID为空")

	// ErrNoTopics 未指定消费主题.
	ErrNoTopics = errors.New("messaging: 未指定消费主题")

	// ErrNilHandler 消息处理器为空.
	ErrNilHandler = errors.New("messaging: 消息处理器为空")

	// ErrNoHandler 未注册该消息类型的处理器.
	ErrNoHandler = errors.New("messaging: 未注册该消息类型的处理器")

	// ErrProduce 发布失败，附带 broker 报告的原因.
	ErrProduce = errors.New("messaging: 发布失败")

	// ErrConfirmTimeout 等待发布确认超时.
	ErrConfirmTimeout = errors.New("messaging: 等待发布确认超时")

	// ErrPublishRejected broker 否定确认了发布.
	ErrPublishRejected = errors.New("messaging: 发布被 broker 拒绝")

	// ErrNotConnected 连接断开期间发布立即失败，不在内存中排队.
	ErrNotConnected = errors.New("messaging: 连接已断开")

	// ErrConsume 接收消息时发生传输层错误.
	ErrConsume = errors.New("messaging: 消费失败")

	// ErrRedeliveryExhausted 消息重投次数耗尽.
	ErrRedeliveryExhausted = errors.New("messaging: 消息重投次数耗尽")

	// ErrEncodePayload 载荷序列化失败.
	ErrEncodePayload = errors.New("messaging: 载荷序列化失败")

	// ErrDecodePayload 载荷反序列化失败.
	ErrDecodePayload = errors.New("messaging: 载荷反序列化失败")

	// ErrWorkerStarted 工作者已启动.
	ErrWorkerStarted = errors.New("messaging: 工作者已启动")
)
