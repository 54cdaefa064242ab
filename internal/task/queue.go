package task

import (
	"context"
)

// Handler 处理从队列取出的一条消息。消息至多投递一次，
// 无论 handler 返回什么，队列都会确认该消息。
type Handler func(ctx context.Context, payload string) error

// Producer 负责发布任务消息。
type Producer interface {
	Publish(ctx context.Context, payload string) error
	Close() error
}

// Consumer 以 workerCount 个协程把消息交给 handler。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产与消费能力。
type Queue interface {
	Producer
	Consumer
}
