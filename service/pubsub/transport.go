package pubsub

import "context"

// Handler 收到一条远端消息：物理频道名 + 原始负载
type Handler func(channel string, payload []byte)

// Transport 跨进程发布订阅通道。实现：redis（默认）、nats。
// Subscribe/Unsubscribe 以物理频道名为粒度；频道到业务类别的解析在上层 Bridge 里。
type Transport interface {
	// SetHandler 必须在第一次 Subscribe 之前调用
	SetHandler(h Handler)
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	// Failed 接收循环不可恢复的失败。进程级致命：由组合根决定退出。
	Failed() <-chan error
	Close() error
}
