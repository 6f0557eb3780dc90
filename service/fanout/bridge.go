package fanout

import (
	"context"
	"sync"

	"PulseChat/logger"
	"PulseChat/service/pubsub"
)

// Publisher 业务侧发布面（客户端处理器和 REST 层都用它）
type Publisher interface {
	Publish(ctx context.Context, category Category, key int64, env *Envelope) error
}

// Broadcaster 远端处理器对 Registry 的依赖面
type Broadcaster interface {
	BroadcastToChat(ctx context.Context, chatID int64, payload []byte, skip map[int64]struct{})
	BroadcastToUser(ctx context.Context, userID int64, payload []byte)
	AddUserChatRelation(ctx context.Context, chatID, userID int64)
	RemoveUserChatRelation(ctx context.Context, chatID, userID int64)
}

// Bridge 跨进程发布订阅的桥：持有 Transport 和已订阅频道集合，
// 入站消息解码后查远端分发表、转给本地 Registry。
// 订阅与否只记"有没有"，引用计数的决策在调用方（Registry）。
type Bridge struct {
	transport pubsub.Transport

	mu       sync.Mutex
	channels map[string]struct{}

	registry Broadcaster
	handlers map[Type]RemoteHandler
}

func NewBridge(t pubsub.Transport) *Bridge {
	b := &Bridge{
		transport: t,
		channels:  make(map[string]struct{}),
		handlers:  RemoteHandlers(),
	}
	t.SetHandler(b.onMessage)
	return b
}

// SetRegistry 组合根注入
func (b *Bridge) SetRegistry(reg Broadcaster) { b.registry = reg }

// Failed 透传 transport 的进程级失败
func (b *Bridge) Failed() <-chan error { return b.transport.Failed() }

// resolveChannel (category, key) -> 物理频道名。
// 当前按类别共享一个频道（"chat"/"user"），本地 map 负责过滤；
// 换成 per-id 频道只需要改这里和 categoryOf。
func resolveChannel(category Category, _ int64) (string, bool) {
	switch category {
	case CategoryChat:
		return "chat", true
	case CategoryUser:
		return "user", true
	}
	return "", false
}

func categoryOf(channel string) (Category, bool) {
	switch channel {
	case "chat":
		return CategoryChat, true
	case "user":
		return CategoryUser, true
	}
	return "", false
}

// Subscribe 幂等：已订阅的频道直接返回
func (b *Bridge) Subscribe(ctx context.Context, category Category, key int64) error {
	channel, ok := resolveChannel(category, key)
	if !ok {
		logger.Errorf("bridge: cannot resolve channel for %s/%d", category, key)
		return nil
	}
	b.mu.Lock()
	if _, subscribed := b.channels[channel]; subscribed {
		b.mu.Unlock()
		return nil
	}
	b.channels[channel] = struct{}{}
	b.mu.Unlock()

	if err := b.transport.Subscribe(ctx, channel); err != nil {
		b.mu.Lock()
		delete(b.channels, channel)
		b.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe 对未订阅的频道只记错误日志，不致命
func (b *Bridge) Unsubscribe(ctx context.Context, category Category, key int64) error {
	channel, ok := resolveChannel(category, key)
	if !ok {
		logger.Errorf("bridge: cannot resolve channel for %s/%d", category, key)
		return nil
	}
	b.mu.Lock()
	if _, subscribed := b.channels[channel]; !subscribed {
		b.mu.Unlock()
		logger.Errorf("bridge: attempted to unsubscribe %s but it is not subscribed", channel)
		return nil
	}
	delete(b.channels, channel)
	b.mu.Unlock()

	return b.transport.Unsubscribe(ctx, channel)
}

// Publish 无条件发布：别的进程可能在听。本地没人订阅时留一条日志。
func (b *Bridge) Publish(ctx context.Context, category Category, key int64, env *Envelope) error {
	channel, ok := resolveChannel(category, key)
	if !ok {
		logger.Errorf("bridge: cannot resolve channel for %s/%d", category, key)
		return nil
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	if err := b.transport.Publish(ctx, channel, payload); err != nil {
		return err
	}
	b.mu.Lock()
	_, subscribed := b.channels[channel]
	b.mu.Unlock()
	if !subscribed {
		logger.Warnf("bridge: published %s on %s, but not subscribed to it", env.Type, channel)
	}
	return nil
}

// onMessage 接收循环入口：坏负载记日志丢弃，绝不影响后续消息
func (b *Bridge) onMessage(channel string, payload []byte) {
	category, ok := categoryOf(channel)
	if !ok {
		logger.Errorf("bridge: message on unknown channel %q, dropping", channel)
		return
	}
	if b.registry == nil {
		logger.Errorf("bridge: message arrived but no registry is set, dropping")
		return
	}
	env, err := ParseEnvelope(payload)
	if err != nil {
		logger.Errorf("bridge: bad payload on %s: %v", channel, err)
		return
	}
	h, ok := b.handlers[env.Type]
	if !ok {
		logger.Errorf("bridge: no remote handler for %s, dropping", env.Type)
		return
	}
	h(context.Background(), b.registry, category, env)
}
