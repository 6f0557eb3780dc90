package pubsub

import (
	"context"
	"sync"
	"time"

	"PulseChat/global/config"
	"PulseChat/logger"
	"PulseChat/tools/safe"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisTransport 一个 *redis.PubSub 承载全部订阅，单 goroutine 收消息
type RedisTransport struct {
	client *redis.Client
	ps     *redis.PubSub

	mu      sync.Mutex
	handler Handler
	running bool

	failed   chan error
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRedisTransport(ctx context.Context, cfg config.RedisConfig) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	t := &RedisTransport{
		client: client,
		// 不带初始频道的订阅对象；频道随 Subscribe 动态加入
		ps:     client.Subscribe(context.Background()),
		failed: make(chan error, 1),
		stopCh: make(chan struct{}),
	}
	return t, nil
}

func (t *RedisTransport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) error {
	if err := t.ps.Subscribe(ctx, channel); err != nil {
		return errors.Wrapf(err, "redis subscribe %s", channel)
	}
	t.mu.Lock()
	if !t.running {
		t.running = true
		safe.Go(t.receiveLoop)
	}
	t.mu.Unlock()
	return nil
}

func (t *RedisTransport) Unsubscribe(ctx context.Context, channel string) error {
	if err := t.ps.Unsubscribe(ctx, channel); err != nil {
		return errors.Wrapf(err, "redis unsubscribe %s", channel)
	}
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "redis publish %s", channel)
	}
	return nil
}

func (t *RedisTransport) Failed() <-chan error { return t.failed }

func (t *RedisTransport) receiveLoop() {
	ch := t.ps.Channel()
	for {
		select {
		case <-t.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				select {
				case t.failed <- errors.New("redis pubsub receive channel closed"):
				default:
				}
				return
			}
			t.mu.Lock()
			h := t.handler
			t.mu.Unlock()
			if h == nil {
				logger.Errorf("redis transport: message on %s but no handler is set, dropping", msg.Channel)
				continue
			}
			h(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (t *RedisTransport) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	if err := t.ps.Close(); err != nil {
		return err
	}
	return t.client.Close()
}
