package pubsub

import (
	"context"
	"strings"
	"sync"
	"time"

	"PulseChat/global/config"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsTransport 每个频道一个 *nats.Subscription，回调由 NATS 客户端驱动
type NatsTransport struct {
	nc *nats.Conn

	mu      sync.Mutex
	handler Handler
	subs    map[string]*nats.Subscription

	failed chan error
}

func NewNatsTransport(cfg config.NatsConfig) (*NatsTransport, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	t := &NatsTransport{
		subs:   make(map[string]*nats.Subscription),
		failed: make(chan error, 1),
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.ClosedHandler(func(_ *nats.Conn) {
			select {
			case t.failed <- errors.New("nats connection closed"):
			default:
			}
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	t.nc = nc
	return t, nil
}

func (t *NatsTransport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *NatsTransport) Subscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[channel]; ok {
		return nil
	}
	sub, err := t.nc.Subscribe(channel, func(msg *nats.Msg) {
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(msg.Subject, msg.Data)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "nats subscribe %s", channel)
	}
	t.subs[channel] = sub
	return nil
}

func (t *NatsTransport) Unsubscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[channel]
	if !ok {
		return nil
	}
	delete(t.subs, channel)
	if err := sub.Unsubscribe(); err != nil {
		return errors.Wrapf(err, "nats unsubscribe %s", channel)
	}
	return nil
}

func (t *NatsTransport) Publish(_ context.Context, channel string, payload []byte) error {
	if err := t.nc.Publish(channel, payload); err != nil {
		return errors.Wrapf(err, "nats publish %s", channel)
	}
	return nil
}

func (t *NatsTransport) Failed() <-chan error { return t.failed }

func (t *NatsTransport) Close() error {
	t.mu.Lock()
	for ch, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, ch)
	}
	t.mu.Unlock()
	return t.nc.Drain()
}
