package fanout

import (
	"context"
	"sync"

	"PulseChat/module/chat/model"
	"PulseChat/service/pubsub"

	"github.com/pkg/errors"
)

// ---- 测试替身 ----

type fakeConn struct {
	mu       sync.Mutex
	received [][]byte
	fail     bool
	closed   bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

type subCall struct {
	category Category
	key      int64
}

// fakeSubscriber 记录 Registry 触发的订阅决策
type fakeSubscriber struct {
	mu     sync.Mutex
	subs   []subCall
	unsubs []subCall
}

func (f *fakeSubscriber) Subscribe(_ context.Context, category Category, key int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, subCall{category, key})
	return nil
}

func (f *fakeSubscriber) Unsubscribe(_ context.Context, category Category, key int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, subCall{category, key})
	return nil
}

// fakeTransport 进程内的 Transport：记录发布、可手工注入入站消息
type fakeTransport struct {
	mu         sync.Mutex
	handler    pubsub.Handler
	subscribed map[string]int // channel -> transport 层收到的 Subscribe 次数
	published  []publishedMsg
	failed     chan error
}

var _ pubsub.Transport = (*fakeTransport)(nil)

type publishedMsg struct {
	channel string
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscribed: make(map[string]int),
		failed:     make(chan error, 1),
	}
}

func (t *fakeTransport) SetHandler(h pubsub.Handler) {
	t.handler = h
}

func (t *fakeTransport) Subscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribed[channel]++
	return nil
}

func (t *fakeTransport) Unsubscribe(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribed[channel]--
	return nil
}

func (t *fakeTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, publishedMsg{channel, payload})
	return nil
}

func (t *fakeTransport) Failed() <-chan error { return t.failed }
func (t *fakeTransport) Close() error         { return nil }

// inject 模拟一条远端到达的消息
func (t *fakeTransport) inject(channel string, payload []byte) {
	t.handler(channel, payload)
}

func (t *fakeTransport) byType(tag Type) []publishedMsg {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []publishedMsg
	for _, p := range t.published {
		env, err := ParseEnvelope(p.payload)
		if err == nil && env.Type == tag {
			out = append(out, p)
		}
	}
	return out
}

// fakeBroadcaster 记录远端分发表对 Registry 的调用
type fakeBroadcaster struct {
	chatBroadcasts []struct {
		chatID int64
		skip   map[int64]struct{}
	}
	userBroadcasts []int64
	added          []subCall // category 字段借用：恒为 CategoryChat
	removed        []subCall
}

func (f *fakeBroadcaster) BroadcastToChat(_ context.Context, chatID int64, _ []byte, skip map[int64]struct{}) {
	f.chatBroadcasts = append(f.chatBroadcasts, struct {
		chatID int64
		skip   map[int64]struct{}
	}{chatID, skip})
}

func (f *fakeBroadcaster) BroadcastToUser(_ context.Context, userID int64, _ []byte) {
	f.userBroadcasts = append(f.userBroadcasts, userID)
}

func (f *fakeBroadcaster) AddUserChatRelation(_ context.Context, chatID, userID int64) {
	f.added = append(f.added, subCall{CategoryChat, chatID*1000 + userID})
}

func (f *fakeBroadcaster) RemoveUserChatRelation(_ context.Context, chatID, userID int64) {
	f.removed = append(f.removed, subCall{CategoryChat, chatID*1000 + userID})
}

// fakeStorage 内存版存储协作方：读己之写
type fakeStorage struct {
	mu       sync.Mutex
	nextID   int64
	messages []model.Message
	// (chatID, userID) -> last_read_message_id
	progress map[[2]int64]int64
}

func newFakeStorage(nextID int64) *fakeStorage {
	return &fakeStorage{nextID: nextID, progress: make(map[[2]int64]int64)}
}

func (s *fakeStorage) CreateMessage(_ context.Context, chatID, userID int64, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := model.Message{ID: s.nextID, ChatID: chatID, UserID: userID, Content: content}
	s.nextID++
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeStorage) UpsertReadProgress(_ context.Context, chatID, userID, candidate int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{chatID, userID}
	if cur, ok := s.progress[key]; !ok || candidate > cur {
		s.progress[key] = candidate
	}
	return s.progress[key], nil
}

func (s *fakeStorage) ReadProgressRows(_ context.Context, chatID int64) ([]model.ReadProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ReadProgress
	for key, v := range s.progress {
		if key[0] == chatID {
			out = append(out, model.ReadProgress{ChatID: key[0], UserID: key[1], LastReadMessageID: v})
		}
	}
	return out, nil
}

func (s *fakeStorage) CountUnread(_ context.Context, chatID, userID int64, until *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marker, ok := s.progress[[2]int64{chatID, userID}]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, m := range s.messages {
		if m.ChatID != chatID || m.UserID == userID || m.ID <= marker {
			continue
		}
		if until != nil && m.ID > *until {
			continue
		}
		n++
	}
	return n, nil
}
