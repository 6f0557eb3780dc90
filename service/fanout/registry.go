package fanout

import (
	"context"
	"sync"

	"PulseChat/logger"
)

// Conn 一条到客户端的双向连接。Registry 从 Connect 起独占持有，直到关闭或发送失败。
type Conn interface {
	// Send 把一帧推给客户端；调用方串行化同一连接上的发送
	Send(payload []byte) error
	Close() error
}

// Subscriber Registry 对 Bridge 的依赖面：决定"何时"订阅的是 Registry，
// Bridge 只负责"怎么"订阅。
type Subscriber interface {
	Subscribe(ctx context.Context, category Category, key int64) error
	Unsubscribe(ctx context.Context, category Category, key int64) error
}

// Registry 本进程的连接注册表：user -> 连接集合，chat <-> user 本地成员缓存。
// 成员缓存从存储种子、靠信封副作用维护，不是事实源。
// 所有 map 只在持有 mu 时变动（抢占式调度下必须显式互斥）。
// 订阅决策在锁内记下，transport 调用出锁之后再发：远端一次慢往返
// 不能卡住整个进程的连接管理。
type Registry struct {
	mu           sync.Mutex
	users        map[int64]map[Conn]struct{}
	chatsToUsers map[int64]map[int64]struct{}
	usersToChats map[int64]map[int64]struct{}

	bridge Subscriber
}

func NewRegistry() *Registry {
	return &Registry{
		users:        make(map[int64]map[Conn]struct{}),
		chatsToUsers: make(map[int64]map[int64]struct{}),
		usersToChats: make(map[int64]map[int64]struct{}),
	}
}

// SetBridge 组合根注入；Registry 和 Bridge 互相持有（进程生命周期）
func (r *Registry) SetBridge(b Subscriber) { r.bridge = b }

// subAction 锁内记下的一条订阅决策，锁外执行
type subAction struct {
	subscribe bool
	category  Category
	key       int64
}

func (r *Registry) apply(ctx context.Context, actions []subAction) {
	for _, a := range actions {
		if a.subscribe {
			r.subscribeBridge(ctx, a.category, a.key)
		} else {
			r.unsubscribeBridge(ctx, a.category, a.key)
		}
	}
}

func (r *Registry) subscribeBridge(ctx context.Context, category Category, key int64) {
	if r.bridge == nil {
		logger.Errorf("registry: attempted to subscribe %s/%d but no bridge is set", category, key)
		return
	}
	if err := r.bridge.Subscribe(ctx, category, key); err != nil {
		logger.Errorf("registry: subscribe %s/%d failed: %v", category, key, err)
	}
}

func (r *Registry) unsubscribeBridge(ctx context.Context, category Category, key int64) {
	if r.bridge == nil {
		logger.Errorf("registry: attempted to unsubscribe %s/%d but no bridge is set", category, key)
		return
	}
	if err := r.bridge.Unsubscribe(ctx, category, key); err != nil {
		logger.Errorf("registry: unsubscribe %s/%d failed: %v", category, key, err)
	}
}

// Connect 接收一条已完成握手的连接。
// 本进程第一个在线用户出现时，挂上 user 频道的远端订阅。
func (r *Registry) Connect(ctx context.Context, userID int64, c Conn) {
	r.mu.Lock()
	var actions []subAction
	if set, ok := r.users[userID]; ok {
		set[c] = struct{}{}
	} else {
		r.users[userID] = map[Conn]struct{}{c: {}}
		if len(r.users) == 1 {
			actions = append(actions, subAction{subscribe: true, category: CategoryUser, key: userID})
		}
	}
	r.mu.Unlock()

	r.apply(ctx, actions)
}

// Disconnect 摘掉一条连接；重复调用是 no-op。
// 用户最后一条连接关闭时：释放 user 订阅（若进程无在线用户），
// 并级联清理该用户本地跟踪的所有 chat 关系。
func (r *Registry) Disconnect(ctx context.Context, userID int64, c Conn) {
	r.mu.Lock()
	actions := r.disconnectLocked(userID, c)
	r.mu.Unlock()

	r.apply(ctx, actions)
}

func (r *Registry) disconnectLocked(userID int64, c Conn) []subAction {
	set, ok := r.users[userID]
	if !ok {
		return nil
	}
	delete(set, c)
	if len(set) != 0 {
		return nil
	}
	delete(r.users, userID)
	var actions []subAction
	if len(r.users) == 0 {
		actions = append(actions, subAction{subscribe: false, category: CategoryUser, key: userID})
	}
	chats := make([]int64, 0, len(r.usersToChats[userID]))
	for chatID := range r.usersToChats[userID] {
		chats = append(chats, chatID)
	}
	for _, chatID := range chats {
		actions = append(actions, r.removeUserChatRelationLocked(chatID, userID)...)
	}
	return actions
}

// AddUserChatRelation 本地登记 user 属于 chat；chat 第一次有本地参与者时
// 挂上 chat 频道的远端订阅。用户不在线时忽略（没有连接要喂）。
func (r *Registry) AddUserChatRelation(ctx context.Context, chatID, userID int64) {
	r.mu.Lock()
	var actions []subAction
	if _, online := r.users[userID]; online {
		if set, ok := r.chatsToUsers[chatID]; ok {
			set[userID] = struct{}{}
		} else {
			r.chatsToUsers[chatID] = map[int64]struct{}{userID: {}}
			if len(r.chatsToUsers) == 1 {
				actions = append(actions, subAction{subscribe: true, category: CategoryChat, key: chatID})
			}
		}
		if set, ok := r.usersToChats[userID]; ok {
			set[chatID] = struct{}{}
		} else {
			r.usersToChats[userID] = map[int64]struct{}{chatID: {}}
		}
	}
	r.mu.Unlock()

	r.apply(ctx, actions)
}

// RemoveUserChatRelation 对称移除；chat 没有本地参与者后释放 chat 订阅。
func (r *Registry) RemoveUserChatRelation(ctx context.Context, chatID, userID int64) {
	r.mu.Lock()
	actions := r.removeUserChatRelationLocked(chatID, userID)
	r.mu.Unlock()

	r.apply(ctx, actions)
}

func (r *Registry) removeUserChatRelationLocked(chatID, userID int64) []subAction {
	var actions []subAction
	if set, ok := r.chatsToUsers[chatID]; ok {
		if _, in := set[userID]; in {
			delete(set, userID)
			if len(set) == 0 {
				delete(r.chatsToUsers, chatID)
				if len(r.chatsToUsers) == 0 {
					actions = append(actions, subAction{subscribe: false, category: CategoryChat, key: chatID})
				}
			}
		}
	}
	if set, ok := r.usersToChats[userID]; ok {
		if _, in := set[chatID]; in {
			delete(set, chatID)
			if len(set) == 0 {
				delete(r.usersToChats, userID)
			}
		}
	}
	return actions
}

type target struct {
	userID int64
	conn   Conn
}

// BroadcastToChat 投递给 chat 的所有本地在线参与者（skip 里的除外）。
// 单条连接失败只拆那条连接，绝不中断整个广播。
func (r *Registry) BroadcastToChat(ctx context.Context, chatID int64, payload []byte, skip map[int64]struct{}) {
	r.mu.Lock()
	var targets []target
	for userID := range r.chatsToUsers[chatID] {
		if _, skipped := skip[userID]; skipped {
			continue
		}
		for c := range r.users[userID] {
			targets = append(targets, target{userID: userID, conn: c})
		}
	}
	r.mu.Unlock()

	r.deliver(ctx, targets, payload)
}

// BroadcastToUser 投递给某个用户的所有本地连接
func (r *Registry) BroadcastToUser(ctx context.Context, userID int64, payload []byte) {
	r.mu.Lock()
	targets := make([]target, 0, len(r.users[userID]))
	for c := range r.users[userID] {
		targets = append(targets, target{userID: userID, conn: c})
	}
	r.mu.Unlock()

	r.deliver(ctx, targets, payload)
}

func (r *Registry) deliver(ctx context.Context, targets []target, payload []byte) {
	for _, t := range targets {
		if err := t.conn.Send(payload); err != nil {
			logger.Warnf("registry: send to user %d failed, dropping connection: %v", t.userID, err)
			_ = t.conn.Close()
			r.Disconnect(ctx, t.userID, t.conn)
		}
	}
}
