package fanout

import (
	"context"

	"PulseChat/module/chat/model"
)

// NoProgress 会话里还没有任何已读游标行。消息 id 从 1 开始，
// -1 在 < 比较里天然排在所有真实 id 前面。
const NoProgress int64 = -1

// ProgressStore 进度聚合需要的存储面
type ProgressStore interface {
	ReadProgressRows(ctx context.Context, chatID int64) ([]model.ReadProgress, error)
	CountUnread(ctx context.Context, chatID, userID int64, until *int64) (int64, error)
}

// Progress 从持久化的已读游标行计算会话级进度
type Progress struct {
	store ProgressStore
}

func NewProgress(store ProgressStore) *Progress {
	return &Progress{store: store}
}

// ChatProgress 全会话最小已读 id；没有行时返回 NoProgress
func (p *Progress) ChatProgress(ctx context.Context, chatID int64) (int64, error) {
	rows, err := p.store.ReadProgressRows(ctx, chatID)
	if err != nil {
		return NoProgress, err
	}
	if len(rows) == 0 {
		return NoProgress, nil
	}
	min := rows[0].LastReadMessageID
	for _, r := range rows[1:] {
		if r.LastReadMessageID < min {
			min = r.LastReadMessageID
		}
	}
	return min, nil
}

// UnreadCount 别人发的、id 大于该用户游标的消息数，可用 until 封顶
func (p *Progress) UnreadCount(ctx context.Context, chatID, userID int64, until *int64) (int64, error) {
	return p.store.CountUnread(ctx, chatID, userID, until)
}

// Advanced 会话进度是否严格前进。变动前后各取一次快照、比较；
// 只有严格增长才广播 chat_progress，避免无谓的通知。
func Advanced(before, after int64) bool {
	return after > before
}
