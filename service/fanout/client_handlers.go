package fanout

import (
	"context"

	"PulseChat/module/chat/model"
	"PulseChat/tools/decode"

	"github.com/pkg/errors"
)

// Storage 客户端处理器消费的存储协作方契约。
// 实现要求读己之写（短事务）；module/chat/store 是 Postgres 实现。
type Storage interface {
	ProgressStore
	CreateMessage(ctx context.Context, chatID, userID int64, content string) (model.Message, error)
	// UpsertReadProgress 服务端 max() 语义，返回存储后的游标
	UpsertReadProgress(ctx context.Context, chatID, userID, candidate int64) (int64, error)
}

// Deps 客户端处理器的后端依赖，组合根装配
type Deps struct {
	Store    Storage
	Bridge   Publisher
	Progress *Progress
}

// ClientHandler 处理一条客户端入站帧（已经 JSON 解析成 map）
type ClientHandler func(ctx context.Context, d *Deps, userID int64, frame map[string]any) error

// ClientHandlers 客户端分发表。只有 message 和 user_progress 是合法的
// 客户端入站标签，其余类型只由服务端产生。
func ClientHandlers() map[Type]ClientHandler {
	return map[Type]ClientHandler{
		TypeMessage:      clientChatMessage,
		TypeUserProgress: clientReadProgress,
	}
}

// clientChatMessage 发消息：落库、发送者已读自动推进到新消息，
// 然后发布三路。消息进 chat 频道，发送者进度进 user 频道，
// 会话最小进度前进了才补一条 chat_progress。
func clientChatMessage(ctx context.Context, d *Deps, userID int64, frame map[string]any) error {
	req, err := decode.DecodeMap[ClientChatMessage](frame)
	if err != nil {
		return errors.Wrap(err, "decode message frame")
	}
	if req.ChatID == 0 {
		return errors.New("message frame: chat_id missing")
	}

	before, err := d.Progress.ChatProgress(ctx, req.ChatID)
	if err != nil {
		return err
	}
	msg, err := d.Store.CreateMessage(ctx, req.ChatID, userID, req.Content)
	if err != nil {
		return err
	}
	if _, err := d.Store.UpsertReadProgress(ctx, req.ChatID, userID, msg.ID); err != nil {
		return err
	}
	after, err := d.Progress.ChatProgress(ctx, req.ChatID)
	if err != nil {
		return err
	}

	content := req.Content
	if err := d.Bridge.Publish(ctx, CategoryChat, req.ChatID,
		NewChatMessage(req.ChatID, userID, msg.ID, &content)); err != nil {
		return err
	}
	if err := d.Bridge.Publish(ctx, CategoryUser, userID,
		NewUserProgress(req.ChatID, userID, msg.ID)); err != nil {
		return err
	}
	if Advanced(before, after) {
		return d.Bridge.Publish(ctx, CategoryChat, req.ChatID, NewChatProgress(req.ChatID, after))
	}
	return nil
}

// clientReadProgress 客户端上报已读：单调 upsert，把存储后的游标回发给
// 自己的所有会话；会话最小进度前进时广播 chat_progress。
func clientReadProgress(ctx context.Context, d *Deps, userID int64, frame map[string]any) error {
	req, err := decode.DecodeMap[ClientReadProgress](frame)
	if err != nil {
		return errors.Wrap(err, "decode user_progress frame")
	}
	if req.ChatID == 0 || req.LastReadMessageID == 0 {
		return errors.New("user_progress frame: chat_id or last_read_message_id missing")
	}

	before, err := d.Progress.ChatProgress(ctx, req.ChatID)
	if err != nil {
		return err
	}
	stored, err := d.Store.UpsertReadProgress(ctx, req.ChatID, userID, req.LastReadMessageID)
	if err != nil {
		return err
	}
	after, err := d.Progress.ChatProgress(ctx, req.ChatID)
	if err != nil {
		return err
	}

	if err := d.Bridge.Publish(ctx, CategoryUser, userID,
		NewUserProgress(req.ChatID, userID, stored)); err != nil {
		return err
	}
	if Advanced(before, after) {
		return d.Bridge.Publish(ctx, CategoryChat, req.ChatID, NewChatProgress(req.ChatID, after))
	}
	return nil
}
