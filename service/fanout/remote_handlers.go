package fanout

import (
	"context"

	"PulseChat/logger"
)

// RemoteHandler 处理一条从发布订阅通道到达的信封
type RemoteHandler func(ctx context.Context, reg Broadcaster, category Category, env *Envelope)

// RemoteHandlers 远端分发表：标签 -> 行为。
// chat 类别是"向外广播"，user 类别是"同步动作方自己的会话"；
// 说不通的组合按协议违规记日志丢弃。
func RemoteHandlers() map[Type]RemoteHandler {
	return map[Type]RemoteHandler{
		TypeMessage:      remoteChatMessage,
		TypeNewUser:      remoteNewUser,
		TypeUserLeft:     remoteUserLeft,
		TypeChatProgress: remoteChatProgress,
		TypeUserProgress: remoteUserProgress,
	}
}

func remoteChatMessage(ctx context.Context, reg Broadcaster, category Category, env *Envelope) {
	switch category {
	case CategoryChat:
		reg.BroadcastToChat(ctx, env.ChatID, mustEncode(env), nil)
	default:
		logger.Errorf("remote dispatch: message on %s category is a protocol violation", category)
	}
}

func remoteNewUser(ctx context.Context, reg Broadcaster, category Category, env *Envelope) {
	switch category {
	case CategoryChat:
		// 新人自己不用再收一遍入群通知
		reg.BroadcastToChat(ctx, env.ChatID, mustEncode(env), map[int64]struct{}{*env.UserID: {}})
	case CategoryUser:
		// 先建立本地关系，再让新人自己的会话知道
		reg.AddUserChatRelation(ctx, env.ChatID, *env.UserID)
		reg.BroadcastToUser(ctx, *env.UserID, mustEncode(env))
	default:
		logger.Errorf("remote dispatch: new_user on %s category is a protocol violation", category)
	}
}

func remoteUserLeft(ctx context.Context, reg Broadcaster, category Category, env *Envelope) {
	switch category {
	case CategoryChat:
		reg.BroadcastToChat(ctx, env.ChatID, mustEncode(env), map[int64]struct{}{*env.UserID: {}})
	case CategoryUser:
		reg.RemoveUserChatRelation(ctx, env.ChatID, *env.UserID)
		reg.BroadcastToUser(ctx, *env.UserID, mustEncode(env))
	default:
		logger.Errorf("remote dispatch: user_left on %s category is a protocol violation", category)
	}
}

func remoteChatProgress(ctx context.Context, reg Broadcaster, category Category, env *Envelope) {
	switch category {
	case CategoryChat:
		reg.BroadcastToChat(ctx, env.ChatID, mustEncode(env), nil)
	default:
		logger.Errorf("remote dispatch: chat_progress on %s category is a protocol violation", category)
	}
}

func remoteUserProgress(ctx context.Context, reg Broadcaster, category Category, env *Envelope) {
	switch category {
	case CategoryUser:
		reg.BroadcastToUser(ctx, *env.UserID, mustEncode(env))
	default:
		logger.Errorf("remote dispatch: user_progress on %s category is a protocol violation", category)
	}
}
