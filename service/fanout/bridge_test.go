package fanout

import (
	"context"
	"testing"
)

func TestBridgeSubscribeIsIdempotentPerChannel(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)
	ctx := context.Background()

	if err := b.Subscribe(ctx, CategoryUser, 1); err != nil {
		t.Fatal(err)
	}
	// 不同 key 解析到同一个共享频道
	if err := b.Subscribe(ctx, CategoryUser, 2); err != nil {
		t.Fatal(err)
	}
	if tr.subscribed["user"] != 1 {
		t.Fatalf("expected a single transport subscribe, got %d", tr.subscribed["user"])
	}
}

func TestBridgeUnsubscribeUnknownChannelIsNonFatal(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)

	if err := b.Unsubscribe(context.Background(), CategoryChat, 5); err != nil {
		t.Fatalf("unsubscribe of untracked channel must be non-fatal, got %v", err)
	}
	if tr.subscribed["chat"] != 0 {
		t.Fatalf("transport touched for untracked channel")
	}
}

func TestBridgePublishAlwaysPublishes(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)

	// 本地没人订阅，其他进程可能在听：照发
	env := NewChatProgress(1, 42)
	if err := b.Publish(context.Background(), CategoryChat, 1, env); err != nil {
		t.Fatal(err)
	}
	if len(tr.published) != 1 || tr.published[0].channel != "chat" {
		t.Fatalf("expected publish on chat channel, got %+v", tr.published)
	}
}

func TestBridgeDropsMalformedPayloads(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)
	reg := &fakeBroadcaster{}
	b.SetRegistry(reg)

	tr.inject("chat", []byte(`{not json`))
	tr.inject("chat", []byte(`{"type":"teleport","chat_id":1}`))
	tr.inject("chat", []byte(`{"type":"message","chat_id":1}`)) // 缺 user_id/message_id
	tr.inject("bogus", []byte(`{"type":"chat_progress","chat_id":1,"last_read_message_id":3}`))

	if len(reg.chatBroadcasts) != 0 || len(reg.userBroadcasts) != 0 {
		t.Fatalf("malformed payloads reached the registry: %+v", reg)
	}

	// 坏消息不影响后续的好消息
	tr.inject("chat", []byte(`{"type":"chat_progress","chat_id":1,"last_read_message_id":3}`))
	if len(reg.chatBroadcasts) != 1 {
		t.Fatalf("valid payload after malformed ones was not dispatched")
	}
}

func TestRemoteDispatchNewUser(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)
	reg := &fakeBroadcaster{}
	b.SetRegistry(reg)

	payload := []byte(`{"type":"new_user","chat_id":100,"user_id":7,"message_id":3,"content":"I joined!"}`)

	// user 类别：先建立本地关系，再通知本人会话
	tr.inject("user", payload)
	if len(reg.added) != 1 {
		t.Fatalf("expected AddUserChatRelation on user category, got %+v", reg.added)
	}
	if len(reg.userBroadcasts) != 1 || reg.userBroadcasts[0] != 7 {
		t.Fatalf("expected broadcast to user 7, got %+v", reg.userBroadcasts)
	}

	// chat 类别：广播但跳过本人
	tr.inject("chat", payload)
	if len(reg.chatBroadcasts) != 1 {
		t.Fatalf("expected chat broadcast, got %+v", reg.chatBroadcasts)
	}
	if _, skipped := reg.chatBroadcasts[0].skip[7]; !skipped {
		t.Fatalf("joining user not excluded from own join notice")
	}
}

func TestRemoteDispatchUserLeft(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)
	reg := &fakeBroadcaster{}
	b.SetRegistry(reg)

	payload := []byte(`{"type":"user_left","chat_id":100,"user_id":7,"message_id":9,"content":"I left!"}`)

	tr.inject("user", payload)
	if len(reg.removed) != 1 {
		t.Fatalf("expected RemoveUserChatRelation on user category, got %+v", reg.removed)
	}
	if len(reg.userBroadcasts) != 1 {
		t.Fatalf("leaver's own sessions not notified")
	}

	tr.inject("chat", payload)
	if len(reg.chatBroadcasts) != 1 {
		t.Fatalf("expected chat broadcast")
	}
	if _, skipped := reg.chatBroadcasts[0].skip[7]; !skipped {
		t.Fatalf("leaver not excluded from chat broadcast")
	}
}

func TestRemoteDispatchCategoryViolationsAreDropped(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)
	reg := &fakeBroadcaster{}
	b.SetRegistry(reg)

	// message/chat_progress 不属于 user 频道，user_progress 不属于 chat 频道
	tr.inject("user", []byte(`{"type":"message","chat_id":1,"user_id":2,"message_id":3}`))
	tr.inject("user", []byte(`{"type":"chat_progress","chat_id":1,"last_read_message_id":3}`))
	tr.inject("chat", []byte(`{"type":"user_progress","chat_id":1,"user_id":2,"last_read_message_id":3}`))

	if len(reg.chatBroadcasts) != 0 || len(reg.userBroadcasts) != 0 || len(reg.added) != 0 || len(reg.removed) != 0 {
		t.Fatalf("protocol violations were dispatched: %+v", reg)
	}
}

func TestRemoteDispatchHappyPaths(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr)
	reg := &fakeBroadcaster{}
	b.SetRegistry(reg)

	tr.inject("chat", []byte(`{"type":"message","chat_id":1,"user_id":2,"message_id":3,"content":"hi"}`))
	tr.inject("chat", []byte(`{"type":"chat_progress","chat_id":1,"last_read_message_id":3}`))
	tr.inject("user", []byte(`{"type":"user_progress","chat_id":1,"user_id":2,"last_read_message_id":3}`))

	if len(reg.chatBroadcasts) != 2 {
		t.Fatalf("expected 2 chat broadcasts, got %d", len(reg.chatBroadcasts))
	}
	if len(reg.userBroadcasts) != 1 || reg.userBroadcasts[0] != 2 {
		t.Fatalf("expected user_progress broadcast to user 2, got %+v", reg.userBroadcasts)
	}
}
