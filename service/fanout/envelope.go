package fanout

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Type 信封标签，对应线上 JSON 的 `type` 字段
type Type string

const (
	TypeMessage      Type = "message"
	TypeNewUser      Type = "new_user"
	TypeUserLeft     Type = "user_left"
	TypeChatProgress Type = "chat_progress"
	TypeUserProgress Type = "user_progress"
)

// Category 逻辑频道类别
type Category string

const (
	CategoryChat Category = "chat"
	CategoryUser Category = "user"
)

// Envelope 服务端信封。带标签的变体类型：哪些可选字段有值由 Type 决定，
// Validate 按标签校验。构造后即不可变，序列化一次、扇出、丢弃。
type Envelope struct {
	Type              Type    `json:"type"`
	ChatID            int64   `json:"chat_id"`
	UserID            *int64  `json:"user_id,omitempty"`
	MessageID         *int64  `json:"message_id,omitempty"`
	Content           *string `json:"content,omitempty"`
	LastReadMessageID *int64  `json:"last_read_message_id,omitempty"`

	raw []byte
}

// ---- 构造 ----

func NewChatMessage(chatID, userID, messageID int64, content *string) *Envelope {
	return &Envelope{
		Type: TypeMessage, ChatID: chatID,
		UserID: &userID, MessageID: &messageID, Content: content,
	}
}

func NewUserJoined(chatID, userID, messageID int64, content string) *Envelope {
	return &Envelope{
		Type: TypeNewUser, ChatID: chatID,
		UserID: &userID, MessageID: &messageID, Content: &content,
	}
}

func NewUserDeparted(chatID, userID, messageID int64, content string) *Envelope {
	return &Envelope{
		Type: TypeUserLeft, ChatID: chatID,
		UserID: &userID, MessageID: &messageID, Content: &content,
	}
}

func NewChatProgress(chatID, lastRead int64) *Envelope {
	return &Envelope{Type: TypeChatProgress, ChatID: chatID, LastReadMessageID: &lastRead}
}

func NewUserProgress(chatID, userID, lastRead int64) *Envelope {
	return &Envelope{
		Type: TypeUserProgress, ChatID: chatID,
		UserID: &userID, LastReadMessageID: &lastRead,
	}
}

// ---- 编解码 ----

// Encode 序列化；缓存结果，广播时重复使用
func (e *Envelope) Encode() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	e.raw = data
	return data, nil
}

// mustEncode 已校验过的信封序列化不会失败；失败说明程序错误
func mustEncode(e *Envelope) []byte {
	data, err := e.Encode()
	if err != nil {
		panic(err)
	}
	return data
}

// ParseEnvelope 解析远端到达的信封并按标签校验
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.raw = data
	return &e, nil
}

// Validate 每个标签要求的字段必须在场
func (e *Envelope) Validate() error {
	if e.ChatID == 0 {
		return errors.New("envelope: chat_id missing")
	}
	switch e.Type {
	case TypeMessage:
		if e.UserID == nil || e.MessageID == nil {
			return errors.New("envelope: message requires user_id and message_id")
		}
	case TypeNewUser, TypeUserLeft:
		if e.UserID == nil || e.MessageID == nil || e.Content == nil {
			return errors.Errorf("envelope: %s requires user_id, message_id and content", e.Type)
		}
	case TypeChatProgress:
		if e.LastReadMessageID == nil {
			return errors.New("envelope: chat_progress requires last_read_message_id")
		}
	case TypeUserProgress:
		if e.UserID == nil || e.LastReadMessageID == nil {
			return errors.New("envelope: user_progress requires user_id and last_read_message_id")
		}
	default:
		return errors.Errorf("envelope: unknown type %q", e.Type)
	}
	return nil
}

// ---- 客户端入站帧 ----

// ClientChatMessage type=message，客户端发消息
type ClientChatMessage struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}

// ClientReadProgress type=user_progress，客户端上报已读
type ClientReadProgress struct {
	ChatID            int64 `json:"chat_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}
