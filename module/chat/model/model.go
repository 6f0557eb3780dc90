package model

import "time"

type ChatType string

const (
	ChatTypeGroup   ChatType = "group"
	ChatTypePrivate ChatType = "private"
)

type Chat struct {
	ID   int64    `json:"id"`
	Name string   `json:"name"`
	Type ChatType `json:"type"`
}

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadProgress 每个用户在每个会话里的已读游标，只会单调前进
type ReadProgress struct {
	ChatID            int64 `json:"chat_id"`
	UserID            int64 `json:"user_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}
